package backlog

import "time"

// Set is the result of one generation. It is replaced wholesale by the next.
type Set struct {
	Items       []Item    `json:"structuredItems" yaml:"structuredItems"`
	Source      string    `json:"source" yaml:"source"`
	RawResponse string    `json:"rawResponse" yaml:"rawResponse"`
	GeneratedAt time.Time `json:"generatedAt" yaml:"generatedAt"`
}

// Counts summarizes a Set by item type.
type Counts struct {
	Epics    int `json:"epics"`
	Stories  int `json:"stories"`
	Tasks    int `json:"tasks"`
	Subtasks int `json:"subtasks"`
	Orphans  int `json:"orphans"`
	Total    int `json:"total"`
}

// Tree assembles the set's items.
func (s Set) Tree() []Node {
	return Assemble(s.Items)
}

// Counts tallies items by type. Orphans are items missing from the tree.
func (s Set) Counts() Counts {
	var c Counts
	for _, it := range s.Items {
		switch it.Type {
		case TypeEpic:
			c.Epics++
		case TypeStory:
			c.Stories++
		case TypeTask:
			c.Tasks++
		case TypeSubtask:
			c.Subtasks++
		}
	}
	c.Total = len(s.Items)
	c.Orphans = c.Total - countNodes(s.Tree())
	return c
}

func countNodes(nodes []Node) int {
	n := len(nodes)
	for _, nd := range nodes {
		n += countNodes(nd.Children)
	}
	return n
}
