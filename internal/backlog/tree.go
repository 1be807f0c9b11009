package backlog

// Node is an item with its children in the assembled tree.
type Node struct {
	Item     `yaml:",inline"`
	Children []Node `json:"children,omitempty" yaml:"children,omitempty"`
}

// Assemble arranges items as Epics, each holding its Stories, each holding
// its Tasks, each holding its Sub-tasks. Items whose parent is missing or of
// the wrong type are left out. Input order is preserved at every level.
func Assemble(items []Item) []Node {
	children := make(map[string][]Item)
	for _, it := range items {
		if it.Parent != "" {
			children[it.Parent] = append(children[it.Parent], it)
		}
	}

	var build func(it Item) Node
	build = func(it Item) Node {
		n := Node{Item: it}
		for _, c := range children[it.ID] {
			if want, ok := c.Type.ParentType(); ok && want == it.Type {
				n.Children = append(n.Children, build(c))
			}
		}
		return n
	}

	var roots []Node
	for _, it := range items {
		if it.Type == TypeEpic {
			roots = append(roots, build(it))
		}
	}
	return roots
}
