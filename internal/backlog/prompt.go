package backlog

import (
	"fmt"

	"github.com/kalambet/reqai/internal/llm"
)

// maxInputRunes bounds the requirement text placed in the prompt.
const maxInputRunes = 12000

const structuringPrompt = `You are a requirements engineer. Turn the requirements below into a Jira backlog. Your output must be ONLY a JSON array. Do not include any other text, prose, or markdown.

Each element is an object with these fields:
- "type": one of "Epic", "Story", "Task", "Sub-task"
- "summary": a short unique title
- "description": what must be built and how it is accepted
- "priority": one of "Highest", "High", "Medium", "Low"
- "labels": an array of short lowercase tags
- "parent": the exact summary of the parent item, or "" for an Epic

Rules:
- Epics have no parent.
- A Story's parent is an Epic, a Task's parent is a Story, a Sub-task's parent is a Task.
- Every summary must be unique across the whole array.
- List parents before their children.`

// BuildPrompt returns the messages asking the model to structure text.
func BuildPrompt(text string) []llm.Message {
	r := []rune(text)
	if len(r) > maxInputRunes {
		text = string(r[:maxInputRunes])
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: structuringPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Requirements:\n\n%s", text)},
	}
}
