package llm

import "strings"

const documentReply = `I've analyzed the document you uploaded. Here are some observations:

1. This appears to be a formal document or letter with contact information.
2. It contains dates, names, and other structured information.
3. I can identify potential requirements or key information in this content.

Would you like me to help organize this information into specific requirements or extract particular details?`

const genericReply = "Based on our conversation, I can help you with requirements engineering. Would you like me to help you extract, organize, or prioritize requirements from your documents or discussions?"

// CannedReply picks the offline answer for a conversation. hint is extra
// context such as the last extraction digest.
func CannedReply(msgs []Message, hint string) string {
	last := lastUserMessage(msgs)
	if strings.Contains(hint, "Document Analysis") ||
		strings.Contains(last, "uploaded") ||
		strings.Contains(last, "file") {
		return documentReply
	}
	return genericReply
}

func lastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
