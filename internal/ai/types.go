package ai

import "strings"

// ChatMessage is one prior conversation turn supplied by the client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a chat stream request.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// Normalize trims whitespace and validates roles and content. Returns the
// first problem found as a client-facing message, or "" when valid.
func (r *ChatRequest) Normalize() string {
	if r == nil {
		return "missing request body"
	}
	if len(r.Messages) == 0 {
		return "messages must not be empty"
	}
	for i := range r.Messages {
		m := &r.Messages[i]
		m.Role = strings.ToLower(strings.TrimSpace(m.Role))
		m.Content = strings.TrimSpace(m.Content)
		if m.Role != "user" && m.Role != "assistant" {
			return "message role must be user or assistant"
		}
		if m.Content == "" {
			return "message content must not be empty"
		}
	}
	if r.Messages[len(r.Messages)-1].Role != "user" {
		return "last message must be from the user"
	}
	return ""
}
