// Package types holds the wire shapes shared with external collaborators.
// The gateway passes these through unchanged; it does not own their schema.
package types

// ChatRequest is the chat-model request format. Tool names offered here must
// correspond to names the permission policy can allow.
type ChatRequest struct {
	Model     string       `json:"model"`
	Messages  []Message    `json:"messages"`
	Tools     []ToolSchema `json:"tools,omitempty"`
	Streaming bool         `json:"streaming,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSchema describes one tool offered to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}
