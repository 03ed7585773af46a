package interfaces

import "context"

// Message is one chat turn sent to a text generator
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// CompletionRequest is a structured prompt for the generative backend
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSON asks the backend for a single JSON object response
	JSON bool
}

// TextGenerator is the generative backend capability
type TextGenerator interface {
	// Complete returns the raw text of the first choice
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
}

// Notifier pushes server messages to connected clients
type Notifier interface {
	// Broadcast sends to every connected session
	Broadcast(msgType string, payload interface{})

	// SendTo sends to the sessions bound to one player
	SendTo(playerID string, msgType string, payload interface{})
}

// NopNotifier drops every message
type NopNotifier struct{}

func (NopNotifier) Broadcast(string, interface{}) {}
func (NopNotifier) SendTo(string, string, interface{}) {}
