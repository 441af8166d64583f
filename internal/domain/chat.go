package domain

// ChatMessage is the provider-agnostic chat message shape used by the turn
// pipeline and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single completion request sent to the language model.
type ChatRequest struct {
	Model       string
	Temperature float64
	Messages    []ChatMessage
}
