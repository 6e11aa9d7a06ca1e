package entity

import "time"

// ModelRequest is everything the generative model sees for one turn.
type ModelRequest struct {
	Shop         string
	Instructions string
	History      []Message
	Message      string
	Context      []ContextDoc

	// Optional: tweak the "creativity" per request
	Temperature float32
}

// ModelResponse is what a provider produced for one turn.
type ModelResponse struct {
	Content    string         `json:"content"`
	ProductIDs []string       `json:"product_ids"`
	Model      string         `json:"model"` // Which model actually answered?
	TokenCount int            `json:"token_count"`
	Latency    time.Duration  `json:"latency"`
	Metadata   map[string]any `json:"metadata"`
}
