package engine

// Chat roles used by the prompts in this module.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat exchange, provider independent.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema is a JSON Schema object requested from the model. Only the subset
// the reranker's score format needs is modelled; both providers accept it
// as-is.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// PullProgress is one status update while a backend downloads a model.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Percent returns the completed share in [0, 100], or -1 when the update
// carries no size.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Completed) / float64(p.Total) * 100
}
