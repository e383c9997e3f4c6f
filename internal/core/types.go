// Package core defines the shared types, interfaces, and error taxonomy
// for the inference routing service.
package core

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType identifies the kind of a message content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartFile  PartType = "file"
)

// ContentPart is one typed piece of a message's content. Only text parts
// participate in prompt formatting; other kinds are carried but ignored
// by the inference core.
type ContentPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	Ref  string   `json:"ref,omitempty"`
}

// Message represents a single role-tagged turn in a conversation.
// Content holds plain text; Parts, when non-empty, takes precedence
// and carries typed content.
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// Text returns the textual content of the message. When Parts is set,
// only text parts are concatenated; non-text parts are skipped.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Params holds decoding parameters for a completion request.
type Params struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
}

// PromptRequest is the caller-facing request for one chat completion.
// ConversationID and MessageID key the token sink channel and the
// cancellation registry.
type PromptRequest struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	ModelID        string    `json:"model"`
	Messages       []Message `json:"messages"`
	SystemPrompt   *string   `json:"system_prompt,omitempty"`
	Params         Params    `json:"params"`
	AutoTruncate   bool      `json:"auto_truncate"`
	Summarize      bool      `json:"summarize"`
	// APIKey is an optional caller-supplied provider credential. It is
	// consulted after the globally configured key.
	APIKey string `json:"-"`
}

// ContextDecision is the outcome of validating a history against a
// model's context window.
type ContextDecision struct {
	EstimatedTokens int  `json:"estimated_tokens"`
	ContextSize     int  `json:"context_size"`
	IsTooLong       bool `json:"is_too_long"`
}

// Usage reports token consumption for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// DispatchResult is the final outcome a backend reports after its
// stream has ended.
type DispatchResult struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// ModelSpec describes one model known to the service: which backend
// serves it, its prompt grammar, and its declared context window.
type ModelSpec struct {
	ID             string `yaml:"id" json:"id"`
	Provider       string `yaml:"provider" json:"provider"`
	Family         string `yaml:"family,omitempty" json:"family,omitempty"`
	FamilyOverride string `yaml:"family_override,omitempty" json:"family_override,omitempty"`
	ContextWindow  int    `yaml:"context_window" json:"context_window"`
	BaseURL        string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}
