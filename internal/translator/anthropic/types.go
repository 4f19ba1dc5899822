// Package anthropic maps the Anthropic Messages wire format to and from the
// upstream Cloud Code request/response shape.
package anthropic

import "encoding/json"

// Request is a /v1/messages request body.
type Request struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	System      json.RawMessage `json:"system,omitempty"`
	Tools       []Tool          `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
	Thinking    *Thinking       `json:"thinking,omitempty"`
	Metadata    *Metadata       `json:"metadata,omitempty"`
}

// Metadata carries caller-supplied request metadata; only UserID is consumed
// (threaded through to the upstream envelope as sessionId).
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// Thinking is the extended-thinking toggle.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens *int   `json:"budget_tokens,omitempty"`
}

// Tool is a caller-declared function tool. A tool literally named
// "web_search" is treated as a request for upstream's built-in search
// grounding rather than a function declaration.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Message is one turn. Content may be a bare string or an array of content
// blocks; UnmarshalJSON normalises both into Blocks.
type Message struct {
	Role   string
	Blocks []ContentBlock
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role

	var asString string
	if err := json.Unmarshal(raw.Content, &asString); err == nil {
		if asString != "" && asString != "(no content)" {
			m.Blocks = []ContentBlock{{Type: "text", Text: asString}}
		}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw.Content, &blocks); err != nil {
		return err
	}
	m.Blocks = blocks
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Role    string         `json:"role"`
		Content []ContentBlock `json:"content"`
	}{m.Role, m.Blocks})
}

// ContentBlock is a discriminated union over every Anthropic content-block
// kind the gateway understands. Only the fields relevant to Type are set.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking / redacted_thinking
	Thinking  string `json:"thinking,omitempty"`
	Data      string `json:"data,omitempty"`
	Signature string `json:"signature,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`
}

// ImageSource is an inline base64 image attachment.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Response is a non-streaming /v1/messages response.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage mirrors Anthropic's token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
