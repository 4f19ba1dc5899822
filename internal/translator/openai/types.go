// Package openai maps the OpenAI Chat Completions wire format to and from
// the upstream Cloud Code request/response shape.
package openai

import "encoding/json"

// Request is a /v1/chat/completions request body.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	Stop           json.RawMessage `json:"stop,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Tools          []Tool          `json:"tools,omitempty"`
}

// ResponseFormat is the response_format object; only "json_object" affects
// the upstream request.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Tool is a caller-declared function tool, wrapped per OpenAI's
// {"type":"function","function":{...}} envelope.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the inner function declaration of Tool.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is an assistant-issued function call, either in a historical
// message or in a response choice.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction is the inner {name, arguments} pair of ToolCall;
// arguments is a JSON-encoded string, matching OpenAI's wire format.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one chat turn. Content may be a bare string or an array of
// content blocks (text / image_url); UnmarshalJSON normalises both.
type Message struct {
	Role       string
	Text       string
	Blocks     []ContentBlock
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content"`
		ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
		ToolCallID string          `json:"tool_call_id,omitempty"`
		Name       string          `json:"name,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.ToolCalls = raw.ToolCalls
	m.ToolCallID = raw.ToolCallID
	m.Name = raw.Name

	if len(raw.Content) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw.Content, &asString); err == nil {
		m.Text = asString
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw.Content, &blocks); err == nil {
		m.Blocks = blocks
	}
	return nil
}

// ContentBlock is one entry of a multimodal message's content array.
type ContentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL is either a data: URI or an http(s) URL to fetch.
type ImageURL struct {
	URL string `json:"url"`
}

// Response is a non-streaming /v1/chat/completions response.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is the single completion choice the gateway ever returns
// (candidateCount is always 1 upstream).
type Choice struct {
	Index        int       `json:"index"`
	Message      OutMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

// OutMessage is an assistant message as returned in a Choice.
type OutMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage mirrors OpenAI's token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
