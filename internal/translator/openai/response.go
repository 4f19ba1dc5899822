package openai

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

var finishReasons = map[string]string{
	"STOP":       "stop",
	"MAX_TOKENS": "length",
	"SAFETY":     "content_filter",
	"RECITATION": "content_filter",
}

// FromUpstream converts a buffered Cloud Code response into a
// chat-completions response.
func FromUpstream(raw []byte) (*Response, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.Exists() || parsed.Type == gjson.Null {
		return nil, fmt.Errorf("openai: empty upstream response")
	}
	candidate := parsed.Get("candidates.0")

	var text string
	var toolCalls []ToolCall
	for _, part := range candidate.Get("content.parts").Array() {
		t := part.Get("text")
		if part.Get("thought").Bool() {
			if t.Exists() && t.String() != "" {
				text += "<thought>\n" + t.String() + "\n</thought>\n\n"
			}
		} else if t.Exists() {
			text += t.String()
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			name := fc.Get("name").String()
			id := fc.Get("id").String()
			if id == "" {
				id = name + "-" + randomID()
			}
			args := fc.Get("args")
			argsStr := "{}"
			if args.Exists() {
				argsStr = args.Raw
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:   id,
				Type: "function",
				Function: ToolCallFunction{
					Name:      name,
					Arguments: argsStr,
				},
			})
		}
		if img := part.Get("inlineData"); img.Exists() {
			data := img.Get("data").String()
			if data != "" {
				text += fmt.Sprintf("![image](data:%s;base64,%s)", img.Get("mimeType").String(), data)
			}
		}
	}

	finishReason := "stop"
	if fr, ok := finishReasons[candidate.Get("finishReason").String()]; ok {
		finishReason = fr
	}

	id := parsed.Get("responseId").String()
	if id == "" {
		id = "resp_unknown"
	}
	model := parsed.Get("modelVersion").String()
	if model == "" {
		model = "unknown"
	}

	var contentPtr *string
	if text != "" {
		contentPtr = &text
	}

	return &Response{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index: 0,
			Message: OutMessage{
				Role:      "assistant",
				Content:   contentPtr,
				ToolCalls: toolCalls,
			},
			FinishReason: finishReason,
		}},
		Usage: Usage{
			PromptTokens:     int(parsed.Get("usageMetadata.promptTokenCount").Int()),
			CompletionTokens: int(parsed.Get("usageMetadata.candidatesTokenCount").Int()),
			TotalTokens:      int(parsed.Get("usageMetadata.totalTokenCount").Int()),
		},
	}, nil
}
