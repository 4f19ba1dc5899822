package openai

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// StreamTranscoder turns upstream streamGenerateContent chunks into OpenAI
// chat.completion.chunk SSE events. One instance per client request.
type StreamTranscoder struct {
	id          string
	model       string
	created     int64
	roleSent    bool
	toolCallIdx int
}

// NewStreamTranscoder constructs a transcoder in its initial state.
func NewStreamTranscoder() *StreamTranscoder {
	return &StreamTranscoder{created: time.Now().Unix()}
}

// Feed processes one upstream SSE data payload and returns the OpenAI SSE
// chunk events it produces, in order.
func (s *StreamTranscoder) Feed(raw []byte) []byte {
	chunk := gjson.ParseBytes(raw)
	if s.id == "" {
		s.id = chunk.Get("responseId").String()
		if s.id == "" {
			s.id = "resp_unknown"
		}
	}
	if s.model == "" {
		s.model = chunk.Get("modelVersion").String()
	}

	var out []byte
	candidate := chunk.Get("candidates.0")
	delta := map[string]any{}
	if !s.roleSent {
		delta["role"] = "assistant"
		s.roleSent = true
	}

	var text string
	var toolCalls []map[string]any
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
			argsStr := "{}"
			if args := fc.Get("args"); args.Exists() {
				argsStr = args.Raw
			}
			toolCalls = append(toolCalls, map[string]any{
				"index": s.toolCallIdx,
				"id":    id,
				"type":  "function",
				"function": map[string]any{
					"name":      name,
					"arguments": argsStr,
				},
			})
			s.toolCallIdx++
		}
		if img := part.Get("inlineData"); img.Exists() {
			data := img.Get("data").String()
			if data != "" {
				text += fmt.Sprintf("![image](data:%s;base64,%s)", img.Get("mimeType").String(), data)
			}
		}
	}
	if text != "" {
		delta["content"] = text
	}
	if len(toolCalls) > 0 {
		delta["tool_calls"] = toolCalls
	}

	var finishReason any
	if fr := candidate.Get("finishReason"); fr.Exists() {
		mapped := "stop"
		if v, ok := finishReasons[fr.String()]; ok {
			mapped = v
		}
		finishReason = mapped
	}

	out = append(out, s.emit(delta, finishReason)...)
	return out
}

// Close emits the terminal "data: [DONE]" marker.
func (s *StreamTranscoder) Close() []byte {
	return []byte("data: [DONE]\n\n")
}

func (s *StreamTranscoder) emit(delta map[string]any, finishReason any) []byte {
	payload := map[string]any{
		"id":      s.id,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishReason,
		}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	return []byte(fmt.Sprintf("data: %s\n\n", data))
}
