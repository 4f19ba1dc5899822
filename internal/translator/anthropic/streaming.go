package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// blockKind tracks which Anthropic content-block type is currently open on
// the outgoing stream.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockFunction
)

// StreamTranscoder turns a sequence of raw upstream streamGenerateContent
// JSON chunks into Anthropic SSE events. One instance is used for the
// lifetime of a single client request; it is not safe for concurrent use.
type StreamTranscoder struct {
	blockType          blockKind
	blockIndex         int
	messageStartSent   bool
	messageStopSent    bool
	usedTool           bool
	pendingSignature   string
	trailingSignature  string
}

// NewStreamTranscoder constructs a transcoder in its initial state.
func NewStreamTranscoder() *StreamTranscoder {
	return &StreamTranscoder{}
}

// Feed processes one upstream SSE data payload and returns the Anthropic SSE
// events it produces, in order.
func (s *StreamTranscoder) Feed(raw []byte) []byte {
	chunk := gjson.ParseBytes(raw)
	var out []byte

	if !s.messageStartSent {
		out = append(out, s.emitMessageStart(chunk)...)
	}

	candidate := chunk.Get("candidates.0")
	for _, part := range candidate.Get("content.parts").Array() {
		out = append(out, s.processPart(part)...)
	}

	if finish := candidate.Get("finishReason"); finish.Exists() {
		out = append(out, s.emitFinish(finish.String(), chunk.Get("usageMetadata"))...)
	}

	return out
}

// Close flushes any still-open block and, if the stream ended without a
// finishReason (client disconnect, upstream cut), still emits message_stop
// so the caller's SSE reader terminates cleanly.
func (s *StreamTranscoder) Close() []byte {
	if s.messageStopSent {
		return nil
	}
	var out []byte
	out = append(out, s.endBlock()...)
	out = append(out, sseEvent("message_stop", map[string]any{"type": "message_stop"})...)
	s.messageStopSent = true
	return out
}

func (s *StreamTranscoder) emitMessageStart(chunk gjson.Result) []byte {
	id := chunk.Get("responseId").String()
	if id == "" {
		id = "msg_unknown"
	}
	message := map[string]any{
		"id":            id,
		"type":          "message",
		"role":          "assistant",
		"content":       []any{},
		"model":         chunk.Get("modelVersion").String(),
		"stop_reason":   nil,
		"stop_sequence": nil,
	}
	if u := chunk.Get("usageMetadata"); u.Exists() {
		message["usage"] = usageFromGJSON(u)
	}
	s.messageStartSent = true
	return sseEvent("message_start", map[string]any{"type": "message_start", "message": message})
}

func (s *StreamTranscoder) processPart(part gjson.Result) []byte {
	signature := part.Get("thoughtSignature").String()
	var out []byte

	if fc := part.Get("functionCall"); fc.Exists() {
		if s.trailingSignature != "" {
			out = append(out, s.flushTrailingSignature()...)
		}
		out = append(out, s.processFunctionCall(fc, signature)...)
		return out
	}

	if text := part.Get("text"); text.Exists() {
		if part.Get("thought").Bool() {
			out = append(out, s.processThinking(text.String(), signature)...)
		} else {
			out = append(out, s.processText(text.String(), signature)...)
		}
		return out
	}

	if img := part.Get("inlineData"); img.Exists() {
		data := img.Get("data").String()
		if data != "" {
			markdown := fmt.Sprintf("![image](data:%s;base64,%s)", img.Get("mimeType").String(), data)
			out = append(out, s.processText(markdown, "")...)
		}
	}

	return out
}

func (s *StreamTranscoder) processThinking(text, signature string) []byte {
	var out []byte
	if s.trailingSignature != "" {
		out = append(out, s.flushTrailingSignature()...)
	}
	if s.blockType != blockThinking {
		out = append(out, s.startBlock(blockThinking, map[string]any{"type": "thinking", "thinking": ""})...)
	}
	if text != "" {
		out = append(out, s.emitDelta("thinking_delta", map[string]any{"thinking": text})...)
	}
	if signature != "" {
		s.pendingSignature = signature
	}
	return out
}

func (s *StreamTranscoder) processText(text, signature string) []byte {
	var out []byte

	if text == "" {
		if signature != "" {
			s.trailingSignature = signature
		}
		return out
	}

	if s.trailingSignature != "" {
		out = append(out, s.flushTrailingSignature()...)
	}

	if signature != "" {
		out = append(out, s.startBlock(blockText, map[string]any{"type": "text", "text": ""})...)
		out = append(out, s.emitDelta("text_delta", map[string]any{"text": text})...)
		out = append(out, s.endBlock()...)

		out = append(out, s.startBlock(blockThinking, map[string]any{"type": "thinking", "thinking": ""})...)
		out = append(out, s.emitDelta("thinking_delta", map[string]any{"thinking": ""})...)
		out = append(out, s.emitDelta("signature_delta", map[string]any{"signature": signature})...)
		out = append(out, s.endBlock()...)
		return out
	}

	if s.blockType != blockText {
		out = append(out, s.startBlock(blockText, map[string]any{"type": "text", "text": ""})...)
	}
	out = append(out, s.emitDelta("text_delta", map[string]any{"text": text})...)
	return out
}

func (s *StreamTranscoder) processFunctionCall(fc gjson.Result, signature string) []byte {
	s.usedTool = true

	id := fc.Get("id").String()
	if id == "" {
		id = fc.Get("name").String() + "-" + randomID()
	}

	toolUse := map[string]any{
		"type":  "tool_use",
		"id":    id,
		"name":  fc.Get("name").String(),
		"input": map[string]any{},
	}
	if signature != "" {
		toolUse["signature"] = signature
	}

	out := s.startBlock(blockFunction, toolUse)
	if args := fc.Get("args"); args.Exists() {
		out = append(out, s.emitDelta("input_json_delta", map[string]any{"partial_json": args.Raw})...)
	}
	out = append(out, s.endBlock()...)
	return out
}

// flushTrailingSignature emits a standalone empty thinking block carrying a
// signature that arrived attached to an empty text part with no block of
// its own to live in.
func (s *StreamTranscoder) flushTrailingSignature() []byte {
	sig := s.trailingSignature
	s.trailingSignature = ""

	var out []byte
	out = append(out, s.endBlock()...)
	out = append(out, s.startBlock(blockThinking, map[string]any{"type": "thinking", "thinking": ""})...)
	out = append(out, s.emitDelta("thinking_delta", map[string]any{"thinking": ""})...)
	out = append(out, s.emitDelta("signature_delta", map[string]any{"signature": sig})...)
	out = append(out, s.endBlock()...)
	return out
}

func (s *StreamTranscoder) startBlock(kind blockKind, contentBlock map[string]any) []byte {
	var out []byte
	if s.blockType != blockNone {
		out = append(out, s.endBlock()...)
	}
	out = append(out, sseEvent("content_block_start", map[string]any{
		"type": "content_block_start", "index": s.blockIndex, "content_block": contentBlock,
	})...)
	s.blockType = kind
	return out
}

func (s *StreamTranscoder) endBlock() []byte {
	if s.blockType == blockNone {
		return nil
	}
	var out []byte
	if s.blockType == blockThinking && s.pendingSignature != "" {
		sig := s.pendingSignature
		s.pendingSignature = ""
		out = append(out, s.emitDelta("signature_delta", map[string]any{"signature": sig})...)
	}
	out = append(out, sseEvent("content_block_stop", map[string]any{
		"type": "content_block_stop", "index": s.blockIndex,
	})...)
	s.blockIndex++
	s.blockType = blockNone
	return out
}

func (s *StreamTranscoder) emitDelta(deltaType string, fields map[string]any) []byte {
	delta := map[string]any{"type": deltaType}
	for k, v := range fields {
		delta[k] = v
	}
	return sseEvent("content_block_delta", map[string]any{
		"type": "content_block_delta", "index": s.blockIndex, "delta": delta,
	})
}

func (s *StreamTranscoder) emitFinish(finishReason string, usageMetadata gjson.Result) []byte {
	var out []byte
	out = append(out, s.endBlock()...)

	if s.trailingSignature != "" {
		out = append(out, s.flushTrailingSignature()...)
	}

	stopReason := "end_turn"
	switch {
	case s.usedTool:
		stopReason = "tool_use"
	case finishReason == "MAX_TOKENS":
		stopReason = "max_tokens"
	}

	usage := Usage{}
	if usageMetadata.Exists() {
		usage = usageFromGJSON(usageMetadata)
	}

	out = append(out, sseEvent("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": usage,
	})...)

	if !s.messageStopSent {
		out = append(out, sseEvent("message_stop", map[string]any{"type": "message_stop"})...)
		s.messageStopSent = true
	}

	return out
}

func usageFromGJSON(u gjson.Result) Usage {
	return Usage{
		InputTokens:  int(u.Get("promptTokenCount").Int()),
		OutputTokens: int(u.Get("candidatesTokenCount").Int()),
	}
}

func sseEvent(eventType string, data map[string]any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload))
}
