package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// nonStreamingProcessor accumulates Gemini response parts into Anthropic
// content blocks. Gemini represents a "thought signature trailing an empty
// text part" as its own oddity (a part with no text but a signature); this
// type buffers that case into a standalone empty thinking block so the
// signature is never silently dropped.
type nonStreamingProcessor struct {
	blocks            []ContentBlock
	textBuilder       string
	thinkingBuilder   string
	thinkingSignature string
	trailingSignature string
	hasToolCall       bool
}

// FromUpstream converts a buffered Cloud Code response into an Anthropic
// non-streaming response.
func FromUpstream(raw []byte) (*Response, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.Exists() || parsed.Type == gjson.Null {
		return nil, fmt.Errorf("anthropic: empty upstream response")
	}

	p := &nonStreamingProcessor{}
	candidate := parsed.Get("candidates.0")
	for _, part := range candidate.Get("content.parts").Array() {
		p.processPart(part)
	}
	p.flushThinking()
	p.flushText()
	if p.trailingSignature != "" {
		p.blocks = append(p.blocks, ContentBlock{Type: "thinking", Signature: p.trailingSignature})
		p.trailingSignature = ""
	}
	if cite := citationBlock(candidate.Get("groundingMetadata")); cite != nil {
		p.blocks = append(p.blocks, *cite)
	}

	finishReason := candidate.Get("finishReason").String()
	stopReason := "end_turn"
	switch {
	case p.hasToolCall:
		stopReason = "tool_use"
	case finishReason == "MAX_TOKENS":
		stopReason = "max_tokens"
	}

	usage := Usage{
		InputTokens:  int(parsed.Get("usageMetadata.promptTokenCount").Int()),
		OutputTokens: int(parsed.Get("usageMetadata.candidatesTokenCount").Int()),
	}

	id := parsed.Get("responseId").String()
	if id == "" {
		id = "msg_" + randomID()
	}

	return &Response{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Model:      parsed.Get("modelVersion").String(),
		Content:    p.blocks,
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

func (p *nonStreamingProcessor) processPart(part gjson.Result) {
	signature := part.Get("thoughtSignature").String()

	if fc := part.Get("functionCall"); fc.Exists() {
		p.flushThinking()
		p.flushText()
		if p.trailingSignature != "" {
			p.blocks = append(p.blocks, ContentBlock{Type: "thinking", Signature: p.trailingSignature})
			p.trailingSignature = ""
		}

		p.hasToolCall = true
		id := fc.Get("id").String()
		if id == "" {
			id = fc.Get("name").String() + "-" + randomID()
		}
		block := ContentBlock{
			Type:  "tool_use",
			ID:    id,
			Name:  fc.Get("name").String(),
			Input: []byte(orEmptyObject(fc.Get("args").Raw)),
		}
		if signature != "" {
			block.Signature = signature
		}
		p.blocks = append(p.blocks, block)
		return
	}

	if text := part.Get("text"); text.Exists() {
		if part.Get("thought").Bool() {
			p.flushText()
			if p.trailingSignature != "" {
				p.flushThinking()
				p.blocks = append(p.blocks, ContentBlock{Type: "thinking", Signature: p.trailingSignature})
				p.trailingSignature = ""
			}
			p.thinkingBuilder += text.String()
			if signature != "" {
				p.thinkingSignature = signature
			}
		} else if text.String() == "" {
			if signature != "" {
				p.trailingSignature = signature
			}
		} else {
			p.flushThinking()
			if p.trailingSignature != "" {
				p.flushText()
				p.blocks = append(p.blocks, ContentBlock{Type: "thinking", Signature: p.trailingSignature})
				p.trailingSignature = ""
			}
			p.textBuilder += text.String()
			if signature != "" {
				p.flushText()
				p.blocks = append(p.blocks, ContentBlock{Type: "thinking", Signature: signature})
			}
		}
	}

	if img := part.Get("inlineData"); img.Exists() {
		p.flushThinking()
		data := img.Get("data").String()
		if data != "" {
			p.textBuilder += fmt.Sprintf("![image](data:%s;base64,%s)", img.Get("mimeType").String(), data)
			p.flushText()
		}
	}
}

func (p *nonStreamingProcessor) flushText() {
	if p.textBuilder == "" {
		return
	}
	p.blocks = append(p.blocks, ContentBlock{Type: "text", Text: p.textBuilder})
	p.textBuilder = ""
}

func (p *nonStreamingProcessor) flushThinking() {
	if p.thinkingBuilder == "" && p.thinkingSignature == "" {
		return
	}
	p.blocks = append(p.blocks, ContentBlock{Type: "thinking", Thinking: p.thinkingBuilder, Signature: p.thinkingSignature})
	p.thinkingBuilder = ""
	p.thinkingSignature = ""
}

func orEmptyObject(raw string) string {
	if raw == "" {
		return "{}"
	}
	return raw
}

// citationBlock bridges upstream groundingMetadata (web references backing
// the response) into an Anthropic web_search_tool_result block, so Claude
// dialect consumers see citations in the shape their client already
// understands rather than a gateway-specific extension.
func citationBlock(grounding gjson.Result) *ContentBlock {
	chunks := grounding.Get("groundingChunks").Array()
	if len(chunks) == 0 {
		return nil
	}

	var results []map[string]any
	for _, chunk := range chunks {
		web := chunk.Get("web")
		if !web.Exists() {
			continue
		}
		uri := web.Get("uri").String()
		if uri == "" {
			continue
		}
		results = append(results, map[string]any{
			"type":              "web_search_result",
			"url":               uri,
			"title":             web.Get("title").String(),
			"encrypted_content": "",
		})
	}
	if len(results) == 0 {
		return nil
	}

	content, err := json.Marshal(results)
	if err != nil {
		return nil
	}
	return &ContentBlock{
		Type:      "web_search_tool_result",
		ToolUseID: "server-search-" + randomID(),
		Content:   content,
	}
}
