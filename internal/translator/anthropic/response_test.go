package anthropic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromUpstream_PlainTextResponse(t *testing.T) {
	raw := []byte(`{
		"responseId": "resp-1",
		"modelVersion": "gemini-3-pro",
		"candidates": [{"content": {"parts": [{"text": "hello there"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5}
	}`)

	resp, err := FromUpstream(raw)
	require.NoError(t, err)
	require.Equal(t, "resp-1", resp.ID)
	require.Equal(t, "assistant", resp.Role)
	require.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "text", resp.Content[0].Type)
	require.Equal(t, "hello there", resp.Content[0].Text)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 5, resp.Usage.OutputTokens)
}

func TestFromUpstream_FunctionCallBecomesToolUse(t *testing.T) {
	raw := []byte(`{
		"candidates": [{"content": {"parts": [
			{"functionCall": {"name": "lookup", "args": {"q": "x"}, "id": "call-1"}}
		]}}]
	}`)

	resp, err := FromUpstream(raw)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "tool_use", resp.Content[0].Type)
	require.Equal(t, "lookup", resp.Content[0].Name)
	require.Equal(t, "call-1", resp.Content[0].ID)
	require.Equal(t, "tool_use", resp.StopReason)
}

func TestFromUpstream_GeneratesIDWhenResponseIDMissing(t *testing.T) {
	raw := []byte(`{"candidates": [{"content": {"parts": [{"text": "hi"}]}}]}`)
	resp, err := FromUpstream(raw)
	require.NoError(t, err)
	require.Contains(t, resp.ID, "msg_")
}

func TestFromUpstream_MaxTokensFinishReason(t *testing.T) {
	raw := []byte(`{"candidates": [{"content": {"parts": [{"text": "hi"}]}, "finishReason": "MAX_TOKENS"}]}`)
	resp, err := FromUpstream(raw)
	require.NoError(t, err)
	require.Equal(t, "max_tokens", resp.StopReason)
}

func TestFromUpstream_ThinkingPartBecomesThinkingBlock(t *testing.T) {
	raw := []byte(`{"candidates": [{"content": {"parts": [
		{"text": "reasoning...", "thought": true, "thoughtSignature": "sig-1"},
		{"text": "the answer"}
	]}}]}`)

	resp, err := FromUpstream(raw)
	require.NoError(t, err)
	require.Len(t, resp.Content, 2)
	require.Equal(t, "thinking", resp.Content[0].Type)
	require.Equal(t, "reasoning...", resp.Content[0].Thinking)
	require.Equal(t, "sig-1", resp.Content[0].Signature)
	require.Equal(t, "text", resp.Content[1].Type)
}

func TestFromUpstream_InlineImageBecomesMarkdownDataURI(t *testing.T) {
	raw := []byte(`{"candidates": [{"content": {"parts": [
		{"inlineData": {"mimeType": "image/png", "data": "Zm9v"}}
	]}}]}`)
	resp, err := FromUpstream(raw)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Contains(t, resp.Content[0].Text, "data:image/png;base64,Zm9v")
}

func TestFromUpstream_GroundingMetadataBecomesCitationBlock(t *testing.T) {
	raw := []byte(`{"candidates": [{"content": {"parts": [{"text": "hi"}]},
		"groundingMetadata": {"groundingChunks": [{"web": {"uri": "https://example.com", "title": "Example"}}]}
	}]}`)
	resp, err := FromUpstream(raw)
	require.NoError(t, err)
	require.Len(t, resp.Content, 2)
	require.Equal(t, "web_search_tool_result", resp.Content[1].Type)
}

func TestFromUpstream_EmptyResponseErrors(t *testing.T) {
	_, err := FromUpstream([]byte(`null`))
	require.Error(t, err)
}
