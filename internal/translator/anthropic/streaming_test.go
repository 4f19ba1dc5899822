package anthropic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamTranscoder_EmitsMessageStartOnFirstChunk(t *testing.T) {
	s := NewStreamTranscoder()
	out := s.Feed([]byte(`{"responseId":"resp-1","modelVersion":"gemini-3-pro","candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`))

	require.Contains(t, string(out), "event: message_start")
	require.Contains(t, string(out), "event: content_block_start")
	require.Contains(t, string(out), "text_delta")
}

func TestStreamTranscoder_MessageStartOnlySentOnce(t *testing.T) {
	s := NewStreamTranscoder()
	s.Feed([]byte(`{"candidates":[{"content":{"parts":[{"text":"a"}]}}]}`))
	out := s.Feed([]byte(`{"candidates":[{"content":{"parts":[{"text":"b"}]}}]}`))

	require.NotContains(t, string(out), "event: message_start")
}

func TestStreamTranscoder_SwitchingFromTextToFunctionCallClosesBlock(t *testing.T) {
	s := NewStreamTranscoder()
	s.Feed([]byte(`{"candidates":[{"content":{"parts":[{"text":"thinking text"}]}}]}`))
	out := s.Feed([]byte(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"lookup","id":"call-1","args":{}}}]}}]}`))

	require.Contains(t, string(out), "content_block_stop")
	require.Contains(t, string(out), "tool_use")
}

func TestStreamTranscoder_FinishReasonEmitsMessageDeltaAndStop(t *testing.T) {
	s := NewStreamTranscoder()
	s.Feed([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`))
	out := s.Feed([]byte(`{"candidates":[{"finishReason":"STOP"}], "usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2}}`))

	require.Contains(t, string(out), "message_delta")
	require.Contains(t, string(out), `"stop_reason":"end_turn"`)
	require.Contains(t, string(out), "message_stop")
}

func TestStreamTranscoder_ToolCallSetsToolUseStopReason(t *testing.T) {
	s := NewStreamTranscoder()
	s.Feed([]byte(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"lookup","id":"call-1","args":{}}}]}}]}`))
	out := s.Feed([]byte(`{"candidates":[{"finishReason":"STOP"}]}`))

	require.Contains(t, string(out), `"stop_reason":"tool_use"`)
}

func TestStreamTranscoder_Close_FlushesOpenBlockAndSendsMessageStop(t *testing.T) {
	s := NewStreamTranscoder()
	s.Feed([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`))
	out := s.Close()

	require.Contains(t, string(out), "content_block_stop")
	require.Contains(t, string(out), "message_stop")
}

func TestStreamTranscoder_CloseIsNoopIfMessageStopAlreadySent(t *testing.T) {
	s := NewStreamTranscoder()
	s.Feed([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`))
	s.Feed([]byte(`{"candidates":[{"finishReason":"STOP"}]}`))
	out := s.Close()
	require.Empty(t, out)
}

func TestStreamTranscoder_ThinkingPartEmitsThinkingDelta(t *testing.T) {
	s := NewStreamTranscoder()
	out := s.Feed([]byte(`{"candidates":[{"content":{"parts":[{"text":"musing","thought":true}]}}]}`))
	require.Contains(t, string(out), `"type":"thinking"`)
	require.Contains(t, string(out), "thinking_delta")
}

func TestStreamTranscoder_TrailingSignatureFlushedOnFinish(t *testing.T) {
	s := NewStreamTranscoder()
	s.Feed([]byte(`{"candidates":[{"content":{"parts":[{"text":"","thoughtSignature":"sig-xyz"}]}}]}`))
	out := s.Feed([]byte(`{"candidates":[{"finishReason":"STOP"}]}`))
	require.Contains(t, string(out), "signature_delta")
	require.True(t, strings.Contains(string(out), "sig-xyz"))
}
