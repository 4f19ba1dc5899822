package translator

import (
	"encoding/json"

	"github.com/ccgateway/cloudcode-gateway/internal/translator/anthropic"
	"github.com/ccgateway/cloudcode-gateway/internal/translator/gemini"
	"github.com/ccgateway/cloudcode-gateway/internal/translator/openai"
)

// Default is the registry populated with all three client-facing dialects.
// The API layer looks up response-side conversions here rather than
// switching on format itself.
var Default = NewRegistry()

func init() {
	Default.Register(FormatAnthropic,
		func(raw []byte) ([]byte, error) {
			resp, err := anthropic.FromUpstream(raw)
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		},
		func() StreamTranscoder { return anthropic.NewStreamTranscoder() },
	)

	Default.Register(FormatOpenAI,
		func(raw []byte) ([]byte, error) {
			resp, err := openai.FromUpstream(raw)
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		},
		func() StreamTranscoder { return openai.NewStreamTranscoder() },
	)

	Default.Register(FormatGemini,
		gemini.FromUpstream,
		func() StreamTranscoder { return gemini.NewStreamTranscoder() },
	)
}
