// Package modelrouter rewrites client-visible model ids to upstream model
// ids and detects low-value "background" requests that should be redirected
// to a cheap model.
package modelrouter

import (
	"strings"

	"github.com/ccgateway/cloudcode-gateway/internal/config"
)

// Dialect identifies which default mapping table applies.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
	DialectGemini    Dialect = "gemini"
)

// backgroundTaskRedirect is the cheap model low-value requests are sent to.
const backgroundTaskRedirect = "gemini-2.5-flash"

// seriesGroups collapse dated/variant model aliases onto a stable series
// id, so a caller's "claude-sonnet-4-5-20250929" and "claude-sonnet-4-5"
// both land on one upstream target unless a more specific rule overrides it.
var seriesGroups = map[string]string{
	"claude-sonnet-4-5": "claude-sonnet-4-5",
	"claude-opus-4-5":   "claude-opus-4-5",
	"claude-haiku-4-5":  "claude-haiku-4-5",
}

// Router resolves a client-supplied model string to the upstream model id,
// applying custom mapping rules (exact names or simple "*" globs) first,
// then series-group collapse, then the
// dialect's default table, and falling back to the input unchanged.
type Router struct {
	store *config.Store
}

// New builds a Router reading mapping tables from store.
func New(store *config.Store) *Router {
	return &Router{store: store}
}

// Resolve returns the upstream model id for a client model string under a
// dialect's default mapping table.
func (r *Router) Resolve(dialect Dialect, clientModel string) string {
	cfg := r.store.Get()

	if target := matchTable(cfg.CustomMapping, clientModel); target != "" {
		return target
	}

	for series, target := range seriesGroups {
		if strings.HasPrefix(clientModel, series) {
			return target
		}
	}

	var table []config.ModelMapping
	switch dialect {
	case DialectAnthropic:
		table = cfg.AnthropicMapping
	case DialectOpenAI:
		table = cfg.OpenAIMapping
	}
	if target := matchTable(table, clientModel); target != "" {
		return target
	}

	return clientModel
}

// matchTable finds the first rule whose pattern matches model, supporting
// exact matches and "*"-prefixed/suffixed globs.
func matchTable(table []config.ModelMapping, model string) string {
	for _, rule := range table {
		if globMatch(rule.Pattern, model) {
			return rule.Target
		}
	}
	return ""
}

func globMatch(pattern, model string) bool {
	switch {
	case pattern == model:
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		needle := strings.Trim(pattern, "*")
		return needle != "" && strings.Contains(model, needle)
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(model, strings.TrimPrefix(pattern, "*"))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	default:
		return false
	}
}

// backgroundPhrases are literal substrings observed in known low-value
// auxiliary prompts (title generation, summarisation, prompt suggestions).
// These match against either the latest user turn or the request's
// system/preamble text, since summarisation preambles are conventionally
// placed in the system message rather than a user turn.
var backgroundPhrases = []string{
	"write a 5-10 word title",
	"Respond with the title",
	"Concise summary",
	"prompt suggestion generator",
	"summarize the conversation",
}

// previewWindow bounds how much of the latest user message text is scanned
// for background-task phrases.
const previewWindow = 500

// maxBackgroundOutputTokens is the output-token ceiling a request must stay
// under to even be considered for background redirection.
const maxBackgroundOutputTokens = 512

// IsBackgroundTask reports whether a request looks like a low-value
// auxiliary call that should be redirected to a cheap model: it requests a
// small number of output tokens and the conversation shape matches a known
// low-value pattern. The shape check scans both the latest user turn and
// the request's system/preamble text, since summarisation and
// title-generation preambles are conventionally carried in the system
// message rather than addressed to the user.
func IsBackgroundTask(maxOutputTokens int, latestUserMessage, systemPreamble string) bool {
	if maxOutputTokens <= 0 || maxOutputTokens > maxBackgroundOutputTokens {
		return false
	}
	return matchesBackgroundPhrase(latestUserMessage) || matchesBackgroundPhrase(systemPreamble)
}

func matchesBackgroundPhrase(text string) bool {
	if text == "" {
		return false
	}
	preview := text
	if len(preview) > previewWindow {
		preview = preview[:previewWindow]
	}
	preview = strings.ToLower(preview)
	for _, phrase := range backgroundPhrases {
		if strings.Contains(preview, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// BackgroundRedirectModel is the model background tasks are sent to.
func BackgroundRedirectModel() string { return backgroundTaskRedirect }

// RequestType classifies the upstream envelope's requestType field by the
// resolved upstream model's branding, so the upstream can route accounting
// for the two model families separately.
func RequestType(upstreamModel string) string {
	if strings.Contains(strings.ToLower(upstreamModel), "claude") {
		return "CLAUDE_CHAT"
	}
	return "GEMINI_CHAT"
}
