// Package translator registers, per client-facing dialect, the functions
// that convert a request into the upstream Cloud Code envelope and convert
// an upstream response back into that dialect's wire shape.
package translator

// Format identifies a wire dialect.
type Format string

const (
	FormatOpenAI    Format = "openai"
	FormatAnthropic Format = "anthropic"
	FormatGemini    Format = "gemini"

	// FormatCloudCode identifies the single upstream envelope dialect every
	// client-facing Format is translated to and from. It has no registry
	// entry of its own; it names the wire shape on the other side of
	// dispatch.
	FormatCloudCode Format = "cloudcode"
)
