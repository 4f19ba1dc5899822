package dispatcher

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Trace records one client request's lifecycle for logging and the
// response-finalisation fields callers attach to their dialect's body.
type Trace struct {
	ID         string
	Dialect    string
	Model      string
	IdentityID string
	Attempts   int
	Usage      Usage
	StartedAt  time.Time
	EndedAt    time.Time
}

// Usage captures upstream-reported token counts for one request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// NewTraceID returns a short random identifier suitable for correlating log
// lines and error bodies across a request's retries.
func NewTraceID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:6]
}

// NewTrace starts a trace for an incoming request.
func NewTrace(dialect, model string) *Trace {
	return &Trace{
		ID:        NewTraceID(),
		Dialect:   dialect,
		Model:     model,
		StartedAt: time.Now(),
	}
}

// Finish stamps the trace's end time. Call once, when the response (or
// final failure) is ready to return to the caller.
func (t *Trace) Finish() {
	t.EndedAt = time.Now()
}
