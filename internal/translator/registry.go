package translator

import "sync"

// StreamTranscoder converts one upstream SSE chunk into zero or more bytes
// of a dialect's own SSE events, and emits any trailing event the dialect
// needs when the upstream stream ends.
type StreamTranscoder interface {
	Feed(raw []byte) []byte
	Close() []byte
}

// ResponseTransform converts one buffered upstream response into a
// dialect's response body.
type ResponseTransform func(raw []byte) ([]byte, error)

// StreamFactory constructs a fresh StreamTranscoder for one request.
type StreamFactory func() StreamTranscoder

// entry bundles the response-side conversions for one dialect. Request-side
// conversion stays with each dialect's own typed Request struct (the
// handlers need that type for validation and for dialect-specific request
// logic like background-task detection), so it is not part of this
// registry.
type entry struct {
	response ResponseTransform
	stream   StreamFactory
}

// Registry looks up a dialect's response-side conversions by Format.
type Registry struct {
	mu      sync.RWMutex
	entries map[Format]entry
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Format]entry)}
}

// Register binds a dialect's response transform and stream factory.
func (r *Registry) Register(format Format, response ResponseTransform, stream StreamFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[format] = entry{response: response, stream: stream}
}

// TranslateResponse converts a buffered upstream response for format, or
// returns the raw body unchanged if no transform is registered.
func (r *Registry) TranslateResponse(format Format, raw []byte) ([]byte, error) {
	r.mu.RLock()
	e, ok := r.entries[format]
	r.mu.RUnlock()
	if !ok || e.response == nil {
		return raw, nil
	}
	return e.response(raw)
}

// NewStream constructs a stream transcoder for format, or nil if none is
// registered.
func (r *Registry) NewStream(format Format) StreamTranscoder {
	r.mu.RLock()
	e, ok := r.entries[format]
	r.mu.RUnlock()
	if !ok || e.stream == nil {
		return nil
	}
	return e.stream()
}
