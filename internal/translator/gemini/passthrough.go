// Package gemini implements the native-Gemini dialect, which passes request
// and response bodies through to the upstream Cloud Code envelope almost
// unchanged: the gateway only wraps/unwraps the envelope and applies the
// configured model mapping, never reshaping contents or parts.
package gemini

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// BuildOptions carries the per-request context the mapper needs beyond the
// wire body itself.
type BuildOptions struct {
	ProjectID     string
	UpstreamModel string
	RequestType   string
}

// ToUpstream wraps a caller-supplied Gemini-native request (contents,
// tools, generationConfig, systemInstruction, as already shaped for
// generateContent) in the Cloud Code envelope, substituting the
// model-router-resolved model id for whatever the caller sent.
func ToUpstream(rawRequest []byte, opts BuildOptions) ([]byte, error) {
	if !gjson.ValidBytes(rawRequest) {
		return nil, fmt.Errorf("gemini: request body is not valid JSON")
	}

	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "project", opts.ProjectID); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "requestId", "gemini-"+uuid.NewString()); err != nil {
		return nil, err
	}
	if body, err = sjson.SetRawBytes(body, "request", rawRequest); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "model", opts.UpstreamModel); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "userAgent", "antigravity"); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "requestType", opts.RequestType); err != nil {
		return nil, err
	}
	return body, nil
}

// FromUpstream unwraps the Cloud Code envelope back to the bare
// generateContent response shape a native Gemini client expects, since the
// caller never saw the envelope on the way in either.
func FromUpstream(raw []byte) ([]byte, error) {
	parsed := gjson.ParseBytes(raw)
	if inner := parsed.Get("response"); inner.Exists() {
		return []byte(inner.Raw), nil
	}
	return raw, nil
}

// FeedStream unwraps one streamed Cloud Code chunk the same way FromUpstream
// does for the buffered path, so the two share exactly one envelope rule.
func FeedStream(raw []byte) []byte {
	out, err := FromUpstream(raw)
	if err != nil {
		return raw
	}
	return out
}

// StreamTranscoder wraps FeedStream in a stateful type for symmetry with
// the other dialects; native Gemini pass-through needs no state between
// chunks and no terminal marker of its own (the upstream SSE stream's own
// end is what closes the connection).
type StreamTranscoder struct{}

// NewStreamTranscoder constructs a (stateless) transcoder.
func NewStreamTranscoder() *StreamTranscoder { return &StreamTranscoder{} }

// Feed unwraps one streamed chunk.
func (*StreamTranscoder) Feed(raw []byte) []byte { return FeedStream(raw) }

// Close returns no trailing event; pass-through has none to add.
func (*StreamTranscoder) Close() []byte { return nil }
