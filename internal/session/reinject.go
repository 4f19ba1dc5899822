package session

import (
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Extractor captures thoughtSignature bytes from one response's (or one
// stream's) candidate parts, keyed by their position within that response,
// and stores them for re-injection into the next request on the same
// session. One Extractor is used for the lifetime of a single upstream
// call; position increments across every Feed, including streamed chunks of
// the same response.
type Extractor struct {
	fingerprint string
	store       *SignatureStore
	position    int
}

// NewExtractor constructs an Extractor for one request's upstream call.
func NewExtractor(fingerprint string, store *SignatureStore) *Extractor {
	return &Extractor{fingerprint: fingerprint, store: store}
}

// Feed scans one buffered response or streamed chunk's candidate parts for
// thoughtSignature bytes, storing each one against its position.
func (e *Extractor) Feed(raw []byte) {
	if e.store == nil || e.fingerprint == "" {
		return
	}
	parts := gjson.GetBytes(raw, "candidates.0.content.parts").Array()
	for _, part := range parts {
		if sig := part.Get("thoughtSignature").String(); sig != "" {
			e.store.Put(SignatureKey{Fingerprint: e.fingerprint, Position: e.position}, []byte(sig))
		}
		e.position++
	}
}

// InjectSignatures backfills thoughtSignature fields missing from the last
// model-role content's parts in an upstream envelope, using signatures
// captured from that same session's immediately preceding response. Clients
// that echo back reasoning text without its signature would otherwise
// trigger upstream validation failures on the next turn.
func InjectSignatures(body []byte, fingerprint string, store *SignatureStore) []byte {
	if store == nil || fingerprint == "" {
		return body
	}
	contents := gjson.GetBytes(body, "request.contents").Array()
	lastModelIdx := -1
	for i, c := range contents {
		if c.Get("role").String() == "model" {
			lastModelIdx = i
		}
	}
	if lastModelIdx < 0 {
		return body
	}

	parts := contents[lastModelIdx].Get("parts").Array()
	for i, part := range parts {
		if part.Get("thoughtSignature").Exists() {
			continue
		}
		sig, ok := store.Get(SignatureKey{Fingerprint: fingerprint, Position: i})
		if !ok {
			continue
		}
		path := partPath(lastModelIdx, i, "thoughtSignature")
		if mutated, err := sjson.SetBytes(body, path, string(sig)); err == nil {
			body = mutated
		}
	}
	return body
}

func partPath(contentIdx, partIdx int, field string) string {
	return "request.contents." + strconv.Itoa(contentIdx) + ".parts." + strconv.Itoa(partIdx) + "." + field
}
