package upstream

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// DecodeBody wraps body in a decompressing reader according to the
// response's Content-Encoding header. Unrecognised encodings (including
// empty and "identity") pass the body through unchanged.
func DecodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("upstream: gzip decode: %w", err)
		}
		return &joinedCloser{Reader: gz, closers: []io.Closer{gz, body}}, nil
	case "br":
		br := brotli.NewReader(body)
		return &joinedCloser{Reader: br, closers: []io.Closer{body}}, nil
	default:
		return body, nil
	}
}

// joinedCloser closes every underlying resource a decompressing reader
// wraps, in order, on a single Close call.
type joinedCloser struct {
	io.Reader
	closers []io.Closer
}

func (j *joinedCloser) Close() error {
	var firstErr error
	for _, c := range j.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
