package upstream

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"
)

func TestDecodeBody_IdentityPassesThrough(t *testing.T) {
	body := io.NopCloser(strings.NewReader("hello"))
	out, err := DecodeBody(body, "")
	require.NoError(t, err)
	data, _ := io.ReadAll(out)
	require.Equal(t, "hello", string(data))
}

func TestDecodeBody_ExplicitIdentityEncoding(t *testing.T) {
	body := io.NopCloser(strings.NewReader("hello"))
	out, err := DecodeBody(body, "Identity")
	require.NoError(t, err)
	data, _ := io.ReadAll(out)
	require.Equal(t, "hello", string(data))
}

func TestDecodeBody_UnknownEncodingPassesThrough(t *testing.T) {
	body := io.NopCloser(strings.NewReader("hello"))
	out, err := DecodeBody(body, "deflate")
	require.NoError(t, err)
	data, _ := io.ReadAll(out)
	require.Equal(t, "hello", string(data))
}

func TestDecodeBody_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("compressed payload"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	out, err := DecodeBody(io.NopCloser(&buf), "gzip")
	require.NoError(t, err)
	defer out.Close()

	data, err := io.ReadAll(out)
	require.NoError(t, err)
	require.Equal(t, "compressed payload", string(data))
}

func TestDecodeBody_GzipInvalidDataErrors(t *testing.T) {
	_, err := DecodeBody(io.NopCloser(strings.NewReader("not gzip")), "gzip")
	require.Error(t, err)
}

func TestDecodeBody_Brotli(t *testing.T) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write([]byte("brotli payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, err := DecodeBody(io.NopCloser(&buf), "br")
	require.NoError(t, err)
	defer out.Close()

	data, err := io.ReadAll(out)
	require.NoError(t, err)
	require.Equal(t, "brotli payload", string(data))
}

func TestDecodeBody_GzipCloseClosesBothLayers(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte("x"))
	require.NoError(t, gz.Close())

	tracker := &closeTrackingReader{Reader: bytes.NewReader(buf.Bytes())}
	out, err := DecodeBody(tracker, "gzip")
	require.NoError(t, err)
	require.NoError(t, out.Close())
	require.True(t, tracker.closed)
}

type closeTrackingReader struct {
	*bytes.Reader
	closed bool
}

func (c *closeTrackingReader) Close() error {
	c.closed = true
	return nil
}
