// Package upstream talks to the Google Cloud Code v1internal API: building
// authenticated requests, running them through an optional outbound proxy,
// and handing back the raw response for the dispatcher to classify.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	baseURL           = "https://cloudcode-pa.googleapis.com"
	generatePath      = "/v1internal:generateContent"
	streamPath        = "/v1internal:streamGenerateContent"
	countTokensPath   = "/v1internal:countTokens"
	defaultClientMeta = "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI"
)

// Method selects which Cloud Code RPC to invoke.
type Method int

const (
	MethodGenerateContent Method = iota
	MethodStreamGenerateContent
	MethodCountTokens
)

func (m Method) path() string {
	switch m {
	case MethodStreamGenerateContent:
		return streamPath
	case MethodCountTokens:
		return countTokensPath
	default:
		return generatePath
	}
}

// Client issues authenticated calls against the Cloud Code API. One Client
// is shared process-wide; its Transport is sized for the identity pool so
// concurrent calls across identities don't starve each other for
// connections.
type Client struct {
	httpClient *http.Client
}

// Config configures the shared client.
type Config struct {
	// PerAttemptTimeout bounds a single upstream HTTP round trip. Zero means
	// no per-request timeout beyond the caller's context.
	PerAttemptTimeout time.Duration
	// ProxyURL, if set, routes outbound traffic through an HTTP(S) or
	// SOCKS5 proxy rather than dialing directly.
	ProxyURL string
	// MaxIdleConnsPerHost sizes the shared connection pool; callers should
	// pass max(16, 4*identityCount).
	MaxIdleConnsPerHost int
}

// NewWithHTTPClient builds a Client around a caller-supplied *http.Client,
// bypassing proxy/transport configuration entirely. Tests use this to
// inject a fake RoundTripper; production code should use New.
func NewWithHTTPClient(hc *http.Client) *Client {
	return &Client{httpClient: hc}
}

// New builds a Client from cfg, wiring an optional outbound proxy.
func New(cfg Config) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConnsPerHost * 4,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	if strings.TrimSpace(cfg.ProxyURL) != "" {
		if err := wireProxy(transport, cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("upstream: configuring proxy: %w", err)
		}
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.PerAttemptTimeout,
		},
	}, nil
}

// wireProxy configures transport to route through an HTTP(S) or SOCKS5
// proxy URL, dispatching on scheme the way net/http and golang.org/x/net/proxy
// split the concern between them.
func wireProxy(transport *http.Transport, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
		return nil
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsed, proxy.Direct)
		if err != nil {
			return err
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
		return nil
	default:
		return fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
}

// Call issues one v1internal request with the given access token and JSON
// body, returning the raw HTTP response for the caller to classify and
// stream or decode. The caller owns closing resp.Body.
func (c *Client) Call(ctx context.Context, method Method, accessToken string, body []byte) (*http.Response, error) {
	target := baseURL + method.path()
	if method == MethodStreamGenerateContent {
		target += "?alt=sse"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Goog-Api-Client", "gl-node/22.17.0")
	req.Header.Set("Client-Metadata", defaultClientMeta)

	return c.httpClient.Do(req)
}
