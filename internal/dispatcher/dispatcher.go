// Package dispatcher selects an identity for each upstream call, runs the
// call through the Cloud Code client, and classifies the outcome into one
// of: finalise, recover locally (retry), rotate to another identity, or
// surface a terminal error to the caller.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ccgateway/cloudcode-gateway/internal/identity"
	"github.com/ccgateway/cloudcode-gateway/internal/upstream"
	"github.com/tidwall/sjson"
)

const (
	maxAttempts  = 5
	wallClockCap = 30 * time.Second
)

// Request describes one client call to dispatch, including the mutation
// hooks the Failure Controller applies when it needs to retry in place
// (stripping thinking blocks, downgrading a model variant, dropping a
// tool). Those mutations are dialect-specific, so the translator layer
// supplies them as closures rather than the dispatcher knowing dialect
// shapes.
type Request struct {
	Dialect string
	Model   string
	Body    []byte
	Stream  bool

	// BypassLock is true for image-generation requests, which fan out in
	// parallel rather than serialising on the per-identity call lock.
	BypassLock bool

	SchedulingMode identity.Mode
	Fingerprint    string
	Candidates     []*identity.Identity

	// StripThinking removes reasoning-block history and thinking config
	// from body, returning the mutated body.
	StripThinking func(body []byte) []byte
	// DowngradeModelVariant removes a "-thinking" suffix (or similar) from
	// the upstream model string, for the retry after StripThinking.
	DowngradeModelVariant func(model string) string
	// DropTool removes one tool from body (preferring built-in search
	// tools before user functions), reporting whether one was found to
	// drop.
	DropTool func(body []byte) (mutated []byte, dropped bool)
}

// Outcome is the result the dispatcher hands back to the HTTP layer.
type Outcome struct {
	Response *http.Response // set on terminal success; body NOT yet read
	Trace    *Trace
	Err      *Error
}

// Error is a classified terminal failure.
type Error struct {
	Kind       string // matches the apierrors taxonomy
	Message    string
	StatusCode int
	TraceID    string
}

func (e *Error) Error() string { return e.Message }

// Refresher exchanges a refresh credential for a fresh access credential;
// wired to identity.EnsureFresh before every attempt.
type Refresher = identity.Refresher

// Dispatcher owns the pool, selector, and upstream client shared across all
// requests.
type Dispatcher struct {
	Pool      *identity.Pool
	Selector  *identity.Selector
	Upstream  *upstream.Client
	Refresher Refresher
}

// New constructs a Dispatcher from its collaborators.
func New(pool *identity.Pool, selector *identity.Selector, client *upstream.Client, refresher Refresher) *Dispatcher {
	return &Dispatcher{Pool: pool, Selector: selector, Upstream: client, Refresher: refresher}
}

// Dispatch runs the full select -> lock -> call -> classify -> recover loop
// for one client request, honoring the attempt and wall-clock budgets. On
// success it returns an Outcome with a live, unread *http.Response; the
// caller is responsible for reading/streaming and closing its body.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Outcome {
	trace := NewTrace(req.Dialect, req.Model)
	deadline := trace.StartedAt.Add(wallClockCap)

	body := req.Body
	model := req.Model
	excluded := make(map[string]bool)
	retriedSignature := false
	retriedSignatureToolStrip := false
	retried401 := make(map[string]bool)
	bypassCooldown := false
	var pinnedIdentity *identity.Identity

	var lastErr error
	var lastStatus int
	var lastBody string

	for trace.Attempts < maxAttempts {
		if ctx.Err() != nil {
			trace.Finish()
			return &Outcome{Trace: trace, Err: classifyContextErr(ctx.Err(), trace.ID)}
		}
		if time.Now().After(deadline) {
			trace.Finish()
			return &Outcome{Trace: trace, Err: &Error{
				Kind: "upstream_unavailable", StatusCode: http.StatusServiceUnavailable,
				Message: "retry budget exhausted (wall-clock)", TraceID: trace.ID,
			}}
		}

		var id *identity.Identity
		var selErr error
		if pinnedIdentity != nil && !excluded[pinnedIdentity.ID] {
			id = pinnedIdentity
		} else {
			id, selErr = d.selectIdentity(req, excluded, bypassCooldown)
		}
		pinnedIdentity = nil
		bypassCooldown = false
		if selErr != nil {
			trace.Finish()
			return &Outcome{Trace: trace, Err: classifySelectErr(selErr, trace.ID)}
		}
		trace.IdentityID = id.ID
		if mutated, err := sjson.SetBytes(body, "project", id.ProjectID); err == nil {
			body = mutated
		}

		if err := identity.EnsureFresh(ctx, id, d.Refresher); err != nil {
			excluded[id.ID] = true
			lastErr = err
			continue
		}

		release, lockErr := d.Pool.AcquireCall(ctx, id.ID, req.BypassLock)
		if lockErr != nil {
			trace.Finish()
			return &Outcome{Trace: trace, Err: classifyContextErr(lockErr, trace.ID)}
		}

		trace.Attempts++
		method := upstream.MethodGenerateContent
		if req.Stream {
			method = upstream.MethodStreamGenerateContent
		}
		accessToken, _ := id.AccessToken()
		resp, callErr := d.Upstream.Call(ctx, method, accessToken, body)
		if callErr != nil {
			release()
			lastErr = callErr
			if backoffErr := sleepBackoff(ctx, trace.Attempts); backoffErr != nil {
				trace.Finish()
				return &Outcome{Trace: trace, Err: classifyContextErr(backoffErr, trace.ID)}
			}
			continue
		}

		if resp.StatusCode < 300 {
			id.Touch()
			trace.Finish()
			decoded, decErr := upstream.DecodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
			if decErr != nil {
				resp.Body.Close()
				release()
				trace.Finish()
				return &Outcome{Trace: trace, Err: &Error{
					Kind: "upstream_unavailable", StatusCode: http.StatusBadGateway,
					Message: decErr.Error(), TraceID: trace.ID,
				}}
			}
			// release() is deferred to the caller via a wrapped body so the
			// identity lock holds for the life of a streaming read.
			resp.Body = &lockReleasingBody{ReadCloser: decoded, release: release}
			return &Outcome{Response: resp, Trace: trace}
		}

		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		release()

		lastStatus = resp.StatusCode
		lastBody = string(errBody)

		switch {
		case resp.StatusCode == http.StatusNotFound:
			trace.Finish()
			return &Outcome{Trace: trace, Err: &Error{
				Kind: "invalid_request", StatusCode: http.StatusNotFound,
				Message: lastBody, TraceID: trace.ID,
			}}

		case resp.StatusCode == 400 && !retriedSignature && looksLikeSignatureError(lastBody):
			retriedSignature = true
			if req.StripThinking != nil {
				body = req.StripThinking(body)
			}
			if req.DowngradeModelVariant != nil {
				downgraded := req.DowngradeModelVariant(model)
				if downgraded != model {
					model = downgraded
					if mutated, err := sjson.SetBytes(body, "model", model); err == nil {
						body = mutated
					}
					trace.Model = model
				}
			}
			pinnedIdentity = id
			continue

		case resp.StatusCode == 400 && retriedSignature && !retriedSignatureToolStrip && looksLikeSignatureError(lastBody):
			retriedSignatureToolStrip = true
			if req.DropTool != nil {
				if mutated, dropped := req.DropTool(body); dropped {
					body = mutated
					pinnedIdentity = id
					continue
				}
			}
			trace.Finish()
			return &Outcome{Trace: trace, Err: &Error{
				Kind: "invalid_request", StatusCode: 400, Message: lastBody, TraceID: trace.ID,
			}}

		case resp.StatusCode == 400 && looksLikeToolConflict(lastBody):
			if req.DropTool != nil {
				if mutated, dropped := req.DropTool(body); dropped {
					body = mutated
					continue
				}
			}
			trace.Finish()
			return &Outcome{Trace: trace, Err: &Error{
				Kind: "invalid_request", StatusCode: 400, Message: lastBody, TraceID: trace.ID,
			}}

		case resp.StatusCode == http.StatusUnauthorized:
			if !retried401[id.ID] {
				retried401[id.ID] = true
				id.SetAccessToken("", time.Time{}) // force refresh next loop
				pinnedIdentity = id
				continue
			}
			id.Disable()
			excluded[id.ID] = true
			bypassCooldown = true
			continue

		case resp.StatusCode == http.StatusForbidden:
			id.MarkForbidden()
			excluded[id.ID] = true
			bypassCooldown = true
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			if isQuotaExhausted(lastBody) {
				trace.Finish()
				return &Outcome{Trace: trace, Err: &Error{
					Kind: "upstream_rate_limited", StatusCode: 429, Message: lastBody, TraceID: trace.ID,
				}}
			}
			hint, ok := parseRetryDelay(lastBody)
			if ok {
				id.Cooldown(req.Model, time.Now().Add(hint), false)
				sleepFor := hint + 250*time.Millisecond
				if sleepFor > 30*time.Second {
					sleepFor = 30 * time.Second
				}
				if err := sleepCtx(ctx, sleepFor); err != nil {
					trace.Finish()
					return &Outcome{Trace: trace, Err: classifyContextErr(err, trace.ID)}
				}
			}
			excluded[id.ID] = true
			bypassCooldown = true
			continue

		case resp.StatusCode >= 500:
			if backoffErr := sleepBackoff(ctx, trace.Attempts); backoffErr != nil {
				trace.Finish()
				return &Outcome{Trace: trace, Err: classifyContextErr(backoffErr, trace.ID)}
			}
			continue

		default:
			trace.Finish()
			return &Outcome{Trace: trace, Err: &Error{
				Kind: "invalid_request", StatusCode: resp.StatusCode, Message: lastBody, TraceID: trace.ID,
			}}
		}
	}

	trace.Finish()
	msg := "all upstream attempts failed"
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, lastErr)
	} else if lastBody != "" {
		msg = fmt.Sprintf("%s: HTTP %d: %s", msg, lastStatus, lastBody)
	}
	return &Outcome{Trace: trace, Err: &Error{
		Kind: "upstream_unavailable", StatusCode: http.StatusServiceUnavailable,
		Message: msg, TraceID: trace.ID,
	}}
}

func (d *Dispatcher) selectIdentity(req *Request, excluded map[string]bool, bypassCooldown bool) (*identity.Identity, error) {
	var candidates []*identity.Identity
	for _, id := range req.Candidates {
		if !excluded[id.ID] {
			candidates = append(candidates, id)
		}
	}
	if bypassCooldown {
		return d.Selector.SelectBypassingCooldown(req.SchedulingMode, req.Model, req.Fingerprint, candidates)
	}
	return d.Selector.Select(req.SchedulingMode, req.Model, req.Fingerprint, candidates)
}

func classifySelectErr(err error, traceID string) *Error {
	return &Error{Kind: "no_identity_available", StatusCode: http.StatusServiceUnavailable, Message: err.Error(), TraceID: traceID}
}

func classifyContextErr(err error, traceID string) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: "internal_error", StatusCode: http.StatusGatewayTimeout, Message: "request cancelled", TraceID: traceID}
	}
	return &Error{Kind: "upstream_unavailable", StatusCode: http.StatusBadGateway, Message: err.Error(), TraceID: traceID}
}

func looksLikeSignatureError(body string) bool {
	return strings.Contains(body, "Invalid `signature`") ||
		strings.Contains(body, "thinking.signature: Field required") ||
		strings.Contains(body, "thinking.signature")
}

// looksLikeToolConflict matches the one concrete tool-conflict shape the
// upstream returns; matching any 400 that merely mentions "tool" produces
// too many false positives.
func looksLikeToolConflict(body string) bool {
	return strings.Contains(body, "Multiple tools")
}

func sleepBackoff(ctx context.Context, attempt int) error {
	delays := []time.Duration{250 * time.Millisecond, time.Second, 4 * time.Second}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return sleepCtx(ctx, delays[idx])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// lockReleasingBody wraps an upstream response body so the per-identity
// call lock is held until the caller finishes reading (or cancels), then
// released exactly once.
type lockReleasingBody struct {
	io.ReadCloser
	release func()
	done    bool
}

func (b *lockReleasingBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.done {
		b.done = true
		b.release()
	}
	return err
}
