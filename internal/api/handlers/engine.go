// Package handlers implements the per-dialect HTTP handlers: binding a
// client request, resolving its model, building the upstream envelope,
// dispatching it, and writing the translated response (buffered or
// streamed) back to the caller.
package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ccgateway/cloudcode-gateway/internal/api/middleware"
	"github.com/ccgateway/cloudcode-gateway/internal/apierrors"
	"github.com/ccgateway/cloudcode-gateway/internal/config"
	"github.com/ccgateway/cloudcode-gateway/internal/dispatcher"
	"github.com/ccgateway/cloudcode-gateway/internal/identity"
	"github.com/ccgateway/cloudcode-gateway/internal/modelrouter"
	"github.com/ccgateway/cloudcode-gateway/internal/session"
	"github.com/ccgateway/cloudcode-gateway/internal/translator"
)

// Engine bundles every collaborator a dialect handler needs: the live
// config, the identity pool/selector, the dispatcher, the model router, and
// the two session-scoped stores (sticky affinity, thought signatures).
type Engine struct {
	Config     *config.Store
	Pool       *identity.Pool
	Selector   *identity.Selector
	Dispatcher *dispatcher.Dispatcher
	Router     *modelrouter.Router
	Affinity   *session.AffinityTable
	Signatures *session.SignatureStore
}

// NewEngine wires the sticky-affinity table into the selector's lookup/
// record hooks and returns the assembled Engine.
func NewEngine(cfg *config.Store, pool *identity.Pool, selector *identity.Selector, disp *dispatcher.Dispatcher, router *modelrouter.Router) *Engine {
	affinity := session.NewAffinityTable()
	selector.StickyLookup = affinity.Lookup
	selector.StickyRecord = affinity.Record

	return &Engine{
		Config:     cfg,
		Pool:       pool,
		Selector:   selector,
		Dispatcher: disp,
		Router:     router,
		Affinity:   affinity,
		Signatures: session.NewSignatureStore(),
	}
}

// fingerprint computes the session fingerprint for a request, used for both
// sticky scheduling and thought-signature bookkeeping.
func (e *Engine) fingerprint(c *gin.Context) string {
	token := ""
	if v, ok := c.Get("bearerToken"); ok {
		token, _ = v.(string)
	}
	return session.Fingerprint(c.ClientIP(), c.Request.UserAgent(), session.TokenPrefix(token))
}

// dispatchRequest is the shared envelope -> dispatch -> translated-response
// pipeline used by every dialect handler. format selects which translator.
// Default registry entry renders the response; extras are run against the
// raw upstream body before translation (thought-signature extraction).
func (e *Engine) dispatchRequest(c *gin.Context, format translator.Format, envelope []byte, req dispatcherRequest) {
	fp := e.fingerprint(c)
	envelope = session.InjectSignatures(envelope, fp, e.Signatures)

	candidates := e.Pool.All()
	dreq := &dispatcher.Request{
		Dialect:               string(format),
		Model:                 req.upstreamModel,
		Body:                  envelope,
		Stream:                req.stream,
		BypassLock:            req.bypassLock,
		SchedulingMode:        identity.Mode(e.Config.Get().SchedulingMode),
		Fingerprint:           fp,
		Candidates:            candidates,
		StripThinking:         stripThinking,
		DowngradeModelVariant: downgradeModelVariant,
		DropTool:              dropTool,
	}

	ctx, cancel := requestTimeoutCtx(c.Request.Context(), e.Config)
	defer cancel()

	outcome := e.Dispatcher.Dispatch(ctx, dreq)
	c.Set("trace_id", traceID(outcome))

	if outcome.Err != nil {
		middleware.RecordDispatchAttempt(string(format), "error")
		writeError(c, req.stream, outcome.Err)
		return
	}
	middleware.RecordDispatchAttempt(string(format), "ok")

	resp := outcome.Response
	defer resp.Body.Close()

	extractor := session.NewExtractor(fp, e.Signatures)

	if req.stream {
		streamResponse(c, format, resp.Body, extractor)
		return
	}
	bufferedResponse(c, format, resp.Body, extractor)
}

type dispatcherRequest struct {
	upstreamModel string
	stream        bool
	bypassLock    bool
}

func traceID(o *dispatcher.Outcome) string {
	if o.Trace != nil {
		return o.Trace.ID
	}
	return ""
}

func writeError(c *gin.Context, stream bool, derr *dispatcher.Error) {
	apiErr := apierrors.FromDispatch(derr.Kind, derr.StatusCode, derr.Message, derr.TraceID)
	log.WithFields(log.Fields{
		"kind":     apiErr.Kind,
		"status":   apiErr.StatusCode,
		"trace_id": apiErr.TraceID,
	}).Warn("dispatch failed")

	if stream && c.Writer.Written() {
		c.Writer.Write(apiErr.SSEEvent())
		c.Writer.Flush()
		return
	}
	body, _ := apiErr.JSON()
	c.Data(apiErr.StatusCode, "application/json", body)
}

// bufferedResponse reads the full upstream body, extracts thought
// signatures, translates it into the caller's dialect, and writes it.
func bufferedResponse(c *gin.Context, format translator.Format, body io.Reader, extractor *session.Extractor) {
	raw, err := io.ReadAll(body)
	if err != nil {
		apiErr := apierrors.Internal(fmt.Sprintf("reading upstream response: %v", err))
		respBody, _ := apiErr.JSON()
		c.Data(apiErr.StatusCode, "application/json", respBody)
		return
	}
	extractor.Feed(raw)

	translated, err := translator.Default.TranslateResponse(format, raw)
	if err != nil {
		apiErr := apierrors.Internal(fmt.Sprintf("translating upstream response: %v", err))
		respBody, _ := apiErr.JSON()
		c.Data(apiErr.StatusCode, "application/json", respBody)
		return
	}
	c.Data(http.StatusOK, "application/json", translated)
}

// streamResponse reads newline-delimited upstream SSE/JSON chunks, feeds
// each to the extractor and the dialect's stream transcoder, and flushes
// the translated SSE events to the caller as they arrive.
func streamResponse(c *gin.Context, format translator.Format, body io.Reader, extractor *session.Extractor) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	transcoder := translator.Default.NewStream(format)

	scanner := newSSEScanner(body)
	for scanner.Next() {
		chunk := scanner.Data()
		if len(chunk) == 0 {
			continue
		}
		extractor.Feed(chunk)

		var out []byte
		if transcoder != nil {
			out = transcoder.Feed(chunk)
		} else {
			out = chunk
		}
		if len(out) > 0 {
			c.Writer.Write(out)
			c.Writer.Flush()
		}

		select {
		case <-c.Request.Context().Done():
			return
		default:
		}
	}

	if transcoder != nil {
		if out := transcoder.Close(); len(out) > 0 {
			c.Writer.Write(out)
			c.Writer.Flush()
		}
	}
}

// requestTimeoutCtx bounds one client request by the configured per-attempt
// upstream timeout, used as the context handed to the dispatcher.
func requestTimeoutCtx(parent context.Context, store *config.Store) (context.Context, context.CancelFunc) {
	secs := store.Get().RequestTimeout
	if secs <= 0 {
		secs = 300
	}
	return context.WithTimeout(parent, time.Duration(secs)*time.Second)
}
