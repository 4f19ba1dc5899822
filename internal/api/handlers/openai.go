package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/ccgateway/cloudcode-gateway/internal/apierrors"
	"github.com/ccgateway/cloudcode-gateway/internal/modelrouter"
	"github.com/ccgateway/cloudcode-gateway/internal/translator"
	"github.com/ccgateway/cloudcode-gateway/internal/translator/openai"
)

// ChatCompletions handles POST /v1/chat/completions.
func (e *Engine) ChatCompletions(c *gin.Context) {
	var req openai.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	if len(req.Messages) == 0 {
		req.Messages = []openai.Message{{Role: "user", Text: " "}}
	}

	e.runChatCompletion(c, &req)
}

// Completions handles the legacy POST /v1/completions, wrapping the bare
// prompt string as a single user message and reusing the chat-completions
// pipeline end to end rather than giving the legacy surface its own
// mapper.
func (e *Engine) Completions(c *gin.Context) {
	var raw struct {
		Model       string          `json:"model"`
		Prompt      string          `json:"prompt"`
		Stream      bool            `json:"stream"`
		MaxTokens   *int            `json:"max_tokens,omitempty"`
		Temperature *float64        `json:"temperature,omitempty"`
		TopP        *float64        `json:"top_p,omitempty"`
		Stop        json.RawMessage `json:"stop,omitempty"`
	}
	if err := c.ShouldBindJSON(&raw); err != nil {
		writeBindError(c, err)
		return
	}

	req := &openai.Request{
		Model:       raw.Model,
		Stream:      raw.Stream,
		MaxTokens:   raw.MaxTokens,
		Temperature: raw.Temperature,
		TopP:        raw.TopP,
		Stop:        raw.Stop,
		Messages:    []openai.Message{{Role: "user", Text: raw.Prompt}},
	}
	e.runChatCompletion(c, req)
}

// Responses handles POST /v1/responses the same way Completions does:
// flatten the Responses-API input shape down to chat messages and reuse
// the chat-completions pipeline.
func (e *Engine) Responses(c *gin.Context) {
	var raw struct {
		Model  string          `json:"model"`
		Input  json.RawMessage `json:"input"`
		Stream bool            `json:"stream"`
	}
	if err := c.ShouldBindJSON(&raw); err != nil {
		writeBindError(c, err)
		return
	}

	req := &openai.Request{
		Model:    raw.Model,
		Stream:   raw.Stream,
		Messages: []openai.Message{{Role: "user", Text: responsesInputText(raw.Input)}},
	}
	e.runChatCompletion(c, req)
}

// responsesInputText flattens the Responses API's "input" field, which may
// be a bare string or an array of {role, content} turns, down to the text
// of the latest user turn.
func responsesInputText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return ""
	}
	items := parsed.Array()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Get("role").String() != "user" {
			continue
		}
		if text := items[i].Get("content").String(); text != "" {
			return text
		}
	}
	return ""
}

func (e *Engine) runChatCompletion(c *gin.Context, req *openai.Request) {
	upstreamModel := e.Router.Resolve(modelrouter.DialectOpenAI, req.Model)

	maxOut := 0
	if req.MaxTokens != nil {
		maxOut = *req.MaxTokens
	}
	if modelrouter.IsBackgroundTask(maxOut, latestUserTextOpenAI(req.Messages), systemTextOpenAI(req.Messages)) {
		upstreamModel = modelrouter.BackgroundRedirectModel()
		req.Tools = nil
	}

	envelope, err := openai.ToUpstream(req, openai.BuildOptions{
		ProjectID:     "", // patched in by the dispatcher per attempt
		UpstreamModel: upstreamModel,
		RequestType:   modelrouter.RequestType(upstreamModel),
		FetchImage:    fetchImageURL,
	})
	if err != nil {
		apiErr := apierrors.InvalidRequest(err.Error())
		body, _ := apiErr.JSON()
		c.Data(apiErr.StatusCode, "application/json", body)
		return
	}

	e.dispatchRequest(c, translator.FormatOpenAI, envelope, dispatcherRequest{
		upstreamModel: upstreamModel,
		stream:        req.Stream,
	})
}

func latestUserTextOpenAI(messages []openai.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		if messages[i].Text != "" {
			return messages[i].Text
		}
		for _, b := range messages[i].Blocks {
			if b.Type == "text" && b.Text != "" {
				return b.Text
			}
		}
	}
	return ""
}

// systemTextOpenAI concatenates every system-role message's text, since the
// OpenAI dialect carries its preamble inline in the message list rather
// than in a dedicated field.
func systemTextOpenAI(messages []openai.Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role != "system" {
			continue
		}
		if m.Text != "" {
			parts = append(parts, m.Text)
			continue
		}
		for _, b := range m.Blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// fetchImageURL retrieves an http(s) image reference so it can be inlined
// into the upstream envelope; the gateway never leaves a bare URL for
// upstream to dereference itself.
func fetchImageURL(url string) (string, []byte, error) {
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("fetching image: upstream returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("reading image body: %w", err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return mimeType, data, nil
}

// Models handles GET /v1/models, listing the upstream model families the
// gateway can route to. There is no upstream "list models" call in scope;
// the listing is a fixed set of model ids.
func (e *Engine) Models(c *gin.Context) {
	names := []string{
		"gemini-3-pro",
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"claude-opus-4-5",
		"claude-sonnet-4-5",
		"claude-haiku-4-5",
	}
	now := time.Now().Unix()
	data := make([]map[string]any, 0, len(names))
	for _, n := range names {
		data = append(data, map[string]any{
			"id":       n,
			"object":   "model",
			"created":  now,
			"owned_by": "cloudcode-gateway",
		})
	}
	c.JSON(http.StatusOK, map[string]any{"object": "list", "data": data})
}
