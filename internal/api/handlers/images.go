package handlers

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ccgateway/cloudcode-gateway/internal/apierrors"
	"github.com/ccgateway/cloudcode-gateway/internal/dispatcher"
	"github.com/ccgateway/cloudcode-gateway/internal/identity"
	"github.com/ccgateway/cloudcode-gateway/internal/modelrouter"
	"github.com/ccgateway/cloudcode-gateway/internal/translator"
)

// imageModel is the upstream model the gateway targets for every image
// endpoint; there is no caller-selectable image model in this dialect.
const imageModel = "gemini-3-pro-image"

// ImageGenerations handles POST /v1/images/generations: a bare text prompt,
// no input image.
func (e *Engine) ImageGenerations(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	e.dispatchImageRequest(c, req.Prompt, nil, "")
}

// ImageEdits handles POST /v1/images/edits: a multipart upload carrying the
// source image plus an edit instruction.
func (e *Engine) ImageEdits(c *gin.Context) {
	prompt := c.PostForm("prompt")
	data, mimeType, err := readImageFile(c, "image")
	if err != nil {
		apiErr := apierrors.InvalidRequest(err.Error())
		body, _ := apiErr.JSON()
		c.Data(apiErr.StatusCode, "application/json", body)
		return
	}
	e.dispatchImageRequest(c, prompt, data, mimeType)
}

// ImageVariations handles POST /v1/images/variations: a multipart upload
// with no edit instruction, asking for a stylistic variant of the input.
func (e *Engine) ImageVariations(c *gin.Context) {
	data, mimeType, err := readImageFile(c, "image")
	if err != nil {
		apiErr := apierrors.InvalidRequest(err.Error())
		body, _ := apiErr.JSON()
		c.Data(apiErr.StatusCode, "application/json", body)
		return
	}
	e.dispatchImageRequest(c, "Produce a variation of this image.", data, mimeType)
}

func readImageFile(c *gin.Context, field string) (data []byte, mimeType string, err error) {
	file, header, err := c.Request.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()
	data, err = io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	mimeType = header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/png"
	}
	return data, mimeType, nil
}

// dispatchImageRequest builds a single-turn generateContent envelope asking
// for image output, bypassing the per-identity call lock so image
// generations fan out in parallel instead of serializing behind one identity.
func (e *Engine) dispatchImageRequest(c *gin.Context, prompt string, inputImage []byte, inputMime string) {
	parts := []map[string]any{}
	if len(inputImage) > 0 {
		parts = append(parts, map[string]any{"inlineData": map[string]any{
			"mimeType": inputMime,
			"data":     base64.StdEncoding.EncodeToString(inputImage),
		}})
	}
	parts = append(parts, map[string]any{"text": prompt})

	inner := map[string]any{
		"contents": []map[string]any{{"role": "user", "parts": parts}},
		"generationConfig": map[string]any{
			"responseModalities": []string{"IMAGE"},
		},
	}

	body := map[string]any{
		"project":     "", // patched in by the dispatcher per attempt
		"requestId":   "img-" + uuid.NewString(),
		"request":     inner,
		"model":       imageModel,
		"userAgent":   "antigravity",
		"requestType": modelrouter.RequestType(imageModel),
	}
	envelope, err := json.Marshal(body)
	if err != nil {
		apiErr := apierrors.Internal(err.Error())
		respBody, _ := apiErr.JSON()
		c.Data(apiErr.StatusCode, "application/json", respBody)
		return
	}

	fp := e.fingerprint(c)
	candidates := e.Pool.All()
	dreq := &dispatcher.Request{
		Dialect:        string(translator.FormatOpenAI),
		Model:          imageModel,
		Body:           envelope,
		Stream:         false,
		BypassLock:     true,
		SchedulingMode: identity.Mode(e.Config.Get().SchedulingMode),
		Fingerprint:    fp,
		Candidates:     candidates,
	}

	ctx, cancel := requestTimeoutCtx(c.Request.Context(), e.Config)
	defer cancel()

	outcome := e.Dispatcher.Dispatch(ctx, dreq)
	if outcome.Err != nil {
		writeError(c, false, outcome.Err)
		return
	}
	defer outcome.Response.Body.Close()

	raw, err := io.ReadAll(outcome.Response.Body)
	if err != nil {
		apiErr := apierrors.Internal(err.Error())
		respBody, _ := apiErr.JSON()
		c.Data(apiErr.StatusCode, "application/json", respBody)
		return
	}

	images := []map[string]any{}
	for _, part := range gjson.GetBytes(raw, "candidates.0.content.parts").Array() {
		if img := part.Get("inlineData.data"); img.Exists() {
			images = append(images, map[string]any{"b64_json": img.String()})
		}
	}
	c.JSON(http.StatusOK, map[string]any{"created": time.Now().Unix(), "data": images})
}
