package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ccgateway/cloudcode-gateway/internal/apierrors"
	"github.com/ccgateway/cloudcode-gateway/internal/modelrouter"
	"github.com/ccgateway/cloudcode-gateway/internal/translator"
	"github.com/ccgateway/cloudcode-gateway/internal/translator/anthropic"
)

// Messages handles POST /v1/messages (Anthropic dialect).
func (e *Engine) Messages(c *gin.Context) {
	var req anthropic.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	upstreamModel := e.Router.Resolve(modelrouter.DialectAnthropic, req.Model)

	maxOut := req.MaxTokens
	if modelrouter.IsBackgroundTask(maxOut, latestUserText(req.Messages), anthropic.SystemText(req.System)) {
		upstreamModel = modelrouter.BackgroundRedirectModel()
		req.Tools = nil
		req.Thinking = nil
	}

	envelope, err := anthropic.ToUpstream(&req, anthropic.BuildOptions{
		// ProjectID is intentionally empty: the dispatcher patches it in
		// per-attempt once an identity is selected, since the same body may
		// be retried against a different identity (and thus project).
		ProjectID:     "",
		UpstreamModel: upstreamModel,
		RequestType:   modelrouter.RequestType(upstreamModel),
	})
	if err != nil {
		apiErr := apierrors.InvalidRequest(err.Error())
		body, _ := apiErr.JSON()
		c.Data(apiErr.StatusCode, "application/json", body)
		return
	}

	e.dispatchRequest(c, translator.FormatAnthropic, envelope, dispatcherRequest{
		upstreamModel: upstreamModel,
		stream:        req.Stream,
	})
}

func latestUserText(messages []anthropic.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		for _, b := range messages[i].Blocks {
			if b.Type == "text" && b.Text != "" {
				return b.Text
			}
		}
	}
	return ""
}

func writeBindError(c *gin.Context, err error) {
	apiErr := apierrors.InvalidRequest(err.Error())
	body, _ := apiErr.JSON()
	c.Data(http.StatusBadRequest, "application/json", body)
}
