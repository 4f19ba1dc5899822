package handlers

import (
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ccgateway/cloudcode-gateway/internal/apierrors"
	"github.com/ccgateway/cloudcode-gateway/internal/modelrouter"
	"github.com/ccgateway/cloudcode-gateway/internal/translator"
	"github.com/ccgateway/cloudcode-gateway/internal/translator/gemini"
)

// GeminiGenerate handles both POST /v1beta/models/{model}:generateContent
// and :streamGenerateContent; gin routes "{model}:action" as a single path
// parameter, so the action is split out here rather than in routing.
func (e *Engine) GeminiGenerate(c *gin.Context) {
	modelAction := c.Param("modelAction")
	clientModel, action := splitModelAction(modelAction)
	e.handleGeminiNative(c, clientModel, action == "streamGenerateContent")
}

func splitModelAction(modelAction string) (model, action string) {
	idx := strings.LastIndex(modelAction, ":")
	if idx < 0 {
		return modelAction, ""
	}
	return modelAction[:idx], modelAction[idx+1:]
}

func (e *Engine) handleGeminiNative(c *gin.Context, clientModel string, stream bool) {
	rawRequest, err := io.ReadAll(c.Request.Body)
	if err != nil {
		apiErr := apierrors.InvalidRequest(err.Error())
		body, _ := apiErr.JSON()
		c.Data(apiErr.StatusCode, "application/json", body)
		return
	}
	if !gjson.ValidBytes(rawRequest) {
		apiErr := apierrors.InvalidRequest("request body is not valid JSON")
		body, _ := apiErr.JSON()
		c.Data(apiErr.StatusCode, "application/json", body)
		return
	}

	upstreamModel := e.Router.Resolve(modelrouter.DialectGemini, clientModel)

	maxOut := int(gjson.GetBytes(rawRequest, "generationConfig.maxOutputTokens").Int())
	if modelrouter.IsBackgroundTask(maxOut, latestGeminiUserText(rawRequest), geminiSystemInstructionText(rawRequest)) {
		upstreamModel = modelrouter.BackgroundRedirectModel()
		if mutated, err := sjson.DeleteBytes(rawRequest, "tools"); err == nil {
			rawRequest = mutated
		}
		if mutated, err := sjson.DeleteBytes(rawRequest, "generationConfig.thinkingConfig"); err == nil {
			rawRequest = mutated
		}
	}

	envelope, err := gemini.ToUpstream(rawRequest, gemini.BuildOptions{
		ProjectID:     "", // patched in by the dispatcher per attempt
		UpstreamModel: upstreamModel,
		RequestType:   modelrouter.RequestType(upstreamModel),
	})
	if err != nil {
		apiErr := apierrors.InvalidRequest(err.Error())
		body, _ := apiErr.JSON()
		c.Data(apiErr.StatusCode, "application/json", body)
		return
	}

	e.dispatchRequest(c, translator.FormatGemini, envelope, dispatcherRequest{
		upstreamModel: upstreamModel,
		stream:        stream,
	})
}

// latestGeminiUserText scans a native Gemini request's contents for the
// latest user-role text part, for background-task phrase matching.
func latestGeminiUserText(rawRequest []byte) string {
	contents := gjson.GetBytes(rawRequest, "contents").Array()
	for i := len(contents) - 1; i >= 0; i-- {
		if contents[i].Get("role").String() != "user" {
			continue
		}
		for _, part := range contents[i].Get("parts").Array() {
			if text := part.Get("text").String(); text != "" {
				return text
			}
		}
	}
	return ""
}

// geminiSystemInstructionText flattens a native Gemini request's top-level
// systemInstruction.parts[].text into one string, for background-task
// phrase matching against the preamble rather than just the user turn.
func geminiSystemInstructionText(rawRequest []byte) string {
	var parts []string
	for _, part := range gjson.GetBytes(rawRequest, "systemInstruction.parts").Array() {
		if text := part.Get("text").String(); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}
