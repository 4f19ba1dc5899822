package apierrors

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthRequired_StatusAndKind(t *testing.T) {
	err := AuthRequired("missing bearer token")
	require.Equal(t, http.StatusUnauthorized, err.StatusCode)
	require.Equal(t, KindAuthRequired, err.Kind)
	require.Equal(t, "missing bearer token", err.Error())
}

func TestInvalidRequest_StatusAndKind(t *testing.T) {
	err := InvalidRequest("bad body")
	require.Equal(t, http.StatusBadRequest, err.StatusCode)
	require.Equal(t, KindInvalidRequest, err.Kind)
}

func TestInternal_StatusAndKind(t *testing.T) {
	err := Internal("boom")
	require.Equal(t, http.StatusInternalServerError, err.StatusCode)
	require.Equal(t, KindInternalError, err.Kind)
}

func TestJSON_RendersSharedBodyShape(t *testing.T) {
	err := &Error{Kind: KindUpstreamRateLimited, Message: "slow down", TraceID: "trace-1"}
	data, jsonErr := err.JSON()
	require.NoError(t, jsonErr)

	var body Body
	require.NoError(t, json.Unmarshal(data, &body))
	require.Equal(t, "upstream_rate_limited", body.Error.Type)
	require.Equal(t, "slow down", body.Error.Message)
	require.Equal(t, "trace-1", body.Error.TraceID)
}

func TestSSEEvent_WrapsJSONInEventFrame(t *testing.T) {
	err := &Error{Kind: KindInternalError, Message: "oops"}
	frame := err.SSEEvent()

	require.Contains(t, string(frame), "event: error\ndata: ")
	require.Contains(t, string(frame), `"oops"`)
	require.Contains(t, string(frame), "\n\n")
}

func TestFromDispatch_CopiesAllFields(t *testing.T) {
	err := FromDispatch("no_identity_available", 503, "no identities left", "trace-2")
	require.Equal(t, KindNoIdentityAvailable, err.Kind)
	require.Equal(t, 503, err.StatusCode)
	require.Equal(t, "no identities left", err.Message)
	require.Equal(t, "trace-2", err.TraceID)
}
