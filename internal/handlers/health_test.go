package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/marketlive/internal/handlers/testutil"
)

func TestHealthReportsTransportState(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success   bool              `json:"success"`
		Status    string            `json:"status"`
		Transport map[string]string `json:"transport"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, "up", body.Status)
	require.Equal(t, "off", body.Transport["chat"])
	require.Equal(t, "off", body.Transport["notifications"])
}

func TestRealtimeRejectsUnknownStream(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/ws/orders", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.False(t, testutil.DecodeResponse(t, w).Success)
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, testutil.DecodeResponse(t, w).Error.Message, "/api/nope")
}
