package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractline/internal/domain"
	"contractline/internal/registry"
)

func TestPayloadMap(t *testing.T) {
	empty, err := payloadMap(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, empty)

	got, err := payloadMap(domain.FulfilledPayload{Deliverables: []string{"report.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"deliverables": []any{"report.pdf"}}, got)
}

func TestPayloadEncodeFailureIsReported(t *testing.T) {
	orig := marshalPayload
	marshalPayload = func(any) ([]byte, error) { return nil, errors.New("boom") }
	t.Cleanup(func() { marshalPayload = orig })

	reg := registry.New()
	_, err := reg.Register(domain.Contract{ID: "A", Name: "A"})
	require.NoError(t, err)
	_, err = reg.Propose("A", "alice")
	require.NoError(t, err)
	_, err = reg.Register(domain.Contract{ID: "B", Name: "B"})
	require.NoError(t, err)

	var logs bytes.Buffer
	handler, err := New(Config{Registry: reg, Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	require.NoError(t, err)

	get := func(path string) (int, map[string]any) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	for _, path := range []string{"/v0/contracts/A", "/v0/contracts/A/history", "/v0/contracts"} {
		code, body := get(path)
		assert.Equal(t, http.StatusInternalServerError, code, path)
		envelope, ok := body["error"].(map[string]any)
		require.True(t, ok, path)
		assert.Equal(t, "internal_error", envelope["code"], path)
	}
	assert.Contains(t, logs.String(), "encode response")
	assert.Contains(t, logs.String(), "encode proposed payload: boom")

	code, body := get("/v0/contracts/B")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "B", body["contract_id"])
}
