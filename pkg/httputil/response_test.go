package httputil

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, 201, map[string]string{"id": "7"}))

	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "7", decodeBody(t, rec)["id"])
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name    string
		write   func(rec *httptest.ResponseRecorder)
		status  int
		message string
	}{
		{
			name:    "unauthorized",
			write:   func(rec *httptest.ResponseRecorder) { WriteUnauthorized(rec, "authentication required") },
			status:  401,
			message: "authentication required",
		},
		{
			name:    "forbidden",
			write:   func(rec *httptest.ResponseRecorder) { WriteForbidden(rec, "not allowed") },
			status:  403,
			message: "not allowed",
		},
		{
			name:    "service unavailable",
			write:   func(rec *httptest.ResponseRecorder) { WriteServiceUnavailable(rec, "try later") },
			status:  503,
			message: "try later",
		},
		{
			name:    "internal",
			write:   func(rec *httptest.ResponseRecorder) { WriteInternalError(rec, errors.New("boom")) },
			status:  500,
			message: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decodeBody(t, rec)["error"])
		})
	}
}

func TestWriteDeniedCarriesPermissionCode(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDenied(rec, "order.delete")

	assert.Equal(t, 403, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient permissions", body.Error)
	assert.Equal(t, "order.delete", body.PermissionCode)
}
