package internal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyStrict(t *testing.T) {
	t.Run("reads body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ok":true}`))
		body, err := ReadBodyStrict(httptest.NewRecorder(), req, 1024)
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, string(body))
	})

	t.Run("rejects empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		_, err := ReadBodyStrict(httptest.NewRecorder(), req, 1024)
		assert.ErrorIs(t, err, ErrEmptyBody)
	})

	t.Run("rejects oversized body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
		_, err := ReadBodyStrict(httptest.NewRecorder(), req, 16)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusAccepted, map[string]string{"status": "ok"}))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
