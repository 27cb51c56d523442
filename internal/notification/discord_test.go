package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSuccess(t *testing.T) {
	var got DiscordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	require.NoError(t, n.SendSuccess(context.Background(), "ok: 2, skipped: 0, failed: 1"))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, colorGreen, got.Embeds[0].Color)
	assert.Equal(t, "ok: 2, skipped: 0, failed: 1", got.Embeds[0].Description)
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).SendError(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestTruncatesLongDescriptions(t *testing.T) {
	var got DiscordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	require.NoError(t, NewNotifier(srv.URL).SendError(context.Background(), strings.Repeat("x", 5000)))
	assert.LessOrEqual(t, len(got.Embeds[0].Description), maxDescription+len("…"))
}

func TestDisabledNotifier(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.SendSuccess(context.Background(), "x"))
	assert.NoError(t, NewNotifier("").SendError(context.Background(), "x"))
}
