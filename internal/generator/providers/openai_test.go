package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AdamTech2025/twitter-autobot/internal/fault"
)

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gemini-1.5-flash", req.Model)
		require.Equal(t, "user", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"a post"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key-1", "gemini-1.5-flash", srv.URL, 100, srv.Client())
	text, err := p.Complete(context.Background(), "write")
	require.NoError(t, err)
	require.Equal(t, "a post", text)
}

func TestOpenAIClassifiesStatus(t *testing.T) {
	cases := map[int]bool{
		http.StatusTooManyRequests:    true,
		http.StatusServiceUnavailable: true,
		http.StatusUnauthorized:       false,
		http.StatusBadRequest:         false,
	}
	for status, retryable := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", status)
		}))
		p := NewOpenAIProvider("k", "m", srv.URL, 10, srv.Client())
		_, err := p.Complete(context.Background(), "x")
		srv.Close()

		require.Error(t, err)
		require.Equal(t, retryable, fault.IsRetryable(err), "status %d", status)
	}
}

func TestOpenAIEmptyChoiceIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", "m", srv.URL, 10, srv.Client())
	_, err := p.Complete(context.Background(), "x")
	require.ErrorIs(t, err, ErrEmptyResponse)
	require.False(t, fault.IsRetryable(err))

	require.NoError(t, p.Ping(context.Background()))
}

func TestOpenAIUnreachableIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewOpenAIProvider("k", "m", url, 10, nil)
	_, err := p.Complete(context.Background(), "x")
	require.Error(t, err)
	require.True(t, fault.IsRetryable(err))
}
