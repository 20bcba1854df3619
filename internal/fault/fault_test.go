package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	base := errors.New("boom")

	require.True(t, IsRetryable(Retryable(base)))
	require.False(t, IsRetryable(Permanent(base)))
	require.False(t, IsRetryable(nil))
	require.False(t, IsRetryable(base), "unclassified errors are permanent")
	require.True(t, IsRetryable(fmt.Errorf("call: %w", context.DeadlineExceeded)))

	wrapped := fmt.Errorf("publish: %w", Retryable(base))
	require.True(t, IsRetryable(wrapped))
	require.ErrorIs(t, wrapped, base)
}

func TestFromStatus(t *testing.T) {
	base := errors.New("status")
	cases := map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusUnauthorized:        false,
		http.StatusForbidden:           false,
		http.StatusBadRequest:          false,
	}
	for status, retry := range cases {
		require.Equal(t, retry, IsRetryable(FromStatus(status, base)), "status %d", status)
	}
}

func TestFromTransport(t *testing.T) {
	require.False(t, IsRetryable(FromTransport(context.Canceled)))
	require.True(t, IsRetryable(FromTransport(errors.New("connection reset"))))
}
