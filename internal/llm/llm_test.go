package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noWait(int) time.Duration { return 0 }

func TestRetry(t *testing.T) {
	t.Run("retries retryable errors", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), 3, noWait, nil, func(context.Context) error {
			calls++
			if calls < 3 {
				return &RetryableError{StatusCode: 503}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		perm := errors.New("bad request")
		err := Retry(context.Background(), 3, noWait, nil, func(context.Context) error {
			calls++
			return perm
		})
		require.ErrorIs(t, err, perm)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), 2, noWait, nil, func(context.Context) error {
			calls++
			return &RetryableError{StatusCode: 429}
		})
		require.True(t, IsRetryable(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("honours cancellation while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, 5, func(int) time.Duration { return time.Hour }, nil, func(context.Context) error {
			return &RetryableError{StatusCode: 500}
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		d := Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 45*time.Second)
	}
	for _, attempt := range []int{33, 34, 40, 63, 64, 1000, -1} {
		d := Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Second, "attempt %d", attempt)
		assert.Less(t, d, 45*time.Second, "attempt %d", attempt)
	}
}

func TestCleanArguments(t *testing.T) {
	got, err := CleanArguments([]byte("```json\n{\"a\":1}\n```"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	got, err = CleanArguments([]byte("  {\"a\":\"x\"} "))
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x"}`, string(got))

	_, err = CleanArguments([]byte(`[1]`))
	require.Error(t, err)
	_, err = CleanArguments([]byte(`{"a":`))
	require.Error(t, err)
	_, err = CleanArguments(nil)
	require.Error(t, err)
}

func TestSendJSONStatusClassification(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "v", r.Header.Get("X-Test"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	raw, code, err := SendJSON(context.Background(), srv.Client(), srv.URL, map[string]int{"a": 1}, map[string]string{"X-Test": "v"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	status = http.StatusTooManyRequests
	_, _, err = SendJSON(context.Background(), srv.Client(), srv.URL, nil, map[string]string{"X-Test": "v"}, nil)
	assert.True(t, IsRetryable(err))

	status = http.StatusBadRequest
	_, _, err = SendJSON(context.Background(), srv.Client(), srv.URL, nil, map[string]string{"X-Test": "v"}, nil)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestBuildUserPrompt(t *testing.T) {
	assert.Equal(t, "héllo", BuildUserPrompt("héllo", 0))
	assert.Equal(t, "hé", BuildUserPrompt("héllo", 2))
}
