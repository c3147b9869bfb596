package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsage_Cost(t *testing.T) {
	u := ports.Usage{InputTokens: 1000, OutputTokens: 500}
	assert.Equal(t, 0.000875, u.Cost())
}

func TestClient_Disabled(t *testing.T) {
	c := New("http://example.invalid", "", "claude-3", 0, 0, 0, nil, 0)
	assert.False(t, c.Enabled())
}

func TestClient_Classify_SucceedsAfterRetriableFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"text":"{\"is_subscription\":true,\"confidence\":0.9,\"reasoning\":\"ok\"}"}],"usage":{"input_tokens":100,"output_tokens":50}}`))
	}))
	defer server.Close()

	c := New(server.URL, "test-key", "claude-3", 0, 0, 0, nil, 0)
	var slept []time.Duration
	c.Sleep = func(d time.Duration) { slept = append(slept, d) }

	row := domain.MailRow{Subject: "Your Netflix receipt"}
	verdict, usage, err := c.Classify(context.Background(), row)
	require.NoError(t, err)
	assert.True(t, verdict.IsSubscription)
	assert.Equal(t, 100, usage.InputTokens)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, slept, 2)
}

func TestClient_Classify_ExhaustedRetriesDoesNotSleepAfterFinalAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(server.URL, "test-key", "claude-3", 0, 0, 0, []time.Duration{time.Second, time.Second}, 0)
	var slept []time.Duration
	c.Sleep = func(d time.Duration) { slept = append(slept, d) }

	_, _, err := c.Classify(context.Background(), domain.MailRow{})
	assert.Error(t, err)
	assert.Len(t, slept, 2, "must sleep once between each of the 3 attempts, not after the final one")
}

func TestClient_Classify_AuthFailureNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := New(server.URL, "bad-key", "claude-3", 0, 0, 0, nil, 0)
	c.Sleep = func(time.Duration) {}

	_, _, err := c.Classify(context.Background(), domain.MailRow{})
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
