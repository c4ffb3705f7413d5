package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxflow/config"
	"inboxflow/internal/provider"
)

func testConfig() config.BackoffConfig {
	return config.BackoffConfig{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		MaxAttempts: 5,
	}
}

// newTestHandler records sleeps instead of sleeping and pins jitter to its
// upper bound so delays are deterministic.
func newTestHandler(refresher provider.TokenRefresher) (*Handler, *[]time.Duration) {
	h := NewHandler(testConfig(), refresher, zap.NewNop())
	var slept []time.Duration
	h.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	h.randFloat = func() float64 { return 1.0 }
	return h, &slept
}

type fakeRefresher struct {
	err   error
	calls int
}

func (f *fakeRefresher) RefreshToken(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		kind      string
	}{
		{"nil", nil, false, ""},
		{"rate limited", &provider.Error{Kind: provider.KindRateLimited}, true, "rate_limited"},
		{"server error", &provider.Error{Kind: provider.KindServerError}, true, "server_error"},
		{"auth expired", &provider.Error{Kind: provider.KindAuthExpired}, true, "auth_expired"},
		{"permission denied", &provider.Error{Kind: provider.KindPermissionDenied}, false, "permission_denied"},
		{"not found", &provider.Error{Kind: provider.KindNotFound}, false, "not_found"},
		{"bad request", &provider.Error{Kind: provider.KindBadRequest}, false, "bad_request"},
		{"context deadline", context.DeadlineExceeded, true, "timeout"},
		{"context canceled", context.Canceled, false, "context_canceled"},
		{"unknown", errors.New("boom"), false, "unknown_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, kind := Classify(tc.err)
			assert.Equal(t, tc.retryable, retryable)
			assert.Equal(t, tc.kind, kind)
		})
	}
}

func TestDelayGrowsAndStaysBounded(t *testing.T) {
	h, _ := newTestHandler(nil)

	var prev time.Duration
	for attempt := 0; attempt < 10; attempt++ {
		d := h.Delay(attempt, 0)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 30*time.Second)
		assert.GreaterOrEqual(t, d, prev, "delay must not shrink with attempt count")
		prev = d
	}
}

func TestDelayJitterRange(t *testing.T) {
	h, _ := newTestHandler(nil)

	h.randFloat = func() float64 { return 0.0 }
	low := h.Delay(2, 0)
	h.randFloat = func() float64 { return 1.0 }
	high := h.Delay(2, 0)

	// base 1s * 2^2 = 4s; jitter 50%..100%
	assert.Equal(t, 2*time.Second, low)
	assert.Equal(t, 4*time.Second, high)
}

func TestDelayPrefersRetryAfter(t *testing.T) {
	h, _ := newTestHandler(nil)

	assert.Equal(t, 5*time.Second, h.Delay(0, 5*time.Second))
	// still capped
	assert.Equal(t, 30*time.Second, h.Delay(0, 2*time.Minute))
}

func TestDoHonorsRateLimitRetryAfter(t *testing.T) {
	h, slept := newTestHandler(nil)

	calls := 0
	err := h.Do(context.Background(), "list_messages", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &provider.Error{Kind: provider.KindRateLimited, RetryAfter: 5 * time.Second}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, *slept, 1)
	assert.Equal(t, 5*time.Second, (*slept)[0])
}

func TestDoStopsOnFatalError(t *testing.T) {
	h, slept := newTestHandler(nil)

	calls := 0
	err := h.Do(context.Background(), "get_message", func(ctx context.Context) error {
		calls++
		return &provider.Error{Kind: provider.KindNotFound}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestDoExhaustsAttempts(t *testing.T) {
	h, slept := newTestHandler(nil)

	calls := 0
	err := h.Do(context.Background(), "list_messages", func(ctx context.Context) error {
		calls++
		return &provider.Error{Kind: provider.KindServerError}
	})

	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Len(t, *slept, 4)
	assert.Contains(t, err.Error(), "retries exhausted")
}

func TestDoRefreshesTokenOnAuthExpired(t *testing.T) {
	refresher := &fakeRefresher{}
	h, slept := newTestHandler(refresher)

	calls := 0
	err := h.Do(context.Background(), "get_message", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &provider.Error{Kind: provider.KindAuthExpired}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 2, calls)
	assert.Empty(t, *slept, "refresh path retries immediately without backoff")
}

func TestDoEscalatesWhenRefreshFails(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("invalid_grant")}
	h, _ := newTestHandler(refresher)

	err := h.Do(context.Background(), "get_message", func(ctx context.Context) error {
		return &provider.Error{Kind: provider.KindAuthExpired}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReauthRequired)
}

func TestUserMessages(t *testing.T) {
	assert.Contains(t, UserMessage(&provider.Error{Kind: provider.KindAuthExpired}), "Re-authentication")
	assert.Contains(t, UserMessage(&provider.Error{Kind: provider.KindRateLimited}), "temporarily unavailable")
	assert.Contains(t, UserMessage(ErrReauthRequired), "Re-authentication")
	assert.NotEmpty(t, UserMessage(errors.New("mystery")))
}
