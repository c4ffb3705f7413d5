package retrier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"

	"inboxflow/config"
	"inboxflow/internal/provider"
	"inboxflow/pkg/metrics"
)

// ErrReauthRequired is the fatal escalation after a failed token refresh.
// Callers surface it as a user-visible "reconnect required" state.
var ErrReauthRequired = errors.New("mail provider reauthentication required")

// Classify determines whether an error is retryable and returns its type
// for logging. Typed provider errors are authoritative; generic network and
// context errors are classified conservatively.
func Classify(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	if pe, ok := provider.AsProviderError(err); ok {
		return pe.Retryable(), string(pe.Kind)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// UserMessage maps an error class to a provider-agnostic message suitable
// for end users.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrReauthRequired) {
		return "Re-authentication required. Please reconnect your mailbox."
	}
	if pe, ok := provider.AsProviderError(err); ok {
		switch pe.Kind {
		case provider.KindAuthExpired:
			return "Re-authentication required. Please reconnect your mailbox."
		case provider.KindPermissionDenied:
			return "Access to the mailbox was denied."
		case provider.KindRateLimited, provider.KindServerError, provider.KindTimeout, provider.KindNetwork:
			return "Mail service temporarily unavailable, retrying."
		case provider.KindNotFound:
			return "The requested message no longer exists."
		}
	}
	return "An unexpected error occurred while contacting the mail service."
}

// Handler wraps every outbound mail provider call with a single retry and
// backoff policy. It replaces retry loops scattered across call sites.
type Handler struct {
	cfg       config.BackoffConfig
	refresher provider.TokenRefresher
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

func NewHandler(cfg config.BackoffConfig, refresher provider.TokenRefresher, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		refresher: refresher,
		logger:    logger,
		sleep:     sleepCtx,
		randFloat: rand.Float64,
	}
}

// Do runs fn, retrying retryable failures with capped exponential backoff.
// A provider Retry-After hint takes precedence over the computed delay. On
// auth expiry it refreshes the token once per attempt; a failed refresh
// escalates to ErrReauthRequired immediately.
func (h *Handler) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < h.cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		retryable, kind := Classify(lastErr)
		h.logger.Warn("Provider call failed",
			zap.String("operation", op),
			zap.String("error_type", kind),
			zap.Bool("retryable", retryable),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)

		if !retryable {
			return lastErr
		}
		if attempt == h.cfg.MaxAttempts-1 {
			break
		}

		if kind == string(provider.KindAuthExpired) {
			if err := h.tryRefresh(ctx, op); err != nil {
				return err
			}
			// token 刷新成功后立即重试，不需要退避
			continue
		}

		delay := h.Delay(attempt, retryAfterOf(lastErr))
		metrics.IncrementProviderRetry(op, kind)
		h.logger.Info("Backing off before retry",
			zap.String("operation", op),
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt+1),
		)
		if err := h.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// Delay computes the wait before the next attempt. A provider-supplied
// retry-after wins over the exponential curve; otherwise the delay is
// base*multiplier^attempt capped at max, with multiplicative jitter uniform
// in [50%,100%].
func (h *Handler) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > h.cfg.MaxDelay {
			return h.cfg.MaxDelay
		}
		return retryAfter
	}

	delay := float64(h.cfg.BaseDelay) * math.Pow(h.cfg.Multiplier, float64(attempt))
	if delay > float64(h.cfg.MaxDelay) {
		delay = float64(h.cfg.MaxDelay)
	}

	jitter := 0.5 + 0.5*h.randFloat()
	return time.Duration(delay * jitter)
}

func (h *Handler) tryRefresh(ctx context.Context, op string) error {
	if h.refresher == nil {
		return ErrReauthRequired
	}
	if err := h.refresher.RefreshToken(ctx); err != nil {
		h.logger.Error("Token refresh failed, reauthentication required",
			zap.String("operation", op),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrReauthRequired, err)
	}
	h.logger.Info("Token refreshed after auth failure", zap.String("operation", op))
	return nil
}

func retryAfterOf(err error) time.Duration {
	if pe, ok := provider.AsProviderError(err); ok {
		return pe.RetryAfter
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
