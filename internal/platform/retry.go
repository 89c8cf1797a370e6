package platform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// retryBackoff is the base delay between retry attempts; attempt n waits
// n * retryBackoff. Variable so tests can shrink it.
var retryBackoff = 2 * time.Second

// withRetry runs fn after consulting the rate limiter, retrying rate-limited
// and transient failures up to maxAttempts total attempts. Auth and config
// errors surface immediately. This is the single retry path for all
// platforms; adapters never loop on 429 themselves.
func withRetry(ctx context.Context, limiter *RateLimiter, platform models.ToolType,
	cred models.Credential, maxAttempts int, op string, fn func() error) error {

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if werr := limiter.Wait(ctx, platform, cred); werr != nil {
			return werr
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		delay := time.Duration(attempt) * retryBackoff
		slog.Warn("Platform call retrying",
			"platform", platform, "op", op,
			"attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, maxAttempts, err)
}
