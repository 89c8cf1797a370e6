package platform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/time/rate"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// RateLimiter enforces a per-(platform, credential) request budget. Every
// outbound platform call waits on it first; concurrent scans sharing a
// credential share the same bucket. Waiting is cooperative: callers block
// until budget is available or their context is cancelled, they never fail
// just because the budget is exhausted.
type RateLimiter struct {
	platforms config.PlatformsConfig

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter creates a coordinator sized from the per-platform config.
func NewRateLimiter(platforms config.PlatformsConfig) *RateLimiter {
	return &RateLimiter{
		platforms: platforms,
		buckets:   make(map[string]*rate.Limiter),
	}
}

// Wait blocks until one request of budget is available for the given
// platform/credential pair, or returns ctx.Err on cancellation.
func (r *RateLimiter) Wait(ctx context.Context, platform models.ToolType, cred models.Credential) error {
	return r.bucket(platform, cred).Wait(ctx)
}

func (r *RateLimiter) bucket(platform models.ToolType, cred models.Credential) *rate.Limiter {
	key := string(platform) + ":" + credentialKey(cred)

	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.buckets[key]; ok {
		return lim
	}

	rps := r.platforms.ForType(string(platform)).RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	r.buckets[key] = lim
	return lim
}

// credentialKey derives a stable bucket key without holding the secret in
// the map key.
func credentialKey(cred models.Credential) string {
	h := sha256.Sum256([]byte(cred.Username + "\x00" + cred.Secret()))
	return hex.EncodeToString(h[:8])
}
