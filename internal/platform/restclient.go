package platform

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// throttleTransport gates every outbound attempt on the shared rate limiter.
// A cancelled context aborts the attempt instead of letting it proceed.
type throttleTransport struct {
	base     http.RoundTripper
	limiter  *RateLimiter
	platform models.ToolType
	cred     models.Credential
}

func (t *throttleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context(), t.platform, t.cred); err != nil {
			return nil, err
		}
	}
	return t.base.RoundTrip(req)
}

// newRESTClient builds the retrying HTTP client used by the raw REST
// strategies. Every attempt, including internal retries on 429 and 5xx
// responses, first waits on the shared rate limiter so the per-credential
// budget is honored across retries.
func newRESTClient(cfg config.PlatformConfig, limiter *RateLimiter, platform models.ToolType, cred models.Credential) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 30 * time.Second
	client.HTTPClient.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	base := client.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.HTTPClient.Transport = &throttleTransport{
		base:     base,
		limiter:  limiter,
		platform: platform,
		cred:     cred,
	}
	return client
}
