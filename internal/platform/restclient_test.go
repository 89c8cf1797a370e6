package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

func TestRESTClientStopsWhenContextExpires(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	limiter := NewRateLimiter(config.PlatformsConfig{
		Bitbucket: config.PlatformConfig{RequestsPerSecond: 0.001},
	})
	cred := models.Credential{Token: "t"}
	client := newRESTClient(config.PlatformConfig{MaxRetries: 2, TimeoutSeconds: 5},
		limiter, models.ToolBitbucket, cred)

	// First request consumes the burst.
	req, err := retryablehttp.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	resp.Body.Close()
	if hits.Load() != 1 {
		t.Fatalf("expected 1 hit, got %d", hits.Load())
	}

	// Budget exhausted: the second attempt must abort with the context error
	// without ever reaching the server.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req2, err := retryablehttp.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if _, err := client.Do(req2.WithContext(ctx)); err == nil {
		t.Fatal("expected an error once the context deadline passes")
	}
	if hits.Load() != 1 {
		t.Errorf("throttled attempt must not reach the server, got %d hits", hits.Load())
	}
}
