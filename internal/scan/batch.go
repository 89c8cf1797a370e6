package scan

import (
	"context"
	"log/slog"
	"sync"

	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// RunBatch scans every request using a bounded worker pool. One repository
// failing never stops the others; each failure is captured in that
// repository's own result. Results are returned in request order.
func (e *Executor) RunBatch(ctx context.Context, reqs []models.ScanRequest) []models.ScanResult {
	workers := e.cfg.Scan.MaxConcurrent
	if workers < 1 {
		workers = 1
	}
	if workers > len(reqs) {
		workers = len(reqs)
	}

	slog.Info("Batch scan starting", "connections", len(reqs), "workers", workers)

	type indexed struct {
		idx int
		req models.ScanRequest
	}
	jobs := make(chan indexed)
	results := make([]models.ScanResult, len(reqs))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result, err := e.Run(ctx, job.req)
				if result == nil {
					result = &models.ScanResult{
						ToolConfigID: job.req.ToolConfigID,
						ErrorMessage: err.Error(),
					}
				}
				results[job.idx] = *result
			}
		}()
	}

	for i, req := range reqs {
		select {
		case jobs <- indexed{idx: i, req: req}:
		case <-ctx.Done():
			results[i] = models.ScanResult{
				ToolConfigID: req.ToolConfigID,
				ErrorMessage: ctx.Err().Error(),
			}
		}
	}
	close(jobs)
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	slog.Info("Batch scan finished", "total", len(reqs), "succeeded", succeeded, "failed", len(reqs)-succeeded)
	return results
}
