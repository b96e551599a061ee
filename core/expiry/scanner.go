// Package expiry lapses tenants whose grace period ran out.
package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
)

type Tenants interface {
	Due(ctx context.Context, now time.Time) ([]eligibility.Tenant, error)
	Expire(ctx context.Context, tenantID string, now time.Time) (eligibility.Tenant, error)
}

// Result summarizes one pass.
type Result struct {
	Due     int           `json:"due"`
	Expired int           `json:"expired"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Errors  []string      `json:"errors,omitempty"`
	Took    time.Duration `json:"took"`
}

type Scanner struct {
	tenants     Tenants
	log         core.Logger
	metrics     core.Metrics
	concurrency int
	now         func() time.Time
}

func NewScanner(tenants Tenants, log core.Logger, metrics core.Metrics, concurrency int) *Scanner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scanner{
		tenants:     tenants,
		log:         log,
		metrics:     metrics,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run makes one best-effort pass over the tenants due at now. Each tenant is expired by its
// own conditional write, so overlapping runs only skip what the other already moved.
// A failing tenant is logged and the pass carries on.
func (s *Scanner) Run(ctx context.Context, now time.Time) (Result, error) {
	start := time.Now()
	due, err := s.tenants.Due(ctx, now)
	if err != nil {
		return Result{}, errors.Wrap(err, "listing due tenants")
	}

	res := Result{Due: len(due)}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, t := range due {
		t := t
		g.Go(func() error {
			_, err := s.tenants.Expire(ctx, t.ID, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Expired++
			case core.IsConflict(err), core.IsNotFound(err):
				res.Skipped++
			default:
				res.Failed++
				res.Errors = append(res.Errors, t.ID+": "+err.Error())
				s.log.Error("expiry: failed to expire tenant", err, map[string]interface{}{"tenant_id": t.ID})
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Took = time.Since(start)
	s.metrics.ObserveScan(res.Expired, res.Skipped, res.Failed, res.Took)
	s.log.Info("expiry: scan finished", map[string]interface{}{
		"due":     res.Due,
		"expired": res.Expired,
		"skipped": res.Skipped,
		"failed":  res.Failed,
		"took":    res.Took.String(),
	})
	return res, nil
}

// Start runs a pass every interval until ctx is done.
func (s *Scanner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx, s.now()); err != nil {
				s.log.Error("expiry: scan failed", err)
			}
		}
	}
}
