// consistency_checker.go implements the ConsistencyChecker background job, which
// periodically compares the metadata registry with the collection store. Findings
// are logged and exported as the tenant_consistency_findings gauge so an alert can
// fire on the partial deletes and failed compensations the request path leaves
// behind. The job only reads; repairs stay with an operator.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tenant-service/tenant-service/internal/services"
	"github.com/tenant-service/tenant-service/internal/telemetry"
)

// Checker produces a consistency report. *services.TenantManager implements it.
type Checker interface {
	CheckConsistency(ctx context.Context) (*services.ConsistencyReport, error)
}

// ConsistencyChecker runs a Checker on an interval
type ConsistencyChecker struct {
	checker  Checker
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	last *services.ConsistencyReport
}

// NewConsistencyChecker creates a checker that runs every interval.
// An interval of zero or less disables the job.
func NewConsistencyChecker(checker Checker, interval time.Duration) *ConsistencyChecker {
	return &ConsistencyChecker{
		checker:  checker,
		interval: interval,
		timeout:  time.Minute,
		stopChan: make(chan struct{}),
	}
}

// Start runs one check immediately, then one per interval, until ctx is
// cancelled or Stop is called. It blocks; run it in its own goroutine.
func (j *ConsistencyChecker) Start(ctx context.Context) {
	if j.interval <= 0 {
		slog.Info("consistency checker disabled")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("consistency checker started", "interval", j.interval)
	j.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopChan:
			slog.Info("consistency checker stopped")
			return
		case <-ctx.Done():
			slog.Info("consistency checker context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (j *ConsistencyChecker) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
}

// RunOnce performs a single check and publishes its findings. A failed check
// leaves the previous gauge values in place.
func (j *ConsistencyChecker) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	report, err := j.checker.CheckConsistency(ctx)
	if err != nil {
		slog.Warn("consistency check failed", "error", err)
		return
	}

	telemetry.ConsistencyFindings.WithLabelValues("dangling").Set(float64(len(report.Dangling)))
	telemetry.ConsistencyFindings.WithLabelValues("orphan").Set(float64(len(report.Orphans)))

	for _, org := range report.Dangling {
		args := []any{"organization_id", org.ID, "organization_name", org.Name, "collection_id", org.CollectionID}
		if a, ok := report.Archives[org.CollectionID]; ok {
			args = append(args, "archive_key", a.Key, "archived_records", a.RecordCount)
		}
		slog.Error("organization has no collection", args...)
	}
	for _, id := range report.Orphans {
		slog.Error("collection has no organization", "collection_id", id)
	}

	j.mu.Lock()
	j.last = report
	j.mu.Unlock()
}

// LastReport returns the most recent successful report, or nil before the first one
func (j *ConsistencyChecker) LastReport() *services.ConsistencyReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}
