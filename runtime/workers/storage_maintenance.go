package workers

import (
	"chat-dispatch/observability"
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// gcDiscardRatio is the share of stale data a value log file needs
// before badger rewrites it.
const gcDiscardRatio = 0.5

// Store is the part of badger the maintenance worker needs.
type Store interface {
	Size() (lsm, vlog int64)
	RunValueLogGC(discardRatio float64) error
}

// StorageMaintenanceWorker periodically reports the store size and
// reclaims value log space left behind by read receipts and deactivated
// sessions.
type StorageMaintenanceWorker struct {
	log      *slog.Logger
	store    Store
	metrics  *observability.Metrics
	interval time.Duration
}

func NewStorageMaintenanceWorker(log *slog.Logger, store Store,
	metrics *observability.Metrics, interval time.Duration) *StorageMaintenanceWorker {
	return &StorageMaintenanceWorker{
		log:      log,
		store:    store,
		metrics:  metrics,
		interval: interval,
	}
}

func (w *StorageMaintenanceWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping storage maintenance")
			return nil
		case <-ticker.C:
			w.sample()
			w.collect(ctx)
		}
	}
}

func (w *StorageMaintenanceWorker) sample() {
	lsm, vlog := w.store.Size()
	w.metrics.StorageBytes.WithLabelValues("lsm").Set(float64(lsm))
	w.metrics.StorageBytes.WithLabelValues("vlog").Set(float64(vlog))
}

// collect runs GC passes until badger reports nothing left to rewrite.
func (w *StorageMaintenanceWorker) collect(ctx context.Context) {
	for rewritten := 0; ctx.Err() == nil; rewritten++ {
		err := w.store.RunValueLogGC(gcDiscardRatio)
		switch {
		case err == nil:
			w.metrics.ValueLogGCRuns.WithLabelValues("rewritten").Inc()
		case stderrors.Is(err, badger.ErrNoRewrite), stderrors.Is(err, badger.ErrRejected):
			w.metrics.ValueLogGCRuns.WithLabelValues("noop").Inc()
			if rewritten > 0 {
				w.log.Debug("Value log compacted", "files", rewritten)
			}
			return
		default:
			w.metrics.ValueLogGCRuns.WithLabelValues("failed").Inc()
			w.log.Error("Value log GC failed", "error", err)
			return
		}
	}
}
