package service

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
)

// Reconciler re-queues work for tenants left in a transitional state, for
// example after a restart lost an in-memory queue or a cleanup gave up
type Reconciler struct {
	store        store.TenantStore
	orchestrator *Orchestrator
	clock        clock.Clock
	staleAfter   time.Duration
}

func NewReconciler(st store.TenantStore, orchestrator *Orchestrator, clk clock.Clock, staleAfter time.Duration) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	return &Reconciler{store: st, orchestrator: orchestrator, clock: clk, staleAfter: staleAfter}
}

// Sweep queues cleanup for DELETING tenants and provisioning for
// PROVISIONING tenants not updated within staleAfter. It returns the number
// of jobs queued.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	return r.sweep(ctx, r.clock.Now().Add(-r.staleAfter))
}

// SweepAll is Sweep without the staleness window. It is for startup with an
// in-memory queue, when no job for any transitional tenant can still exist.
func (r *Reconciler) SweepAll(ctx context.Context) (int, error) {
	return r.sweep(ctx, r.clock.Now())
}

func (r *Reconciler) sweep(ctx context.Context, cutoff time.Time) (int, error) {
	tenants, err := r.store.List(ctx, model.StatusProvisioning, model.StatusDeleting)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, t := range tenants {
		if t.UpdatedAt.After(cutoff) {
			continue
		}
		logger := log.With().Str("tenant_id", t.ID.String()).Str("status", string(t.Status)).Logger()

		var err error
		if t.Status == model.StatusDeleting {
			err = r.orchestrator.EnqueueCleanup(ctx, t.ID)
		} else {
			err = r.orchestrator.EnqueueProvision(ctx, t.ID)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("Reconciler failed to queue job")
			continue
		}
		logger.Info().Dur("idle", r.clock.Now().Sub(t.UpdatedAt)).Msg("Reconciler queued stale tenant")
		queued++
	}
	return queued, nil
}

// Run sweeps every interval until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := r.clock.Ticker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Dur("stale_after", r.staleAfter).Msg("Reconciler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Reconciler sweep failed")
			} else if n > 0 {
				log.Info().Int("queued", n).Msg("Reconciler sweep finished")
			}
		}
	}
}
