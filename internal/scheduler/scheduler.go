// Package scheduler implements the outbound call scheduling core: slot-aware
// lead selection, the calling transition, outcome reconciliation, and the
// per-pass dial dispatch loop.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reva-labs/dialer-cli/internal/model"
	"github.com/reva-labs/dialer-cli/internal/store"
)

// Selector computes which leads may be called next for a user, honoring the
// concurrency budget, the retry cool-down, and the attempt cap.
type Selector struct {
	store store.Store
}

// NewSelector creates a Selector over the given store.
func NewSelector(st store.Store) *Selector {
	return &Selector{store: st}
}

// SelectPendingLeads returns up to (max_calls_batch - in-flight) eligible
// leads. When no slots are free it returns immediately without querying;
// this fast path is what keeps repeated invocations from ever pushing the
// in-flight count past the ceiling.
func (s *Selector) SelectPendingLeads(ctx context.Context, userID string, settings model.Settings) ([]model.Lead, error) {
	active, err := s.store.CountCalling(ctx, userID)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: count in-flight")
	}

	slots := settings.MaxCallsBatch - active
	if slots <= 0 {
		return nil, nil
	}

	leads, err := s.store.SelectPending(ctx, userID, settings, slots)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: select pending")
	}
	return leads, nil
}

// Reconciler applies dialer-reported outcomes back onto leads. Matching is
// by phone number, most recent lead first; a provider call id, when present,
// is logged for traceability but not used as a key.
type Reconciler struct {
	store store.Store
}

// NewReconciler creates a Reconciler over the given store.
func NewReconciler(st store.Store) *Reconciler {
	return &Reconciler{store: st}
}

// Apply maps the raw outcome string onto a lead status and writes it to the
// most recently created lead with the given phone number. This is the only
// path that moves a lead out of calling.
func (r *Reconciler) Apply(ctx context.Context, userID, phone, outcome string) (model.LeadStatus, error) {
	status := model.OutcomeStatus(outcome)
	if err := r.store.ReconcileOutcome(ctx, userID, phone, status); err != nil {
		return status, eris.Wrapf(err, "scheduler: reconcile %s", phone)
	}
	zap.L().Info("call outcome reconciled",
		zap.String("user_id", userID),
		zap.String("phone", phone),
		zap.String("outcome", outcome),
		zap.String("status", string(status)),
	)
	return status, nil
}

// PassResult summarizes one scheduling pass.
type PassResult struct {
	Released int `json:"released"`
	Claimed  int `json:"claimed"`
	Dialed   int `json:"dialed"`
	Failed   int `json:"failed"`
}

// Runner executes scheduling passes: sweep stuck leads, claim a batch, hand
// each claimed lead to the dialer.
type Runner struct {
	store  store.Store
	dialer Dialer

	// StuckAfter, when positive, resets calling leads whose last_called_at
	// is older than this duration back to pending before claiming. Zero
	// disables the sweep and preserves the historical behavior of a lost
	// callback pinning its slot forever.
	StuckAfter time.Duration
}

// NewRunner creates a Runner dispatching claimed leads to the given dialer.
func NewRunner(st store.Store, d Dialer) *Runner {
	return &Runner{store: st, dialer: d}
}

// RunOnce performs a single scheduling pass for one user. The claim itself
// is a single atomic store operation, so two overlapping passes cannot
// exceed the concurrency budget; dial dispatch then runs concurrently per
// claimed lead. Dial failures reset the lead to pending (nothing external
// happened) and are reported in the result, not as an error.
func (r *Runner) RunOnce(ctx context.Context, userID string) (PassResult, error) {
	var result PassResult

	settings, err := r.store.GetSettings(ctx, userID)
	if err != nil {
		return result, eris.Wrap(err, "scheduler: load settings")
	}

	if r.StuckAfter > 0 {
		released, err := r.store.ReleaseStuck(ctx, userID, r.StuckAfter)
		if err != nil {
			return result, eris.Wrap(err, "scheduler: release stuck")
		}
		result.Released = released
		if released > 0 {
			zap.L().Warn("reset stuck in-flight leads",
				zap.String("user_id", userID),
				zap.Int("released", released),
			)
		}
	}

	leads, err := r.store.ClaimPending(ctx, userID, settings)
	if err != nil {
		return result, eris.Wrap(err, "scheduler: claim pending")
	}
	result.Claimed = len(leads)
	if len(leads) == 0 {
		return result, nil
	}

	zap.L().Info("claimed leads for dialing",
		zap.String("user_id", userID),
		zap.Int("claimed", len(leads)),
		zap.Int("max_calls_batch", settings.MaxCallsBatch),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(leads))

	var dialed, failed atomic.Int64
	for _, lead := range leads {
		g.Go(func() error {
			log := zap.L().With(zap.String("lead_id", lead.ID), zap.String("phone", lead.Phone))

			if err := r.dialer.Dial(gctx, lead, settings); err != nil {
				failed.Add(1)
				log.Error("dial dispatch failed", zap.Error(err))
				// The provider was never reached, so the slot is returned
				// by putting the lead back in the pending pool. The attempt
				// stays counted.
				if resetErr := r.store.UpdateLeadStatus(gctx, lead.ID, model.StatusPending); resetErr != nil {
					log.Warn("failed to reset lead after dial error", zap.Error(resetErr))
				}
				return nil // one bad dial does not abort the batch
			}

			dialed.Add(1)
			log.Info("dial dispatched", zap.Int("call_attempts", lead.CallAttempts))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, eris.Wrap(err, "scheduler: dispatch batch")
	}

	result.Dialed = int(dialed.Load())
	result.Failed = int(failed.Load())
	return result, nil
}
