// Package reaper closes interview sessions abandoned by their respondents.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/kikite-ai/kikite/internal/interview"
	"github.com/kikite-ai/kikite/internal/model"
	"github.com/kikite-ai/kikite/internal/storage"
	"github.com/kikite-ai/kikite/internal/telemetry"
)

// maxConcurrent bounds how many stale sessions are finalized in parallel.
// Each forced finalization may cost a model call.
const maxConcurrent = 4

// Store is the subset of the storage layer the reaper depends on.
type Store interface {
	ListStaleSessions(ctx context.Context, cutoff time.Time) ([]model.Session, error)
	HasUserMessages(ctx context.Context, sessionID string) (bool, error)
	CancelSession(ctx context.Context, sessionID string) error
}

// Finalizer drives an abandoned session to a summary.
type Finalizer interface {
	ForceFinalize(ctx context.Context, sessionID string) (interview.TurnResult, error)
}

// Reaper sweeps sessions that have gone quiet past a threshold. Sessions with
// at least one respondent answer are summarized through the turn processor;
// sessions where nobody ever answered are canceled without a model call.
type Reaper struct {
	store     Store
	finalizer Finalizer
	threshold time.Duration
	logger    *slog.Logger

	reaped metric.Int64Counter
}

// New creates a reaper. threshold is how long a session may sit untouched
// before it is considered abandoned.
func New(store Store, finalizer Finalizer, threshold time.Duration, logger *slog.Logger) *Reaper {
	meter := telemetry.Meter("kikite/reaper")
	reaped, _ := meter.Int64Counter("kikite.reaper.sessions",
		metric.WithDescription("Stale sessions closed by the sweep"),
	)
	return &Reaper{
		store:     store,
		finalizer: finalizer,
		threshold: threshold,
		logger:    logger,
		reaped:    reaped,
	}
}

// Sweep closes every stale session it can and returns how many it processed.
// A failure on one session is logged and does not stop the others; only a
// failure to list sessions aborts the sweep.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.threshold)
	stale, err := r.store.ListStaleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reaper: list stale sessions: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for _, sess := range stale {
		g.Go(func() error {
			if err := r.reapOne(gctx, sess.ID); err != nil {
				r.logger.Error("failed to reap session", "session_id", sess.ID, "error", err)
				return nil
			}
			processed.Add(1)
			r.reaped.Add(gctx, 1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(processed.Load())
	r.logger.Info("sweep finished", "stale", len(stale), "processed", n)
	return n, nil
}

func (r *Reaper) reapOne(ctx context.Context, sessionID string) error {
	answered, err := r.store.HasUserMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	if !answered {
		// Nothing worth summarizing; no model call.
		err := storage.WithRetry(ctx, 2, 50*time.Millisecond, func() error {
			return r.store.CancelSession(ctx, sessionID)
		})
		if errors.Is(err, storage.ErrSessionTerminated) {
			// A late respondent turn finished the session between listing
			// and reaping. That is the outcome we wanted anyway.
			return nil
		}
		if err == nil {
			r.logger.Info("canceled unanswered session", "session_id", sessionID)
		}
		return err
	}

	_, err = r.finalizer.ForceFinalize(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionTerminated) {
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Info("finalized abandoned session", "session_id", sessionID)
	return nil
}

// RunLoop sweeps on a fixed interval until the context is canceled. Intended
// to run in its own goroutine from main.
func (r *Reaper) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
