package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"socialgraph/internal/logging"
	"socialgraph/internal/metrics"
	"socialgraph/internal/repository"
)

// DefaultReconcileInterval is used when the configured interval is not positive.
const DefaultReconcileInterval = 10 * time.Minute

// Reconciler periodically repairs follow edges and counters from membership data.
type Reconciler struct {
	store    repository.Reconciler
	interval time.Duration
	log      zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewReconciler(store repository.Reconciler, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{
		store:    store,
		interval: interval,
		log:      logging.Component("reconciler"),
	}
}

// Start runs RunOnce on every tick until Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
					r.log.Error().Err(err).Msg("Reconciliation failed")
				}
			}
		}
	}()
	r.log.Info().Dur("interval", r.interval).Msg("Reconciler started")
}

func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
}

// RunOnce repairs follow edges first so the follower counts computed next are
// derived from the repaired sets.
func (r *Reconciler) RunOnce(ctx context.Context) (repository.ReconcileReport, error) {
	start := time.Now()
	var report repository.ReconcileReport

	edges, err := r.store.ReconcileFollowEdges(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues(metrics.Outcome(err)).Inc()
		return report, err
	}

	report, err = r.store.ReconcileCounters(ctx)
	report.FollowEdges = edges
	metrics.ReconcileRuns.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		return report, err
	}

	metrics.ReconcileRepairs.WithLabelValues("like_count").Add(float64(report.LikeCounts))
	metrics.ReconcileRepairs.WithLabelValues("comment_count").Add(float64(report.CommentCounts))
	metrics.ReconcileRepairs.WithLabelValues("follower_count").Add(float64(report.FollowerCounts))
	metrics.ReconcileRepairs.WithLabelValues("following_count").Add(float64(report.FollowingCounts))
	metrics.ReconcileRepairs.WithLabelValues("follow_edge").Add(float64(report.FollowEdges))

	event := r.log.Debug()
	if report.Total() > 0 {
		event = r.log.Warn()
	}
	event.
		Int64("like_counts", report.LikeCounts).
		Int64("comment_counts", report.CommentCounts).
		Int64("follower_counts", report.FollowerCounts).
		Int64("following_counts", report.FollowingCounts).
		Int64("follow_edges", report.FollowEdges).
		Dur("duration", time.Since(start)).
		Msg("Reconciliation finished")
	return report, nil
}
