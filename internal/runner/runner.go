package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"blog-content-engine/internal/config"
	"blog-content-engine/internal/models"
	"blog-content-engine/internal/telemetry"
)

// ErrJobNotPending reports a single-job trigger on a job that another
// claimant already owns or that has already reached a terminal status.
var ErrJobNotPending = errors.New("job is not pending")

// JobStore is the slice of the store the runner drives.
type JobStore interface {
	ClaimNext(ctx context.Context, runID string) (models.Job, bool, error)
	ClaimByID(ctx context.Context, jobID string) (models.Job, bool, error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, errMsg string) (bool, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	GetRun(ctx context.Context, id string) (models.Run, error)
	IncrementRunCreated(ctx context.Context, runID string) error
	IncrementRunFailed(ctx context.Context, runID string) error
	ReconcileRun(ctx context.Context, runID string) (models.Run, error)
	ActiveRunIDs(ctx context.Context) ([]string, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
	PendingCount(ctx context.Context) (int64, error)
}

// JobProcessor generates the article for one claimed job.
type JobProcessor interface {
	Process(ctx context.Context, job models.Job, cfg models.RunConfig) (models.BlogPost, error)
}

// Runner drains the queue one job at a time. The provider enforces
// per-minute quotas, so there is deliberately no parallel fan-out.
type Runner struct {
	cfg   config.Config
	store JobStore
	proc  JobProcessor
	log   *zap.SugaredLogger
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg config.Config, store JobStore, proc JobProcessor, log *zap.SugaredLogger) *Runner {
	return &Runner{
		cfg:   cfg,
		store: store,
		proc:  proc,
		log:   log.With("component", "runner"),
		sleep: sleepCtx,
	}
}

// Drain claims and processes jobs until none are eligible, then
// reconciles run status. An empty runID drains across all runs. A
// single job's failure never aborts the drain.
func (r *Runner) Drain(ctx context.Context, runID string) error {
	if requeued, err := r.store.RequeueStale(ctx, r.cfg.StaleJobTTL); err != nil {
		r.log.Warnw("stale-job requeue failed", "error", err.Error())
	} else if requeued > 0 {
		r.log.Infow("requeued stale processing jobs", "count", requeued)
	}

	runConfigs := map[string]models.RunConfig{}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if depth, err := r.store.PendingCount(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		job, found, err := r.store.ClaimNext(ctx, runID)
		if err != nil {
			return fmt.Errorf("claim next job: %w", err)
		}
		if !found {
			return r.reconcile(ctx, runID)
		}

		cfg, ok := runConfigs[job.RunID]
		if !ok {
			if run, err := r.store.GetRun(ctx, job.RunID); err == nil {
				cfg = run.Config
			} else {
				r.log.Warnw("run config lookup failed, using defaults", "run_id", job.RunID, "error", err.Error())
			}
			runConfigs[job.RunID] = cfg
		}

		succeeded := r.processClaimed(ctx, job, cfg)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if succeeded {
			if err := r.sleep(ctx, r.cfg.InterJobDelay); err != nil {
				return err
			}
		}
	}
}

// processClaimed drives one claimed job to completed or failed,
// holding through provider rate-limit/billing windows. Reports whether
// the job produced a post.
func (r *Runner) processClaimed(ctx context.Context, job models.Job, cfg models.RunConfig) bool {
	holds := 0
	for {
		post, err := r.proc.Process(ctx, job, cfg)
		if err == nil {
			_ = r.store.MarkCompleted(ctx, job.ID)
			_ = r.store.IncrementRunCreated(ctx, job.RunID)
			telemetry.BlogsCreated.Inc()
			r.log.Infow("job completed", "job_id", job.ID, "post_id", post.ID, "slug", post.Slug)
			return true
		}
		if ctx.Err() != nil {
			// Platform cut us off mid-job; the row stays processing and
			// the stale-TTL requeue reclaims it on the next invocation.
			return false
		}

		class := Classify(err)
		if Decide(class, holds, r.cfg.MaxHolds) == ActionHold {
			holds++
			delay := HoldDelay(class, r.cfg.RateLimitBackoff, r.cfg.PaymentBackoff)
			telemetry.ProviderHolds.Inc()
			r.log.Warnw("provider hold, retrying same job",
				"job_id", job.ID, "hold", holds, "delay", delay.String(), "error", err.Error())
			if r.sleep(ctx, delay) != nil {
				return false
			}
			continue
		}

		permanent, markErr := r.store.MarkFailed(ctx, job.ID, err.Error())
		if markErr != nil {
			r.log.Errorw("mark failed errored", "job_id", job.ID, "error", markErr.Error())
			return false
		}
		if permanent {
			_ = r.store.IncrementRunFailed(ctx, job.RunID)
			telemetry.BlogsFailed.Inc()
			r.log.Errorw("job failed permanently", "job_id", job.ID, "attempts", job.Attempts, "error", err.Error())
		} else {
			telemetry.RetriesScheduled.Inc()
			r.log.Warnw("job failed, returned to pending", "job_id", job.ID, "attempts", job.Attempts, "error", err.Error())
		}
		return false
	}
}

// ProcessByID runs exactly one job synchronously. This is the surface
// behind the single-job HTTP trigger. It goes through the same claim
// protocol as the drain loop: only a pending job can be taken, the
// claim spends an attempt, and a job owned by a live runner or already
// finished is refused with ErrJobNotPending.
func (r *Runner) ProcessByID(ctx context.Context, jobID string) (models.BlogPost, time.Duration, error) {
	start := time.Now()
	job, claimed, err := r.store.ClaimByID(ctx, jobID)
	if err != nil {
		return models.BlogPost{}, time.Since(start), err
	}
	if !claimed {
		cur, err := r.store.GetJob(ctx, jobID)
		if err != nil {
			return models.BlogPost{}, time.Since(start), err
		}
		return models.BlogPost{}, time.Since(start), fmt.Errorf("%w: job %s is %s", ErrJobNotPending, jobID, cur.Status)
	}

	var cfg models.RunConfig
	if run, err := r.store.GetRun(ctx, job.RunID); err == nil {
		cfg = run.Config
	}

	post, err := r.proc.Process(ctx, job, cfg)
	if err != nil {
		permanent, markErr := r.store.MarkFailed(ctx, job.ID, err.Error())
		if markErr == nil && permanent {
			_ = r.store.IncrementRunFailed(ctx, job.RunID)
			telemetry.BlogsFailed.Inc()
		}
		_, _ = r.store.ReconcileRun(ctx, job.RunID)
		return models.BlogPost{}, time.Since(start), err
	}

	_ = r.store.MarkCompleted(ctx, job.ID)
	_ = r.store.IncrementRunCreated(ctx, job.RunID)
	telemetry.BlogsCreated.Inc()
	_, _ = r.store.ReconcileRun(ctx, job.RunID)
	return post, time.Since(start), nil
}

func (r *Runner) reconcile(ctx context.Context, runID string) error {
	if runID != "" {
		if _, err := r.store.ReconcileRun(ctx, runID); err != nil {
			return fmt.Errorf("reconcile run %s: %w", runID, err)
		}
		return nil
	}
	ids, err := r.store.ActiveRunIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active runs: %w", err)
	}
	for _, id := range ids {
		if _, err := r.store.ReconcileRun(ctx, id); err != nil {
			r.log.Warnw("run reconcile failed", "run_id", id, "error", err.Error())
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
