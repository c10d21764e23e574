package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"blog-content-engine/internal/models"
)

// ErrJobNotFound reports a job lookup that matched no row.
var ErrJobNotFound = errors.New("job not found")

// Store wraps pgxpool for Postgres persistence. It is the single shared
// mutable state between the enqueue entry point and any runner invocation.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateRun inserts a run row in status queued.
func (s *Store) CreateRun(ctx context.Context, targetCount int, cfg models.RunConfig) (models.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return models.Run{}, fmt.Errorf("marshal run config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO generation_runs (id, status, target_count, blogs_created, blogs_failed, topics, config, started_at)
		VALUES ($1, $2, $3, 0, 0, '[]', $4, $5)
	`, id, models.RunQueued, targetCount, cfgJSON, now)
	if err != nil {
		return models.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return models.Run{
		ID:          id,
		Status:      models.RunQueued,
		TargetCount: targetCount,
		Config:      cfg,
		StartedAt:   now,
	}, nil
}

// SetRunTopics stores the resolved topic list and the actually queued
// count, and moves the run to running.
func (s *Store) SetRunTopics(ctx context.Context, runID string, topics []models.Topic, queued int) error {
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE generation_runs
		SET topics = $2, target_count = $3, status = $4
		WHERE id = $1
	`, runID, topicsJSON, queued, models.RunRunning)
	if err != nil {
		return fmt.Errorf("update run topics: %w", err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (models.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, target_count, blogs_created, blogs_failed, topics, config, started_at, completed_at
		FROM generation_runs WHERE id = $1
	`, id)

	var run models.Run
	var topicsJSON, cfgJSON []byte
	var completed pgtype.Timestamptz
	if err := row.Scan(&run.ID, &run.Status, &run.TargetCount, &run.BlogsCreated, &run.BlogsFailed, &topicsJSON, &cfgJSON, &run.StartedAt, &completed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Run{}, fmt.Errorf("run not found: %w", err)
		}
		return models.Run{}, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal(topicsJSON, &run.Topics); err != nil {
		return models.Run{}, fmt.Errorf("unmarshal run topics: %w", err)
	}
	if err := json.Unmarshal(cfgJSON, &run.Config); err != nil {
		return models.Run{}, fmt.Errorf("unmarshal run config: %w", err)
	}
	run.CompletedAt = tsPtr(completed)
	return run, nil
}

// IncrementRunCreated bumps the success counter.
func (s *Store) IncrementRunCreated(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE generation_runs SET blogs_created = blogs_created + 1 WHERE id = $1
	`, runID)
	return err
}

// IncrementRunFailed bumps the permanent-failure counter.
func (s *Store) IncrementRunFailed(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE generation_runs SET blogs_failed = blogs_failed + 1 WHERE id = $1
	`, runID)
	return err
}

// ReconcileRun moves a run to its terminal status once every job has
// left pending/processing. Counters are a cache that best-effort
// increments can miss; the job table is the recomputable source of
// truth, so the counts are re-derived from job rows and written back.
func (s *Store) ReconcileRun(ctx context.Context, runID string) (models.Run, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return models.Run{}, err
	}
	if run.Status != models.RunRunning && run.Status != models.RunQueued {
		return run, nil
	}

	var created, failed, open int
	if err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status IN ($4, $5))
		FROM generation_jobs WHERE run_id = $1
	`, runID, models.JobCompleted, models.JobFailed, models.JobPending, models.JobProcessing).Scan(&created, &failed, &open); err != nil {
		return models.Run{}, fmt.Errorf("count run jobs: %w", err)
	}
	if open > 0 || created+failed < run.TargetCount {
		return run, nil
	}

	status := models.TerminalRunStatus(created, failed)
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		UPDATE generation_runs
		SET status = $2, blogs_created = $3, blogs_failed = $4, completed_at = $5
		WHERE id = $1
	`, runID, status, created, failed, now)
	if err != nil {
		return models.Run{}, fmt.Errorf("finalize run: %w", err)
	}
	run.Status = status
	run.BlogsCreated = created
	run.BlogsFailed = failed
	run.CompletedAt = &now
	return run, nil
}

// ActiveRunIDs lists runs that have not reached a terminal status yet.
func (s *Store) ActiveRunIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM generation_runs WHERE status IN ($1, $2)
	`, models.RunQueued, models.RunRunning)
	if err != nil {
		return nil, fmt.Errorf("query active runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EnqueueTopics inserts one pending job per topic. Each insert is
// independent; a failing topic is reported in errs and does not block
// the rest of the batch.
func (s *Store) EnqueueTopics(ctx context.Context, runID string, topics []models.Topic, priority, maxAttempts int) ([]models.Job, []error) {
	jobs := make([]models.Job, 0, len(topics))
	var errs []error
	for _, topic := range topics {
		job, err := s.insertJob(ctx, runID, topic, priority, maxAttempts)
		if err != nil {
			errs = append(errs, fmt.Errorf("enqueue %q: %w", topic.Title, err))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, errs
}

func (s *Store) insertJob(ctx context.Context, runID string, topic models.Topic, priority, maxAttempts int) (models.Job, error) {
	topicJSON, err := json.Marshal(topic)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal topic: %w", err)
	}
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO generation_jobs (id, run_id, topic, status, priority, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)
	`, id, runID, topicJSON, models.JobPending, priority, maxAttempts, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return models.Job{
		ID:          id,
		RunID:       runID,
		Topic:       topic,
		Status:      models.JobPending,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ClaimNext atomically claims the oldest eligible pending job, ordered
// by priority then creation time, and moves it to processing with the
// attempt counted. FOR UPDATE SKIP LOCKED guarantees two concurrent
// runners never claim the same row. An empty runID drains across runs.
func (s *Store) ClaimNext(ctx context.Context, runID string) (models.Job, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	query := `
		SELECT id FROM generation_jobs
		WHERE status = $1
	`
	args := []any{models.JobPending}
	if runID != "" {
		query += ` AND run_id = $2`
		args = append(args, runID)
	}
	query += `
		ORDER BY priority ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var id string
	if err := tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, false, nil
		}
		return models.Job{}, false, fmt.Errorf("select pending job: %w", err)
	}

	row := tx.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = $2, attempts = attempts + 1, started_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING id, run_id, topic, status, priority, attempts, max_attempts, error_message, started_at, completed_at, created_at, updated_at
	`, id, models.JobProcessing)

	job, err := scanJob(row)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, false, fmt.Errorf("commit claim: %w", err)
	}
	return job, true, nil
}

// ClaimByID conditionally claims one specific job for the single-job
// trigger. The conditional UPDATE succeeds only while the row is still
// pending, so a job held by a live runner or already finished cannot be
// processed twice; the returned bool reports whether this caller won
// the claim.
func (s *Store) ClaimByID(ctx context.Context, jobID string) (models.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = $2, attempts = attempts + 1, started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING id, run_id, topic, status, priority, attempts, max_attempts, error_message, started_at, completed_at, created_at, updated_at
	`, jobID, models.JobProcessing, models.JobPending)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, false, nil
		}
		return models.Job{}, false, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	return job, true, nil
}

// MarkCompleted transitions a processing job to completed and clears
// any previous failure reason.
func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET status = $2, error_message = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, jobID, models.JobCompleted)
	return err
}

// MarkFailed records a failure. Below max_attempts the job returns to
// pending for another cycle; at the ceiling it is pinned failed. The
// retry-vs-permanent decision happens inside one UPDATE so concurrent
// runners cannot disagree about it. Returns whether the failure is
// permanent.
func (s *Store) MarkFailed(ctx context.Context, jobID, errMsg string) (bool, error) {
	var status string
	err := s.pool.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = CASE WHEN attempts >= max_attempts THEN $2 ELSE $3 END,
		    error_message = $4,
		    completed_at = CASE WHEN attempts >= max_attempts THEN NOW() ELSE NULL END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING status
	`, jobID, models.JobFailed, models.JobPending, errMsg).Scan(&status)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return status == models.JobFailed, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, run_id, topic, status, priority, attempts, max_attempts, error_message, started_at, completed_at, created_at, updated_at
		FROM generation_jobs WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// RequeueStale flips processing jobs whose claim is older than the TTL
// back to pending. Attempts are not touched; the original claim already
// counted one.
func (s *Store) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET status = $2, started_at = NULL, updated_at = NOW()
		WHERE status = $1 AND started_at < $3
	`, models.JobProcessing, models.JobPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingCount returns how many jobs are waiting across all runs.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM generation_jobs WHERE status = $1
	`, models.JobPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

// ResolveCategory matches a topic category against the category table,
// case-insensitively on name or slug.
func (s *Store) ResolveCategory(ctx context.Context, nameOrSlug string) (models.Category, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, slug FROM categories
		WHERE LOWER(name) = LOWER($1) OR LOWER(slug) = LOWER($1)
	`, nameOrSlug)
	var cat models.Category
	if err := row.Scan(&cat.ID, &cat.Name, &cat.Slug); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Category{}, false, nil
		}
		return models.Category{}, false, fmt.Errorf("resolve category: %w", err)
	}
	return cat, true, nil
}

// InsertPost persists a generated article.
func (s *Store) InsertPost(ctx context.Context, post models.BlogPost) error {
	keywords, err := json.Marshal(post.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	tags, err := json.Marshal(post.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO blog_posts (id, title, slug, excerpt, content, category_id, meta_title, meta_description, keywords, tags, reading_time, image_url, status, published_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, post.ID, post.Title, post.Slug, post.Excerpt, post.Content, post.CategoryID,
		post.MetaTitle, post.MetaDescription, keywords, tags, post.ReadingTime,
		post.ImageURL, post.Status, post.PublishedAt, post.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// InsertGenerationLog appends a provider-call log row.
func (s *Store) InsertGenerationLog(ctx context.Context, entry models.GenerationLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO generation_logs (job_id, model, prompt, duration_ms, tokens, outcome, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, entry.JobID, entry.Model, entry.Prompt, entry.DurationMS, entry.Tokens, entry.Outcome)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var job models.Job
	var topicJSON []byte
	var errMsg pgtype.Text
	var started, completed pgtype.Timestamptz

	if err := row.Scan(&job.ID, &job.RunID, &topicJSON, &job.Status, &job.Priority, &job.Attempts, &job.MaxAttempts, &errMsg, &started, &completed, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, err
	}
	if err := json.Unmarshal(topicJSON, &job.Topic); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal topic: %w", err)
	}
	job.ErrorMessage = textPtr(errMsg)
	job.StartedAt = tsPtr(started)
	job.CompletedAt = tsPtr(completed)
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func tsPtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
