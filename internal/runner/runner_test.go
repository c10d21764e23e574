package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"blog-content-engine/internal/ai"
	"blog-content-engine/internal/config"
	"blog-content-engine/internal/models"
)

// fakeStore is an in-memory stand-in for the Postgres store. Claims are
// sequential here; the SQL-level claim atomicity is covered by FOR
// UPDATE SKIP LOCKED and not re-tested through this fake.
type fakeStore struct {
	jobs   map[string]*models.Job
	order  []string
	runs   map[string]*models.Run
	claims map[string]int

	// dropCreatedIncrements makes that many IncrementRunCreated calls
	// vanish, simulating a lost best-effort counter write.
	dropCreatedIncrements int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:   map[string]*models.Job{},
		runs:   map[string]*models.Run{},
		claims: map[string]int{},
	}
}

func (f *fakeStore) addRun(id string, target int) {
	f.runs[id] = &models.Run{ID: id, Status: models.RunRunning, TargetCount: target}
}

func (f *fakeStore) addJob(id, runID, title string, priority, maxAttempts int) {
	f.jobs[id] = &models.Job{
		ID:          id,
		RunID:       runID,
		Topic:       models.Topic{Title: title, Category: "AI Automation", Keywords: []string{"x"}},
		Status:      models.JobPending,
		Priority:    priority,
		MaxAttempts: maxAttempts,
	}
	f.order = append(f.order, id)
}

func (f *fakeStore) ClaimNext(_ context.Context, runID string) (models.Job, bool, error) {
	var best *models.Job
	for _, id := range f.order {
		j := f.jobs[id]
		if j.Status != models.JobPending {
			continue
		}
		if runID != "" && j.RunID != runID {
			continue
		}
		if best == nil || j.Priority < best.Priority {
			best = j
		}
	}
	if best == nil {
		return models.Job{}, false, nil
	}
	best.Status = models.JobProcessing
	best.Attempts++
	f.claims[best.ID]++
	return *best, true, nil
}

func (f *fakeStore) ClaimByID(_ context.Context, jobID string) (models.Job, bool, error) {
	j, ok := f.jobs[jobID]
	if !ok || j.Status != models.JobPending {
		return models.Job{}, false, nil
	}
	j.Status = models.JobProcessing
	j.Attempts++
	f.claims[jobID]++
	return *j, true, nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, jobID string) error {
	f.jobs[jobID].Status = models.JobCompleted
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, jobID, errMsg string) (bool, error) {
	j := f.jobs[jobID]
	j.ErrorMessage = &errMsg
	if j.Attempts >= j.MaxAttempts {
		j.Status = models.JobFailed
		return true, nil
	}
	j.Status = models.JobPending
	return false, nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (models.Job, error) {
	if j, ok := f.jobs[id]; ok {
		return *j, nil
	}
	return models.Job{}, fmt.Errorf("job not found")
}

func (f *fakeStore) GetRun(_ context.Context, id string) (models.Run, error) {
	if r, ok := f.runs[id]; ok {
		return *r, nil
	}
	return models.Run{}, fmt.Errorf("run not found")
}

func (f *fakeStore) IncrementRunCreated(_ context.Context, runID string) error {
	if f.dropCreatedIncrements > 0 {
		f.dropCreatedIncrements--
		return nil
	}
	f.runs[runID].BlogsCreated++
	return nil
}

func (f *fakeStore) IncrementRunFailed(_ context.Context, runID string) error {
	f.runs[runID].BlogsFailed++
	return nil
}

// ReconcileRun mirrors the SQL store: counts are re-derived from job
// rows, so a lost counter increment cannot strand the run.
func (f *fakeStore) ReconcileRun(_ context.Context, runID string) (models.Run, error) {
	r := f.runs[runID]
	if r.Status != models.RunRunning && r.Status != models.RunQueued {
		return *r, nil
	}
	var created, failed, open int
	for _, j := range f.jobs {
		if j.RunID != runID {
			continue
		}
		switch j.Status {
		case models.JobCompleted:
			created++
		case models.JobFailed:
			failed++
		default:
			open++
		}
	}
	if open > 0 || created+failed < r.TargetCount {
		return *r, nil
	}
	r.BlogsCreated = created
	r.BlogsFailed = failed
	r.Status = models.TerminalRunStatus(created, failed)
	return *r, nil
}

func (f *fakeStore) ActiveRunIDs(context.Context) ([]string, error) {
	var ids []string
	for id, r := range f.runs {
		if r.Status == models.RunRunning || r.Status == models.RunQueued {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) RequeueStale(context.Context, time.Duration) (int64, error) { return 0, nil }

func (f *fakeStore) PendingCount(context.Context) (int64, error) {
	var n int64
	for _, j := range f.jobs {
		if j.Status == models.JobPending {
			n++
		}
	}
	return n, nil
}

// scriptedProc fails or succeeds per topic title.
type scriptedProc struct {
	fail     map[string]error // topic title -> error returned every call
	failOnce map[string]*int  // topic title -> remaining failures before success
	failErr  error
	posts    int
}

func (p *scriptedProc) Process(_ context.Context, job models.Job, _ models.RunConfig) (models.BlogPost, error) {
	if err, ok := p.fail[job.Topic.Title]; ok {
		return models.BlogPost{}, err
	}
	if remaining, ok := p.failOnce[job.Topic.Title]; ok && *remaining > 0 {
		*remaining--
		return models.BlogPost{}, p.failErr
	}
	p.posts++
	return models.BlogPost{ID: fmt.Sprintf("post-%d", p.posts), Slug: "slug"}, nil
}

func testConfig() config.Config {
	return config.Config{
		MaxAttempts:      3,
		MaxHolds:         5,
		InterJobDelay:    10 * time.Second,
		RateLimitBackoff: time.Minute,
		PaymentBackoff:   5 * time.Minute,
		StaleJobTTL:      15 * time.Minute,
	}
}

func newTestRunner(store *fakeStore, proc JobProcessor) (*Runner, *[]time.Duration) {
	r := New(testConfig(), store, proc, zap.NewNop().Sugar())
	var sleeps []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return r, &sleeps
}

func TestDrainPartialRun(t *testing.T) {
	store := newFakeStore()
	store.addRun("run-1", 3)
	store.addJob("job-1", "run-1", "Topic 1", 5, 3)
	store.addJob("job-2", "run-1", "Topic 2", 5, 3)
	store.addJob("job-3", "run-1", "Topic 3", 5, 3)

	proc := &scriptedProc{fail: map[string]error{
		"Topic 2": fmt.Errorf("parse article: malformed structured output"),
	}}
	r, _ := newTestRunner(store, proc)

	if err := r.Drain(context.Background(), "run-1"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	run := store.runs["run-1"]
	if run.Status != models.RunPartial {
		t.Fatalf("expected partial run, got %q", run.Status)
	}
	if run.BlogsCreated != 2 || run.BlogsFailed != 1 {
		t.Fatalf("expected 2 created / 1 failed, got %d / %d", run.BlogsCreated, run.BlogsFailed)
	}
	if proc.posts != 2 {
		t.Fatalf("expected exactly 2 posts, got %d", proc.posts)
	}

	job2 := store.jobs["job-2"]
	if job2.Status != models.JobFailed {
		t.Fatalf("job-2 should be pinned failed, got %q", job2.Status)
	}
	if job2.Attempts != job2.MaxAttempts {
		t.Fatalf("job-2 attempts = %d, want %d", job2.Attempts, job2.MaxAttempts)
	}
	if job2.ErrorMessage == nil || *job2.ErrorMessage == "" {
		t.Fatal("job-2 error_message should be recorded")
	}
}

func TestRetryCeiling(t *testing.T) {
	store := newFakeStore()
	store.addRun("run-1", 1)
	store.addJob("job-1", "run-1", "Flaky", 5, 3)

	// Fails max_attempts-1 times, then succeeds on the final attempt.
	remaining := 2
	proc := &scriptedProc{
		failOnce: map[string]*int{"Flaky": &remaining},
		failErr:  fmt.Errorf("persist post: connection reset"),
	}
	r, _ := newTestRunner(store, proc)

	if err := r.Drain(context.Background(), "run-1"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	job := store.jobs["job-1"]
	if job.Status != models.JobCompleted {
		t.Fatalf("job should complete on the last attempt, got %q", job.Status)
	}
	if job.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", job.Attempts)
	}
	if store.runs["run-1"].Status != models.RunCompleted {
		t.Fatalf("run should complete, got %q", store.runs["run-1"].Status)
	}
}

func TestFailedJobNeverReturnsToPending(t *testing.T) {
	store := newFakeStore()
	store.addRun("run-1", 1)
	store.addJob("job-1", "run-1", "Doomed", 5, 3)

	proc := &scriptedProc{fail: map[string]error{"Doomed": fmt.Errorf("resolve category: unknown")}}
	r, _ := newTestRunner(store, proc)

	if err := r.Drain(context.Background(), "run-1"); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := store.jobs["job-1"].Status; got != models.JobFailed {
		t.Fatalf("expected failed, got %q", got)
	}
	if store.claims["job-1"] != 3 {
		t.Fatalf("expected exactly max_attempts claims, got %d", store.claims["job-1"])
	}
	if store.runs["run-1"].Status != models.RunFailed {
		t.Fatalf("zero successes should end the run failed, got %q", store.runs["run-1"].Status)
	}
}

func TestEachJobClaimedOnceWhenHealthy(t *testing.T) {
	store := newFakeStore()
	store.addRun("run-1", 5)
	for i := 1; i <= 5; i++ {
		store.addJob(fmt.Sprintf("job-%d", i), "run-1", fmt.Sprintf("Topic %d", i), 5, 3)
	}
	proc := &scriptedProc{}
	r, _ := newTestRunner(store, proc)

	if err := r.Drain(context.Background(), "run-1"); err != nil {
		t.Fatalf("drain: %v", err)
	}
	for id, n := range store.claims {
		if n != 1 {
			t.Errorf("%s claimed %d times, want 1", id, n)
		}
	}
	if store.runs["run-1"].Status != models.RunCompleted {
		t.Fatalf("run should complete, got %q", store.runs["run-1"].Status)
	}
}

func TestRateLimitHoldRetriesSameClaim(t *testing.T) {
	store := newFakeStore()
	store.addRun("run-1", 1)
	store.addJob("job-1", "run-1", "Held", 5, 3)

	remaining := 2
	proc := &scriptedProc{
		failOnce: map[string]*int{"Held": &remaining},
		failErr:  fmt.Errorf("generate article: %w", &ai.HTTPError{StatusCode: 429, Body: "rate limit"}),
	}
	r, sleeps := newTestRunner(store, proc)

	if err := r.Drain(context.Background(), "run-1"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	job := store.jobs["job-1"]
	if job.Status != models.JobCompleted {
		t.Fatalf("job should complete after holds, got %q", job.Status)
	}
	// Holds retry the same claim: one claim, one attempt.
	if job.Attempts != 1 || store.claims["job-1"] != 1 {
		t.Fatalf("holds must not spend attempts: attempts=%d claims=%d", job.Attempts, store.claims["job-1"])
	}

	var holdSleeps int
	for _, d := range *sleeps {
		if d == time.Minute {
			holdSleeps++
		}
	}
	if holdSleeps != 2 {
		t.Fatalf("expected 2 rate-limit backoff sleeps, got %d (all: %v)", holdSleeps, *sleeps)
	}
}

func TestPriorityOrdering(t *testing.T) {
	store := newFakeStore()
	store.addRun("run-1", 2)
	store.addJob("job-low", "run-1", "Low", 9, 3)
	store.addJob("job-high", "run-1", "High", 1, 3)

	var processed []string
	proc := processorFunc(func(_ context.Context, job models.Job, _ models.RunConfig) (models.BlogPost, error) {
		processed = append(processed, job.ID)
		return models.BlogPost{ID: job.ID}, nil
	})
	r, _ := newTestRunner(store, proc)

	if err := r.Drain(context.Background(), "run-1"); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(processed) != 2 || processed[0] != "job-high" {
		t.Fatalf("lower priority value should run first, got %v", processed)
	}
}

func TestProcessByIDCompletesPendingJob(t *testing.T) {
	store := newFakeStore()
	store.addRun("run-1", 1)
	store.addJob("job-1", "run-1", "Topic 1", 5, 3)

	proc := &scriptedProc{}
	r, _ := newTestRunner(store, proc)

	post, _, err := r.ProcessByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if post.ID == "" {
		t.Fatal("expected a post")
	}
	job := store.jobs["job-1"]
	if job.Status != models.JobCompleted || job.Attempts != 1 {
		t.Fatalf("job = %q attempts=%d, want completed/1", job.Status, job.Attempts)
	}
	run := store.runs["run-1"]
	if run.Status != models.RunCompleted || run.BlogsCreated != 1 {
		t.Fatalf("run = %q created=%d, want completed/1", run.Status, run.BlogsCreated)
	}
}

func TestProcessByIDRefusesNonPendingJob(t *testing.T) {
	store := newFakeStore()
	store.addRun("run-1", 1)
	store.addJob("job-1", "run-1", "Topic 1", 5, 3)

	proc := &scriptedProc{}
	r, _ := newTestRunner(store, proc)

	if err := r.Drain(context.Background(), "run-1"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// Triggering a completed job again must not generate another post or
	// push blogs_created past target_count.
	_, _, err := r.ProcessByID(context.Background(), "job-1")
	if !errors.Is(err, ErrJobNotPending) {
		t.Fatalf("completed job must be refused, got %v", err)
	}
	if proc.posts != 1 {
		t.Fatalf("completed job was generated again, %d posts", proc.posts)
	}
	if got := store.runs["run-1"].BlogsCreated; got != 1 {
		t.Fatalf("blogs_created = %d, want 1", got)
	}

	// A job a live runner holds in processing is refused as well.
	store.jobs["job-1"].Status = models.JobProcessing
	if _, _, err := r.ProcessByID(context.Background(), "job-1"); !errors.Is(err, ErrJobNotPending) {
		t.Fatalf("processing job must be refused, got %v", err)
	}
}

func TestProcessByIDSpendsAttempts(t *testing.T) {
	store := newFakeStore()
	store.addRun("run-1", 1)
	store.addJob("job-1", "run-1", "Doomed", 5, 3)

	proc := &scriptedProc{fail: map[string]error{"Doomed": fmt.Errorf("resolve category: unknown")}}
	r, _ := newTestRunner(store, proc)

	for i := 1; i <= 3; i++ {
		if _, _, err := r.ProcessByID(context.Background(), "job-1"); err == nil {
			t.Fatalf("call %d should fail", i)
		}
		if got := store.jobs["job-1"].Attempts; got != i {
			t.Fatalf("after call %d attempts = %d, want %d", i, got, i)
		}
	}
	if got := store.jobs["job-1"].Status; got != models.JobFailed {
		t.Fatalf("expected failed at the retry ceiling, got %q", got)
	}
	if _, _, err := r.ProcessByID(context.Background(), "job-1"); !errors.Is(err, ErrJobNotPending) {
		t.Fatalf("failed job must not be claimable, got %v", err)
	}
	run := store.runs["run-1"]
	if run.Status != models.RunFailed || run.BlogsFailed != 1 {
		t.Fatalf("run = %q failed=%d, want failed/1", run.Status, run.BlogsFailed)
	}
}

func TestReconcileRecoversLostCounterWrite(t *testing.T) {
	store := newFakeStore()
	store.addRun("run-1", 2)
	store.addJob("job-1", "run-1", "Topic 1", 5, 3)
	store.addJob("job-2", "run-1", "Topic 2", 5, 3)
	store.dropCreatedIncrements = 1

	proc := &scriptedProc{}
	r, _ := newTestRunner(store, proc)

	if err := r.Drain(context.Background(), "run-1"); err != nil {
		t.Fatalf("drain: %v", err)
	}
	run := store.runs["run-1"]
	if run.Status != models.RunCompleted {
		t.Fatalf("lost increment stranded the run in %q", run.Status)
	}
	if run.BlogsCreated != 2 || run.BlogsFailed != 0 {
		t.Fatalf("reconcile should repair counters from job rows, got %d/%d", run.BlogsCreated, run.BlogsFailed)
	}
}

type processorFunc func(ctx context.Context, job models.Job, cfg models.RunConfig) (models.BlogPost, error)

func (f processorFunc) Process(ctx context.Context, job models.Job, cfg models.RunConfig) (models.BlogPost, error) {
	return f(ctx, job, cfg)
}
