package models

import (
	"time"
)

// Job lifecycle states persisted in Postgres. A failed job returns to
// pending until attempts reaches max_attempts, then stays failed.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Run lifecycle states. A run is terminal once every one of its jobs
// has left pending/processing.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// Publish states for generated posts.
const (
	PostPublished = "published"
	PostDraft     = "draft"
)

// Topic is the immutable payload of one generation job.
type Topic struct {
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// Job represents one unit of blog-generation work persisted in Postgres.
type Job struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	Topic        Topic      `json:"topic"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RunConfig is caller-supplied generation tuning, denormalized onto the run.
type RunConfig struct {
	Length        string `json:"length,omitempty"`         // short | medium | long | fast
	Tone          string `json:"tone,omitempty"`           // e.g. "professional", "conversational"
	PublishStatus string `json:"publish_status,omitempty"` // published | draft
	WithImages    bool   `json:"with_images,omitempty"`
}

// Run aggregates one batch of requested generation.
type Run struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	TargetCount  int        `json:"target_count"`
	BlogsCreated int        `json:"blogs_created"`
	BlogsFailed  int        `json:"blogs_failed"`
	Topics       []Topic    `json:"topics"`
	Config       RunConfig  `json:"config"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Category is a content category row. Resolution is case-insensitive on
// name or slug; jobs never publish into an unknown category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// BlogPost is one published (or drafted) article produced by a job.
type BlogPost struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Slug            string     `json:"slug"`
	Excerpt         string     `json:"excerpt"`
	Content         string     `json:"content"`
	CategoryID      string     `json:"category_id"`
	MetaTitle       string     `json:"meta_title"`
	MetaDescription string     `json:"meta_description"`
	Keywords        []string   `json:"keywords"`
	Tags            []string   `json:"tags"`
	ReadingTime     int        `json:"reading_time"`
	ImageURL        *string    `json:"image_url,omitempty"`
	Status          string     `json:"status"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// GenerationLog records one provider call outcome for observability.
type GenerationLog struct {
	JobID      string    `json:"job_id"`
	Model      string    `json:"model"`
	Prompt     string    `json:"prompt"`
	DurationMS int64     `json:"duration_ms"`
	Tokens     int       `json:"tokens"`
	Outcome    string    `json:"outcome"`
	Recorded   time.Time `json:"recorded_at"`
}
