package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"blog-content-engine/internal/ai"
	"blog-content-engine/internal/models"
)

// ContentStore is the slice of the store the processor needs.
type ContentStore interface {
	ResolveCategory(ctx context.Context, nameOrSlug string) (models.Category, bool, error)
	InsertPost(ctx context.Context, post models.BlogPost) error
	InsertGenerationLog(ctx context.Context, entry models.GenerationLog) error
}

// CoverStore persists a generated cover image and returns its reference.
type CoverStore interface {
	StoreCover(ctx context.Context, slug string, raw []byte) (string, error)
}

// Processor turns one claimed job into a published post. It owns every
// side effect except the job's own status transition, which stays with
// the caller.
type Processor struct {
	gen    ai.Generator
	store  ContentStore
	covers CoverStore
	log    *zap.SugaredLogger
	now    func() time.Time
}

func New(gen ai.Generator, store ContentStore, covers CoverStore, log *zap.SugaredLogger) *Processor {
	return &Processor{
		gen:    gen,
		store:  store,
		covers: covers,
		log:    log.With("component", "processor"),
		now:    time.Now,
	}
}

// Process runs the generation pipeline for one job: prompt, structured
// generation, strict parse, optional cover image, category resolution,
// slug, post insert, generation log. A non-nil error means the job
// failed; provider rate-limit/payment errors pass through unwrapped
// enough for the runner to classify them.
func (p *Processor) Process(ctx context.Context, job models.Job, cfg models.RunConfig) (models.BlogPost, error) {
	system, user := buildPrompt(job.Topic, cfg)

	start := p.now()
	obj, tokens, err := p.gen.GenerateJSON(ctx, system, user, "blog_article", blogSchema)
	genDuration := p.now().Sub(start)
	if err != nil {
		return models.BlogPost{}, fmt.Errorf("generate article: %w", err)
	}

	d, err := parseDraft(obj)
	if err != nil {
		return models.BlogPost{}, fmt.Errorf("parse article: %w", err)
	}

	category, found, err := p.store.ResolveCategory(ctx, job.Topic.Category)
	if err != nil {
		return models.BlogPost{}, fmt.Errorf("resolve category: %w", err)
	}
	if !found {
		return models.BlogPost{}, fmt.Errorf("unknown category %q: refusing to publish outside defined categories", job.Topic.Category)
	}

	slug := Slugify(d.Title)
	if slug == "" {
		slug = Slugify(job.Topic.Title)
	}

	var imageURL *string
	if cfg.WithImages && p.covers != nil {
		if url, imgErr := p.generateCover(ctx, job.Topic, slug); imgErr != nil {
			// Image failure is non-fatal; publish without one.
			p.log.Warnw("cover image skipped", "job_id", job.ID, "error", imgErr.Error())
		} else {
			imageURL = &url
		}
	}

	status := models.PostPublished
	if cfg.PublishStatus == models.PostDraft {
		status = models.PostDraft
	}
	now := p.now().UTC()
	post := models.BlogPost{
		ID:              uuid.New().String(),
		Title:           d.Title,
		Slug:            slug,
		Excerpt:         d.Excerpt,
		Content:         d.Content,
		CategoryID:      category.ID,
		MetaTitle:       d.MetaTitle,
		MetaDescription: d.MetaDescription,
		Keywords:        d.Keywords,
		Tags:            d.Tags,
		ReadingTime:     d.ReadingTime,
		ImageURL:        imageURL,
		Status:          status,
		CreatedAt:       now,
	}
	if status == models.PostPublished {
		post.PublishedAt = &now
	}

	if err := p.store.InsertPost(ctx, post); err != nil {
		return models.BlogPost{}, fmt.Errorf("persist post: %w", err)
	}

	logEntry := models.GenerationLog{
		JobID:      job.ID,
		Model:      p.gen.Model(),
		Prompt:     user,
		DurationMS: genDuration.Milliseconds(),
		Tokens:     tokens,
		Outcome:    "success",
	}
	if err := p.store.InsertGenerationLog(ctx, logEntry); err != nil {
		p.log.Warnw("generation log insert failed", "job_id", job.ID, "error", err.Error())
	}

	return post, nil
}

func (p *Processor) generateCover(ctx context.Context, topic models.Topic, slug string) (string, error) {
	raw, err := p.gen.GenerateImage(ctx, imagePrompt(topic))
	if err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}
	return p.covers.StoreCover(ctx, slug, raw)
}
