package topics

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"blog-content-engine/internal/ai"
	"blog-content-engine/internal/models"
)

// Source produces candidate blog topics. It prefers a trend-discovery
// call to the generation provider and degrades to a static rotation so
// the pipeline never stalls for lack of topics.
type Source struct {
	gen ai.Generator
	log *zap.SugaredLogger
	now func() time.Time
}

func NewSource(gen ai.Generator, log *zap.SugaredLogger) *Source {
	return &Source{
		gen: gen,
		log: log.With("component", "topics"),
		now: time.Now,
	}
}

var topicSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"topics": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":    map[string]any{"type": "string"},
					"category": map[string]any{"type": "string"},
					"keywords": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
				"required":             []string{"title", "category", "keywords"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"topics"},
	"additionalProperties": false,
}

// ProduceTopics returns between 1 and count topics. It never errors:
// any transport or parse failure falls back to the static list.
func (s *Source) ProduceTopics(ctx context.Context, count int) []models.Topic {
	if count < 1 {
		count = 1
	}
	discovered, err := s.discover(ctx, count)
	if err != nil {
		s.log.Warnw("topic discovery failed, using fallback", "error", err.Error())
		return s.fallback(count)
	}
	if len(discovered) == 0 {
		s.log.Warnw("topic discovery returned nothing, using fallback")
		return s.fallback(count)
	}
	if len(discovered) > count {
		discovered = discovered[:count]
	}
	return discovered
}

func (s *Source) discover(ctx context.Context, count int) ([]models.Topic, error) {
	system := "You are a content strategist for an AI-automation consultancy. " +
		"Suggest blog topics that are currently trending and map cleanly onto the given categories."
	user := fmt.Sprintf(
		"Suggest %d trending blog topics for businesses adopting AI automation. "+
			"Use only these categories: %s. Each topic needs a specific, clickable title and 3-6 SEO keywords.",
		count, strings.Join(fallbackCategories(), ", "))

	obj, _, err := s.gen.GenerateJSON(ctx, system, user, "trending_topics", topicSchema)
	if err != nil {
		return nil, err
	}

	rawTopics, ok := obj["topics"].([]any)
	if !ok {
		return nil, fmt.Errorf("topics field missing or not a list")
	}
	out := make([]models.Topic, 0, len(rawTopics))
	for _, raw := range rawTopics {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		topic := models.Topic{
			Title:    stringField(m, "title"),
			Category: stringField(m, "category"),
			Keywords: stringList(m, "keywords"),
		}
		if topic.Title == "" || topic.Category == "" {
			continue
		}
		out = append(out, topic)
	}
	return out, nil
}

// fallback shuffles the static list and stamps each title with the
// current month so repeated fallback runs do not collide on slugs.
func (s *Source) fallback(count int) []models.Topic {
	pool := make([]models.Topic, len(staticTopics))
	copy(pool, staticTopics)
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if count > len(pool) {
		count = len(pool)
	}
	stamp := s.now().Format("January 2006")
	out := make([]models.Topic, count)
	for i := 0; i < count; i++ {
		t := pool[i]
		t.Title = fmt.Sprintf("%s (%s)", t.Title, stamp)
		out[i] = t
	}
	return out
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}

func stringList(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func fallbackCategories() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range staticTopics {
		if !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	return out
}

var staticTopics = []models.Topic{
	{Title: "How Small Businesses Cut Costs with AI Workflow Automation", Category: "AI Automation", Keywords: []string{"ai automation", "workflow", "small business", "cost reduction"}},
	{Title: "Chatbots That Actually Convert: A Practical Guide", Category: "AI Automation", Keywords: []string{"chatbots", "conversion", "customer service", "ai"}},
	{Title: "Automating Invoice Processing End to End", Category: "AI Automation", Keywords: []string{"invoice automation", "ocr", "accounts payable"}},
	{Title: "Choosing Your First AI Project: A Decision Framework", Category: "Business Strategy", Keywords: []string{"ai strategy", "roi", "digital transformation"}},
	{Title: "Build vs Buy for AI Tooling in Mid-Size Companies", Category: "Business Strategy", Keywords: []string{"build vs buy", "ai tools", "procurement"}},
	{Title: "Measuring ROI on Automation Initiatives", Category: "Business Strategy", Keywords: []string{"roi", "automation metrics", "kpi"}},
	{Title: "Five Repetitive Tasks You Should Automate This Quarter", Category: "Productivity", Keywords: []string{"task automation", "productivity", "time savings"}},
	{Title: "Email Triage with Language Models: Setup and Pitfalls", Category: "Productivity", Keywords: []string{"email automation", "llm", "inbox zero"}},
	{Title: "Meeting Notes on Autopilot: Transcription to Action Items", Category: "Productivity", Keywords: []string{"transcription", "meeting notes", "action items"}},
	{Title: "Understanding Retrieval-Augmented Generation for Business Data", Category: "Technology", Keywords: []string{"rag", "llm", "knowledge base"}},
	{Title: "A Plain-Language Guide to Fine-Tuning vs Prompting", Category: "Technology", Keywords: []string{"fine-tuning", "prompt engineering", "llm"}},
	{Title: "What Edge Functions Mean for Your Integration Stack", Category: "Technology", Keywords: []string{"edge functions", "serverless", "integrations"}},
	{Title: "AI-Assisted Content Calendars That Do Not Sound Robotic", Category: "Marketing", Keywords: []string{"content marketing", "ai writing", "editorial calendar"}},
	{Title: "Personalization at Scale Without Creeping Out Customers", Category: "Marketing", Keywords: []string{"personalization", "customer data", "marketing automation"}},
	{Title: "SEO in the Age of Generated Content", Category: "Marketing", Keywords: []string{"seo", "generated content", "search ranking"}},
}
