package processor

import (
	"fmt"
	"strings"
)

// blogSchema constrains the provider to the exact article shape the
// pipeline persists. Structured output is required; free text is not
// parseable reliably enough to publish from.
var blogSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":            map[string]any{"type": "string"},
		"slug":             map[string]any{"type": "string"},
		"excerpt":          map[string]any{"type": "string"},
		"content":          map[string]any{"type": "string"},
		"meta_title":       map[string]any{"type": "string"},
		"meta_description": map[string]any{"type": "string"},
		"keywords": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"tags": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"reading_time": map[string]any{"type": "integer"},
	},
	"required": []string{
		"title", "slug", "excerpt", "content",
		"meta_title", "meta_description", "keywords", "tags", "reading_time",
	},
	"additionalProperties": false,
}

// draft is the parsed structured result of one generation call.
type draft struct {
	Title           string
	Slug            string
	Excerpt         string
	Content         string
	MetaTitle       string
	MetaDescription string
	Keywords        []string
	Tags            []string
	ReadingTime     int
}

// parseDraft validates the structured output strictly. Missing or empty
// required fields are a job failure, never guessed around.
func parseDraft(obj map[string]any) (draft, error) {
	d := draft{
		Title:           strField(obj, "title"),
		Slug:            strField(obj, "slug"),
		Excerpt:         strField(obj, "excerpt"),
		Content:         strField(obj, "content"),
		MetaTitle:       strField(obj, "meta_title"),
		MetaDescription: strField(obj, "meta_description"),
		Keywords:        strListField(obj, "keywords"),
		Tags:            strListField(obj, "tags"),
	}
	switch v := obj["reading_time"].(type) {
	case float64:
		d.ReadingTime = int(v)
	case int:
		d.ReadingTime = v
	}

	for field, value := range map[string]string{
		"title":   d.Title,
		"content": d.Content,
		"excerpt": d.Excerpt,
	} {
		if value == "" {
			return draft{}, fmt.Errorf("structured output missing required field %q", field)
		}
	}
	if d.ReadingTime <= 0 {
		// Derivable from the content itself; not a semantic guess.
		d.ReadingTime = estimateReadingTime(d.Content)
	}
	return d, nil
}

func estimateReadingTime(content string) int {
	words := len(strings.Fields(content))
	minutes := words / 200
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func strField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}

func strListField(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
