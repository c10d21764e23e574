package processor

import (
	"fmt"
	"strings"

	"blog-content-engine/internal/models"
)

// Word-count bands per run length setting. "fast" is the tight band
// used by throughput-oriented runs.
func wordBand(length string) (int, int) {
	switch strings.ToLower(length) {
	case "short":
		return 800, 1200
	case "long":
		return 2500, 3500
	case "fast":
		return 700, 1000
	default: // medium
		return 1500, 2000
	}
}

func buildPrompt(topic models.Topic, cfg models.RunConfig) (system, user string) {
	tone := cfg.Tone
	if tone == "" {
		tone = "professional but approachable"
	}
	minWords, maxWords := wordBand(cfg.Length)

	system = "You are a senior content writer for an AI-automation consultancy. " +
		"Write accurate, practical articles for business readers. Avoid hype and filler."

	user = fmt.Sprintf(
		"Write a blog article.\n"+
			"Title direction: %s\n"+
			"Category: %s\n"+
			"Target keywords: %s\n"+
			"Tone: %s\n"+
			"Length: between %d and %d words.\n"+
			"The content field must be HTML using only p, h2, h3, ul, ol, li and strong tags. "+
			"The excerpt is 1-2 sentences. meta_title stays under 60 characters and "+
			"meta_description under 160. reading_time is minutes for an average reader.",
		topic.Title, topic.Category, strings.Join(topic.Keywords, ", "),
		tone, minWords, maxWords)
	return system, user
}

func imagePrompt(topic models.Topic) string {
	return fmt.Sprintf(
		"Clean, modern editorial illustration for a blog article titled %q in the %s category. "+
			"Flat design, muted corporate palette, no text in the image.",
		topic.Title, topic.Category)
}
