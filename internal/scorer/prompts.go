package scorer

import (
	"fmt"
	"strings"

	"github.com/zombar/newsranker/internal/models"
)

// scoringSystemPrompt asks for a single JSON object matching ScoringResult
func scoringSystemPrompt() string {
	categories := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		categories[i] = fmt.Sprintf("%q", string(c))
	}

	return fmt.Sprintf(`You are a senior technology editor. You assess articles for a curated technology digest.

Score the article from 0 to 100 for how valuable it is to professional engineers and technical decision makers:
- 90-100: landmark news or research with broad, lasting impact
- 70-89: clearly important and well sourced
- 50-69: useful but incremental
- 0-49: low signal, promotional, or off-topic

Classify it into exactly one category from this list: %s.

Return ONLY a JSON object with these fields, nothing else:
{
  "score": integer 0-100,
  "score_reasoning": "one or two sentences explaining the score",
  "category": "one category from the list",
  "sub_categories": ["0 to 3 finer-grained labels"],
  "confidence": number 0.0-1.0,
  "key_points": ["3 to 5 key points"],
  "keywords": ["4 to 8 keywords, most important first"],
  "entities": {"companies": [], "technologies": [], "people": []},
  "impact_analysis": "who is affected and how"
}`, strings.Join(categories, ", "))
}

// scoringUserPrompt carries the article itself
func scoringUserPrompt(title, body string) string {
	return fmt.Sprintf("Title: %s\n\nArticle:\n%s", title, body)
}

type summaryStyle struct {
	tone     string
	language func(primary string) string
	guidance string
}

var summaryStyles = map[models.SummaryVariant]summaryStyle{
	models.VariantProfessional: {
		tone:     "professional",
		language: func(primary string) string { return primary },
		guidance: "Write for busy engineering leaders: lead with what happened and why it matters for their teams.",
	},
	models.VariantScientific: {
		tone:     "scientific",
		language: func(primary string) string { return primary },
		guidance: "Write for researchers: state methods, evidence and limitations precisely and avoid hype.",
	},
	models.VariantProfessionalEN: {
		tone:     "professional",
		language: func(string) string { return "English" },
		guidance: "Write for busy engineering leaders: lead with what happened and why it matters for their teams.",
	},
	models.VariantScientificEN: {
		tone:     "scientific",
		language: func(string) string { return "English" },
		guidance: "Write for researchers: state methods, evidence and limitations precisely and avoid hype.",
	},
}

// summarySystemPrompt builds the per-variant system prompt
func summarySystemPrompt(variant models.SummaryVariant, primaryLanguage string) string {
	style := summaryStyles[variant]
	lang := style.language(primaryLanguage)

	return fmt.Sprintf(`You write %s-tone article summaries in %s.
%s

Requirements:
- Write the summary in %s only
- Between %d and %d characters
- No bullet points, no headings, no meta-commentary

Return ONLY a JSON object: {"summary": "..."}`,
		style.tone, lang, style.guidance, lang, models.MinSummaryLength, models.MaxSummaryLength)
}

// summaryUserPrompt gives the summarizer the scoring context
func summaryUserPrompt(doc models.Document, result models.ScoringResult, excerpt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", doc.Title)
	fmt.Fprintf(&b, "Category: %s\n", result.Category)
	fmt.Fprintf(&b, "Score: %d/100\n", result.Score)
	b.WriteString("Key points:\n")
	for _, p := range result.KeyPoints {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	if excerpt != "" {
		fmt.Fprintf(&b, "\nArticle excerpt:\n%s\n", excerpt)
	}
	return b.String()
}
