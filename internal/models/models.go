package models

import (
	"math"
	"time"
)

// Document is a collected article awaiting scoring. It is owned by the
// upstream collector and never modified here.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// Category is the primary classification of a scored document
type Category string

const (
	CategoryAIML           Category = "ai_ml"
	CategorySoftware       Category = "software_engineering"
	CategoryInfrastructure Category = "cloud_infrastructure"
	CategorySecurity       Category = "security"
	CategoryData           Category = "data"
	CategoryHardware       Category = "hardware"
	CategoryBusiness       Category = "business"
	CategoryResearch       Category = "research"
)

// Categories lists every accepted category in prompt order
var Categories = []Category{
	CategoryAIML,
	CategorySoftware,
	CategoryInfrastructure,
	CategorySecurity,
	CategoryData,
	CategoryHardware,
	CategoryBusiness,
	CategoryResearch,
}

// Valid reports whether c is one of the fixed categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Entities groups the named entities extracted from a document
type Entities struct {
	Companies    []string `json:"companies"`
	Technologies []string `json:"technologies"`
	People       []string `json:"people"`
}

// Count returns the total number of extracted entities
func (e Entities) Count() int {
	return len(e.Companies) + len(e.Technologies) + len(e.People)
}

// ScoringResult is the validated structured assessment of one document
type ScoringResult struct {
	Score          int      `json:"score"`           // 0-100
	Reasoning      string   `json:"score_reasoning"` // Why the score was given
	Category       Category `json:"category"`
	SubCategories  []string `json:"sub_categories"` // 0-3 entries
	Confidence     float64  `json:"confidence"`     // 0.0-1.0
	KeyPoints      []string `json:"key_points"`     // 3-5 entries
	Keywords       []string `json:"keywords"`       // 4-8 entries, most important first
	Entities       Entities `json:"entities"`
	ImpactAnalysis string   `json:"impact_analysis"`
}

// QualityScore blends confidence, entity richness and keyword coverage into
// a secondary signal in [0,1]. It never gates acceptance.
func QualityScore(r ScoringResult) float64 {
	entityPart := math.Min(float64(r.Entities.Count())/10.0, 1.0)
	keywordPart := math.Min(float64(len(r.Keywords))/8.0, 1.0)
	return r.Confidence*0.6 + entityPart*0.2 + keywordPart*0.2
}

// SummaryVariant identifies one of the four generated summaries
type SummaryVariant string

const (
	VariantProfessional   SummaryVariant = "professional"
	VariantScientific     SummaryVariant = "scientific"
	VariantProfessionalEN SummaryVariant = "professional_en"
	VariantScientificEN   SummaryVariant = "scientific_en"
)

// SummaryVariants lists the variants in generation order
var SummaryVariants = []SummaryVariant{
	VariantProfessional,
	VariantScientific,
	VariantProfessionalEN,
	VariantScientificEN,
}

// Summary length bounds, in characters
const (
	MinSummaryLength = 100
	MaxSummaryLength = 1000
)

// SummaryFailedPlaceholder stands in for a summary that could not be generated
const SummaryFailedPlaceholder = "generation failed"

// SummarySet holds the four independently generated summaries. No field is
// ever left empty; failed variants carry degraded text and are listed in
// Degraded.
type SummarySet struct {
	Language       string           `json:"language"` // Primary language of the non-English variants
	Professional   string           `json:"professional"`
	Scientific     string           `json:"scientific"`
	ProfessionalEN string           `json:"professional_en"`
	ScientificEN   string           `json:"scientific_en"`
	Degraded       []SummaryVariant `json:"degraded,omitempty"`
}

// Get returns the text of a variant
func (s *SummarySet) Get(v SummaryVariant) string {
	switch v {
	case VariantProfessional:
		return s.Professional
	case VariantScientific:
		return s.Scientific
	case VariantProfessionalEN:
		return s.ProfessionalEN
	case VariantScientificEN:
		return s.ScientificEN
	}
	return ""
}

// Set stores the text of a variant
func (s *SummarySet) Set(v SummaryVariant, text string) {
	switch v {
	case VariantProfessional:
		s.Professional = text
	case VariantScientific:
		s.Scientific = text
	case VariantProfessionalEN:
		s.ProfessionalEN = text
	case VariantScientificEN:
		s.ScientificEN = text
	}
}

// Cost breakdown key for the scoring call
const CostKeyScoring = "scoring"

// SummaryCostKey returns the cost breakdown key for a summary variant
func SummaryCostKey(v SummaryVariant) string {
	return "summary_" + string(v)
}

// ProcessingMetadata records what a scoring run used and cost
type ProcessingMetadata struct {
	ModelsUsed        []string           `json:"models_used"`
	ScoringProvider   string             `json:"scoring_provider"` // Provider that answered the scoring call
	ProcessingSeconds float64            `json:"processing_seconds"`
	TotalCost         float64            `json:"total_cost"` // USD
	CostBreakdown     map[string]float64 `json:"cost_breakdown"`
	ScoredAt          time.Time          `json:"scored_at"`
}

// ScoredDocument is a document together with its persisted scoring
type ScoredDocument struct {
	Document     Document           `json:"document"`
	Version      int                `json:"version"`
	Result       ScoringResult      `json:"result"`
	Summaries    SummarySet         `json:"summaries"`
	Metadata     ProcessingMetadata `json:"metadata"`
	QualityScore float64            `json:"quality_score"`
}
