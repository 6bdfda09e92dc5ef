package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Schema bounds for ScoringResult
const (
	MinScore         = 0
	MaxScore         = 100
	MaxSubCategories = 3
	MinKeyPoints     = 3
	MaxKeyPoints     = 5
	MinKeywords      = 4
	MaxKeywords      = 8
)

// ValidationError reports a field that violates the scoring schema
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// scoringPayload mirrors ScoringResult with pointers so absent fields can be
// told apart from zero values.
type scoringPayload struct {
	Score          *float64  `json:"score"`
	Reasoning      *string   `json:"score_reasoning"`
	Category       *string   `json:"category"`
	SubCategories  []string  `json:"sub_categories"`
	Confidence     *float64  `json:"confidence"`
	KeyPoints      []string  `json:"key_points"`
	Keywords       []string  `json:"keywords"`
	Entities       *Entities `json:"entities"`
	ImpactAnalysis *string   `json:"impact_analysis"`
}

// ParseScoringResult decodes and validates a scoring response body. JSON
// syntax errors are returned wrapped; schema violations are returned as one
// or more *ValidationError joined together. Nothing is clamped or defaulted.
func ParseScoringResult(data []byte) (ScoringResult, error) {
	var p scoringPayload
	if err := json.Unmarshal(data, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return ScoringResult{}, &ValidationError{Field: typeErr.Field, Reason: "wrong type " + typeErr.Value}
		}
		return ScoringResult{}, fmt.Errorf("decode scoring result: %w", err)
	}

	var errs []error
	missing := func(field string) {
		errs = append(errs, &ValidationError{Field: field, Reason: "missing"})
	}

	var result ScoringResult

	switch {
	case p.Score == nil:
		missing("score")
	case *p.Score != math.Trunc(*p.Score):
		errs = append(errs, &ValidationError{Field: "score", Reason: fmt.Sprintf("%v is not an integer", *p.Score)})
	default:
		result.Score = int(*p.Score)
	}

	if p.Reasoning == nil {
		missing("score_reasoning")
	} else {
		result.Reasoning = strings.TrimSpace(*p.Reasoning)
	}

	if p.Category == nil {
		missing("category")
	} else {
		result.Category = Category(strings.TrimSpace(*p.Category))
	}

	if p.Confidence == nil {
		missing("confidence")
	} else {
		result.Confidence = *p.Confidence
	}

	if p.KeyPoints == nil {
		missing("key_points")
	}
	if p.Keywords == nil {
		missing("keywords")
	}
	if p.Entities == nil {
		missing("entities")
	} else {
		result.Entities = normalizeEntities(*p.Entities)
	}
	if p.ImpactAnalysis == nil {
		missing("impact_analysis")
	} else {
		result.ImpactAnalysis = strings.TrimSpace(*p.ImpactAnalysis)
	}

	result.SubCategories = trimAll(p.SubCategories)
	result.KeyPoints = trimAll(p.KeyPoints)
	result.Keywords = trimAll(p.Keywords)

	if len(errs) > 0 {
		return ScoringResult{}, errors.Join(errs...)
	}
	if err := result.Validate(); err != nil {
		return ScoringResult{}, err
	}
	return result, nil
}

// Validate checks every schema bound of r
func (r ScoringResult) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if r.Score < MinScore || r.Score > MaxScore {
		fail("score", "%d outside [%d,%d]", r.Score, MinScore, MaxScore)
	}
	if r.Reasoning == "" {
		fail("score_reasoning", "empty")
	}
	if !r.Category.Valid() {
		fail("category", "%q is not a known category", r.Category)
	}
	if len(r.SubCategories) > MaxSubCategories {
		fail("sub_categories", "%d entries, at most %d allowed", len(r.SubCategories), MaxSubCategories)
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		fail("confidence", "%v outside [0,1]", r.Confidence)
	}
	if n := len(r.KeyPoints); n < MinKeyPoints || n > MaxKeyPoints {
		fail("key_points", "%d entries, want %d-%d", n, MinKeyPoints, MaxKeyPoints)
	}
	if n := len(r.Keywords); n < MinKeywords || n > MaxKeywords {
		fail("keywords", "%d entries, want %d-%d", n, MinKeywords, MaxKeywords)
	}
	if hasBlank(r.SubCategories) {
		fail("sub_categories", "blank entry")
	}
	if hasBlank(r.KeyPoints) {
		fail("key_points", "blank entry")
	}
	if hasBlank(r.Keywords) {
		fail("keywords", "blank entry")
	}
	if r.ImpactAnalysis == "" {
		fail("impact_analysis", "empty")
	}

	return errors.Join(errs...)
}

func trimAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func hasBlank(values []string) bool {
	for _, v := range values {
		if v == "" {
			return true
		}
	}
	return false
}

func normalizeEntities(e Entities) Entities {
	return Entities{
		Companies:    trimAll(e.Companies),
		Technologies: trimAll(e.Technologies),
		People:       trimAll(e.People),
	}
}
