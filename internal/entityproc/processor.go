// Package entityproc implements the four EntityProcessor variants (C2): a
// closed set {Person, Organization, EventPlace, Document}, each declaring
// its comparison/primary fields, a cheap symmetric prescreen, and a
// symmetric confidence aggregator over SimilarityScorer output.
package entityproc

import (
	"regexp"
	"strings"

	"github.com/entitymesh/resolve/internal/model"
)

// Processor is the capability interface every entity-type variant
// implements. The variant set is closed; no open-ended inheritance is used.
type Processor interface {
	EntityType() model.EntityType
	ComparisonFields() []string
	PrimaryFields() []string

	// IsCandidate is a cheap, symmetric prescreen: is this pair worth
	// scoring in full?
	IsCandidate(a, b model.Record) bool

	// Confidence aggregates per-field SimilarityScores into a single
	// [0,100] confidence. Must be symmetric in a and b.
	Confidence(scores map[string]model.SimilarityScore, a, b model.Record) float64
}

// Registry selects a Processor by EntityType, falling back to Document for
// any unrecognized or unset type (spec.md §4.7 step 1).
type Registry struct {
	byType map[model.EntityType]Processor
	fallback Processor
}

// NewRegistry builds a Registry with the four default processors.
func NewRegistry() *Registry {
	doc := NewDocumentProcessor()
	return &Registry{
		byType: map[model.EntityType]Processor{
			model.Person:       NewPersonProcessor(),
			model.Organization: NewOrganizationProcessor(),
			model.EventPlace:   NewEventPlaceProcessor(),
			model.Document:     doc,
		},
		fallback: doc,
	}
}

// For returns the processor for t, or the Document processor if t is not
// one of the four recognized types.
func (r *Registry) For(t model.EntityType) Processor {
	if p, ok := r.byType[t]; ok {
		return p
	}
	return r.fallback
}

var nonWordRe = regexp.MustCompile(`[^\w\s]`)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {}, "at": {},
	"to": {}, "for": {}, "of": {}, "with": {}, "by": {},
}

// extractKeyTokens tokenizes text for prescreen overlap checks: lowercase,
// strip punctuation, split on whitespace, drop stop words.
func extractKeyTokens(text string) map[string]struct{} {
	out := map[string]struct{}{}
	if text == "" {
		return out
	}
	cleaned := nonWordRe.ReplaceAllString(strings.ToLower(text), " ")
	for _, tok := range strings.Fields(cleaned) {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

func overlapAndUnion(a, b map[string]struct{}) (overlap, union int) {
	seen := map[string]struct{}{}
	for k := range a {
		seen[k] = struct{}{}
		if _, ok := b[k]; ok {
			overlap++
		}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return overlap, len(seen)
}

func fieldScore(scores map[string]model.SimilarityScore, field string) float64 {
	return scores[field].Composite
}

func exactMatch(scores map[string]model.SimilarityScore, fields ...string) bool {
	for _, f := range fields {
		if scores[f].Metric("exact") == 100 {
			return true
		}
	}
	return false
}

func clampConfidence(v float64) float64 {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}
