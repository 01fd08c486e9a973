package entityproc

import (
	"strings"

	"github.com/entitymesh/resolve/internal/model"
)

// titleFields is the fallback chain used to find "the" title of a document
// record when multiple naming conventions are present.
var titleFields = []string{"document_name", "entry_title", "title", "name"}

// DocumentProcessor implements the Document entity variant (§4.2); it is
// also the Registry fallback for any unrecognized entity type.
type DocumentProcessor struct{}

func NewDocumentProcessor() *DocumentProcessor { return &DocumentProcessor{} }

func (p *DocumentProcessor) EntityType() model.EntityType { return model.Document }

func (p *DocumentProcessor) ComparisonFields() []string {
	return []string{"document_name", "entry_title", "title", "name", "document_type", "description", "notes", "source", "url"}
}

func (p *DocumentProcessor) PrimaryFields() []string {
	return []string{"document_name", "entry_title", "title", "name", "url"}
}

// documentTitle returns the first populated field in titleFields.
func documentTitle(r model.Record) string {
	for _, f := range titleFields {
		if v := strings.TrimSpace(r.String(f)); v != "" {
			return v
		}
	}
	return ""
}

func normalizeURL(u string) string {
	if u == "" {
		return ""
	}
	norm := strings.ToLower(strings.TrimSpace(u))
	norm = schemeRe.ReplaceAllString(norm, "")
	norm = wwwRe.ReplaceAllString(norm, "")
	return strings.TrimRight(norm, "/")
}

func (p *DocumentProcessor) IsCandidate(a, b model.Record) bool {
	urlA := normalizeURL(a.String("url"))
	urlB := normalizeURL(b.String("url"))
	if urlA != "" && urlB != "" && urlA == urlB {
		return true
	}

	titleA := strings.ToLower(documentTitle(a))
	titleB := strings.ToLower(documentTitle(b))
	if titleA == "" || titleB == "" {
		return false
	}

	tokensA := extractKeyTokens(titleA)
	tokensB := extractKeyTokens(titleB)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return false
	}
	overlap, union := overlapAndUnion(tokensA, tokensB)
	return float64(overlap)/float64(union) >= 0.7
}

func (p *DocumentProcessor) Confidence(scores map[string]model.SimilarityScore, _, _ model.Record) float64 {
	if exactMatch(scores, "url") {
		return 95
	}

	titleScore := 0.0
	for _, f := range titleFields {
		if s := fieldScore(scores, f); s > titleScore {
			titleScore = s
		}
	}
	urlScore := fieldScore(scores, "url")
	typeScore := fieldScore(scores, "document_type")
	descScore := fieldScore(scores, "description")
	sourceScore := fieldScore(scores, "source")

	confidence := titleScore*0.5 + urlScore*0.2 + typeScore*0.1 + descScore*0.1 + sourceScore*0.1

	supporting := 0
	for _, f := range []string{"document_type", "description", "source"} {
		if fieldScore(scores, f) > 70 {
			supporting++
		}
	}
	switch {
	case supporting >= 2:
		confidence += 10
	case supporting == 1:
		confidence += 5
	}

	return clampConfidence(confidence)
}
