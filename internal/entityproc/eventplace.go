package entityproc

import (
	"strings"
	"time"

	"github.com/entitymesh/resolve/internal/model"
)

// dateLayouts are tried in order; the first that parses wins. Ambiguous
// numeric forms favour day-before-month (UK convention), consistent with
// the UK phone normalization in person.go.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"2006-01-02 15:04:05",
	"02-01-2006",
	"January 2, 2006",
	"2 January 2006",
}

// EventPlaceProcessor implements the EventPlace entity variant (§4.2).
type EventPlaceProcessor struct{}

func NewEventPlaceProcessor() *EventPlaceProcessor { return &EventPlaceProcessor{} }

func (p *EventPlaceProcessor) EntityType() model.EntityType { return model.EventPlace }

func (p *EventPlaceProcessor) ComparisonFields() []string {
	return []string{"name", "date", "location", "type", "description", "people"}
}

func (p *EventPlaceProcessor) PrimaryFields() []string {
	return []string{"name", "date", "location"}
}

func (p *EventPlaceProcessor) IsCandidate(a, b model.Record) bool {
	nameA := strings.ToLower(strings.TrimSpace(a.String("name")))
	nameB := strings.ToLower(strings.TrimSpace(b.String("name")))
	if nameA == "" || nameB == "" {
		return false
	}

	tokensA := extractKeyTokens(nameA)
	tokensB := extractKeyTokens(nameB)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return false
	}
	overlap, union := overlapAndUnion(tokensA, tokensB)
	nameJaccard := float64(overlap) / float64(union)

	if nameJaccard >= 0.8 {
		return true
	}
	if nameJaccard >= 0.6 && checkTemporalProximity(a.String("date"), b.String("date")) {
		return true
	}
	return false
}

// checkTemporalProximity reports whether two dates, each parsed against
// dateLayouts in order, fall within 24 hours of one another. Either date
// missing or unparseable does not exclude the pair on temporal grounds.
func checkTemporalProximity(dateA, dateB string) bool {
	ta, ok := parseDate(dateA)
	if !ok {
		return true
	}
	tb, ok := parseDate(dateB)
	if !ok {
		return true
	}
	diff := ta.Sub(tb)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 24*time.Hour
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p *EventPlaceProcessor) Confidence(scores map[string]model.SimilarityScore, _, _ model.Record) float64 {
	nameScore := fieldScore(scores, "name")
	dateScore := fieldScore(scores, "date")
	locationScore := fieldScore(scores, "location")
	typeScore := fieldScore(scores, "type")
	descScore := fieldScore(scores, "description")

	confidence := nameScore*0.3 + dateScore*0.3 + locationScore*0.3 + typeScore*0.05 + descScore*0.05

	switch {
	case dateScore == 100 && locationScore > 50:
		confidence += 25
	case dateScore > 80 && locationScore > 80:
		confidence += 15
	case dateScore > 80 || locationScore > 80:
		confidence += 5
	}

	return clampConfidence(confidence)
}
