package entityproc

import (
	"regexp"
	"strings"

	"github.com/entitymesh/resolve/internal/model"
)

var nonDigitRe = regexp.MustCompile(`\D`)

// PersonProcessor implements the Person entity variant (§4.2).
type PersonProcessor struct{}

func NewPersonProcessor() *PersonProcessor { return &PersonProcessor{} }

func (p *PersonProcessor) EntityType() model.EntityType { return model.Person }

func (p *PersonProcessor) ComparisonFields() []string {
	return []string{"name", "email", "phone", "organization", "role", "address", "notes"}
}

func (p *PersonProcessor) PrimaryFields() []string {
	return []string{"name", "email", "phone"}
}

func (p *PersonProcessor) IsCandidate(a, b model.Record) bool {
	emailA := strings.ToLower(strings.TrimSpace(a.String("email")))
	emailB := strings.ToLower(strings.TrimSpace(b.String("email")))
	if emailA != "" && emailB != "" && emailA == emailB {
		return true
	}

	phoneA := normalizePhone(a.String("phone"))
	phoneB := normalizePhone(b.String("phone"))
	if phoneA != "" && phoneB != "" && phoneA == phoneB {
		return true
	}

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
	overlap, _ := overlapAndUnion(tokensA, tokensB)
	minTokens := len(tokensA)
	if len(tokensB) < minTokens {
		minTokens = len(tokensB)
	}
	return float64(overlap)/float64(minTokens) >= 0.6
}

// normalizePhone keeps digits only; a leading UK country code (44, 13
// digits) becomes a leading 0, a bare 10-digit number gets a leading 0
// prepended, and anything other than 11 digits is rejected (not a phone).
func normalizePhone(phone string) string {
	digits := nonDigitRe.ReplaceAllString(phone, "")
	switch {
	case strings.HasPrefix(digits, "44") && len(digits) == 13:
		digits = "0" + digits[2:]
	case len(digits) == 10:
		digits = "0" + digits
	}
	if len(digits) == 11 {
		return digits
	}
	return ""
}

func (p *PersonProcessor) Confidence(scores map[string]model.SimilarityScore, _, _ model.Record) float64 {
	if exactMatch(scores, "email", "phone") {
		return 95
	}

	nameScore := fieldScore(scores, "name")
	orgScore := fieldScore(scores, "organization")
	roleScore := fieldScore(scores, "role")

	confidence := nameScore*0.6 + orgScore*0.2 + roleScore*0.2

	supporting := 0
	for _, f := range []string{"organization", "role", "address"} {
		if fieldScore(scores, f) > 70 {
			supporting++
		}
	}
	switch {
	case supporting >= 2:
		confidence += 15
	case supporting == 1:
		confidence += 5
	}

	return clampConfidence(confidence)
}
