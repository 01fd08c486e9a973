package entityproc

import (
	"regexp"
	"strings"

	"github.com/entitymesh/resolve/internal/model"
)

var schemeRe = regexp.MustCompile(`^https?://`)
var wwwRe = regexp.MustCompile(`^www\.`)

// OrganizationProcessor implements the Organization entity variant (§4.2).
type OrganizationProcessor struct{}

func NewOrganizationProcessor() *OrganizationProcessor { return &OrganizationProcessor{} }

func (p *OrganizationProcessor) EntityType() model.EntityType { return model.Organization }

func (p *OrganizationProcessor) ComparisonFields() []string {
	return []string{"name", "website", "email", "phone", "address", "category", "key_people", "notes"}
}

func (p *OrganizationProcessor) PrimaryFields() []string {
	return []string{"name", "website", "email"}
}

func (p *OrganizationProcessor) IsCandidate(a, b model.Record) bool {
	websiteA := normalizeWebsite(a.String("website"))
	websiteB := normalizeWebsite(b.String("website"))
	if websiteA != "" && websiteB != "" && websiteA == websiteB {
		return true
	}

	emailA := strings.ToLower(strings.TrimSpace(a.String("email")))
	emailB := strings.ToLower(strings.TrimSpace(b.String("email")))
	if emailA != "" && emailB != "" {
		if domainOf(emailA) == domainOf(emailB) && domainOf(emailA) != "" {
			return true
		}
	}

	nameA := strings.ToLower(strings.TrimSpace(a.String("name")))
	nameB := strings.ToLower(strings.TrimSpace(b.String("name")))
	if nameA == "" || nameB == "" {
		return false
	}

	if couldBeOrgAbbreviation(nameA, nameB) {
		return true
	}

	tokensA := extractKeyTokens(nameA)
	tokensB := extractKeyTokens(nameB)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return false
	}
	overlap, union := overlapAndUnion(tokensA, tokensB)
	return float64(overlap)/float64(union) >= 0.5
}

func normalizeWebsite(website string) string {
	if website == "" {
		return ""
	}
	w := strings.ToLower(strings.TrimSpace(website))
	w = schemeRe.ReplaceAllString(w, "")
	w = wwwRe.ReplaceAllString(w, "")
	return strings.TrimRight(w, "/")
}

func domainOf(email string) string {
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return ""
	}
	return email[idx+1:]
}

// couldBeOrgAbbreviation checks the two shapes the original source
// recognizes: one side is a single-token initialism of the other side's
// words, or the pair matches one of a fixed list of full-form/abbreviation
// substring patterns.
func couldBeOrgAbbreviation(nameA, nameB string) bool {
	wordsA := strings.Fields(nameA)
	wordsB := strings.Fields(nameB)

	switch {
	case len(wordsA) == 1 && len(wordsB) >= 2:
		if checkAbbreviationMatch(wordsA[0], wordsB) {
			return true
		}
	case len(wordsB) == 1 && len(wordsA) >= 2:
		if checkAbbreviationMatch(wordsB[0], wordsA) {
			return true
		}
	}
	return checkCommonAbbreviations(nameA, nameB)
}

func checkAbbreviationMatch(abbrev string, fullWords []string) bool {
	if len(abbrev) < 2 || len(abbrev) > len(fullWords) {
		return false
	}
	var firstLetters strings.Builder
	for _, w := range fullWords {
		if w == "" {
			continue
		}
		firstLetters.WriteByte(w[0])
	}
	return strings.EqualFold(abbrev, firstLetters.String())
}

var commonAbbreviationPatterns = []struct{ full, abbrev string }{
	{"swanage town council", "stc"},
	{"town council", "tc"},
	{"city council", "cc"},
	{"district council", "dc"},
	{"borough council", "bc"},
	{"parish council", "pc"},
	{"community council", "cc"},
	{"corporation", "corp"},
	{"company", "co"},
	{"limited", "ltd"},
	{"incorporated", "inc"},
	{"association", "assoc"},
	{"society", "soc"},
	{"committee", "cttee"},
	{"department", "dept"},
	{"government", "gov"},
	{"authority", "auth"},
}

func checkCommonAbbreviations(nameA, nameB string) bool {
	for _, pat := range commonAbbreviationPatterns {
		if (strings.Contains(nameA, pat.full) && strings.Contains(nameB, pat.abbrev)) ||
			(strings.Contains(nameB, pat.full) && strings.Contains(nameA, pat.abbrev)) {
			return true
		}
	}
	return false
}

func (p *OrganizationProcessor) Confidence(scores map[string]model.SimilarityScore, a, b model.Record) float64 {
	if exactMatch(scores, "website", "email") {
		return 95
	}

	nameScore := fieldScore(scores, "name")
	websiteScore := fieldScore(scores, "website")
	emailScore := fieldScore(scores, "email")
	categoryScore := fieldScore(scores, "category")

	var abbreviationBoost float64
	if couldBeOrgAbbreviation(strings.ToLower(a.String("name")), strings.ToLower(b.String("name"))) {
		abbreviationBoost = 50
	}

	confidence := nameScore*0.5 + websiteScore*0.2 + emailScore*0.2 + categoryScore*0.1
	confidence = clampConfidence(confidence + abbreviationBoost)

	supporting := 0
	for _, f := range []string{"website", "email", "phone", "address"} {
		if fieldScore(scores, f) > 80 {
			supporting++
		}
	}
	switch {
	case supporting >= 2:
		confidence += 20
	case supporting == 1:
		confidence += 10
	}

	return clampConfidence(confidence)
}
