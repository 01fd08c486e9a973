package similarity

import (
	"regexp"
	"strings"
)

var wordRe = regexp.MustCompile(`\S+`)
var punctRe = regexp.MustCompile(`[.,\-()&]`)
var locationPunctRe = regexp.MustCompile(`[.,\-#]`)
var whitespaceRe = regexp.MustCompile(`\s+`)

// nameSimilarity implements §4.1's name_specific metric.
func (s *Scorer) nameSimilarity(a, b string) float64 {
	normA := s.normalizeName(a)
	normB := s.normalizeName(b)
	if normA == normB {
		return 100
	}
	if s.areNameVariants(normA, normB) {
		return 95
	}
	return jaccardTokens(normA, normB)
}

func (s *Scorer) normalizeName(name string) string {
	tokens := wordRe.FindAllString(strings.ToLower(name), -1)
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		bare := strings.TrimRight(t, ".")
		if _, ok := titles[bare]; ok {
			continue
		}
		if _, ok := suffixes[bare]; ok {
			continue
		}
		out = append(out, bare)
	}
	return strings.Join(out, " ")
}

func (s *Scorer) areNameVariants(a, b string) bool {
	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)
	for _, ta := range tokensA {
		for _, tb := range tokensB {
			canonA, okA := s.nicknames[ta]
			canonB, okB := s.nicknames[tb]
			if okA && okB && canonA == canonB {
				return true
			}
		}
	}
	return false
}

// organizationSimilarity implements §4.1's organization_specific metric.
func (s *Scorer) organizationSimilarity(a, b string) float64 {
	normA := s.normalizeOrganization(a)
	normB := s.normalizeOrganization(b)
	if normA == normB {
		return 100
	}
	if areAcronymVariants(normA, normB) {
		return 90
	}
	return jaccardTokens(normA, normB)
}

func (s *Scorer) normalizeOrganization(org string) string {
	org = strings.ToLower(org)
	org = punctRe.ReplaceAllString(org, " ")
	tokens := strings.Fields(org)
	for i, t := range tokens {
		if canon, ok := s.orgAbbrev[t]; ok {
			tokens[i] = canon
		}
	}
	return whitespaceRe.ReplaceAllString(strings.Join(tokens, " "), " ")
}

// areAcronymVariants reports whether one side is a single token whose
// letters equal the first letters of the other side's tokens in order.
func areAcronymVariants(a, b string) bool {
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	switch {
	case len(wordsA) == 1 && len(wordsB) > 1:
		return couldBeAbbreviation(wordsA[0], wordsB)
	case len(wordsB) == 1 && len(wordsA) > 1:
		return couldBeAbbreviation(wordsB[0], wordsA)
	default:
		return false
	}
}

func couldBeAbbreviation(abbrev string, fullWords []string) bool {
	if len(abbrev) != len(fullWords) {
		return false
	}
	for i, word := range fullWords {
		if word == "" || !strings.HasPrefix(word, string(abbrev[i])) {
			return false
		}
	}
	return true
}

// locationSimilarity implements §4.1's location_specific metric.
func (s *Scorer) locationSimilarity(a, b string) float64 {
	normA := s.normalizeLocation(a)
	normB := s.normalizeLocation(b)
	if normA == normB {
		return 100
	}
	return jaccardTokens(normA, normB)
}

func (s *Scorer) normalizeLocation(loc string) string {
	loc = strings.ToLower(loc)
	tokens := strings.Fields(loc)
	for i, t := range tokens {
		bare := strings.TrimRight(t, ".")
		if canon, ok := s.streetAbbrev[bare]; ok {
			tokens[i] = canon
		}
	}
	loc = strings.Join(tokens, " ")
	loc = locationPunctRe.ReplaceAllString(loc, " ")
	return whitespaceRe.ReplaceAllString(loc, " ")
}

func jaccardTokens(a, b string) float64 {
	setA := toSet(strings.Fields(a))
	setB := toSet(strings.Fields(b))
	inter, union := intersectUnion(setA, setB)
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union) * 100
}
