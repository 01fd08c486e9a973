// Package similarity implements the multi-metric string similarity scorer
// (C1): exact/sequence/token-set/token-sort/partial/soundex metrics plus
// domain-aware name, organization, and location variants, combined into a
// per-field composite and a pair-level overall score.
package similarity

import (
	"sort"
	"strings"

	"github.com/entitymesh/resolve/internal/model"
)

const (
	MetricExact        = "exact"
	MetricSequence      = "sequence"
	MetricTokenSet      = "token_set"
	MetricTokenSort     = "token_sort"
	MetricPartial       = "partial"
	MetricSoundex       = "soundex"
	MetricName          = "name_specific"
	MetricOrganization  = "organization_specific"
	MetricLocation      = "location_specific"
)

// Scorer computes SimilarityScores for record field pairs. It holds the
// normalization tables (nicknames, organization abbreviations, street
// abbreviations) used by the domain-aware metrics.
type Scorer struct {
	nicknames    map[string]string // variant -> canonical
	orgAbbrev    map[string]string // abbreviation -> canonical
	streetAbbrev map[string]string // abbreviation -> canonical
}

// Option customizes a Scorer at construction time.
type Option func(*Scorer)

// WithNicknames replaces the canonical-name -> variants table.
func WithNicknames(table map[string][]string) Option {
	return func(s *Scorer) { s.nicknames = invert(table) }
}

// New builds a Scorer with the default normalization tables.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		nicknames:    invert(defaultNicknames),
		orgAbbrev:    invert(defaultOrgAbbreviations),
		streetAbbrev: invert(defaultStreetAbbreviations),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func invert(table map[string][]string) map[string]string {
	out := make(map[string]string)
	for canonical, variants := range table {
		out[canonical] = canonical
		for _, v := range variants {
			out[v] = canonical
		}
	}
	return out
}

var defaultNicknames = map[string][]string{
	"anthony":     {"tony", "ant"},
	"david":       {"dave", "davy"},
	"peter":       {"pete", "pier"},
	"robert":      {"rob", "bob", "bobby"},
	"william":     {"will", "bill", "billy"},
	"richard":     {"rick", "dick", "rich"},
	"elizabeth":   {"liz", "beth", "betty"},
	"catherine":   {"cat", "cath", "kate", "katie"},
	"michael":     {"mike", "mick"},
	"christopher": {"chris"},
	"patricia":    {"pat", "patty", "trish"},
}

var defaultOrgAbbreviations = map[string][]string{
	"council":      {"tc", "cc", "dc", "bc", "pc"},
	"committee":    {"cttee", "comm"},
	"association":  {"assoc", "assn"},
	"society":      {"soc"},
	"company":      {"co"},
	"corporation":  {"corp"},
	"limited":      {"ltd"},
	"incorporated": {"inc"},
	"government":   {"gov", "govt"},
	"department":   {"dept", "dep"},
	"authority":    {"auth"},
}

var defaultStreetAbbreviations = map[string][]string{
	"street":  {"st", "str"},
	"road":    {"rd"},
	"avenue":  {"ave"},
	"place":   {"pl"},
	"court":   {"ct"},
	"drive":   {"dr"},
	"lane":    {"ln"},
	"close":   {"cl"},
}

var titles = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sir": {}, "lady": {}, "lord": {},
}

var suffixes = map[string]struct{}{
	"jr": {}, "sr": {}, "ii": {}, "iii": {}, "phd": {}, "md": {}, "esq": {},
}

// nameFieldWeights and friends are the composite weights per §4.1.
var nameFieldWeights = map[string]float64{
	MetricExact:     0.30,
	MetricName:       0.30,
	MetricTokenSet:   0.20,
	MetricSoundex:    0.10,
	MetricSequence:   0.10,
}

var orgFieldWeights = map[string]float64{
	MetricExact:        0.25,
	MetricOrganization: 0.35,
	MetricTokenSet:      0.25,
	MetricSequence:      0.15,
}

var genericFieldWeights = map[string]float64{
	MetricExact:     0.20,
	MetricTokenSet:   0.30,
	MetricSequence:   0.30,
	MetricPartial:    0.20,
}

// overallWeights pairs substring patterns with an importance weight; the
// first matching pattern wins, mirroring the ordered-dict lookup in the
// original implementation.
var overallWeights = []struct {
	pattern string
	weight  float64
}{
	{"name", 0.40},
	{"full_name", 0.40},
	{"organization_name", 0.40},
	{"email", 0.30},
	{"phone", 0.20},
	{"address", 0.15},
	{"organization", 0.20},
	{"location", 0.15},
	{"description", 0.10},
	{"notes", 0.05},
}

const defaultOverallWeight = 0.10

// Score computes a SimilarityScore for every field in fields plus an
// "overall" composite-of-composites score (§4.1).
func (s *Scorer) Score(a, b model.Record, fields []string) map[string]model.SimilarityScore {
	out := make(map[string]model.SimilarityScore, len(fields)+1)

	for _, field := range fields {
		out[field] = s.scoreField(a.String(field), b.String(field), field)
	}
	out["overall"] = model.SimilarityScore{Composite: s.overall(out, fields)}
	return out
}

func (s *Scorer) scoreField(valueA, valueB, field string) model.SimilarityScore {
	a := strings.ToLower(strings.TrimSpace(valueA))
	b := strings.ToLower(strings.TrimSpace(valueB))

	metrics := map[string]float64{}
	if a == "" || b == "" {
		return model.SimilarityScore{Metrics: metrics, Composite: 0}
	}

	metrics[MetricExact] = exactMetric(a, b)
	metrics[MetricSequence] = sequenceRatio(a, b)
	metrics[MetricTokenSet] = tokenSetRatio(a, b)
	metrics[MetricTokenSort] = tokenSortRatio(a, b)
	metrics[MetricPartial] = partialRatio(a, b)
	metrics[MetricSoundex] = soundexMetric(a, b)

	lower := strings.ToLower(field)
	switch {
	case strings.Contains(lower, "name"):
		metrics[MetricName] = s.nameSimilarity(a, b)
	case strings.Contains(lower, "organization"):
		metrics[MetricOrganization] = s.organizationSimilarity(a, b)
	case strings.Contains(lower, "address"), strings.Contains(lower, "location"), strings.Contains(lower, "place"):
		metrics[MetricLocation] = s.locationSimilarity(a, b)
	}

	composite := weightedMean(metrics, compositeWeights(lower))
	return model.SimilarityScore{Metrics: metrics, Composite: composite}
}

func compositeWeights(lowerField string) map[string]float64 {
	switch {
	case strings.Contains(lowerField, "name"):
		return nameFieldWeights
	case strings.Contains(lowerField, "organization"):
		return orgFieldWeights
	default:
		return genericFieldWeights
	}
}

func weightedMean(metrics map[string]float64, weights map[string]float64) float64 {
	var weightedSum, totalWeight float64
	for metric, weight := range weights {
		if v, ok := metrics[metric]; ok {
			weightedSum += v * weight
			totalWeight += weight
		}
	}
	if totalWeight == 0 {
		return 0
	}
	return weightedSum / totalWeight
}

func (s *Scorer) overall(scores map[string]model.SimilarityScore, fields []string) float64 {
	var weightedSum, totalWeight float64
	for _, field := range fields {
		score, ok := scores[field]
		if !ok {
			continue
		}
		weight := defaultOverallWeight
		lower := strings.ToLower(field)
		for _, pw := range overallWeights {
			if strings.Contains(lower, pw.pattern) {
				weight = pw.weight
				break
			}
		}
		weightedSum += score.Composite * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weightedSum / totalWeight
}

func exactMetric(a, b string) float64 {
	if a == b {
		return 100
	}
	return 0
}

func tokenize(s string) []string {
	return strings.Fields(s)
}

func tokenSetRatio(a, b string) float64 {
	setA := toSet(tokenize(a))
	setB := toSet(tokenize(b))
	inter, union := intersectUnion(setA, setB)
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union) * 100
}

func tokenSortRatio(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	sort.Strings(tokensA)
	sort.Strings(tokensB)
	return sequenceRatio(strings.Join(tokensA, " "), strings.Join(tokensB, " "))
}

// sequenceRatio is a longest-common-subsequence ratio: 2*|LCS| / (|a|+|b|).
func sequenceRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	lcs := lcsLength(a, b)
	total := len(a) + len(b)
	if total == 0 {
		return 0
	}
	return float64(2*lcs) / float64(total) * 100
}

func lcsLength(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n, m := len(ra), len(rb)
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[m]
}

// partialRatio is the best substring overlap: longest common substring,
// scaled by 2*size/(len(a)+len(b)).
func partialRatio(a, b string) float64 {
	size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := len(a) + len(b)
	if total == 0 {
		return 0
	}
	return float64(2*size) / float64(total) * 100
}

func longestCommonSubstring(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n, m := len(ra), len(rb)
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	best := 0
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > best {
					best = curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
		for j := range curr {
			curr[j] = 0
		}
	}
	return best
}

// soundexMetric reports 0 or 100 using a simplified soundex digit mapping.
func soundexMetric(a, b string) float64 {
	if simpleSoundex(a) == simpleSoundex(b) {
		return 100
	}
	return 0
}

func simpleSoundex(s string) string {
	var letters []rune
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteRune(letters[0])
	for _, r := range letters[1:] {
		switch {
		case strings.ContainsRune("bfpv", r):
			b.WriteByte('1')
		case strings.ContainsRune("cgjkqsxz", r):
			b.WriteByte('2')
		case strings.ContainsRune("dt", r):
			b.WriteByte('3')
		case r == 'l':
			b.WriteByte('4')
		case strings.ContainsRune("mn", r):
			b.WriteByte('5')
		case r == 'r':
			b.WriteByte('6')
		}
	}
	out := b.String()
	if len(out) > 4 {
		out = out[:4]
	}
	for len(out) < 4 {
		out += "0"
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

func intersectUnion(a, b map[string]struct{}) (inter, union int) {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
		if _, ok := b[k]; ok {
			inter++
		}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return inter, len(seen)
}
