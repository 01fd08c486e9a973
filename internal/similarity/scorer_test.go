package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entitymesh/resolve/internal/model"
)

func rec(id string, attrs map[string]string) model.Record {
	vals := make(map[string]model.Value, len(attrs))
	for k, v := range attrs {
		vals[k] = model.StringValue(v)
	}
	return model.NewRecord(id, vals)
}

func TestScoreEmptyFieldIsZero(t *testing.T) {
	s := New()
	a := rec("a", map[string]string{"name": ""})
	b := rec("b", map[string]string{"name": "Tony"})
	scores := s.Score(a, b, []string{"name"})
	assert.Zero(t, scores["name"].Composite)
}

func TestNameNicknameVariant(t *testing.T) {
	s := New()
	assert.Equal(t, 95.0, s.nameSimilarity("anthony smith", "tony smith"))
}

func TestNameExactAfterTitleStrip(t *testing.T) {
	s := New()
	assert.Equal(t, 100.0, s.nameSimilarity("dr. jane doe", "jane doe"))
}

func TestOrganizationAcronym(t *testing.T) {
	s := New()
	got := s.organizationSimilarity("swanage town council", "stc")
	assert.Equal(t, 90.0, got)
}

func TestOrganizationAbbreviationNormalization(t *testing.T) {
	s := New()
	got := s.organizationSimilarity("johnson corp", "johnson corporation")
	assert.Equal(t, 100.0, got)
}

func TestLocationStreetAbbreviation(t *testing.T) {
	s := New()
	got := s.locationSimilarity("12 high st", "12 high street")
	assert.Equal(t, 100.0, got)
}

func TestMetricsBoundedAndComposite(t *testing.T) {
	s := New()
	a := rec("a", map[string]string{"name": "Anthony Smith"})
	b := rec("b", map[string]string{"name": "Tony Smith"})
	scores := s.Score(a, b, []string{"name"})

	for metric, v := range scores["name"].Metrics {
		assert.GreaterOrEqualf(t, v, 0.0, "metric %s below 0", metric)
		assert.LessOrEqualf(t, v, 100.0, "metric %s above 100", metric)
	}
	assert.GreaterOrEqual(t, scores["name"].Composite, 0.0)
	assert.LessOrEqual(t, scores["name"].Composite, 100.0)
}

func TestOverallScoreSymmetric(t *testing.T) {
	s := New()
	a := rec("a", map[string]string{"name": "Anthony Smith", "email": "tony@ex.com"})
	b := rec("b", map[string]string{"name": "Tony Smith", "email": "tony@ex.com"})

	fwd := s.Score(a, b, []string{"name", "email"})["overall"].Composite
	rev := s.Score(b, a, []string{"name", "email"})["overall"].Composite
	assert.InDelta(t, fwd, rev, 0.001)
}
