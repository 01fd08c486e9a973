package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entitymesh/resolve/internal/audit"
	"github.com/entitymesh/resolve/internal/config"
	"github.com/entitymesh/resolve/internal/model"
	"github.com/entitymesh/resolve/migrations"
)

func newTestStore(t *testing.T) *audit.Store {
	t.Helper()
	s, err := audit.Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared", migrations.FS)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func person(id, name, email, phone, org string) model.Record {
	return model.NewRecord(id, map[string]model.Value{
		"name":         model.StringValue(name),
		"email":        model.StringValue(email),
		"phone":        model.StringValue(phone),
		"organization": model.StringValue(org),
	})
}

type stubAnalyzer struct {
	signal *model.AISignal
}

func (s stubAnalyzer) Analyze(context.Context, model.Record, model.Record, model.EntityType) (*model.AISignal, error) {
	return s.signal, nil
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, model.Record, model.Record, model.EntityType) (*model.AISignal, error) {
	return nil, errors.New("transport down")
}

func TestAnalyzeNicknameMatchAutoMergesWithSafetyModeOff(t *testing.T) {
	store := newTestStore(t)
	cfg := config.Default()
	cfg.SafetyMode = false

	p := New(store, cfg)

	// Phone and organization are written identically on both sides: differently
	// written values would raise conflicting_identifiers/relationship_conflicts
	// safety flags, and any flag blocks the merge.
	a := person("p1", "Anthony Smith", "tony.smith@ex.com", "01234567890", "Swanage Town Council")
	b := person("p2", "Tony Smith", "tony.smith@ex.com", "01234567890", "Swanage Town Council")

	result, err := p.Analyze(context.Background(), "people", model.Person, []model.Record{a, b}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.CandidatePairs)
	require.Len(t, result.AutoMerge, 1)
	assert.GreaterOrEqual(t, result.AutoMerge[0].Confidence, 95.0)
	assert.Equal(t, 1, result.AutoMerged)
	assert.Equal(t, 0, result.ReviewTasksCreated)
}

func TestAnalyzeSafetyModeBlocksAutomaticMergeAndQueuesHighPriorityReview(t *testing.T) {
	store := newTestStore(t)
	cfg := config.Default()
	cfg.SafetyMode = true

	p := New(store, cfg)

	a := person("p1", "Anthony Smith", "tony.smith@ex.com", "01234567890", "Swanage Town Council")
	b := person("p2", "Tony Smith", "tony.smith@ex.com", "01234 567 890", "STC")

	result, err := p.Analyze(context.Background(), "people", model.Person, []model.Record{a, b}, false)
	require.NoError(t, err)

	require.Len(t, result.AutoMerge, 1)
	assert.Equal(t, 0, result.AutoMerged)
	assert.Equal(t, 1, result.ReviewTasksCreated)

	tasks, err := store.ListPending(context.Background(), "", model.PriorityHigh)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestRouteReviewBandPicksPriorityByEightyConfidenceSplit(t *testing.T) {
	store := newTestStore(t)
	p := New(store, config.Default())

	high := model.PairCandidate{
		EntityA: person("p1", "a", "", "", ""), EntityB: person("p2", "b", "", "", ""),
		Confidence: 85, Classification: model.ClassReview,
	}
	low := model.PairCandidate{
		EntityA: person("p3", "a", "", "", ""), EntityB: person("p4", "b", "", "", ""),
		Confidence: 72, Classification: model.ClassReview,
	}

	var result DedupResult
	var failures int
	ctx := context.Background()

	aborted, err := p.route(ctx, "people", high, &result, &failures)
	require.NoError(t, err)
	assert.False(t, aborted)

	aborted, err = p.route(ctx, "people", low, &result, &failures)
	require.NoError(t, err)
	assert.False(t, aborted)

	assert.Equal(t, 2, result.ReviewTasksCreated)

	medTasks, err := store.ListPending(ctx, "", model.PriorityMed)
	require.NoError(t, err)
	require.Len(t, medTasks, 1)
	assert.Equal(t, "p1", medTasks[0].Pair.EntityAID)

	lowTasks, err := store.ListPending(ctx, "", model.PriorityLow)
	require.NoError(t, err)
	require.Len(t, lowTasks, 1)
	assert.Equal(t, "p3", lowTasks[0].Pair.EntityAID)
}

func TestAnalyzeBlendsExternalSignalWhenAboveReviewThreshold(t *testing.T) {
	store := newTestStore(t)
	cfg := config.Default()
	cfg.SafetyMode = false

	signal := &model.AISignal{Confidence: 100, Action: model.ActionMerge}
	p := New(store, cfg, WithAnalyzer(stubAnalyzer{signal: signal}))

	a := person("p1", "Anthony Smith", "tony.smith@ex.com", "01234567890", "Swanage Town Council")
	b := person("p2", "Tony Smith", "tony.smith@ex.com", "01234 567 890", "STC")

	result, err := p.Analyze(context.Background(), "people", model.Person, []model.Record{a, b}, true)
	require.NoError(t, err)

	require.Len(t, result.AutoMerge, 1)
	assert.Equal(t, signal, result.AutoMerge[0].AISignal)
}

func TestAnalyzeDegradesSilentlyWhenExternalAnalyzerErrors(t *testing.T) {
	store := newTestStore(t)
	cfg := config.Default()

	p := New(store, cfg, WithAnalyzer(failingAnalyzer{}))

	a := person("p1", "Anthony Smith", "tony.smith@ex.com", "01234567890", "Swanage Town Council")
	b := person("p2", "Tony Smith", "tony.smith@ex.com", "01234 567 890", "STC")

	result, err := p.Analyze(context.Background(), "people", model.Person, []model.Record{a, b}, true)
	require.NoError(t, err)
	require.Len(t, result.AutoMerge, 1)
	assert.Nil(t, result.AutoMerge[0].AISignal)
}

func TestAnalyzeSkipsRecordsWithEmptyID(t *testing.T) {
	store := newTestStore(t)
	p := New(store, config.Default())

	a := person("", "Ghost Record", "", "", "")
	b := person("p2", "Tony Smith", "tony.smith@ex.com", "01234 567 890", "STC")

	result, err := p.Analyze(context.Background(), "people", model.Person, []model.Record{a, b}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedRecords)
	assert.Equal(t, 0, result.CandidatePairs)
}

func TestAnalyzeNoCandidatesYieldsEmptyBucketsNotNilResult(t *testing.T) {
	store := newTestStore(t)
	p := New(store, config.Default())

	a := person("p1", "Completely Unrelated Alpha", "alpha@example.com", "", "")
	b := person("p2", "Totally Different Beta", "beta@example.com", "", "")

	result, err := p.Analyze(context.Background(), "people", model.Person, []model.Record{a, b}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.CandidatePairs)
	assert.Empty(t, result.AutoMerge)
	assert.Empty(t, result.Review)
	assert.Empty(t, result.Low)
}

func TestAnalyzeRespectsCancelledContext(t *testing.T) {
	store := newTestStore(t)
	p := New(store, config.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records := make([]model.Record, 0, 6)
	for i := 0; i < 6; i++ {
		records = append(records, person("p"+string(rune('a'+i)), "Tony Smith", "tony.smith@ex.com", "01234567890", "STC"))
	}

	result, err := p.Analyze(ctx, "people", model.Person, records, false)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
}

func TestClassifyThreeWaySplit(t *testing.T) {
	cfg := config.Default() // auto_merge=90, human_review=70

	assert.Equal(t, model.ClassAutoMerge, classify(95, cfg))
	assert.Equal(t, model.ClassReview, classify(75, cfg))
	assert.Equal(t, model.ClassLow, classify(40, cfg))
	// The classification step never yields ClassReject (spec §4.7 step 6 is
	// a three-way split); it is reserved for adapters recording an explicit
	// separate decision elsewhere.
	assert.NotEqual(t, model.ClassReject, classify(0, cfg))
}

func TestRouteTripsCircuitBreakerAfterFiveConsecutiveStoreFailures(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	p := New(store, config.Default())

	var result DedupResult
	var failures int
	ctx := context.Background()

	var lastErr error
	var aborted bool
	for i := 0; i < maxConsecutiveStoreFailures; i++ {
		pc := model.PairCandidate{
			EntityA: person("p1", "a", "", "", ""), EntityB: person("p2", "b", "", "", ""),
			Confidence: 75, Classification: model.ClassReview,
		}
		aborted, lastErr = p.route(ctx, "people", pc, &result, &failures)
		if aborted {
			break
		}
	}

	assert.True(t, aborted)
	assert.ErrorIs(t, lastErr, ErrStoreCircuitOpen)
	assert.Equal(t, maxConsecutiveStoreFailures, result.FailedPairs)
}

func TestConfidenceDistributionBucketsEdges(t *testing.T) {
	var d ConfidenceDistribution
	d.add(90)   // GTE90 boundary
	d.add(75)   // squarely in [70,90)
	d.add(55)   // squarely in [50,70)
	d.add(10)   // LT50

	assert.Equal(t, 1, d.GTE90)
	assert.Equal(t, 1, d.Between70)
	assert.Equal(t, 1, d.Between50)
	assert.Equal(t, 1, d.LT50)
}
