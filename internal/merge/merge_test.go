package merge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entitymesh/resolve/internal/model"
)

func rec(id string, attrs map[string]any) model.Record {
	out := make(map[string]model.Value, len(attrs))
	for k, v := range attrs {
		switch t := v.(type) {
		case []string:
			out[k] = model.SetValue(t...)
		case string:
			out[k] = model.StringValue(t)
		}
	}
	return model.NewRecord(id, out)
}

func TestConflictingIdentifiersDisjointSets(t *testing.T) {
	a := rec("a:1", map[string]any{"email": "j@x.com"})
	b := rec("a:2", map[string]any{"email": "k@y.com"})
	assert.True(t, hasConflictingIdentifiers(a, b))
}

func TestConflictingIdentifiersOverlappingSets(t *testing.T) {
	// spec §8: primary has two emails, secondary has one that overlaps.
	a := rec("a:1", map[string]any{"email": []string{"j@x.com", "j@y.com"}})
	b := rec("a:2", map[string]any{"email": "j@x.com"})
	assert.False(t, hasConflictingIdentifiers(a, b))
}

func TestConflictingIdentifiersMissingFieldIgnored(t *testing.T) {
	a := rec("a:1", map[string]any{"name": "Jane"})
	b := rec("a:2", map[string]any{"name": "Jane"})
	assert.False(t, hasConflictingIdentifiers(a, b))
}

func TestRelationshipConflictsDisjointOrgs(t *testing.T) {
	a := rec("a:1", map[string]any{"organization": "Acme"})
	b := rec("a:2", map[string]any{"organization": "Globex"})
	assert.True(t, hasRelationshipConflicts(a, b))
}

func TestTemporalConflictsDifferingDates(t *testing.T) {
	a := rec("a:1", map[string]any{"date": "2024-01-01"})
	b := rec("a:2", map[string]any{"date": "2024-06-01"})
	assert.True(t, hasTemporalConflicts(a, b))
}

func TestTemporalConflictsMatchingDates(t *testing.T) {
	a := rec("a:1", map[string]any{"date": "2024-01-01"})
	b := rec("a:2", map[string]any{"date": "2024-01-01"})
	assert.False(t, hasTemporalConflicts(a, b))
}

func TestDataDisparityLargeGap(t *testing.T) {
	a := rec("a:1", map[string]any{"name": "Jane", "email": "j@x.com", "phone": "555", "address": "1 Main"})
	b := rec("a:2", map[string]any{"name": "Jane"})
	assert.True(t, hasDataDisparity(a, b))
}

func TestDataDisparityComparableSizes(t *testing.T) {
	a := rec("a:1", map[string]any{"name": "Jane", "email": "j@x.com"})
	b := rec("a:2", map[string]any{"name": "Jane", "phone": "555"})
	assert.False(t, hasDataDisparity(a, b))
}

func TestSuspiciousPatternsGenericName(t *testing.T) {
	a := rec("a:1", map[string]any{"name": "Test User"})
	b := rec("a:2", map[string]any{"name": "Jane Doe"})
	assert.True(t, hasSuspiciousPatterns(a, b))
}

func TestSelectStrategyAggressive(t *testing.T) {
	p := model.MergeProposal{Confidence: 97}
	assert.Equal(t, model.StrategyAggressive, selectStrategy(p))
}

func TestSelectStrategyManualOnlyLowConfidence(t *testing.T) {
	p := model.MergeProposal{Confidence: 60}
	assert.Equal(t, model.StrategyManualOnly, selectStrategy(p))
}

func TestSelectStrategyManualOnlySafetyFlag(t *testing.T) {
	p := model.MergeProposal{Confidence: 99, SafetyFlags: []model.SafetyFlag{model.FlagConflictingIdentifiers}}
	assert.Equal(t, model.StrategyManualOnly, selectStrategy(p))
}

func TestSelectStrategyConservativeMiddleGround(t *testing.T) {
	p := model.MergeProposal{Confidence: 85}
	assert.Equal(t, model.StrategyConservative, selectStrategy(p))
}

func TestIdentifyRiskFactors(t *testing.T) {
	p := model.MergeProposal{
		Confidence:  70,
		AISignal:    &model.AISignal{Action: model.ActionNeedsHumanReview, Risk: model.RiskHigh},
		SafetyFlags: []model.SafetyFlag{model.FlagDataDisparity},
	}
	risks := identifyRiskFactors(p)
	assert.Contains(t, risks, "low_confidence")
	assert.Contains(t, risks, "ai_uncertainty")
	assert.Contains(t, risks, "high_risk_assessment")
	assert.Contains(t, risks, "safety_check_failures")
}

func TestCreateProposalWiresEverything(t *testing.T) {
	e := New()
	primary := rec("a:1", map[string]any{"name": "Jane Doe", "email": "j@x.com"})
	secondary := rec("a:2", map[string]any{"name": "Jane Doe", "email": "j@x.com"})
	p := e.CreateProposal(primary, secondary, model.Person, 97, []string{"exact email"}, nil)
	require.NotEmpty(t, p.ProposalID)
	assert.Equal(t, model.ProposalPending, p.Status)
	assert.Equal(t, model.StrategyAggressive, p.Strategy)
	assert.Empty(t, p.SafetyFlags)
}

func TestIsMergeAllowedBlocksManualOnlyWithoutApproval(t *testing.T) {
	e := New()
	p := model.MergeProposal{Strategy: model.StrategyManualOnly, Confidence: 99}
	assert.False(t, e.isMergeAllowed(p, false))
	assert.True(t, e.isMergeAllowed(p, true))
}

func TestIsMergeAllowedBlocksOnSafetyFlagWhenEnabled(t *testing.T) {
	e := New()
	p := model.MergeProposal{
		Strategy:    model.StrategyConservative,
		Confidence:  99,
		SafetyFlags: []model.SafetyFlag{model.FlagDataDisparity},
	}
	assert.False(t, e.isMergeAllowed(p, true))

	e.SafetyChecksEnabled = false
	assert.True(t, e.isMergeAllowed(p, true))
}

func TestIsMergeAllowedBlocksBelowAutoApproveThreshold(t *testing.T) {
	e := New()
	p := model.MergeProposal{Strategy: model.StrategyConservative, Confidence: 90}
	assert.False(t, e.isMergeAllowed(p, false))
	assert.True(t, e.isMergeAllowed(p, true))
}

func TestConservativeMergeUnionsEmailSet(t *testing.T) {
	// spec §8's literal scenario.
	primary := rec("a:1", map[string]any{"email": []string{"j@x.com", "j@y.com"}})
	secondary := rec("a:2", map[string]any{"email": "j@x.com"})

	merged, conflicts := conservativeMerge(primary, secondary)
	assert.Empty(t, conflicts)
	assert.ElementsMatch(t, []string{"j@x.com", "j@y.com"}, merged.Get("email").AsStringSet())
}

func TestConservativeMergeFillsEmptyField(t *testing.T) {
	primary := rec("a:1", map[string]any{"name": "Jane"})
	secondary := rec("a:2", map[string]any{"name": "Jane", "phone": "555-1234"})

	merged, conflicts := conservativeMerge(primary, secondary)
	assert.Empty(t, conflicts)
	assert.Equal(t, "555-1234", merged.String("phone"))
}

func TestConservativeMergeRecordsScalarConflict(t *testing.T) {
	primary := rec("a:1", map[string]any{"address": "1 Main St"})
	secondary := rec("a:2", map[string]any{"address": "2 Other Ave"})

	merged, conflicts := conservativeMerge(primary, secondary)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "address", conflicts[0].Field)
	assert.Equal(t, "1 Main St", merged.String("address"))
}

func TestExecuteConservativeRecordsConflictsInMergeInfo(t *testing.T) {
	e := New()
	primary := rec("a:1", map[string]any{"name": "Jane", "address": "1 Main St"})
	secondary := rec("a:2", map[string]any{"name": "Jane", "address": "2 Other Ave"})
	p := e.CreateProposal(primary, secondary, model.Person, 85, nil, nil)
	require.Equal(t, model.StrategyConservative, p.Strategy)

	// 85 is below the auto-approve threshold, so execution needs approval.
	result := e.Execute(&p, true)
	require.True(t, result.Success)
	require.NotNil(t, result.Merged)
	assert.Equal(t, "Jane", result.Merged.String("name"))

	require.NotNil(t, result.Merged.MergeInfo)
	info := result.Merged.MergeInfo
	assert.ElementsMatch(t, []string{"a:1", "a:2"}, info.MergedFrom)
	assert.Equal(t, 85.0, info.Confidence)
	assert.Equal(t, model.StrategyConservative, info.Strategy)
	require.Len(t, info.Conflicts, 1)
	assert.Equal(t, "address", info.Conflicts[0].Field)
}

func TestExecuteAggressiveDoesNotBlockOnMissingApproval(t *testing.T) {
	e := New()
	primary := rec("a:1", map[string]any{"name": "Jane", "email": "j@x.com"})
	secondary := rec("a:2", map[string]any{"name": "Jane", "email": "j@x.com"})
	p := e.CreateProposal(primary, secondary, model.Person, 97, nil, nil)
	require.Equal(t, model.StrategyAggressive, p.Strategy)

	result := e.Execute(&p, false)
	assert.True(t, result.Success)
	assert.Equal(t, model.ProposalExecuted, p.Status)

	require.NotNil(t, result.Merged.MergeInfo)
	assert.Equal(t, model.StrategyAggressive, result.Merged.MergeInfo.Strategy)
	assert.Empty(t, result.Merged.MergeInfo.Conflicts)
}

func TestExecuteBlockedByManualOnly(t *testing.T) {
	e := New()
	primary := rec("a:1", map[string]any{"email": "j@x.com"})
	secondary := rec("a:2", map[string]any{"email": "k@y.com"})
	p := e.CreateProposal(primary, secondary, model.Person, 60, nil, nil)
	require.Equal(t, model.StrategyManualOnly, p.Strategy)

	result := e.Execute(&p, false)
	assert.False(t, result.Success)
	assert.Equal(t, model.ProposalFailed, p.Status)
}

func TestValidateMergedRejectsMissingName(t *testing.T) {
	merged := rec("a:1", map[string]any{"email": "j@x.com"})
	errs := validateMerged(merged, model.MergeInfo{})
	assert.NotEmpty(t, errs)
}

func TestValidateMergedRejectsOversizedRecord(t *testing.T) {
	big := make([]string, 0, 20000)
	for i := 0; i < 20000; i++ {
		big = append(big, fmt.Sprintf("padding-value-to-exceed-one-mebibyte-of-json-%05d", i))
	}
	merged := rec("a:1", map[string]any{"name": "Jane", "notes": big})
	errs := validateMerged(merged, model.MergeInfo{})
	assert.Contains(t, errs, "merged entity too large")
}
