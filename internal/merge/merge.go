// Package merge implements the MergeEngine (C5): proposal construction with
// its five safety checks, strategy selection, the execution gate, and the
// conservative/aggressive merge strategies.
package merge

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/entitymesh/resolve/internal/model"
)

const (
	autoApproveThresholdDefault = 95.0
	lowConfidenceThreshold       = 80.0
	aggressiveThreshold          = 95.0
	dataDisparityRatio           = 3.0
	maxMergedSizeBytes           = 1 << 20 // 1 MiB
)

var identifierFields = []string{"email", "phone", "website", "url", "external_id"}
var organizationFields = []string{"organization", "company", "affiliation"}
var genericNamePatterns = []string{"admin", "test", "user", "unknown", "n/a", "null"}

// Engine builds and executes merge proposals. AutoApproveThreshold is the
// minimum confidence at which a non-auto_approved execution is still
// allowed to proceed (§4.5); zero value uses the spec default of 95.
type Engine struct {
	AutoApproveThreshold float64
	SafetyChecksEnabled  bool
}

// New returns an Engine with the spec's default thresholds and safety
// checks enabled.
func New() *Engine {
	return &Engine{AutoApproveThreshold: autoApproveThresholdDefault, SafetyChecksEnabled: true}
}

func (e *Engine) autoApproveThreshold() float64 {
	if e.AutoApproveThreshold > 0 {
		return e.AutoApproveThreshold
	}
	return autoApproveThresholdDefault
}

// CreateProposal builds a MergeProposal from a scored pair: runs the safety
// suite, derives risk factors, and selects a strategy.
func (e *Engine) CreateProposal(primary, secondary model.Record, entityType model.EntityType, confidence float64, evidence []string, aiSignal *model.AISignal) model.MergeProposal {
	proposal := model.MergeProposal{
		ProposalID: uuid.NewString(),
		Primary:    primary,
		Secondary:  secondary,
		EntityType: entityType,
		Confidence: confidence,
		Evidence:   evidence,
		AISignal:   aiSignal,
		CreatedAt:  time.Now().UTC(),
		Status:     model.ProposalPending,
	}

	proposal.SafetyFlags = runSafetyChecks(primary, secondary)
	proposal.RiskFactors = identifyRiskFactors(proposal)
	proposal.Strategy = selectStrategy(proposal)

	return proposal
}

func runSafetyChecks(primary, secondary model.Record) []model.SafetyFlag {
	var flags []model.SafetyFlag
	if hasConflictingIdentifiers(primary, secondary) {
		flags = append(flags, model.FlagConflictingIdentifiers)
	}
	if hasTemporalConflicts(primary, secondary) {
		flags = append(flags, model.FlagTemporalConflicts)
	}
	if hasRelationshipConflicts(primary, secondary) {
		flags = append(flags, model.FlagRelationshipConflicts)
	}
	if hasDataDisparity(primary, secondary) {
		flags = append(flags, model.FlagDataDisparity)
	}
	if hasSuspiciousPatterns(primary, secondary) {
		flags = append(flags, model.FlagSuspiciousPatterns)
	}
	return flags
}

func hasConflictingIdentifiers(a, b model.Record) bool {
	return anyDisjointFieldSet(a, b, identifierFields)
}

func hasRelationshipConflicts(a, b model.Record) bool {
	return anyDisjointFieldSet(a, b, organizationFields)
}

func anyDisjointFieldSet(a, b model.Record, fields []string) bool {
	for _, field := range fields {
		setA := a.Get(field).AsStringSet()
		setB := b.Get(field).AsStringSet()
		if len(setA) == 0 || len(setB) == 0 {
			continue
		}
		if disjoint(setA, setB) {
			return true
		}
	}
	return false
}

func disjoint(a, b []string) bool {
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := seen[v]; ok {
			return false
		}
	}
	return true
}

var temporalFields = []string{"date", "date_created", "date_modified", "birth_date"}

func hasTemporalConflicts(a, b model.Record) bool {
	for _, field := range temporalFields {
		dateA := a.String(field)
		dateB := b.String(field)
		if dateA == "" || dateB == "" {
			continue
		}
		if dateA != dateB && strings.Contains(strings.ToLower(field), "event") {
			return true
		}
	}
	// spec.md's event date lives under "date" on EventPlace records, which
	// doesn't match "event" in the field name itself; treat EventPlace's
	// primary date field as event-like explicitly.
	dateA := a.String("date")
	dateB := b.String("date")
	return dateA != "" && dateB != "" && dateA != dateB
}

func hasDataDisparity(a, b model.Record) bool {
	countA := nonEmptyFieldCount(a)
	countB := nonEmptyFieldCount(b)
	if countA == 0 || countB == 0 {
		return false
	}
	larger, smaller := float64(countA), float64(countB)
	if smaller > larger {
		larger, smaller = smaller, larger
	}
	return larger/smaller > dataDisparityRatio
}

func nonEmptyFieldCount(r model.Record) int {
	count := 0
	for _, v := range r.Attributes {
		if v.AsString() != "" {
			count++
		}
	}
	return count
}

func hasSuspiciousPatterns(a, b model.Record) bool {
	return containsGenericName(a.String("name")) || containsGenericName(b.String("name"))
}

func containsGenericName(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range genericNamePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func identifyRiskFactors(p model.MergeProposal) []string {
	var risks []string
	if p.Confidence < lowConfidenceThreshold {
		risks = append(risks, "low_confidence")
	}
	if p.AISignal != nil && p.AISignal.Action == model.ActionNeedsHumanReview {
		risks = append(risks, "ai_uncertainty")
	}
	if p.AISignal != nil && p.AISignal.Risk == model.RiskHigh {
		risks = append(risks, "high_risk_assessment")
	}
	if len(p.SafetyFlags) > 0 {
		risks = append(risks, "safety_check_failures")
	}
	return risks
}

func selectStrategy(p model.MergeProposal) model.Strategy {
	switch {
	case p.Confidence >= aggressiveThreshold && len(p.RiskFactors) == 0 && len(p.SafetyFlags) == 0:
		return model.StrategyAggressive
	case p.Confidence < lowConfidenceThreshold || len(p.SafetyFlags) > 0:
		return model.StrategyManualOnly
	default:
		return model.StrategyConservative
	}
}

// Result is the outcome of Execute.
type Result struct {
	Success      bool
	Merged       *model.Record
	Errors       []string
	RollbackInfo map[string]any
}

// Execute runs the execution gate and, if it passes, performs the merge.
// It does not itself write an audit record; the caller (the pipeline) does
// so using the returned Merged record.
func (e *Engine) Execute(proposal *model.MergeProposal, autoApproved bool) Result {
	if !e.isMergeAllowed(*proposal, autoApproved) {
		proposal.Status = model.ProposalFailed
		return Result{Success: false, Errors: []string{"blocked by safety"}}
	}

	var merged model.Record
	var conflicts []model.FieldConflict
	if proposal.Strategy == model.StrategyAggressive {
		merged = performMerge(proposal.Primary, proposal.Secondary, nil)
	} else {
		merged, conflicts = conservativeMerge(proposal.Primary, proposal.Secondary)
		merged = performMerge(proposal.Primary, proposal.Secondary, conflicts)
	}

	mergeInfo := model.MergeInfo{
		MergedFrom: []string{proposal.Primary.ID, proposal.Secondary.ID},
		Confidence: proposal.Confidence,
		Timestamp:  time.Now().UTC(),
		Strategy:   proposal.Strategy,
		Conflicts:  conflicts,
	}
	merged.MergeInfo = &mergeInfo

	if errs := validateMerged(merged, mergeInfo); len(errs) > 0 {
		proposal.Status = model.ProposalFailed
		return Result{Success: false, Errors: errs}
	}

	proposal.Status = model.ProposalExecuted
	proposal.Merged = &merged

	return Result{
		Success: true,
		Merged:  &merged,
		RollbackInfo: map[string]any{
			"original_entities": []string{proposal.Primary.ID, proposal.Secondary.ID},
			"merge_timestamp":   mergeInfo.Timestamp,
		},
	}
}

func (e *Engine) isMergeAllowed(p model.MergeProposal, autoApproved bool) bool {
	if p.Strategy == model.StrategyManualOnly && !autoApproved {
		return false
	}
	if e.SafetyChecksEnabled && len(p.SafetyFlags) > 0 {
		return false
	}
	if !autoApproved && p.Confidence < e.autoApproveThreshold() {
		return false
	}
	return true
}

// conservativeMerge applies §4.5's field-by-field rule set, returning the
// pre-merge-info merged record and any recorded conflicts.
func conservativeMerge(primary, secondary model.Record) (model.Record, []model.FieldConflict) {
	merged := primary.Clone()
	var conflicts []model.FieldConflict

	for key, secondaryVal := range secondary.Attributes {
		if key == "id" || strings.HasPrefix(key, "_") {
			continue
		}
		primaryVal, exists := merged.Attributes[key]
		switch {
		case !exists || primaryVal.IsEmpty():
			merged.Attributes[key] = secondaryVal
		case primaryVal.Kind == model.KindStringSet || secondaryVal.Kind == model.KindStringSet:
			merged.Attributes[key] = unionValue(primaryVal, secondaryVal)
		case primaryVal.AsString() == secondaryVal.AsString():
			// no-op: values already agree
		default:
			conflicts = append(conflicts, model.FieldConflict{
				Field: key, Primary: primaryVal.AsString(), Secondary: secondaryVal.AsString(),
			})
		}
	}
	return merged, conflicts
}

func unionValue(a, b model.Value) model.Value {
	setA := a.AsStringSet()
	setB := b.AsStringSet()
	out := make([]string, 0, len(setA)+len(setB))
	seen := map[string]struct{}{}
	for _, v := range setA {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	for _, v := range setB {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return model.SetValue(out...)
}

// performMerge applies the fill-from-secondary rule used by both
// strategies; conservativeMerge has already resolved conflicts for the
// caller when strategy is Conservative, so this just re-applies the
// fill/union rules over primary, which is idempotent.
func performMerge(primary, secondary model.Record, _ []model.FieldConflict) model.Record {
	merged, _ := conservativeMerge(primary, secondary)
	return merged
}

func validateMerged(merged model.Record, info model.MergeInfo) []string {
	var errs []string

	name := merged.String("name")
	orgName := merged.String("organization_name")
	if name == "" && orgName == "" {
		errs = append(errs, "merged entity missing identifying name")
	}

	size := estimateSize(merged, info)
	if size > maxMergedSizeBytes {
		errs = append(errs, "merged entity too large")
	}
	return errs
}

func estimateSize(merged model.Record, info model.MergeInfo) int {
	attrs := make(map[string]any, len(merged.Attributes))
	for k, v := range merged.Attributes {
		if v.Kind == model.KindStringSet {
			attrs[k] = v.AsStringSet()
		} else {
			attrs[k] = v.AsString()
		}
	}
	payload := struct {
		Attributes map[string]any  `json:"attributes"`
		MergeInfo  model.MergeInfo `json:"_merge_info"`
	}{Attributes: attrs, MergeInfo: info}
	b, err := json.Marshal(payload)
	if err != nil {
		return maxMergedSizeBytes + 1
	}
	return len(b)
}
