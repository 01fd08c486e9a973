package model

import "time"

// ProposalStatus is the lifecycle state of a MergeProposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExecuted ProposalStatus = "executed"
	ProposalFailed   ProposalStatus = "failed"
)

// Strategy is how the MergeEngine resolves field disagreements.
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyAggressive   Strategy = "aggressive"
	StrategyManualOnly   Strategy = "manual_only"
)

// SafetyFlag names a potentially-blocking condition found during proposal
// construction (§4.5).
type SafetyFlag string

const (
	FlagConflictingIdentifiers SafetyFlag = "conflicting_identifiers"
	FlagTemporalConflicts      SafetyFlag = "temporal_conflicts"
	FlagRelationshipConflicts  SafetyFlag = "relationship_conflicts"
	FlagDataDisparity          SafetyFlag = "data_disparity"
	FlagSuspiciousPatterns     SafetyFlag = "suspicious_patterns"
)

// FieldConflict records a field where conservative merge kept the primary's
// value over a disagreeing secondary value.
type FieldConflict struct {
	Field     string
	Primary   string
	Secondary string
}

// MergeInfo is the provenance block every merged record carries under the
// "_merge_info" key (invariant I4).
type MergeInfo struct {
	MergedFrom []string        `json:"merged_from"`
	Confidence float64         `json:"confidence"`
	Timestamp  time.Time       `json:"timestamp"`
	Strategy   Strategy        `json:"strategy"`
	Conflicts  []FieldConflict `json:"conflicts,omitempty"`
}

// MergeProposal is the planned merge of two records pending execution.
type MergeProposal struct {
	ProposalID  string
	Primary     Record
	Secondary   Record
	EntityType  EntityType
	Confidence  float64
	Evidence    []string
	AISignal    *AISignal
	CreatedAt   time.Time
	Status      ProposalStatus
	Merged      *Record
	Strategy    Strategy
	SafetyFlags []SafetyFlag
	RiskFactors []string
}

// HasFlag reports whether a given safety flag was raised.
func (p MergeProposal) HasFlag(f SafetyFlag) bool {
	for _, got := range p.SafetyFlags {
		if got == f {
			return true
		}
	}
	return false
}
