package model

import "time"

// TaskStatus is the review task lifecycle state. Per invariant I5, the only
// legal transitions are Pending->InProgress->Completed or Pending->Cancelled.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Priority orders pending review tasks for a human reviewer.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityMed  Priority = "med"
	PriorityLow  Priority = "low"
)

// ReviewDecision is the outcome a reviewer records on a completed task.
type ReviewDecision string

const (
	DecisionMerge    ReviewDecision = "merge"
	DecisionSeparate ReviewDecision = "separate"
	DecisionDefer    ReviewDecision = "defer"
	DecisionMoreInfo ReviewDecision = "more_info"
)

// PairSnapshot is the serializable projection of a PairCandidate stored
// alongside a ReviewTask. It captures enough of the pair to present to a
// reviewer and to recreate a merge proposal on approval, without requiring
// the audit store to understand arbitrary Record attribute values.
type PairSnapshot struct {
	EntityAID  string    `json:"entity_a_id"`
	EntityBID  string    `json:"entity_b_id"`
	EntityType EntityType `json:"entity_type"`
	Confidence float64   `json:"confidence"`
	Evidence   []string  `json:"evidence,omitempty"`
	AISignal   *AISignal `json:"ai_signal,omitempty"`
}

// ReviewTask is a persisted unit of work assigned to a human reviewer.
type ReviewTask struct {
	TaskID             string
	CollectionName     string
	Pair               PairSnapshot
	Priority           Priority
	Status             TaskStatus
	CreatedAt          time.Time
	AssignedTo         string
	CompletedAt        *time.Time
	Decision           ReviewDecision
	ReviewerNotes      string
	ReviewerConfidence *float64
	AISignal           *AISignal
}
