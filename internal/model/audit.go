package model

import "time"

// AuditOp names the kind of operation an AuditRecord describes.
type AuditOp string

const (
	OpMerge           AuditOp = "merge"
	OpSeparate        AuditOp = "separate"
	OpReviewCompleted AuditOp = "review_completed"
	OpRollback        AuditOp = "rollback"
)

// AuditRecord is an append-only row describing one operation and its
// before/after states (invariant I3: never modified after insert; rollback
// only appends a new row).
type AuditRecord struct {
	AuditID        string
	Op             AuditOp
	CollectionName string
	EntityIDs      []string
	Actor          string
	Timestamp      time.Time
	Confidence     float64
	Evidence       []string
	BeforeState    []byte // serialized document; the store does not inspect it
	AfterState     []byte
	RollbackInfo   []byte
	AISignal       *AISignal
}
