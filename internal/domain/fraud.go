package domain

import (
	"time"

	"github.com/google/uuid"
)

// Rule flags assigned by the fraud scoring engine. Each flag corresponds to one
// independent rule; the flag string is stored verbatim on the submission and in
// the audit log so every point of the score stays explainable.
const (
	FlagAmountMismatch        = "AMOUNT_MISMATCH"
	FlagDuplicateReference    = "DUPLICATE_REFERENCE"
	FlagReceiverMismatch      = "RECEIVER_MISMATCH"
	FlagStaleTimestamp        = "STALE_TIMESTAMP"
	FlagLowConfidence         = "LOW_CONFIDENCE"
	FlagMissingFields         = "MISSING_FIELDS"
	FlagDuplicateImage        = "DUPLICATE_IMAGE"
	FlagSimilarImage          = "SIMILAR_IMAGE"
	FlagImplausibleDimensions = "IMPLAUSIBLE_DIMENSIONS"
	FlagMissingMetadata       = "MISSING_CAPTURE_METADATA"
	FlagNewAccountHighValue   = "NEW_ACCOUNT_HIGH_VALUE"
	FlagVelocityExceeded      = "VELOCITY_EXCEEDED"
	FlagPipelineError         = "PIPELINE_ERROR"
	FlagOrderExpired          = "ORDER_EXPIRED"
	FlagUntrustedSource       = "UNTRUSTED_SOURCE"
)

// CriticalFlags are treated as proof of reuse, not probabilistic risk. Any
// submission carrying one resolves to rejected regardless of aggregate score.
var CriticalFlags = []string{FlagDuplicateReference, FlagDuplicateImage}

// DuplicateCheckResult is the duplicate ledger's verdict for one key.
type DuplicateCheckResult struct {
	IsDuplicate       bool
	FirstSubmissionID *uuid.UUID
	FirstAccountID    *uuid.UUID
}

// AuditEntry is one append-only record in the fraud audit log, written for
// every disposition, automatic or manual, before the disposition is complete.
type AuditEntry struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	OrderID      uuid.UUID `json:"order_id"`
	AccountID    uuid.UUID `json:"account_id"`
	Disposition  string    `json:"disposition"`
	Score        int       `json:"score"`
	Flags        []string  `json:"flags"`
	Actor        string    `json:"actor"` // "system" or admin account id
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
