/**
 * @description
 * This file defines the Submission domain model and the per-stage result types
 * the verification pipeline attaches to it. One Submission is one screenshot's
 * evaluation, linked to the Order it claims to fulfill.
 *
 * @notes
 * - Each pipeline stage produces an explicit result struct (ExtractionResult,
 *   ValidationResult, ForensicsResult, ScoreResult) stored as JSONB, so missing
 *   fields are handled exhaustively instead of through ad hoc optional maps.
 * - A Submission is mutated exclusively by the pipeline once created, except the
 *   resolution fields, which the admin override may set on a manual_review
 *   submission. It is terminal once status leaves `processing`.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Submission statuses.
const (
	SubmissionStatusProcessing   = "processing"
	SubmissionStatusApproved     = "approved"
	SubmissionStatusRejected     = "rejected"
	SubmissionStatusManualReview = "manual_review"
)

// ResolutionActorSystem marks dispositions applied by the automatic pipeline.
// Manual dispositions record the admin's account id instead.
const ResolutionActorSystem = "system"

// ExtractionResult holds the structured fields the pattern extractor recovered
// from the recognized screenshot text. All fields except the two booleans are
// optional: receipts are heterogeneous and OCR output is noisy.
type ExtractionResult struct {
	RawText             string     `json:"raw_text"`
	Confidence          float64    `json:"confidence"` // recognizer confidence, 0-100
	ReferenceNumber     string     `json:"reference_number,omitempty"`
	Amount              int64      `json:"amount,omitempty"` // in centavos
	SenderName          string     `json:"sender_name,omitempty"`
	ReceiverName        string     `json:"receiver_name,omitempty"`
	Timestamp           *time.Time `json:"timestamp,omitempty"`
	HasSuccessWording   bool       `json:"has_success_wording"`
	HasProviderBranding bool       `json:"has_provider_branding"`
}

// ValidationResult records how the extracted fields compare against the order.
type ValidationResult struct {
	AmountMatches    bool `json:"amount_matches"`
	ReceiverMatches  bool `json:"receiver_matches"`
	TimestampFresh   bool `json:"timestamp_fresh"`
	ReferencePresent bool `json:"reference_present"`
	ConfidenceOK     bool `json:"confidence_ok"`
}

// ForensicsResult is the forensic signature of the screenshot image.
type ForensicsResult struct {
	PerceptualHash       string `json:"perceptual_hash"` // 16 hex chars, 64 bits
	Width                int    `json:"width"`
	Height               int    `json:"height"`
	Format               string `json:"format"`
	HasAlpha             bool   `json:"has_alpha"`
	HasCaptureMetadata   bool   `json:"has_capture_metadata"`
	LikelyScreenshot     bool   `json:"likely_screenshot"`
	PossibleManipulation bool   `json:"possible_manipulation"`
}

// Recommended actions produced by the fraud scoring engine.
const (
	ActionAutoApprove  = "auto_approve"
	ActionAutoReject   = "auto_reject"
	ActionManualReview = "manual_review"
)

// ScoreResult is the fraud scoring engine's verdict for one submission.
type ScoreResult struct {
	Score             int      `json:"score"` // additive, capped at 100
	Flags             []string `json:"flags"`
	RecommendedAction string   `json:"recommended_action"`
}

// HasFlag reports whether the given rule flag was triggered.
func (s *ScoreResult) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Submission represents one screenshot's evaluation. Maps to the `submissions` table.
type Submission struct {
	ID              uuid.UUID         `json:"id"`
	OrderID         uuid.UUID         `json:"order_id"`
	AccountID       uuid.UUID         `json:"account_id"`
	ScreenshotURL   string            `json:"screenshot_url"`
	Extraction      *ExtractionResult `json:"extraction,omitempty"`
	Validation      *ValidationResult `json:"validation,omitempty"`
	Forensics       *ForensicsResult  `json:"forensics,omitempty"`
	Score           *ScoreResult      `json:"score,omitempty"`
	Status          string            `json:"status"`
	Errors          []string          `json:"errors,omitempty"`
	ResolvedBy      string            `json:"resolved_by,omitempty"`
	ResolutionNotes string            `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ProcessedAt     *time.Time        `json:"processed_at,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
}

// IsTerminal reports whether the submission has left `processing`. Manual review
// counts as terminal for the pipeline; only the admin override moves it further.
func (s *Submission) IsTerminal() bool {
	return s.Status != SubmissionStatusProcessing
}

// CreateSubmissionRequest is the DTO for the submission ingestion endpoint.
type CreateSubmissionRequest struct {
	ScreenshotURL string `json:"screenshot_url"`
}

// SubmissionJob is the payload published to the pipeline queue when a
// submission is created. Dispatch is at-least-once; the pipeline is idempotent.
type SubmissionJob struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	OrderID      uuid.UUID `json:"order_id"`
	AccountID    uuid.UUID `json:"account_id"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}
