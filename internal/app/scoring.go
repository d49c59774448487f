/**
 * @description
 * This file implements the fraud scoring engine: an additive, rule-based
 * combination of validation outcomes, duplicate-ledger hits, image-forensics
 * flags, and account-velocity signals into a bounded 0-100 score and a
 * recommended action.
 *
 * @notes
 * - Scoring is deliberately additive and rule-based rather than a model:
 *   every point of every score must be explainable after the fact for dispute
 *   handling, and each triggered rule leaves its flag on the submission and in
 *   the audit log.
 * - Duplicate reference and duplicate image are critical flags: they are proof
 *   of reuse, not probabilistic risk, and force rejection regardless of the
 *   aggregate score.
 */

package app

import (
	"time"

	"github.com/padala/verification-service/internal/domain"
)

// ScoringConfig carries the thresholds the engine needs beyond the fixed rule
// weights. Weights are fixed constants; moving the thresholds retunes the
// approve/review/reject bands without changing any rule's meaning.
type ScoringConfig struct {
	AutoApproveThreshold int
	AutoRejectThreshold  int
	MinOCRConfidence     int
	ReceiptFreshness     time.Duration
	NewAccountAge        time.Duration
	HighValueAmount      int64
}

// ScoringInput is everything one submission's rules are evaluated against.
type ScoringInput struct {
	Order            *domain.Order
	Extraction       *domain.ExtractionResult
	Validation       *domain.ValidationResult
	Forensics        *domain.ForensicsResult
	DuplicateRef     *domain.DuplicateCheckResult
	DuplicateHash    *domain.DuplicateCheckResult
	SimilarImage     bool
	Ledger           *domain.AccountLedger
	VelocityExceeded bool
	Now              time.Time
}

type scoreRule struct {
	flag      string
	weight    int
	triggered func(cfg ScoringConfig, in ScoringInput) bool
}

// Rule weights. Each rule contributes its fixed value independently when
// triggered; the sum is capped at 100.
var scoreRules = []scoreRule{
	{
		flag:   domain.FlagAmountMismatch,
		weight: 30,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			return in.Validation != nil && !in.Validation.AmountMatches
		},
	},
	{
		flag:   domain.FlagDuplicateReference,
		weight: 60,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			return in.DuplicateRef != nil && in.DuplicateRef.IsDuplicate
		},
	},
	{
		flag:   domain.FlagReceiverMismatch,
		weight: 20,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			return in.Validation != nil && !in.Validation.ReceiverMatches
		},
	},
	{
		flag:   domain.FlagStaleTimestamp,
		weight: 15,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			return in.Validation != nil && !in.Validation.TimestampFresh
		},
	},
	{
		// Weighted above the default auto-approve threshold: an unreadable
		// receipt alone should land in manual review, never auto-approve.
		flag:   domain.FlagLowConfidence,
		weight: 25,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			return in.Extraction != nil && in.Extraction.Confidence < float64(cfg.MinOCRConfidence)
		},
	},
	{
		flag:   domain.FlagMissingFields,
		weight: 25,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			if in.Extraction == nil {
				return true
			}
			return in.Extraction.ReferenceNumber == "" || in.Extraction.Amount <= 0
		},
	},
	{
		flag:   domain.FlagDuplicateImage,
		weight: 60,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			return in.DuplicateHash != nil && in.DuplicateHash.IsDuplicate
		},
	},
	{
		flag:   domain.FlagSimilarImage,
		weight: 30,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			// A near-duplicate that is not bit-for-bit identical suggests light
			// editing of a previously used screenshot.
			dup := in.DuplicateHash != nil && in.DuplicateHash.IsDuplicate
			return in.SimilarImage && !dup
		},
	},
	{
		flag:   domain.FlagImplausibleDimensions,
		weight: 15,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			if in.Forensics == nil {
				return false
			}
			return in.Forensics.PossibleManipulation
		},
	},
	{
		flag:   domain.FlagMissingMetadata,
		weight: 5,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			// A small contribution on its own: absent capture metadata is also
			// what a legitimate screenshot looks like.
			return in.Forensics != nil && !in.Forensics.HasCaptureMetadata && !in.Forensics.LikelyScreenshot
		},
	},
	{
		flag:   domain.FlagNewAccountHighValue,
		weight: 15,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			if in.Ledger == nil || in.Order == nil {
				return false
			}
			age := in.Now.Sub(in.Ledger.CreatedAt)
			return age < cfg.NewAccountAge && in.Order.Amount >= cfg.HighValueAmount
		},
	},
	{
		flag:   domain.FlagVelocityExceeded,
		weight: 20,
		triggered: func(cfg ScoringConfig, in ScoringInput) bool {
			return in.VelocityExceeded
		},
	},
}

// Score evaluates every rule against the input and returns the bounded score,
// the triggered flags, and the recommended action.
func Score(cfg ScoringConfig, in ScoringInput) *domain.ScoreResult {
	result := &domain.ScoreResult{Flags: []string{}}

	critical := false
	for _, rule := range scoreRules {
		if !rule.triggered(cfg, in) {
			continue
		}
		result.Score += rule.weight
		result.Flags = append(result.Flags, rule.flag)
		if rule.flag == domain.FlagDuplicateReference || rule.flag == domain.FlagDuplicateImage {
			critical = true
		}
	}

	if result.Score > 100 {
		result.Score = 100
	}

	switch {
	case critical:
		// Proof of reuse overrides the score bands entirely.
		result.RecommendedAction = domain.ActionAutoReject
	case result.Score <= cfg.AutoApproveThreshold:
		result.RecommendedAction = domain.ActionAutoApprove
	case result.Score >= cfg.AutoRejectThreshold:
		result.RecommendedAction = domain.ActionAutoReject
	default:
		result.RecommendedAction = domain.ActionManualReview
	}

	return result
}
