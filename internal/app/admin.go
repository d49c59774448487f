/**
 * @description
 * This file implements the admin override: manual approval or rejection of a
 * submission parked in manual review. The override reuses the same disposition
 * path as the pipeline, so side effects, auditing, and event publishing behave
 * identically whether a human or the system resolved the submission.
 *
 * @notes
 * - Approval additionally covers submissions still in `processing`, so an
 *   operator can unstick a submission whose job was lost. Rejection requires
 *   manual_review: a processing submission may still auto-resolve on its own.
 */

package app

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/padala/verification-service/internal/domain"
)

// ApproveSubmission resolves a reviewed submission as approved, applying the
// same side effects an automatic approval would.
func (s *Service) ApproveSubmission(ctx context.Context, adminID string, submissionID uuid.UUID, notes string) (*domain.Submission, error) {
	return s.resolveManually(ctx, adminID, submissionID, notes, disposition{
		Status:       domain.SubmissionStatusApproved,
		FromStatuses: []string{domain.SubmissionStatusManualReview, domain.SubmissionStatusProcessing},
	})
}

// RejectSubmission resolves a reviewed submission as rejected.
func (s *Service) RejectSubmission(ctx context.Context, adminID string, submissionID uuid.UUID, notes string) (*domain.Submission, error) {
	return s.resolveManually(ctx, adminID, submissionID, notes, disposition{
		Status:       domain.SubmissionStatusRejected,
		FromStatuses: []string{domain.SubmissionStatusManualReview},
	})
}

func (s *Service) resolveManually(ctx context.Context, adminID string, submissionID uuid.UUID, notes string, d disposition) (*domain.Submission, error) {
	sub, err := s.repo.FindSubmissionByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.FindOrderByID(ctx, sub.OrderID)
	if err != nil {
		return nil, err
	}

	d.Actor = adminID
	d.Notes = notes
	d.Score = sub.Score

	won, err := s.finalize(ctx, sub, order, d)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrNotReviewable
	}

	log.Printf("level=info component=admin msg=\"submission resolved manually\" submission_id=%s status=%s admin_id=%s",
		submissionID, d.Status, adminID)
	return s.repo.FindSubmissionByID(ctx, submissionID)
}
