/**
 * @description
 * This file implements disposition finalization, shared by the automatic
 * pipeline and the admin override. A disposition is the terminal resolution of
 * one submission: the status CAS, the audit record, the order transition, and
 * the approval side effects (fee settlement or balance credit).
 *
 * @notes
 * - The CAS, the audit record, the order transition, and the side effect
 *   commit in one store transaction. A failure anywhere rolls back the
 *   submission's status too, so a redelivered job resolves it cleanly and
 *   every side effect applies at most once.
 * - Only the completion event is published outside the transaction; delivery
 *   failures there are logged, not surfaced.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/padala/verification-service/internal/domain"
	"github.com/padala/verification-service/internal/store"
	"github.com/padala/verification-service/pkg/rabbitmq"
)

// disposition describes one terminal resolution to apply to a submission.
type disposition struct {
	Status       string   // approved, rejected, or manual_review
	FromStatuses []string // CAS precondition on the submission's current status
	Errs         []string // pipeline errors to record, if any
	Actor        string   // "system" or the admin's account id
	Notes        string
	Score        *domain.ScoreResult // nil when resolved without a score (e.g. untrusted source)
}

// finalize applies the disposition. It returns (false, nil) when another actor
// already resolved the submission, in which case nothing was changed here.
func (s *Service) finalize(ctx context.Context, sub *domain.Submission, order *domain.Order, d disposition) (bool, error) {
	score, flags := 0, []string(nil)
	if d.Score != nil {
		score, flags = d.Score.Score, d.Score.Flags
	}

	params := store.FinalizeParams{
		SubmissionID: sub.ID,
		AccountID:    sub.AccountID,
		Status:       d.Status,
		FromStatuses: d.FromStatuses,
		Errs:         d.Errs,
		ResolvedBy:   d.Actor,
		Notes:        d.Notes,
		Audit: &domain.AuditEntry{
			ID:           uuid.New(),
			SubmissionID: sub.ID,
			OrderID:      order.ID,
			AccountID:    sub.AccountID,
			Disposition:  d.Status,
			Score:        score,
			Flags:        flags,
			Actor:        d.Actor,
			Notes:        d.Notes,
			CreatedAt:    time.Now().UTC(),
		},
		OrderID: order.ID,
	}

	switch d.Status {
	case domain.SubmissionStatusApproved:
		params.OrderStatus = domain.OrderStatusApproved
		if order.Kind == domain.OrderKindFeeSettlement {
			if order.ContractID == nil {
				return false, fmt.Errorf("fee settlement order %s has no contract", order.ID)
			}
			params.SettleContractID = order.ContractID
		} else {
			params.CreditAmount = order.Amount
		}

	case domain.SubmissionStatusRejected:
		params.OrderStatus = domain.OrderStatusRejected
		params.RejectionReasons = flags
		if len(params.RejectionReasons) == 0 {
			params.RejectionReasons = d.Errs
		}

	case domain.SubmissionStatusManualReview:
		params.OrderStatus = domain.OrderStatusManualReview
	}

	won, err := s.repo.FinalizeSubmissionAtomic(ctx, params)
	if err != nil {
		return false, fmt.Errorf("finalize submission: %w", err)
	}
	if !won {
		log.Printf("level=info component=dispositions msg=\"submission already resolved; skipping\" submission_id=%s status=%s",
			sub.ID, d.Status)
		return false, nil
	}

	log.Printf("level=info component=dispositions msg=\"submission resolved\" submission_id=%s status=%s actor=%s",
		sub.ID, d.Status, d.Actor)

	s.publishCompleted(ctx, sub, order, d, score, flags)
	return true, nil
}

// publishCompleted emits the verification event. Delivery failures are logged,
// not surfaced: the disposition is already durable and downstream consumers
// reconcile from the database.
func (s *Service) publishCompleted(ctx context.Context, sub *domain.Submission, order *domain.Order, d disposition, score int, flags []string) {
	event := rabbitmq.VerificationCompletedEvent{
		SubmissionID: sub.ID,
		OrderID:      order.ID,
		AccountID:    sub.AccountID,
		OrderKind:    order.Kind,
		Status:       d.Status,
		Score:        score,
		Flags:        flags,
		Actor:        d.Actor,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.producer.PublishVerificationCompleted(ctx, s.cfg.VerificationExchange, event); err != nil {
		log.Printf("level=error component=dispositions msg=\"failed to publish verification event\" submission_id=%s err=%v",
			sub.ID, err)
	}
}
