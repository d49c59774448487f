package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/padala/verification-service/internal/domain"
	"github.com/padala/verification-service/internal/store"
)

// reviewFixture seeds one submission parked in manual review.
type reviewFixture struct {
	repo     *fakeRepo
	producer *fakePublisher
	svc      *Service
	order    *domain.Order
	sub      *domain.Submission
}

func newReviewFixture(t *testing.T, orderKind string) *reviewFixture {
	t.Helper()
	repo := newFakeRepo()
	producer := &fakePublisher{}
	svc := newTestService(repo, producer)
	accountID := uuid.New()
	now := time.Now().UTC()

	order := &domain.Order{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      orderKind,
		Amount:    150000,
		Status:    domain.OrderStatusManualReview,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	repo.orders[order.ID] = order

	sub := &domain.Submission{
		ID:        uuid.New(),
		OrderID:   order.ID,
		AccountID: accountID,
		Status:    domain.SubmissionStatusManualReview,
		Score: &domain.ScoreResult{
			Score:             25,
			Flags:             []string{domain.FlagLowConfidence},
			RecommendedAction: domain.ActionManualReview,
		},
		CreatedAt: now,
	}
	repo.submissions[sub.ID] = sub

	repo.ledgers[accountID] = &domain.AccountLedger{
		AccountID: accountID,
		Status:    domain.AccountStatusActive,
		Verified:  true,
		CreatedAt: now.Add(-60 * 24 * time.Hour),
	}

	return &reviewFixture{repo: repo, producer: producer, svc: svc, order: order, sub: sub}
}

func TestApproveSubmissionAppliesSideEffectsOnce(t *testing.T) {
	fx := newReviewFixture(t, domain.OrderKindTopUp)
	adminID := uuid.New().String()

	resolved, err := fx.svc.ApproveSubmission(context.Background(), adminID, fx.sub.ID, "verified against bank statement")
	if err != nil {
		t.Fatalf("ApproveSubmission: %v", err)
	}
	if resolved.Status != domain.SubmissionStatusApproved {
		t.Fatalf("status = %q, want approved", resolved.Status)
	}
	if resolved.ResolvedBy != adminID {
		t.Errorf("resolved by = %q, want %q", resolved.ResolvedBy, adminID)
	}
	if resolved.ResolutionNotes != "verified against bank statement" {
		t.Errorf("notes = %q", resolved.ResolutionNotes)
	}
	if fx.repo.orders[fx.order.ID].Status != domain.OrderStatusApproved {
		t.Errorf("order status = %q, want approved", fx.repo.orders[fx.order.ID].Status)
	}
	if fx.repo.credits[fx.order.AccountID] != fx.order.Amount {
		t.Errorf("credited = %d, want %d", fx.repo.credits[fx.order.AccountID], fx.order.Amount)
	}
	if len(fx.repo.audits) != 1 || fx.repo.audits[0].Actor != adminID {
		t.Errorf("audits = %+v, want one entry recorded under the admin", fx.repo.audits)
	}
	if len(fx.producer.events) != 1 || fx.producer.events[0].Actor != adminID {
		t.Errorf("events = %+v, want one event recorded under the admin", fx.producer.events)
	}

	// A second approval of the same submission must lose the status check and
	// apply nothing again.
	if _, err := fx.svc.ApproveSubmission(context.Background(), adminID, fx.sub.ID, ""); !errors.Is(err, ErrNotReviewable) {
		t.Fatalf("second approval err = %v, want ErrNotReviewable", err)
	}
	if fx.repo.credits[fx.order.AccountID] != fx.order.Amount {
		t.Errorf("credited = %d after replay, want %d", fx.repo.credits[fx.order.AccountID], fx.order.Amount)
	}
	if len(fx.repo.audits) != 1 {
		t.Errorf("audits = %d after replay, want 1", len(fx.repo.audits))
	}
}

func TestApproveSubmissionSettlesFee(t *testing.T) {
	fx := newReviewFixture(t, domain.OrderKindFeeSettlement)
	contract := &domain.Contract{
		ID:          uuid.New(),
		BidID:       uuid.New(),
		PayerID:     fx.order.AccountID,
		PlatformFee: fx.order.Amount,
		CreatedAt:   time.Now().UTC(),
	}
	fx.repo.contracts[contract.ID] = contract
	fx.repo.ledgers[fx.order.AccountID].OutstandingFees = contract.PlatformFee
	fx.order.BidID = &contract.BidID
	fx.order.ContractID = &contract.ID

	if _, err := fx.svc.ApproveSubmission(context.Background(), "admin-1", fx.sub.ID, ""); err != nil {
		t.Fatalf("ApproveSubmission: %v", err)
	}
	if !fx.repo.contracts[contract.ID].FeePaid {
		t.Error("expected the contract fee to be settled")
	}
	if fx.repo.credits[fx.order.AccountID] != 0 {
		t.Error("fee settlement must not credit the custodial balance")
	}
}

func TestApproveSubmissionFailedFinalizeRetries(t *testing.T) {
	fx := newReviewFixture(t, domain.OrderKindTopUp)
	fx.repo.failFinalize = 1

	if _, err := fx.svc.ApproveSubmission(context.Background(), "admin-1", fx.sub.ID, ""); err == nil {
		t.Fatal("expected the failed finalize to surface")
	}

	// Nothing stuck: the submission is still reviewable and the retry applies
	// the credit exactly once.
	if got := fx.repo.submissions[fx.sub.ID].Status; got != domain.SubmissionStatusManualReview {
		t.Fatalf("submission status = %q, want manual_review after a rolled-back approval", got)
	}
	if fx.repo.credits[fx.order.AccountID] != 0 {
		t.Error("no balance must be credited by a rolled-back approval")
	}

	if _, err := fx.svc.ApproveSubmission(context.Background(), "admin-1", fx.sub.ID, ""); err != nil {
		t.Fatalf("retry ApproveSubmission: %v", err)
	}
	if fx.repo.credits[fx.order.AccountID] != fx.order.Amount {
		t.Errorf("credited = %d, want %d exactly once", fx.repo.credits[fx.order.AccountID], fx.order.Amount)
	}
	if fx.repo.orders[fx.order.ID].Status != domain.OrderStatusApproved {
		t.Errorf("order status = %q, want approved", fx.repo.orders[fx.order.ID].Status)
	}
}

func TestApproveSubmissionUnsticksProcessing(t *testing.T) {
	fx := newReviewFixture(t, domain.OrderKindTopUp)
	fx.repo.submissions[fx.sub.ID].Status = domain.SubmissionStatusProcessing
	fx.order.Status = domain.OrderStatusProcessing

	resolved, err := fx.svc.ApproveSubmission(context.Background(), "admin-1", fx.sub.ID, "job lost; verified manually")
	if err != nil {
		t.Fatalf("ApproveSubmission: %v", err)
	}
	if resolved.Status != domain.SubmissionStatusApproved {
		t.Errorf("status = %q, want approved from processing", resolved.Status)
	}
}

func TestRejectSubmission(t *testing.T) {
	fx := newReviewFixture(t, domain.OrderKindTopUp)

	resolved, err := fx.svc.RejectSubmission(context.Background(), "admin-2", fx.sub.ID, "screenshot does not match any deposit")
	if err != nil {
		t.Fatalf("RejectSubmission: %v", err)
	}
	if resolved.Status != domain.SubmissionStatusRejected {
		t.Fatalf("status = %q, want rejected", resolved.Status)
	}
	if fx.repo.orders[fx.order.ID].Status != domain.OrderStatusRejected {
		t.Errorf("order status = %q, want rejected", fx.repo.orders[fx.order.ID].Status)
	}
	if fx.repo.credits[fx.order.AccountID] != 0 {
		t.Error("no balance must be credited on rejection")
	}
}

func TestRejectSubmissionRequiresReview(t *testing.T) {
	fx := newReviewFixture(t, domain.OrderKindTopUp)
	fx.repo.submissions[fx.sub.ID].Status = domain.SubmissionStatusProcessing

	if _, err := fx.svc.RejectSubmission(context.Background(), "admin-2", fx.sub.ID, ""); !errors.Is(err, ErrNotReviewable) {
		t.Fatalf("err = %v, want ErrNotReviewable for a processing submission", err)
	}
}

func TestResolveUnknownSubmission(t *testing.T) {
	fx := newReviewFixture(t, domain.OrderKindTopUp)

	if _, err := fx.svc.ApproveSubmission(context.Background(), "admin-1", uuid.New(), ""); !errors.Is(err, store.ErrSubmissionNotFound) {
		t.Fatalf("err = %v, want ErrSubmissionNotFound", err)
	}
}
