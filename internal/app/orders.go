/**
 * @description
 * This file implements the order manager: creation of payment-intent orders
 * (balance top-ups and intermediation fee settlements), the owner-scoped read
 * paths, and submission ingestion, which records the screenshot reference and
 * enqueues the asynchronous verification job.
 *
 * @dependencies
 * - internal/store: transactional persistence for orders and submissions.
 * - pkg/rabbitmq: publishes the submission job to the pipeline queue.
 * - pkg/blobstore: trust validation of the submitted screenshot URL.
 *
 * @notes
 * - Order creation delegates the race-prone checks (idempotency replay,
 *   at-most-one active fee order, daily top-up count) to a single repository
 *   transaction; this layer only shapes the order and classifies the outcome.
 * - Submission ingestion is synchronous up to the queue publish. The screenshot
 *   is not fetched here; the pipeline worker owns every slow step.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/padala/verification-service/internal/config"
	"github.com/padala/verification-service/internal/domain"
	"github.com/padala/verification-service/internal/store"
	"github.com/padala/verification-service/pkg/rabbitmq"
)

// ScreenshotValidator checks that a screenshot reference points at the trusted
// storage origin inside the submitting account's namespace.
type ScreenshotValidator interface {
	ValidateURL(rawURL string, accountID uuid.UUID) error
}

// Service provides the business logic for orders, submissions, and admin
// resolution. It is shared by the API handlers and the pipeline worker.
type Service struct {
	repo      store.Repository
	producer  rabbitmq.Publisher
	settings  *SettingsService
	limiter   RateLimiter
	screens   ScreenshotValidator
	cfg       config.Config
	receiving domain.ReceivingAccount
}

// NewService creates the application service with all its dependencies.
func NewService(
	repo store.Repository,
	producer rabbitmq.Publisher,
	settings *SettingsService,
	limiter RateLimiter,
	screens ScreenshotValidator,
	cfg config.Config,
) *Service {
	return &Service{
		repo:     repo,
		producer: producer,
		settings: settings,
		limiter:  limiter,
		screens:  screens,
		cfg:      cfg,
		receiving: domain.ReceivingAccount{
			Provider:      cfg.ReceivingProvider,
			AccountName:   cfg.ReceivingAccountName,
			AccountNumber: cfg.ReceivingAccountNumber,
		},
	}
}

// scoringConfig derives the scoring engine's thresholds from service config.
func (s *Service) scoringConfig() ScoringConfig {
	return ScoringConfig{
		AutoApproveThreshold: s.cfg.AutoApproveThreshold,
		AutoRejectThreshold:  s.cfg.AutoRejectThreshold,
		MinOCRConfidence:     s.cfg.MinOCRConfidence,
		ReceiptFreshness:     time.Duration(s.cfg.ReceiptFreshnessHours) * time.Hour,
		NewAccountAge:        time.Duration(s.cfg.NewAccountAgeDays) * 24 * time.Hour,
		HighValueAmount:      s.cfg.HighValueAmount,
	}
}

// CreateOrder validates the request against platform policy and creates a new
// payment-intent order, or returns the existing order on an idempotent replay
// or when an active order already occupies the same fee-settlement slot.
func (s *Service) CreateOrder(ctx context.Context, accountID uuid.UUID, req domain.CreateOrderRequest) (*domain.Order, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load platform settings: %w", err)
	}
	if settings.MaintenanceMode {
		return nil, ErrMaintenanceMode
	}
	if !settings.VerificationEnabled {
		return nil, ErrVerificationDisabled
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:               uuid.New(),
		AccountID:        accountID,
		Kind:             req.Kind,
		ReceivingAccount: s.receiving,
		Status:           domain.OrderStatusAwaitingUpload,
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Duration(s.cfg.OrderExpiryMinutes) * time.Minute),
	}

	params := store.CreateOrderParams{Order: order}

	switch req.Kind {
	case domain.OrderKindTopUp:
		if req.Amount <= 0 {
			return nil, ErrInvalidAmount
		}
		if req.Amount > s.cfg.TopUpMaxAmount {
			return nil, ErrAmountTooLarge
		}
		order.Amount = req.Amount
		params.EnforceDailyLimit = true
		params.DailyLimit = s.cfg.TopUpDailyLimit
		params.DailySince = now.Add(-24 * time.Hour)

	case domain.OrderKindFeeSettlement:
		if req.BidID == nil {
			return nil, ErrMissingBid
		}
		contract, err := s.repo.FindContractByBidID(ctx, *req.BidID)
		if err != nil {
			return nil, err
		}
		// The amount is the contract's recorded fee, never client input. The
		// payer and fee-paid checks are re-run inside the transaction.
		order.Amount = contract.PlatformFee
		order.BidID = req.BidID
		order.ContractID = &contract.ID
		params.CheckFeeContract = true

	default:
		return nil, ErrInvalidKind
	}

	if req.IdempotencyToken != "" {
		params.IdempotencyKey = store.IdempotencyLockKey(accountID, "create_order", req.IdempotencyToken)
	}

	result, err := s.repo.CreateOrderAtomic(ctx, params)
	if err != nil {
		return nil, err
	}

	if result.Reused {
		log.Printf("level=info component=order_manager msg=\"returning existing order\" order_id=%s account_id=%s reason=%s",
			result.Order.ID, accountID, result.Reason)
	} else {
		log.Printf("level=info component=order_manager msg=\"order created\" order_id=%s account_id=%s kind=%s amount=%d",
			result.Order.ID, accountID, result.Order.Kind, result.Order.Amount)
	}
	return result.Order, nil
}

// GetOrder returns the order if it belongs to the calling account. Orders of
// other accounts are reported as not found rather than forbidden, so order ids
// cannot be probed for existence.
func (s *Service) GetOrder(ctx context.Context, accountID, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AccountID != accountID {
		return nil, store.ErrOrderNotFound
	}
	return order, nil
}

// ListPendingOrders returns the calling account's non-terminal orders.
func (s *Service) ListPendingOrders(ctx context.Context, accountID uuid.UUID) ([]domain.Order, error) {
	return s.repo.FindPendingOrdersByAccount(ctx, accountID)
}

// CreateSubmission records a screenshot submission against an open order and
// enqueues the verification job. The screenshot URL must already live on the
// trusted storage origin; this endpoint never accepts image bytes directly.
func (s *Service) CreateSubmission(ctx context.Context, accountID, orderID uuid.UUID, req domain.CreateSubmissionRequest) (*domain.Submission, error) {
	// Throttle well above the fraud-scoring velocity signal: the scoring rule
	// flags unusual volume for review, this guard only stops outright floods.
	if s.limiter != nil {
		limit := s.cfg.SubmissionVelocityLimit * 3
		count, _, err := s.limiter.ConsumeRateLimit(ctx, "submission_create", accountID.String(), limit, time.Hour)
		if err != nil {
			log.Printf("level=warn component=order_manager msg=\"rate limiter unavailable; allowing request\" account_id=%s err=%v", accountID, err)
		} else if limit > 0 && count > limit {
			return nil, ErrRateLimited
		}
	}

	if err := s.screens.ValidateURL(req.ScreenshotURL, accountID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUntrustedScreenshot, err)
	}

	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AccountID != accountID {
		return nil, store.ErrOrderNotFound
	}
	now := time.Now().UTC()
	if !order.IsActive(now) {
		return nil, ErrOrderNotOpen
	}
	switch order.Status {
	case domain.OrderStatusAwaitingUpload, domain.OrderStatusSubmitted:
		// Resubmission against a submitted order is allowed; an earlier
		// screenshot may have been rejected by the pipeline for legibility.
	default:
		return nil, ErrOrderNotOpen
	}

	submission := &domain.Submission{
		ID:            uuid.New(),
		OrderID:       order.ID,
		AccountID:     accountID,
		ScreenshotURL: req.ScreenshotURL,
		Status:        domain.SubmissionStatusProcessing,
		CreatedAt:     now,
	}
	if err := s.repo.CreateSubmission(ctx, submission); err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}
	if err := s.repo.MarkOrderSubmitted(ctx, order.ID); err != nil {
		log.Printf("level=warn component=order_manager msg=\"failed to mark order submitted\" order_id=%s err=%v", order.ID, err)
	}

	job := domain.SubmissionJob{
		SubmissionID: submission.ID,
		OrderID:      order.ID,
		AccountID:    accountID,
		EnqueuedAt:   now,
	}
	if err := s.producer.Publish(ctx, s.cfg.VerificationExchange, "submission.created", job); err != nil {
		// The submission row exists but no job reached the queue. The order
		// expiry sweep will surface it; publishing is retried by resubmission.
		log.Printf("level=error component=order_manager msg=\"failed to enqueue submission job\" submission_id=%s err=%v", submission.ID, err)
		return nil, fmt.Errorf("enqueue submission job: %w", err)
	}

	log.Printf("level=info component=order_manager msg=\"submission accepted\" submission_id=%s order_id=%s account_id=%s",
		submission.ID, order.ID, accountID)
	return submission, nil
}
