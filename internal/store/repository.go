/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the verification-service. By defining an
 * interface, we decouple the application's business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @notes
 * - Methods that read-then-write shared state (order creation with idempotency,
 *   duplicate-ledger claims, fee-cap enforcement, ledger settlement) are coarse
 *   transactional operations: the implementation runs them inside a serializable
 *   transaction and retries on conflict, so callers never take external locks.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/padala/verification-service/internal/domain"
)

// CreateOrderParams carries everything the transactional order-creation
// protocol needs to evaluate inside one transaction.
type CreateOrderParams struct {
	Order *domain.Order

	// IdempotencyKey, when non-empty, is the hashed lock key. A lock already
	// mapping to a live order for this account short-circuits to a replay; a
	// lock pointing at a resolved or expired order is vacant, and creation
	// re-points it at the new order.
	IdempotencyKey string

	// Fee-settlement orders: verify the caller is the contract's fee payer and
	// the fee is still unpaid, and return any existing active order for the
	// same (bid, account) instead of creating a duplicate.
	CheckFeeContract bool

	// Top-up orders: enforce the rolling daily submission-count limit from
	// within the transaction to avoid a check-then-act race.
	EnforceDailyLimit bool
	DailyLimit        int
	DailySince        time.Time
}

// CreateOrderResult reports whether a new order was written or an existing one
// was returned, and why.
type CreateOrderResult struct {
	Order  *domain.Order
	Reused bool
	Reason string // "idempotent_replay" or "active_order_exists" when Reused
}

// ImageHashClaim is one row of the image-hash duplicate ledger, surfaced for
// in-memory similarity comparison.
type ImageHashClaim struct {
	Hash         string
	SubmissionID uuid.UUID
	AccountID    uuid.UUID
}

// FinalizeParams describes one terminal submission resolution and everything
// that must land with it: the audit record, the order transition, and the
// approval side effect. The implementation applies all of it in a single
// transaction gated on the submission-status CAS, so a failure anywhere rolls
// the whole disposition back and leaves the submission claimable again.
type FinalizeParams struct {
	SubmissionID uuid.UUID
	AccountID    uuid.UUID
	Status       string
	FromStatuses []string
	Errs         []string
	ResolvedBy   string
	Notes        string

	Audit *domain.AuditEntry

	OrderID          uuid.UUID
	OrderStatus      string
	RejectionReasons []string

	// Approval side effect. At most one applies: a positive CreditAmount
	// credits the custodial balance; a non-nil SettleContractID settles that
	// contract's platform fee (a fee already paid or waived is a no-op).
	CreditAmount     int64
	SettleContractID *uuid.UUID
}

// ReconcileOutcome reports what the per-account ledger recomputation changed.
type ReconcileOutcome struct {
	AccountID         uuid.UUID
	PreviousTotal     int64
	RecomputedTotal   int64
	Drifted           bool
	Unsuspended       bool
	UnpaidContractIDs []uuid.UUID
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Order methods
	CreateOrderAtomic(ctx context.Context, params CreateOrderParams) (*CreateOrderResult, error)
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	FindPendingOrdersByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Order, error)
	MarkOrderSubmitted(ctx context.Context, orderID uuid.UUID) error
	MarkOrderProcessing(ctx context.Context, orderID uuid.UUID) error
	ExpireStaleOrders(ctx context.Context, now time.Time) (int64, error)

	// Submission methods
	CreateSubmission(ctx context.Context, submission *domain.Submission) error
	FindSubmissionByID(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, error)
	SaveSubmissionArtifacts(ctx context.Context, submissionID uuid.UUID, extraction *domain.ExtractionResult, validation *domain.ValidationResult, forensics *domain.ForensicsResult, score *domain.ScoreResult) error
	// FinalizeSubmissionAtomic moves the submission to a terminal status if and
	// only if its current status is one of FromStatuses, and applies the audit
	// entry, the order transition, and the approval side effect in the same
	// transaction. It reports whether this call won the transition; nothing is
	// changed when it did not.
	FinalizeSubmissionAtomic(ctx context.Context, params FinalizeParams) (bool, error)
	CountSubmissionsByAccountSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)

	// Duplicate ledger methods. First writer wins the insert; the duplicate
	// verdict is always read from the surviving row.
	ClaimReference(ctx context.Context, ref string, submissionID, accountID uuid.UUID, amount int64) (*domain.DuplicateCheckResult, error)
	ClaimImageHash(ctx context.Context, hash string, submissionID, accountID uuid.UUID) (*domain.DuplicateCheckResult, error)
	ListRecentImageHashes(ctx context.Context, since time.Time, limit int) ([]ImageHashClaim, error)

	// Contract and outstanding-fee ledger methods
	FindContractByBidID(ctx context.Context, bidID uuid.UUID) (*domain.Contract, error)
	FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error)
	GetAccountLedger(ctx context.Context, accountID uuid.UUID) (*domain.AccountLedger, error)
	ApplyContractFee(ctx context.Context, contract *domain.Contract, cap int64) error
	WaiveContractFee(ctx context.Context, contractID, accountID uuid.UUID) (bool, error)
	SuspendAccount(ctx context.Context, accountID uuid.UUID, reason string) error
	ListLedgersWithExposure(ctx context.Context, afterAccountID uuid.UUID, limit int) ([]domain.AccountLedger, error)
	RecomputeAccountLedger(ctx context.Context, accountID uuid.UUID) (*ReconcileOutcome, error)

	// Platform settings
	GetPlatformSettings(ctx context.Context) (*domain.PlatformSettings, error)
}
