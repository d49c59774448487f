/**
 * @description
 * This file defines the Order domain model for the verification-service. An Order
 * is a payment intent: a record the user must fulfill by submitting a transfer
 * screenshot before a balance top-up or an intermediation fee is considered paid.
 *
 * @notes
 * - Amounts are stored as `int64` in centavos (the smallest currency unit) to
 *   avoid floating-point inaccuracies with financial data.
 * - Orders are never deleted. They either resolve to a terminal status or expire.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderKind distinguishes the two payment intents the platform accepts proof for.
const (
	OrderKindTopUp         = "top_up"
	OrderKindFeeSettlement = "fee_settlement"
)

// Order statuses. An order is "active" while in a non-terminal status and not expired.
const (
	OrderStatusAwaitingUpload = "awaiting_upload"
	OrderStatusSubmitted      = "submitted"
	OrderStatusProcessing     = "processing"
	OrderStatusApproved       = "approved"
	OrderStatusRejected       = "rejected"
	OrderStatusManualReview   = "manual_review"
	OrderStatusExpired        = "expired"
)

// ReceivingAccount is the display info of the platform's receiving wallet,
// snapshotted onto the order at creation so later provider changes do not
// invalidate in-flight proofs.
type ReceivingAccount struct {
	Provider      string `json:"provider"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

// Order represents a payment intent record. This struct maps directly to the
// `orders` table in the database.
type Order struct {
	ID               uuid.UUID        `json:"id"`
	AccountID        uuid.UUID        `json:"account_id"`
	Kind             string           `json:"kind"`
	Amount           int64            `json:"amount"` // in centavos
	BidID            *uuid.UUID       `json:"bid_id,omitempty"`
	ContractID       *uuid.UUID       `json:"contract_id,omitempty"`
	ReceivingAccount ReceivingAccount `json:"receiving_account"`
	Status           string           `json:"status"`
	RejectionReasons []string         `json:"rejection_reasons,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
}

// IsTerminal reports whether the order can no longer change status through the
// automatic pipeline. Manual review is not terminal: an admin still resolves it.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusApproved, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsExpired reports whether the order's upload window has lapsed at the given time.
func (o *Order) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// IsActive reports whether the order still occupies its (contract, payer) slot:
// non-terminal and not expired.
func (o *Order) IsActive(now time.Time) bool {
	return !o.IsTerminal() && !o.IsExpired(now)
}

// CreateOrderRequest is the DTO for the create-order API endpoint.
type CreateOrderRequest struct {
	Kind             string     `json:"kind"`
	Amount           int64      `json:"amount,omitempty"` // in centavos, top-up only
	BidID            *uuid.UUID `json:"bid_id,omitempty"` // fee settlement only
	IdempotencyToken string     `json:"idempotency_token,omitempty"`
}

// IdempotencyLock guards order creation against client retries. Exactly one
// lock row exists per logical intent; it is written in the same transaction as
// the order it guards.
type IdempotencyLock struct {
	Key       string    `json:"key"` // sha256(account id, operation, caller token)
	AccountID uuid.UUID `json:"account_id"`
	Operation string    `json:"operation"`
	OrderID   uuid.UUID `json:"order_id"`
	CreatedAt time.Time `json:"created_at"`
}
