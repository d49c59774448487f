/**
 * @description
 * This file defines the outstanding-fee ledger view of an account and the
 * fee-bearing contract record it is reconciled against.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account statuses.
const (
	AccountStatusActive    = "active"
	AccountStatusSuspended = "suspended"
)

// SuspensionReasonUnpaidFees is the reason the suspension enforcer sets. The
// pipeline only auto-unsuspends accounts whose reason still matches it, so a
// manual suspension for some other cause is never lifted by a fee payment.
const SuspensionReasonUnpaidFees = "unpaid_fees"

// AccountLedger is the per-account aggregate of unpaid intermediation fees.
// Maps to the `account_ledgers` table. Invariant: OutstandingFees equals the
// sum of platform fees over UnpaidContractIDs; the reconciliation job
// recomputes both from source contracts and corrects drift.
type AccountLedger struct {
	AccountID         uuid.UUID   `json:"account_id"`
	Balance           int64       `json:"balance"` // custodial balance, in centavos
	OutstandingFees   int64       `json:"outstanding_fees"`
	UnpaidContractIDs []uuid.UUID `json:"unpaid_contract_ids"`
	Status            string      `json:"status"`
	SuspensionReason  *string     `json:"suspension_reason,omitempty"`
	Verified          bool        `json:"verified"`
	CreatedAt         time.Time   `json:"created_at"`
}

// AgeDays returns the account age in whole days at the given time.
func (a *AccountLedger) AgeDays(now time.Time) int {
	return int(now.Sub(a.CreatedAt).Hours() / 24)
}

// Contract is the verification-service's view of a fee-bearing marketplace
// contract: just enough to resolve the fee payer and reconcile the ledger.
type Contract struct {
	ID          uuid.UUID `json:"id"`
	BidID       uuid.UUID `json:"bid_id"`
	PayerID     uuid.UUID `json:"payer_id"`
	PlatformFee int64     `json:"platform_fee"` // in centavos
	FeePaid     bool      `json:"fee_paid"`
	FeeWaived   bool      `json:"fee_waived"`
	CreatedAt   time.Time `json:"created_at"`
}
