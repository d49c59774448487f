/**
 * @description
 * This file implements the outstanding-fee ledger service: registering newly
 * won contracts' platform fees against the payer's exposure cap, admin fee
 * waivers, and the cap tiers themselves.
 *
 * @notes
 * - Exposure caps are tiered by account standing: unverified accounts carry
 *   the smallest cap, verified-but-new accounts a middle one, and established
 *   verified accounts the largest. A fee that would push exposure past the cap
 *   is refused and the account is suspended until its balance is settled.
 * - Contract registration arrives over the event bus from the marketplace, so
 *   the handler tolerates redelivery: an already-registered contract id is
 *   acknowledged without effect.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/padala/verification-service/internal/config"
	"github.com/padala/verification-service/internal/domain"
	"github.com/padala/verification-service/internal/store"
)

// ContractCreatedEvent is the marketplace's notification that a bid was won
// and a fee-bearing contract now exists.
type ContractCreatedEvent struct {
	ContractID  uuid.UUID `json:"contract_id"`
	BidID       uuid.UUID `json:"bid_id"`
	PayerID     uuid.UUID `json:"payer_id"`
	PlatformFee int64     `json:"platform_fee"` // in centavos
	CreatedAt   time.Time `json:"created_at"`
}

// FeeService manages the outstanding-fee ledger.
type FeeService struct {
	repo store.Repository
	cfg  config.Config
}

// NewFeeService creates the fee ledger service.
func NewFeeService(repo store.Repository, cfg config.Config) *FeeService {
	return &FeeService{repo: repo, cfg: cfg}
}

// capFor returns the exposure cap for the account's standing tier.
func capFor(cfg config.Config, ledger *domain.AccountLedger, now time.Time) int64 {
	if !ledger.Verified {
		return cfg.FeeCapUnverified
	}
	if ledger.AgeDays(now) < cfg.NewAccountAgeDays {
		return cfg.FeeCapNewAccount
	}
	return cfg.FeeCapEstablished
}

// RegisterContract records a new contract's platform fee on the payer's
// ledger. When the fee would exceed the payer's exposure cap the contract is
// refused and the account suspended for unpaid fees.
func (f *FeeService) RegisterContract(ctx context.Context, event ContractCreatedEvent) error {
	if event.PlatformFee <= 0 {
		return fmt.Errorf("contract %s has non-positive platform fee %d", event.ContractID, event.PlatformFee)
	}

	if existing, err := f.repo.FindContractByID(ctx, event.ContractID); err == nil && existing != nil {
		log.Printf("level=info component=fee_ledger msg=\"contract already registered; skipping\" contract_id=%s", event.ContractID)
		return nil
	} else if err != nil && !errors.Is(err, store.ErrContractNotFound) {
		return fmt.Errorf("check existing contract: %w", err)
	}

	now := time.Now().UTC()
	ledger, err := f.repo.GetAccountLedger(ctx, event.PayerID)
	if err != nil {
		return fmt.Errorf("load payer ledger: %w", err)
	}
	if ledger.Status == domain.AccountStatusSuspended {
		return fmt.Errorf("%w: account %s cannot take on new fees", ErrAccountSuspended, event.PayerID)
	}

	contract := &domain.Contract{
		ID:          event.ContractID,
		BidID:       event.BidID,
		PayerID:     event.PayerID,
		PlatformFee: event.PlatformFee,
		CreatedAt:   event.CreatedAt,
	}
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = now
	}

	cap := capFor(f.cfg, ledger, now)
	if err := f.repo.ApplyContractFee(ctx, contract, cap); err != nil {
		if errors.Is(err, store.ErrFeeCapExceeded) {
			log.Printf("level=warn component=fee_ledger msg=\"exposure cap exceeded; suspending account\" account_id=%s cap=%d outstanding=%d fee=%d",
				event.PayerID, cap, ledger.OutstandingFees, event.PlatformFee)
			if serr := f.repo.SuspendAccount(ctx, event.PayerID, domain.SuspensionReasonUnpaidFees); serr != nil {
				log.Printf("level=error component=fee_ledger msg=\"failed to suspend account\" account_id=%s err=%v", event.PayerID, serr)
			}
		}
		return err
	}

	log.Printf("level=info component=fee_ledger msg=\"contract fee applied\" contract_id=%s account_id=%s fee=%d",
		event.ContractID, event.PayerID, event.PlatformFee)
	return nil
}

// HandleContractCreated is the queue handler for contract.created events. The
// returned bool is the ack decision.
func (f *FeeService) HandleContractCreated(body []byte) bool {
	var event ContractCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=fee_ledger msg=\"dropping malformed contract event\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.RegisterContract(ctx, event); err != nil {
		if errors.Is(err, store.ErrFeeCapExceeded) || errors.Is(err, ErrAccountSuspended) {
			// A policy refusal is final; redelivery would only refuse again.
			return true
		}
		log.Printf("level=error component=fee_ledger msg=\"contract registration failed; requeueing\" contract_id=%s err=%v",
			event.ContractID, err)
		return false
	}
	return true
}

// WaiveFee marks a contract's fee as waived on an admin's authority, then
// recomputes the payer's ledger so a waiver that clears the balance also
// lifts an unpaid-fees suspension.
func (f *FeeService) WaiveFee(ctx context.Context, adminID string, contractID uuid.UUID) (*store.ReconcileOutcome, error) {
	contract, err := f.repo.FindContractByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	waived, err := f.repo.WaiveContractFee(ctx, contract.ID, contract.PayerID)
	if err != nil {
		return nil, fmt.Errorf("waive contract fee: %w", err)
	}
	if !waived {
		return nil, store.ErrFeeAlreadyPaid
	}

	log.Printf("level=info component=fee_ledger msg=\"contract fee waived\" contract_id=%s account_id=%s admin_id=%s fee=%d",
		contract.ID, contract.PayerID, adminID, contract.PlatformFee)

	outcome, err := f.repo.RecomputeAccountLedger(ctx, contract.PayerID)
	if err != nil {
		return nil, fmt.Errorf("recompute ledger after waiver: %w", err)
	}
	return outcome, nil
}
