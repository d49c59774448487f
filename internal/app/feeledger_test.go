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

func seedLedger(repo *fakeRepo, verified bool, age time.Duration) uuid.UUID {
	accountID := uuid.New()
	repo.ledgers[accountID] = &domain.AccountLedger{
		AccountID: accountID,
		Status:    domain.AccountStatusActive,
		Verified:  verified,
		CreatedAt: time.Now().UTC().Add(-age),
	}
	return accountID
}

func contractEvent(payerID uuid.UUID, fee int64) ContractCreatedEvent {
	return ContractCreatedEvent{
		ContractID:  uuid.New(),
		BidID:       uuid.New(),
		PayerID:     payerID,
		PlatformFee: fee,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestCapForTiers(t *testing.T) {
	cfg := testConfig()
	now := time.Now().UTC()

	tests := []struct {
		name     string
		verified bool
		age      time.Duration
		want     int64
	}{
		{"unverified", false, 365 * 24 * time.Hour, cfg.FeeCapUnverified},
		{"verified new", true, 2 * 24 * time.Hour, cfg.FeeCapNewAccount},
		{"verified established", true, 30 * 24 * time.Hour, cfg.FeeCapEstablished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &domain.AccountLedger{Verified: tt.verified, CreatedAt: now.Add(-tt.age)}
			if got := capFor(cfg, ledger, now); got != tt.want {
				t.Errorf("capFor = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRegisterContractAppliesFee(t *testing.T) {
	repo := newFakeRepo()
	svc := NewFeeService(repo, testConfig())
	payerID := seedLedger(repo, true, 60*24*time.Hour)
	event := contractEvent(payerID, 50000)

	if err := svc.RegisterContract(context.Background(), event); err != nil {
		t.Fatalf("RegisterContract: %v", err)
	}
	if repo.ledgers[payerID].OutstandingFees != 50000 {
		t.Errorf("outstanding = %d, want 50000", repo.ledgers[payerID].OutstandingFees)
	}
	if _, ok := repo.contracts[event.ContractID]; !ok {
		t.Error("expected the contract to be recorded")
	}
}

func TestRegisterContractIdempotentRedelivery(t *testing.T) {
	repo := newFakeRepo()
	svc := NewFeeService(repo, testConfig())
	payerID := seedLedger(repo, true, 60*24*time.Hour)
	event := contractEvent(payerID, 50000)

	if err := svc.RegisterContract(context.Background(), event); err != nil {
		t.Fatalf("first RegisterContract: %v", err)
	}
	if err := svc.RegisterContract(context.Background(), event); err != nil {
		t.Fatalf("redelivered RegisterContract: %v", err)
	}
	if repo.ledgers[payerID].OutstandingFees != 50000 {
		t.Errorf("outstanding = %d after redelivery, want 50000", repo.ledgers[payerID].OutstandingFees)
	}
}

func TestRegisterContractRejectsNonPositiveFee(t *testing.T) {
	repo := newFakeRepo()
	svc := NewFeeService(repo, testConfig())
	payerID := seedLedger(repo, true, 60*24*time.Hour)

	if err := svc.RegisterContract(context.Background(), contractEvent(payerID, 0)); err == nil {
		t.Fatal("expected an error for a zero platform fee")
	}
}

func TestRegisterContractCapExceededSuspends(t *testing.T) {
	repo := newFakeRepo()
	cfg := testConfig()
	svc := NewFeeService(repo, cfg)
	payerID := seedLedger(repo, false, 365*24*time.Hour) // unverified: cap 200000
	repo.ledgers[payerID].OutstandingFees = 180000

	err := svc.RegisterContract(context.Background(), contractEvent(payerID, 50000))
	if !errors.Is(err, store.ErrFeeCapExceeded) {
		t.Fatalf("err = %v, want ErrFeeCapExceeded", err)
	}
	ledger := repo.ledgers[payerID]
	if ledger.Status != domain.AccountStatusSuspended {
		t.Errorf("account status = %q, want suspended", ledger.Status)
	}
	if ledger.SuspensionReason == nil || *ledger.SuspensionReason != domain.SuspensionReasonUnpaidFees {
		t.Errorf("suspension reason = %v, want unpaid_fees", ledger.SuspensionReason)
	}
	// The refused fee must not have been recorded.
	if ledger.OutstandingFees != 180000 {
		t.Errorf("outstanding = %d, want 180000", ledger.OutstandingFees)
	}
}

func TestRegisterContractRefusesSuspendedPayer(t *testing.T) {
	repo := newFakeRepo()
	svc := NewFeeService(repo, testConfig())
	payerID := seedLedger(repo, true, 60*24*time.Hour)
	reason := domain.SuspensionReasonUnpaidFees
	repo.ledgers[payerID].Status = domain.AccountStatusSuspended
	repo.ledgers[payerID].SuspensionReason = &reason

	err := svc.RegisterContract(context.Background(), contractEvent(payerID, 50000))
	if !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("err = %v, want ErrAccountSuspended", err)
	}
}

func TestHandleContractCreatedAckDecisions(t *testing.T) {
	repo := newFakeRepo()
	svc := NewFeeService(repo, testConfig())
	payerID := seedLedger(repo, false, 365*24*time.Hour)
	repo.ledgers[payerID].OutstandingFees = 190000

	if !svc.HandleContractCreated([]byte("{not json")) {
		t.Error("malformed payload must be acked and dropped")
	}

	// A cap refusal is a final policy decision; the message must be acked.
	body := []byte(`{"contract_id":"` + uuid.New().String() + `","bid_id":"` + uuid.New().String() +
		`","payer_id":"` + payerID.String() + `","platform_fee":50000}`)
	if !svc.HandleContractCreated(body) {
		t.Error("cap refusal must be acked, not requeued")
	}

	// An unknown payer is an infrastructure-shaped failure; requeue.
	body = []byte(`{"contract_id":"` + uuid.New().String() + `","bid_id":"` + uuid.New().String() +
		`","payer_id":"` + uuid.New().String() + `","platform_fee":50000}`)
	if svc.HandleContractCreated(body) {
		t.Error("a failed ledger load must requeue the message")
	}
}

func TestWaiveFeeLiftsSuspension(t *testing.T) {
	repo := newFakeRepo()
	svc := NewFeeService(repo, testConfig())
	payerID := seedLedger(repo, true, 60*24*time.Hour)

	contract := &domain.Contract{
		ID:          uuid.New(),
		BidID:       uuid.New(),
		PayerID:     payerID,
		PlatformFee: 120000,
		CreatedAt:   time.Now().UTC(),
	}
	repo.contracts[contract.ID] = contract
	ledger := repo.ledgers[payerID]
	ledger.OutstandingFees = contract.PlatformFee
	ledger.UnpaidContractIDs = []uuid.UUID{contract.ID}
	reason := domain.SuspensionReasonUnpaidFees
	ledger.Status = domain.AccountStatusSuspended
	ledger.SuspensionReason = &reason

	outcome, err := svc.WaiveFee(context.Background(), "admin-1", contract.ID)
	if err != nil {
		t.Fatalf("WaiveFee: %v", err)
	}
	if !repo.contracts[contract.ID].FeeWaived {
		t.Error("expected the contract to be marked waived")
	}
	if outcome.RecomputedTotal != 0 {
		t.Errorf("recomputed total = %d, want 0", outcome.RecomputedTotal)
	}
	if !outcome.Unsuspended {
		t.Error("clearing the balance must lift an unpaid-fees suspension")
	}
	if ledger.Status != domain.AccountStatusActive {
		t.Errorf("ledger status = %q, want active", ledger.Status)
	}

	// Waiving again must report the fee as already resolved.
	if _, err := svc.WaiveFee(context.Background(), "admin-1", contract.ID); !errors.Is(err, store.ErrFeeAlreadyPaid) {
		t.Fatalf("second waive err = %v, want ErrFeeAlreadyPaid", err)
	}
}

func TestWaiveFeeUnknownContract(t *testing.T) {
	repo := newFakeRepo()
	svc := NewFeeService(repo, testConfig())

	if _, err := svc.WaiveFee(context.Background(), "admin-1", uuid.New()); !errors.Is(err, store.ErrContractNotFound) {
		t.Fatalf("err = %v, want ErrContractNotFound", err)
	}
}
