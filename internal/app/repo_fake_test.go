package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/padala/verification-service/internal/domain"
	"github.com/padala/verification-service/internal/store"
)

var errInjectedFinalize = errors.New("injected finalize failure")

// fakeRepo is an in-memory store.Repository mirroring the transactional
// semantics the app layer depends on: idempotent order creation, first-writer
// duplicate claims, and the finalize CAS.
type fakeRepo struct {
	orders      map[uuid.UUID]*domain.Order
	locks       map[string]uuid.UUID
	submissions map[uuid.UUID]*domain.Submission
	contracts   map[uuid.UUID]*domain.Contract
	ledgers     map[uuid.UUID]*domain.AccountLedger
	refClaims   map[string]*domain.DuplicateCheckResult
	hashClaims  map[string]store.ImageHashClaim
	settings    *domain.PlatformSettings
	audits      []*domain.AuditEntry

	credits          map[uuid.UUID]int64
	settled          []uuid.UUID
	orderTransitions []string
	recentCount      int
	expireCount      int64
	reconcileCalls   []uuid.UUID
	suspendedReason  map[uuid.UUID]string

	findSubmissionErr error
	settingsErr       error
	ledgerErr         error
	failFinalize      int // inject this many finalize failures before succeeding
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:          make(map[uuid.UUID]*domain.Order),
		locks:           make(map[string]uuid.UUID),
		submissions:     make(map[uuid.UUID]*domain.Submission),
		contracts:       make(map[uuid.UUID]*domain.Contract),
		ledgers:         make(map[uuid.UUID]*domain.AccountLedger),
		refClaims:       make(map[string]*domain.DuplicateCheckResult),
		hashClaims:      make(map[string]store.ImageHashClaim),
		credits:         make(map[uuid.UUID]int64),
		suspendedReason: make(map[uuid.UUID]string),
		settings: &domain.PlatformSettings{
			VerificationEnabled: true,
			AutoApproveEnabled:  true,
		},
	}
}

func (f *fakeRepo) CreateOrderAtomic(ctx context.Context, params store.CreateOrderParams) (*store.CreateOrderResult, error) {
	order := params.Order

	if params.IdempotencyKey != "" {
		if existingID, ok := f.locks[params.IdempotencyKey]; ok {
			// A lock pointing at a resolved or expired order is vacant;
			// creation below re-points it at the new order.
			if existing := f.orders[existingID]; existing != nil && existing.IsActive(order.CreatedAt) {
				return &store.CreateOrderResult{Order: existing, Reused: true, Reason: "idempotent_replay"}, nil
			}
		}
	}

	if params.CheckFeeContract {
		contract, ok := f.contracts[*order.ContractID]
		if !ok {
			return nil, store.ErrContractNotFound
		}
		if contract.PayerID != order.AccountID {
			return nil, store.ErrNotFeePayer
		}
		if contract.FeePaid || contract.FeeWaived {
			return nil, store.ErrFeeAlreadyPaid
		}
		for _, existing := range f.orders {
			if existing.BidID != nil && *existing.BidID == *order.BidID &&
				existing.AccountID == order.AccountID && existing.IsActive(order.CreatedAt) {
				return &store.CreateOrderResult{Order: existing, Reused: true, Reason: "active_order_exists"}, nil
			}
		}
	}

	if params.EnforceDailyLimit {
		count := 0
		for _, existing := range f.orders {
			if existing.AccountID == order.AccountID && existing.Kind == domain.OrderKindTopUp &&
				existing.CreatedAt.After(params.DailySince) {
				count++
			}
		}
		if count >= params.DailyLimit {
			return nil, store.ErrDailyLimitExceeded
		}
	}

	f.orders[order.ID] = order
	if params.IdempotencyKey != "" {
		f.locks[params.IdempotencyKey] = order.ID
	}
	return &store.CreateOrderResult{Order: order}, nil
}

func (f *fakeRepo) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeRepo) FindPendingOrdersByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Order, error) {
	var orders []domain.Order
	for _, order := range f.orders {
		if order.AccountID == accountID && !order.IsTerminal() {
			orders = append(orders, *order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (f *fakeRepo) MarkOrderProcessing(ctx context.Context, orderID uuid.UUID) error {
	order, ok := f.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	if order.Status == domain.OrderStatusAwaitingUpload || order.Status == domain.OrderStatusSubmitted {
		order.Status = domain.OrderStatusProcessing
		f.orderTransitions = append(f.orderTransitions, domain.OrderStatusProcessing)
	}
	return nil
}

func (f *fakeRepo) MarkOrderSubmitted(ctx context.Context, orderID uuid.UUID) error {
	order, ok := f.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	if order.Status == domain.OrderStatusAwaitingUpload {
		order.Status = domain.OrderStatusSubmitted
	}
	return nil
}

func (f *fakeRepo) ExpireStaleOrders(ctx context.Context, now time.Time) (int64, error) {
	return f.expireCount, nil
}

func (f *fakeRepo) CreateSubmission(ctx context.Context, submission *domain.Submission) error {
	copied := *submission
	f.submissions[submission.ID] = &copied
	return nil
}

func (f *fakeRepo) FindSubmissionByID(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, error) {
	if f.findSubmissionErr != nil {
		return nil, f.findSubmissionErr
	}
	sub, ok := f.submissions[submissionID]
	if !ok {
		return nil, store.ErrSubmissionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (f *fakeRepo) SaveSubmissionArtifacts(ctx context.Context, submissionID uuid.UUID, extraction *domain.ExtractionResult, validation *domain.ValidationResult, forensics *domain.ForensicsResult, score *domain.ScoreResult) error {
	sub, ok := f.submissions[submissionID]
	if !ok {
		return store.ErrSubmissionNotFound
	}
	sub.Extraction = extraction
	sub.Validation = validation
	sub.Forensics = forensics
	sub.Score = score
	return nil
}

func (f *fakeRepo) FinalizeSubmissionAtomic(ctx context.Context, params store.FinalizeParams) (bool, error) {
	sub, ok := f.submissions[params.SubmissionID]
	if !ok {
		return false, store.ErrSubmissionNotFound
	}
	allowed := false
	for _, from := range params.FromStatuses {
		if sub.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	// An injected failure models a rolled-back transaction: nothing below it
	// is applied and the submission stays claimable.
	if f.failFinalize > 0 {
		f.failFinalize--
		return false, errInjectedFinalize
	}

	now := time.Now().UTC()
	sub.Status = params.Status
	sub.Errors = params.Errs
	sub.ResolvedBy = params.ResolvedBy
	sub.ResolutionNotes = params.Notes
	sub.ProcessedAt = &now
	sub.ResolvedAt = &now

	if params.Audit != nil {
		copied := *params.Audit
		f.audits = append(f.audits, &copied)
	}

	order, ok := f.orders[params.OrderID]
	if !ok {
		return false, store.ErrOrderNotFound
	}
	order.Status = params.OrderStatus
	order.RejectionReasons = params.RejectionReasons
	f.orderTransitions = append(f.orderTransitions, params.OrderStatus)

	switch {
	case params.SettleContractID != nil:
		f.settleContractFee(*params.SettleContractID, params.AccountID)
	case params.CreditAmount > 0:
		f.credits[params.AccountID] += params.CreditAmount
		ledger, ok := f.ledgers[params.AccountID]
		if !ok {
			ledger = &domain.AccountLedger{AccountID: params.AccountID, Status: domain.AccountStatusActive, CreatedAt: now}
			f.ledgers[params.AccountID] = ledger
		}
		ledger.Balance += params.CreditAmount
	}
	return true, nil
}

func (f *fakeRepo) CountSubmissionsByAccountSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	return f.recentCount, nil
}

func (f *fakeRepo) ClaimReference(ctx context.Context, ref string, submissionID, accountID uuid.UUID, amount int64) (*domain.DuplicateCheckResult, error) {
	if first, ok := f.refClaims[ref]; ok {
		// The claim's owner re-claiming (a redelivered job) is not a duplicate.
		if first.FirstSubmissionID != nil && *first.FirstSubmissionID == submissionID {
			return &domain.DuplicateCheckResult{}, nil
		}
		return &domain.DuplicateCheckResult{
			IsDuplicate:       true,
			FirstSubmissionID: first.FirstSubmissionID,
			FirstAccountID:    first.FirstAccountID,
		}, nil
	}
	subID, acctID := submissionID, accountID
	f.refClaims[ref] = &domain.DuplicateCheckResult{FirstSubmissionID: &subID, FirstAccountID: &acctID}
	return &domain.DuplicateCheckResult{}, nil
}

func (f *fakeRepo) ClaimImageHash(ctx context.Context, hash string, submissionID, accountID uuid.UUID) (*domain.DuplicateCheckResult, error) {
	if first, ok := f.hashClaims[hash]; ok {
		if first.SubmissionID == submissionID {
			return &domain.DuplicateCheckResult{}, nil
		}
		firstSub, firstAcct := first.SubmissionID, first.AccountID
		return &domain.DuplicateCheckResult{
			IsDuplicate:       true,
			FirstSubmissionID: &firstSub,
			FirstAccountID:    &firstAcct,
		}, nil
	}
	f.hashClaims[hash] = store.ImageHashClaim{Hash: hash, SubmissionID: submissionID, AccountID: accountID}
	return &domain.DuplicateCheckResult{}, nil
}

func (f *fakeRepo) ListRecentImageHashes(ctx context.Context, since time.Time, limit int) ([]store.ImageHashClaim, error) {
	var claims []store.ImageHashClaim
	for _, claim := range f.hashClaims {
		claims = append(claims, claim)
	}
	return claims, nil
}

func (f *fakeRepo) FindContractByBidID(ctx context.Context, bidID uuid.UUID) (*domain.Contract, error) {
	for _, contract := range f.contracts {
		if contract.BidID == bidID {
			copied := *contract
			return &copied, nil
		}
	}
	return nil, store.ErrContractNotFound
}

func (f *fakeRepo) FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error) {
	contract, ok := f.contracts[contractID]
	if !ok {
		return nil, store.ErrContractNotFound
	}
	copied := *contract
	return &copied, nil
}

func (f *fakeRepo) GetAccountLedger(ctx context.Context, accountID uuid.UUID) (*domain.AccountLedger, error) {
	if f.ledgerErr != nil {
		return nil, f.ledgerErr
	}
	ledger, ok := f.ledgers[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *ledger
	return &copied, nil
}

func (f *fakeRepo) ApplyContractFee(ctx context.Context, contract *domain.Contract, cap int64) error {
	ledger, ok := f.ledgers[contract.PayerID]
	if !ok {
		return store.ErrAccountNotFound
	}
	if ledger.OutstandingFees+contract.PlatformFee > cap {
		return store.ErrFeeCapExceeded
	}
	copied := *contract
	f.contracts[contract.ID] = &copied
	ledger.OutstandingFees += contract.PlatformFee
	ledger.UnpaidContractIDs = append(ledger.UnpaidContractIDs, contract.ID)
	return nil
}

func (f *fakeRepo) settleContractFee(contractID, accountID uuid.UUID) (bool, error) {
	contract, ok := f.contracts[contractID]
	if !ok || contract.PayerID != accountID || contract.FeePaid || contract.FeeWaived {
		return false, nil
	}
	contract.FeePaid = true
	f.settled = append(f.settled, contractID)
	if ledger, ok := f.ledgers[accountID]; ok {
		ledger.OutstandingFees -= contract.PlatformFee
		if ledger.OutstandingFees <= 0 {
			ledger.OutstandingFees = 0
			if ledger.Status == domain.AccountStatusSuspended &&
				ledger.SuspensionReason != nil && *ledger.SuspensionReason == domain.SuspensionReasonUnpaidFees {
				ledger.Status = domain.AccountStatusActive
				ledger.SuspensionReason = nil
			}
		}
	}
	return true, nil
}

func (f *fakeRepo) WaiveContractFee(ctx context.Context, contractID, accountID uuid.UUID) (bool, error) {
	contract, ok := f.contracts[contractID]
	if !ok || contract.PayerID != accountID || contract.FeePaid || contract.FeeWaived {
		return false, nil
	}
	contract.FeeWaived = true
	if ledger, ok := f.ledgers[accountID]; ok {
		ledger.OutstandingFees -= contract.PlatformFee
		if ledger.OutstandingFees < 0 {
			ledger.OutstandingFees = 0
		}
	}
	return true, nil
}

func (f *fakeRepo) SuspendAccount(ctx context.Context, accountID uuid.UUID, reason string) error {
	f.suspendedReason[accountID] = reason
	ledger, ok := f.ledgers[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	ledger.Status = domain.AccountStatusSuspended
	ledger.SuspensionReason = &reason
	return nil
}

func (f *fakeRepo) ListLedgersWithExposure(ctx context.Context, afterAccountID uuid.UUID, limit int) ([]domain.AccountLedger, error) {
	var exposed []domain.AccountLedger
	for _, ledger := range f.ledgers {
		if ledger.AccountID.String() <= afterAccountID.String() {
			continue
		}
		if ledger.OutstandingFees != 0 || len(ledger.UnpaidContractIDs) > 0 || ledger.Status == domain.AccountStatusSuspended {
			exposed = append(exposed, *ledger)
		}
	}
	sort.Slice(exposed, func(i, j int) bool {
		return exposed[i].AccountID.String() < exposed[j].AccountID.String()
	})
	if len(exposed) > limit {
		exposed = exposed[:limit]
	}
	return exposed, nil
}

func (f *fakeRepo) RecomputeAccountLedger(ctx context.Context, accountID uuid.UUID) (*store.ReconcileOutcome, error) {
	f.reconcileCalls = append(f.reconcileCalls, accountID)
	ledger, ok := f.ledgers[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}

	outcome := &store.ReconcileOutcome{AccountID: accountID, PreviousTotal: ledger.OutstandingFees}
	var total int64
	var unpaid []uuid.UUID
	for _, contract := range f.contracts {
		if contract.PayerID == accountID && !contract.FeePaid && !contract.FeeWaived {
			total += contract.PlatformFee
			unpaid = append(unpaid, contract.ID)
		}
	}
	outcome.RecomputedTotal = total
	outcome.UnpaidContractIDs = unpaid
	outcome.Drifted = total != ledger.OutstandingFees || len(unpaid) != len(ledger.UnpaidContractIDs)

	ledger.OutstandingFees = total
	ledger.UnpaidContractIDs = unpaid
	if total == 0 && ledger.Status == domain.AccountStatusSuspended &&
		ledger.SuspensionReason != nil && *ledger.SuspensionReason == domain.SuspensionReasonUnpaidFees {
		ledger.Status = domain.AccountStatusActive
		ledger.SuspensionReason = nil
		outcome.Unsuspended = true
	}
	return outcome, nil
}

func (f *fakeRepo) GetPlatformSettings(ctx context.Context) (*domain.PlatformSettings, error) {
	if f.settingsErr != nil {
		return nil, f.settingsErr
	}
	copied := *f.settings
	return &copied, nil
}
