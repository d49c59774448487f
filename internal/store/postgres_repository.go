/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL to interact with the tables backing orders,
 * submissions, the duplicate ledger, the outstanding-fee ledger, and the fraud
 * audit log.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - All read-then-write protocols run under a serializable transaction with a
 *   bounded retry on serialization conflicts (SQLSTATE 40001/40P01). No row
 *   locks are taken explicitly; optimistic retry is the concurrency strategy.
 */

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/padala/verification-service/internal/domain"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrContractNotFound   = errors.New("contract not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrNotFeePayer        = errors.New("caller is not the fee payer for this contract")
	ErrFeeAlreadyPaid     = errors.New("contract fee already paid")
	ErrDailyLimitExceeded = errors.New("daily top-up order limit exceeded")
	ErrFeeCapExceeded     = errors.New("outstanding fee cap exceeded")
	ErrSettingsNotFound   = errors.New("platform settings not found")
)

const serializableRetryAttempts = 3

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// IdempotencyLockKey derives the lock key for an (account, operation, token)
// triple. The caller-supplied token never reaches the database unhashed.
func IdempotencyLockKey(accountID uuid.UUID, operation, token string) string {
	sum := sha256.Sum256([]byte(accountID.String() + "|" + operation + "|" + token))
	return hex.EncodeToString(sum[:])
}

// withSerializableTx runs fn inside a serializable transaction, retrying a
// bounded number of times when the database aborts it with a serialization
// or deadlock error.
func (r *PostgresRepository) withSerializableTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < serializableRetryAttempts; attempt++ {
		tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// --- Orders ---

const orderColumns = `id, account_id, kind, amount, bid_id, contract_id, receiving_account, status, rejection_reasons, created_at, expires_at, resolved_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var order domain.Order
	var receiving []byte
	err := row.Scan(
		&order.ID,
		&order.AccountID,
		&order.Kind,
		&order.Amount,
		&order.BidID,
		&order.ContractID,
		&receiving,
		&order.Status,
		&order.RejectionReasons,
		&order.CreatedAt,
		&order.ExpiresAt,
		&order.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(receiving) > 0 {
		if err := json.Unmarshal(receiving, &order.ReceivingAccount); err != nil {
			return nil, fmt.Errorf("decode receiving account: %w", err)
		}
	}
	return &order, nil
}

// CreateOrderAtomic runs the whole order-creation protocol in one serializable
// transaction: idempotency replay, fee-payer validation, duplicate-active-order
// reuse, and the top-up daily limit are all evaluated against the same snapshot
// the insert commits into.
func (r *PostgresRepository) CreateOrderAtomic(ctx context.Context, params CreateOrderParams) (*CreateOrderResult, error) {
	result := &CreateOrderResult{}
	err := r.withSerializableTx(ctx, func(tx pgx.Tx) error {
		order := params.Order

		if params.IdempotencyKey != "" {
			existing, err := findOrderByLockTx(ctx, tx, params.IdempotencyKey, order.AccountID)
			if err != nil && !errors.Is(err, ErrOrderNotFound) {
				return err
			}
			if existing != nil && existing.IsActive(order.CreatedAt) {
				result.Order = existing
				result.Reused = true
				result.Reason = "idempotent_replay"
				return nil
			}
			// A lock pointing at a resolved or expired order is vacant: the
			// retried intent was never fulfilled, so creation proceeds and the
			// upsert below re-points the key at the new order.
		}

		if params.CheckFeeContract {
			contract, err := findContractTx(ctx, tx, *order.ContractID)
			if err != nil {
				return err
			}
			if contract.PayerID != order.AccountID {
				return ErrNotFeePayer
			}
			if contract.FeePaid {
				return ErrFeeAlreadyPaid
			}

			active, err := findActiveFeeOrderTx(ctx, tx, *order.BidID, order.AccountID)
			if err != nil && !errors.Is(err, ErrOrderNotFound) {
				return err
			}
			if active != nil {
				result.Order = active
				result.Reused = true
				result.Reason = "active_order_exists"
				return nil
			}
		}

		if params.EnforceDailyLimit {
			var count int
			err := tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM orders WHERE account_id = $1 AND kind = $2 AND created_at >= $3`,
				order.AccountID, domain.OrderKindTopUp, params.DailySince,
			).Scan(&count)
			if err != nil {
				return fmt.Errorf("count daily orders: %w", err)
			}
			if count >= params.DailyLimit {
				return ErrDailyLimitExceeded
			}
		}

		receiving, err := json.Marshal(order.ReceivingAccount)
		if err != nil {
			return fmt.Errorf("encode receiving account: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO orders (id, account_id, kind, amount, bid_id, contract_id, receiving_account, status, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			order.ID, order.AccountID, order.Kind, order.Amount, order.BidID, order.ContractID,
			receiving, order.Status, order.CreatedAt, order.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if params.IdempotencyKey != "" {
			_, err = tx.Exec(ctx,
				`INSERT INTO idempotency_locks (key, account_id, operation, order_id, created_at)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (key) DO UPDATE SET order_id = EXCLUDED.order_id, created_at = EXCLUDED.created_at`,
				params.IdempotencyKey, order.AccountID, "create_order", order.ID, order.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert idempotency lock: %w", err)
			}
		}

		result.Order = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func findOrderByLockTx(ctx context.Context, tx pgx.Tx, key string, accountID uuid.UUID) (*domain.Order, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE id = (SELECT order_id FROM idempotency_locks WHERE key = $1 AND account_id = $2)`,
		key, accountID,
	)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

func findActiveFeeOrderTx(ctx context.Context, tx pgx.Tx, bidID, accountID uuid.UUID) (*domain.Order, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE bid_id = $1 AND account_id = $2
		   AND status NOT IN ($3, $4, $5)
		   AND expires_at > NOW()
		 ORDER BY created_at DESC
		 LIMIT 1`,
		bidID, accountID, domain.OrderStatusApproved, domain.OrderStatusRejected, domain.OrderStatusExpired,
	)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// FindOrderByID retrieves an order by its id.
func (r *PostgresRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// FindPendingOrdersByAccount lists the caller's non-terminal, unexpired orders.
func (r *PostgresRepository) FindPendingOrdersByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Order, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE account_id = $1
		   AND status NOT IN ($2, $3, $4)
		   AND expires_at > NOW()
		 ORDER BY created_at DESC`,
		accountID, domain.OrderStatusApproved, domain.OrderStatusRejected, domain.OrderStatusExpired,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func updateOrderStatusTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status string, reasons []string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, rejection_reasons = $3, resolved_at = CASE WHEN $2 IN ($4, $5, $6) THEN NOW() ELSE resolved_at END
		 WHERE id = $1`,
		orderID, status, reasons, domain.OrderStatusApproved, domain.OrderStatusRejected, domain.OrderStatusExpired,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkOrderSubmitted transitions awaiting_upload -> submitted when the first
// submission arrives. Safe to call again: a later status is never rolled back.
func (r *PostgresRepository) MarkOrderSubmitted(ctx context.Context, orderID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1 AND status = $3`,
		orderID, domain.OrderStatusSubmitted, domain.OrderStatusAwaitingUpload,
	)
	return err
}

// MarkOrderProcessing transitions an open order to processing when the
// pipeline picks up its submission. Safe to call again: a later status is
// never rolled back.
func (r *PostgresRepository) MarkOrderProcessing(ctx context.Context, orderID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1 AND status IN ($3, $4)`,
		orderID, domain.OrderStatusProcessing, domain.OrderStatusAwaitingUpload, domain.OrderStatusSubmitted,
	)
	return err
}

// ExpireStaleOrders moves lapsed, still-open orders to the expired status.
func (r *PostgresRepository) ExpireStaleOrders(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE orders SET status = $1, resolved_at = $2
		 WHERE status IN ($3, $4) AND expires_at <= $2`,
		domain.OrderStatusExpired, now, domain.OrderStatusAwaitingUpload, domain.OrderStatusSubmitted,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Submissions ---

const submissionColumns = `id, order_id, account_id, screenshot_url, extraction, validation, forensics, score, status, errors, resolved_by, resolution_notes, created_at, processed_at, resolved_at`

func scanSubmission(row pgx.Row) (*domain.Submission, error) {
	var sub domain.Submission
	var extraction, validation, forensics, score []byte
	var resolvedBy, notes *string
	err := row.Scan(
		&sub.ID,
		&sub.OrderID,
		&sub.AccountID,
		&sub.ScreenshotURL,
		&extraction,
		&validation,
		&forensics,
		&score,
		&sub.Status,
		&sub.Errors,
		&resolvedBy,
		&notes,
		&sub.CreatedAt,
		&sub.ProcessedAt,
		&sub.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if resolvedBy != nil {
		sub.ResolvedBy = *resolvedBy
	}
	if notes != nil {
		sub.ResolutionNotes = *notes
	}
	if err := decodeJSONColumn(extraction, &sub.Extraction); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(validation, &sub.Validation); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(forensics, &sub.Forensics); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(score, &sub.Score); err != nil {
		return nil, err
	}
	return &sub, nil
}

func decodeJSONColumn[T any](data []byte, target **T) error {
	if len(data) == 0 {
		return nil
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	*target = &value
	return nil
}

func encodeJSONColumn[T any](value *T) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return json.Marshal(value)
}

// CreateSubmission inserts a new submission in the processing status.
func (r *PostgresRepository) CreateSubmission(ctx context.Context, submission *domain.Submission) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO submissions (id, order_id, account_id, screenshot_url, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		submission.ID, submission.OrderID, submission.AccountID, submission.ScreenshotURL,
		submission.Status, submission.CreatedAt,
	)
	return err
}

// FindSubmissionByID retrieves a submission with all its stage artifacts.
func (r *PostgresRepository) FindSubmissionByID(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, error) {
	row := r.db.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, submissionID)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// SaveSubmissionArtifacts persists the intermediate pipeline stage results.
// Reprocessing overwrites artifacts wholesale; partial stage output from an
// aborted run never mixes with a later run's.
func (r *PostgresRepository) SaveSubmissionArtifacts(ctx context.Context, submissionID uuid.UUID, extraction *domain.ExtractionResult, validation *domain.ValidationResult, forensics *domain.ForensicsResult, score *domain.ScoreResult) error {
	extractionJSON, err := encodeJSONColumn(extraction)
	if err != nil {
		return err
	}
	validationJSON, err := encodeJSONColumn(validation)
	if err != nil {
		return err
	}
	forensicsJSON, err := encodeJSONColumn(forensics)
	if err != nil {
		return err
	}
	scoreJSON, err := encodeJSONColumn(score)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE submissions SET extraction = $2, validation = $3, forensics = $4, score = $5, processed_at = NOW()
		 WHERE id = $1`,
		submissionID, extractionJSON, validationJSON, forensicsJSON, scoreJSON,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

// FinalizeSubmissionAtomic is the exactly-once gate for terminal transitions.
// The status CAS, the audit record, the order transition, and the approval
// side effect all commit or roll back together: a transient failure anywhere
// leaves the submission in its pre-terminal status, so a redelivered job can
// claim it again and nothing is half-applied.
func (r *PostgresRepository) FinalizeSubmissionAtomic(ctx context.Context, params FinalizeParams) (bool, error) {
	won := false
	err := r.withSerializableTx(ctx, func(tx pgx.Tx) error {
		won = false

		tag, err := tx.Exec(ctx,
			`UPDATE submissions
			 SET status = $2, errors = $3, resolved_by = $4, resolution_notes = $5, resolved_at = NOW()
			 WHERE id = $1 AND status = ANY($6)`,
			params.SubmissionID, params.Status, params.Errs, params.ResolvedBy, params.Notes, params.FromStatuses,
		)
		if err != nil {
			return fmt.Errorf("finalize submission: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if entry := params.Audit; entry != nil {
			_, err = tx.Exec(ctx,
				`INSERT INTO fraud_audit_log (id, submission_id, order_id, account_id, disposition, score, flags, actor, notes, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				entry.ID, entry.SubmissionID, entry.OrderID, entry.AccountID, entry.Disposition,
				entry.Score, entry.Flags, entry.Actor, entry.Notes, entry.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("append audit entry: %w", err)
			}
		}

		if err := updateOrderStatusTx(ctx, tx, params.OrderID, params.OrderStatus, params.RejectionReasons); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		switch {
		case params.SettleContractID != nil:
			if _, err := settleContractFeeTx(ctx, tx, *params.SettleContractID, params.AccountID); err != nil {
				return err
			}
		case params.CreditAmount > 0:
			// A first top-up may precede any fee activity, so the credit
			// creates the ledger row when none exists yet.
			_, err := tx.Exec(ctx,
				`INSERT INTO account_ledgers (account_id, balance, outstanding_fees, unpaid_contract_ids, status, verified, created_at)
				 VALUES ($1, $2, 0, '{}', $3, false, NOW())
				 ON CONFLICT (account_id) DO UPDATE SET balance = account_ledgers.balance + EXCLUDED.balance`,
				params.AccountID, params.CreditAmount, domain.AccountStatusActive,
			)
			if err != nil {
				return fmt.Errorf("credit balance: %w", err)
			}
		}

		won = true
		return nil
	})
	return won, err
}

// CountSubmissionsByAccountSince counts an account's submissions in a rolling window.
func (r *PostgresRepository) CountSubmissionsByAccountSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE account_id = $1 AND created_at >= $2`,
		accountID, since,
	).Scan(&count)
	return count, err
}

// --- Duplicate ledger ---

// ClaimReference records first use of a transfer reference number. The insert
// is `ON CONFLICT DO NOTHING`, so exactly one submission wins under races; the
// verdict is then read back from the surviving row in the same transaction.
func (r *PostgresRepository) ClaimReference(ctx context.Context, ref string, submissionID, accountID uuid.UUID, amount int64) (*domain.DuplicateCheckResult, error) {
	result := &domain.DuplicateCheckResult{}
	err := r.withSerializableTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO reference_claims (reference, submission_id, account_id, amount, created_at)
			 VALUES ($1, $2, $3, $4, NOW())
			 ON CONFLICT (reference) DO NOTHING`,
			ref, submissionID, accountID, amount,
		)
		if err != nil {
			return fmt.Errorf("claim reference: %w", err)
		}

		var ownerSubmission, ownerAccount uuid.UUID
		err = tx.QueryRow(ctx,
			`SELECT submission_id, account_id FROM reference_claims WHERE reference = $1`,
			ref,
		).Scan(&ownerSubmission, &ownerAccount)
		if err != nil {
			return fmt.Errorf("read reference claim: %w", err)
		}

		if ownerSubmission != submissionID {
			result.IsDuplicate = true
			result.FirstSubmissionID = &ownerSubmission
			result.FirstAccountID = &ownerAccount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClaimImageHash is the image-hash analogue of ClaimReference.
func (r *PostgresRepository) ClaimImageHash(ctx context.Context, hash string, submissionID, accountID uuid.UUID) (*domain.DuplicateCheckResult, error) {
	result := &domain.DuplicateCheckResult{}
	err := r.withSerializableTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO image_hash_claims (hash, submission_id, account_id, created_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (hash) DO NOTHING`,
			hash, submissionID, accountID,
		)
		if err != nil {
			return fmt.Errorf("claim image hash: %w", err)
		}

		var ownerSubmission, ownerAccount uuid.UUID
		err = tx.QueryRow(ctx,
			`SELECT submission_id, account_id FROM image_hash_claims WHERE hash = $1`,
			hash,
		).Scan(&ownerSubmission, &ownerAccount)
		if err != nil {
			return fmt.Errorf("read image hash claim: %w", err)
		}

		if ownerSubmission != submissionID {
			result.IsDuplicate = true
			result.FirstSubmissionID = &ownerSubmission
			result.FirstAccountID = &ownerAccount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListRecentImageHashes returns recent hash claims for in-memory near-duplicate
// comparison. Bounded by limit; newest first.
func (r *PostgresRepository) ListRecentImageHashes(ctx context.Context, since time.Time, limit int) ([]ImageHashClaim, error) {
	rows, err := r.db.Query(ctx,
		`SELECT hash, submission_id, account_id FROM image_hash_claims
		 WHERE created_at >= $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []ImageHashClaim
	for rows.Next() {
		var claim ImageHashClaim
		if err := rows.Scan(&claim.Hash, &claim.SubmissionID, &claim.AccountID); err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}

// --- Contracts and outstanding-fee ledger ---

const contractColumns = `id, bid_id, payer_id, platform_fee, fee_paid, fee_waived, created_at`

func scanContract(row pgx.Row) (*domain.Contract, error) {
	var c domain.Contract
	err := row.Scan(&c.ID, &c.BidID, &c.PayerID, &c.PlatformFee, &c.FeePaid, &c.FeeWaived, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func findContractTx(ctx context.Context, tx pgx.Tx, contractID uuid.UUID) (*domain.Contract, error) {
	contract, err := scanContract(tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, contractID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContractNotFound
		}
		return nil, err
	}
	return contract, nil
}

// FindContractByBidID resolves the fee-bearing contract created from a bid.
func (r *PostgresRepository) FindContractByBidID(ctx context.Context, bidID uuid.UUID) (*domain.Contract, error) {
	contract, err := scanContract(r.db.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE bid_id = $1`, bidID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContractNotFound
		}
		return nil, err
	}
	return contract, nil
}

// FindContractByID retrieves a contract by its id.
func (r *PostgresRepository) FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error) {
	contract, err := scanContract(r.db.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, contractID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContractNotFound
		}
		return nil, err
	}
	return contract, nil
}

const ledgerColumns = `account_id, balance, outstanding_fees, unpaid_contract_ids, status, suspension_reason, verified, created_at`

func scanLedger(row pgx.Row) (*domain.AccountLedger, error) {
	var ledger domain.AccountLedger
	err := row.Scan(
		&ledger.AccountID,
		&ledger.Balance,
		&ledger.OutstandingFees,
		&ledger.UnpaidContractIDs,
		&ledger.Status,
		&ledger.SuspensionReason,
		&ledger.Verified,
		&ledger.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

// GetAccountLedger retrieves the outstanding-fee ledger view of an account.
func (r *PostgresRepository) GetAccountLedger(ctx context.Context, accountID uuid.UUID) (*domain.AccountLedger, error) {
	ledger, err := scanLedger(r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM account_ledgers WHERE account_id = $1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return ledger, nil
}

// ApplyContractFee creates the fee-bearing contract and adds its fee to the
// payer's outstanding total, failing the whole transaction when the projected
// total would exceed the cap. No partial state survives a cap rejection.
func (r *PostgresRepository) ApplyContractFee(ctx context.Context, contract *domain.Contract, cap int64) error {
	return r.withSerializableTx(ctx, func(tx pgx.Tx) error {
		ledger, err := scanLedger(tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM account_ledgers WHERE account_id = $1`, contract.PayerID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}

		if ledger.OutstandingFees+contract.PlatformFee > cap {
			return ErrFeeCapExceeded
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO contracts (id, bid_id, payer_id, platform_fee, fee_paid, fee_waived, created_at)
			 VALUES ($1, $2, $3, $4, false, false, $5)`,
			contract.ID, contract.BidID, contract.PayerID, contract.PlatformFee, contract.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert contract: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE account_ledgers
			 SET outstanding_fees = outstanding_fees + $2,
			     unpaid_contract_ids = array_append(unpaid_contract_ids, $3)
			 WHERE account_id = $1`,
			contract.PayerID, contract.PlatformFee, contract.ID,
		)
		if err != nil {
			return fmt.Errorf("update ledger: %w", err)
		}
		return nil
	})
}

// settleContractFeeTx marks the contract fee paid and removes it from the
// payer's outstanding set, auto-unsuspending the account when this was its
// last unpaid fee and the suspension was for unpaid fees. Reports whether the
// settlement applied (false when the fee was already paid or waived).
func settleContractFeeTx(ctx context.Context, tx pgx.Tx, contractID, accountID uuid.UUID) (bool, error) {
	var fee int64
	err := tx.QueryRow(ctx,
		`UPDATE contracts SET fee_paid = true
		 WHERE id = $1 AND payer_id = $2 AND fee_paid = false AND fee_waived = false
		 RETURNING platform_fee`,
		contractID, accountID,
	).Scan(&fee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("mark fee paid: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE account_ledgers
		 SET outstanding_fees = GREATEST(outstanding_fees - $2, 0),
		     unpaid_contract_ids = array_remove(unpaid_contract_ids, $3)
		 WHERE account_id = $1`,
		accountID, fee, contractID,
	)
	if err != nil {
		return false, fmt.Errorf("update ledger: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE account_ledgers
		 SET status = $2, suspension_reason = NULL
		 WHERE account_id = $1 AND outstanding_fees = 0 AND status = $3 AND suspension_reason = $4`,
		accountID, domain.AccountStatusActive, domain.AccountStatusSuspended, domain.SuspensionReasonUnpaidFees,
	)
	if err != nil {
		return false, fmt.Errorf("unsuspend account: %w", err)
	}

	return true, nil
}

// WaiveContractFee releases an unpaid fee when the contract is cancelled.
func (r *PostgresRepository) WaiveContractFee(ctx context.Context, contractID, accountID uuid.UUID) (bool, error) {
	applied := false
	err := r.withSerializableTx(ctx, func(tx pgx.Tx) error {
		applied = false

		var fee int64
		err := tx.QueryRow(ctx,
			`UPDATE contracts SET fee_waived = true
			 WHERE id = $1 AND payer_id = $2 AND fee_paid = false AND fee_waived = false
			 RETURNING platform_fee`,
			contractID, accountID,
		).Scan(&fee)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("mark fee waived: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE account_ledgers
			 SET outstanding_fees = GREATEST(outstanding_fees - $2, 0),
			     unpaid_contract_ids = array_remove(unpaid_contract_ids, $3)
			 WHERE account_id = $1`,
			accountID, fee, contractID,
		)
		if err != nil {
			return fmt.Errorf("update ledger: %w", err)
		}

		applied = true
		return nil
	})
	return applied, err
}

// SuspendAccount marks an account suspended with the given reason.
func (r *PostgresRepository) SuspendAccount(ctx context.Context, accountID uuid.UUID, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE account_ledgers SET status = $2, suspension_reason = $3 WHERE account_id = $1`,
		accountID, domain.AccountStatusSuspended, reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListLedgersWithExposure pages through accounts flagged for reconciliation:
// any outstanding total, any unpaid contract, or a current suspension.
// Keyset pagination on account_id keeps batches stable under live mutation.
func (r *PostgresRepository) ListLedgersWithExposure(ctx context.Context, afterAccountID uuid.UUID, limit int) ([]domain.AccountLedger, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ledgerColumns+` FROM account_ledgers
		 WHERE account_id > $1
		   AND (outstanding_fees <> 0 OR cardinality(unpaid_contract_ids) > 0 OR status = $2)
		 ORDER BY account_id
		 LIMIT $3`,
		afterAccountID, domain.AccountStatusSuspended, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ledgers []domain.AccountLedger
	for rows.Next() {
		ledger, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, *ledger)
	}
	return ledgers, rows.Err()
}

// RecomputeAccountLedger rebuilds one account's outstanding total and unpaid
// set from source contracts and corrects any drift. Recomputation, not
// increment, so running it concurrently with live fee mutations cannot
// compound an error; the serializable transaction keeps the read and the
// write consistent.
func (r *PostgresRepository) RecomputeAccountLedger(ctx context.Context, accountID uuid.UUID) (*ReconcileOutcome, error) {
	outcome := &ReconcileOutcome{AccountID: accountID}
	err := r.withSerializableTx(ctx, func(tx pgx.Tx) error {
		*outcome = ReconcileOutcome{AccountID: accountID}

		ledger, err := scanLedger(tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM account_ledgers WHERE account_id = $1`, accountID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
		outcome.PreviousTotal = ledger.OutstandingFees

		rows, err := tx.Query(ctx,
			`SELECT id, platform_fee FROM contracts
			 WHERE payer_id = $1 AND fee_paid = false AND fee_waived = false
			 ORDER BY created_at`,
			accountID,
		)
		if err != nil {
			return err
		}
		var total int64
		var unpaidIDs []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			var fee int64
			if err := rows.Scan(&id, &fee); err != nil {
				rows.Close()
				return err
			}
			total += fee
			unpaidIDs = append(unpaidIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		outcome.RecomputedTotal = total
		outcome.UnpaidContractIDs = unpaidIDs
		outcome.Drifted = total != ledger.OutstandingFees || len(unpaidIDs) != len(ledger.UnpaidContractIDs)

		if unpaidIDs == nil {
			unpaidIDs = []uuid.UUID{}
		}
		_, err = tx.Exec(ctx,
			`UPDATE account_ledgers SET outstanding_fees = $2, unpaid_contract_ids = $3 WHERE account_id = $1`,
			accountID, total, unpaidIDs,
		)
		if err != nil {
			return fmt.Errorf("write recomputed ledger: %w", err)
		}

		if total == 0 && ledger.Status == domain.AccountStatusSuspended &&
			ledger.SuspensionReason != nil && *ledger.SuspensionReason == domain.SuspensionReasonUnpaidFees {
			_, err = tx.Exec(ctx,
				`UPDATE account_ledgers SET status = $2, suspension_reason = NULL WHERE account_id = $1`,
				accountID, domain.AccountStatusActive,
			)
			if err != nil {
				return fmt.Errorf("unsuspend account: %w", err)
			}
			outcome.Unsuspended = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// --- Platform settings ---

// GetPlatformSettings reads the single operator settings record.
func (r *PostgresRepository) GetPlatformSettings(ctx context.Context) (*domain.PlatformSettings, error) {
	var settings domain.PlatformSettings
	err := r.db.QueryRow(ctx,
		`SELECT maintenance_mode, verification_enabled, auto_approve_enabled, fee_percent
		 FROM platform_settings LIMIT 1`,
	).Scan(&settings.MaintenanceMode, &settings.VerificationEnabled, &settings.AutoApproveEnabled, &settings.FeePercent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return &settings, nil
}
