/**
 * @description
 * This file implements the background reconciliation jobs: the fee-ledger
 * sweep that recomputes each exposed account's outstanding fees from source
 * contracts, and the order expiry sweep that times out stale payment intents.
 *
 * @notes
 * - Recomputation from contracts is authoritative: whatever incremental
 *   updates recorded, the sweep overwrites the ledger with the sum over
 *   unpaid, unwaived contracts and corrects any drift in either direction.
 * - The sweep walks ledgers in keyset-paginated batches so a large table
 *   never pins one long transaction.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/padala/verification-service/internal/config"
	"github.com/padala/verification-service/internal/domain"
	"github.com/padala/verification-service/internal/store"
)

// Reconciler runs the periodic consistency jobs.
type Reconciler struct {
	repo store.Repository
	cfg  config.Config
}

// NewReconciler creates the reconciliation job runner.
func NewReconciler(repo store.Repository, cfg config.Config) *Reconciler {
	return &Reconciler{repo: repo, cfg: cfg}
}

// ReconcileLedgers recomputes every exposed account's outstanding-fee ledger
// and enforces the suspension policy against the recomputed totals. It returns
// the number of accounts whose ledgers had drifted.
func (r *Reconciler) ReconcileLedgers(ctx context.Context) (int, error) {
	batchSize := r.cfg.ReconcileBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	now := time.Now().UTC()
	var after uuid.UUID
	drifted := 0
	scanned := 0

	for {
		ledgers, err := r.repo.ListLedgersWithExposure(ctx, after, batchSize)
		if err != nil {
			return drifted, err
		}
		if len(ledgers) == 0 {
			break
		}

		for i := range ledgers {
			ledger := &ledgers[i]
			scanned++
			after = ledger.AccountID

			outcome, err := r.repo.RecomputeAccountLedger(ctx, ledger.AccountID)
			if err != nil {
				log.Printf("level=error component=reconciler msg=\"ledger recomputation failed\" account_id=%s err=%v",
					ledger.AccountID, err)
				continue
			}
			if outcome.Drifted {
				drifted++
				log.Printf("level=warn component=reconciler msg=\"ledger drift corrected\" account_id=%s previous=%d recomputed=%d",
					outcome.AccountID, outcome.PreviousTotal, outcome.RecomputedTotal)
			}
			if outcome.Unsuspended {
				log.Printf("level=info component=reconciler msg=\"suspension lifted; fees settled\" account_id=%s", outcome.AccountID)
			}

			// Enforce the cap against the recomputed truth, not the drifted
			// value the incremental path may have left behind.
			if outcome.RecomputedTotal > capFor(r.cfg, ledger, now) && ledger.Status == domain.AccountStatusActive {
				if err := r.repo.SuspendAccount(ctx, ledger.AccountID, domain.SuspensionReasonUnpaidFees); err != nil {
					log.Printf("level=error component=reconciler msg=\"failed to suspend over-exposed account\" account_id=%s err=%v",
						ledger.AccountID, err)
					continue
				}
				log.Printf("level=warn component=reconciler msg=\"account suspended for unpaid fees\" account_id=%s outstanding=%d",
					ledger.AccountID, outcome.RecomputedTotal)
			}
		}

		if len(ledgers) < batchSize {
			break
		}
	}

	log.Printf("level=info component=reconciler msg=\"fee ledger sweep complete\" scanned=%d drifted=%d", scanned, drifted)
	return drifted, nil
}

// ExpireStaleOrders times out orders whose upload window lapsed without a
// terminal resolution and returns how many were expired.
func (r *Reconciler) ExpireStaleOrders(ctx context.Context) (int64, error) {
	expired, err := r.repo.ExpireStaleOrders(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		log.Printf("level=info component=reconciler msg=\"stale orders expired\" count=%d", expired)
	}
	return expired, nil
}
