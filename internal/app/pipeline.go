/**
 * @description
 * This file implements the verification pipeline: the asynchronous evaluation
 * of one screenshot submission from fetch through text recognition, pattern
 * extraction, validation against the order, image forensics, duplicate-ledger
 * claims, fraud scoring, and final disposition.
 *
 * @dependencies
 * - internal/extract: pattern extraction from recognized text.
 * - internal/forensics: perceptual hashing and manipulation signals.
 * - pkg/visionclient: the external text recognition API.
 * - pkg/blobstore: trusted fetch of the screenshot bytes.
 *
 * @notes
 * - The pipeline absorbs its own failures: any stage error or panic resolves
 *   the submission to manual_review with the error recorded, never a crash or
 *   a silent approval. Only infrastructure errors on the final writes are
 *   returned to the consumer for redelivery.
 * - Redelivered jobs are harmless: a terminal submission short-circuits, and
 *   the disposition's writes all commit atomically in finalize, so a failed
 *   attempt leaves the submission claimable for the retry.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/padala/verification-service/internal/domain"
	"github.com/padala/verification-service/internal/extract"
	"github.com/padala/verification-service/internal/forensics"
	"github.com/padala/verification-service/internal/store"
	"github.com/padala/verification-service/pkg/visionclient"
)

// TextRecognizer is the external OCR dependency, satisfied by visionclient.
type TextRecognizer interface {
	RecognizeText(ctx context.Context, imageData []byte) (*visionclient.RecognitionResult, error)
}

// ScreenshotFetcher retrieves screenshot bytes from trusted storage,
// re-validating origin and ownership before the fetch.
type ScreenshotFetcher interface {
	ValidateURL(rawURL string, accountID uuid.UUID) error
	Fetch(ctx context.Context, rawURL string, accountID uuid.UUID) ([]byte, error)
}

// Pipeline evaluates submission jobs. One Pipeline is shared by all consumer
// goroutines; it holds no per-job state.
type Pipeline struct {
	svc        *Service
	recognizer TextRecognizer
	fetcher    ScreenshotFetcher
}

// NewPipeline creates the verification pipeline.
func NewPipeline(svc *Service, recognizer TextRecognizer, fetcher ScreenshotFetcher) *Pipeline {
	return &Pipeline{svc: svc, recognizer: recognizer, fetcher: fetcher}
}

// evaluation is the intermediate state the stages accumulate before scoring.
type evaluation struct {
	extraction *domain.ExtractionResult
	validation *domain.ValidationResult
	forensics  *domain.ForensicsResult
	dupRef     *domain.DuplicateCheckResult
	dupHash    *domain.DuplicateCheckResult
	similar    bool
	ledger     *domain.AccountLedger
	velocity   bool
}

// Process runs the full pipeline for one job. A nil return acknowledges the
// message; an error requeues it.
func (p *Pipeline) Process(ctx context.Context, job domain.SubmissionJob) error {
	sub, err := p.svc.repo.FindSubmissionByID(ctx, job.SubmissionID)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	if sub.IsTerminal() {
		log.Printf("level=info component=pipeline msg=\"submission already terminal; dropping job\" submission_id=%s status=%s",
			sub.ID, sub.Status)
		return nil
	}

	order, err := p.svc.repo.FindOrderByID(ctx, sub.OrderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}

	now := time.Now().UTC()
	fromProcessing := []string{domain.SubmissionStatusProcessing}

	// Security boundary: the URL was validated at ingestion, but the worker
	// re-checks before fetching anything. A failure here is a hard reject.
	if err := p.fetcher.ValidateURL(sub.ScreenshotURL, sub.AccountID); err != nil {
		log.Printf("level=warn component=pipeline msg=\"untrusted screenshot source\" submission_id=%s err=%v", sub.ID, err)
		_, ferr := p.svc.finalize(ctx, sub, order, disposition{
			Status:       domain.SubmissionStatusRejected,
			FromStatuses: fromProcessing,
			Errs:         []string{err.Error()},
			Actor:        domain.ResolutionActorSystem,
			Score:        &domain.ScoreResult{Score: 100, Flags: []string{domain.FlagUntrustedSource}, RecommendedAction: domain.ActionAutoReject},
		})
		return ferr
	}

	if order.IsExpired(now) || order.IsTerminal() {
		_, ferr := p.svc.finalize(ctx, sub, order, disposition{
			Status:       domain.SubmissionStatusRejected,
			FromStatuses: fromProcessing,
			Errs:         []string{"order is no longer accepting proof"},
			Actor:        domain.ResolutionActorSystem,
			Score:        &domain.ScoreResult{Score: 100, Flags: []string{domain.FlagOrderExpired}, RecommendedAction: domain.ActionAutoReject},
		})
		return ferr
	}

	// Surface the in-flight evaluation on the order itself. Not load-bearing
	// for correctness, so a failure only logs; the disposition still moves the
	// order to its terminal status.
	if err := p.svc.repo.MarkOrderProcessing(ctx, order.ID); err != nil {
		log.Printf("level=warn component=pipeline msg=\"failed to mark order processing\" order_id=%s err=%v", order.ID, err)
	}

	eval, evalErr := p.runStages(ctx, sub, order, now)
	if evalErr != nil {
		log.Printf("level=error component=pipeline msg=\"pipeline stage failed; routing to manual review\" submission_id=%s err=%v",
			sub.ID, evalErr)
		_, ferr := p.svc.finalize(ctx, sub, order, disposition{
			Status:       domain.SubmissionStatusManualReview,
			FromStatuses: fromProcessing,
			Errs:         []string{evalErr.Error()},
			Actor:        domain.ResolutionActorSystem,
			Score:        &domain.ScoreResult{Flags: []string{domain.FlagPipelineError}, RecommendedAction: domain.ActionManualReview},
		})
		return ferr
	}

	score := Score(p.svc.scoringConfig(), ScoringInput{
		Order:            order,
		Extraction:       eval.extraction,
		Validation:       eval.validation,
		Forensics:        eval.forensics,
		DuplicateRef:     eval.dupRef,
		DuplicateHash:    eval.dupHash,
		SimilarImage:     eval.similar,
		Ledger:           eval.ledger,
		VelocityExceeded: eval.velocity,
		Now:              now,
	})

	if err := p.svc.repo.SaveSubmissionArtifacts(ctx, sub.ID, eval.extraction, eval.validation, eval.forensics, score); err != nil {
		return fmt.Errorf("save submission artifacts: %w", err)
	}

	status := p.disposeAction(ctx, score)
	log.Printf("level=info component=pipeline msg=\"submission scored\" submission_id=%s score=%d action=%s flags=%s",
		sub.ID, score.Score, score.RecommendedAction, strings.Join(score.Flags, ","))

	_, ferr := p.svc.finalize(ctx, sub, order, disposition{
		Status:       status,
		FromStatuses: fromProcessing,
		Actor:        domain.ResolutionActorSystem,
		Score:        score,
	})
	return ferr
}

// runStages executes the evaluation stages, converting any panic into an error
// so a malformed image or pathological input can never take the worker down.
func (p *Pipeline) runStages(ctx context.Context, sub *domain.Submission, order *domain.Order, now time.Time) (ev *evaluation, err error) {
	defer func() {
		if r := recover(); r != nil {
			ev, err = nil, fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	eval := &evaluation{}

	imageData, err := p.fetcher.Fetch(ctx, sub.ScreenshotURL, sub.AccountID)
	if err != nil {
		return nil, fmt.Errorf("fetch screenshot: %w", err)
	}

	recognized, err := p.recognizer.RecognizeText(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}

	eval.extraction = extract.Run(recognized.Text, recognized.Confidence)
	eval.validation = p.validate(order, eval.extraction, now)

	eval.forensics, err = forensics.Analyze(imageData)
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}

	// Duplicate ledgers. First writer wins the claim; a lost race here is
	// exactly the fraud case the rules exist to catch.
	if ref := eval.extraction.ReferenceNumber; ref != "" {
		eval.dupRef, err = p.svc.repo.ClaimReference(ctx, ref, sub.ID, sub.AccountID, order.Amount)
		if err != nil {
			return nil, fmt.Errorf("claim reference: %w", err)
		}
	}
	eval.dupHash, err = p.svc.repo.ClaimImageHash(ctx, eval.forensics.PerceptualHash, sub.ID, sub.AccountID)
	if err != nil {
		return nil, fmt.Errorf("claim image hash: %w", err)
	}
	eval.similar, err = p.scanSimilar(ctx, sub.ID, eval.forensics.PerceptualHash, now)
	if err != nil {
		return nil, fmt.Errorf("scan similar hashes: %w", err)
	}

	// A missing ledger row (account never charged a fee) is normal and simply
	// disables the account-age rule. Any other failure is a real outage and
	// follows the stage-error path.
	eval.ledger, err = p.svc.repo.GetAccountLedger(ctx, sub.AccountID)
	if err != nil {
		if !errors.Is(err, store.ErrAccountNotFound) {
			return nil, fmt.Errorf("load account ledger: %w", err)
		}
		eval.ledger = nil
	}

	count, err := p.svc.repo.CountSubmissionsByAccountSince(ctx, sub.AccountID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count recent submissions: %w", err)
	}
	eval.velocity = count > p.svc.cfg.SubmissionVelocityLimit

	return eval, nil
}

// scanSimilar compares the submission's hash against recently claimed hashes.
// The exact-duplicate case is excluded; ClaimImageHash already covers it.
func (p *Pipeline) scanSimilar(ctx context.Context, submissionID uuid.UUID, hash string, now time.Time) (bool, error) {
	claims, err := p.svc.repo.ListRecentImageHashes(ctx, now.Add(-30*24*time.Hour), 500)
	if err != nil {
		return false, err
	}
	for _, claim := range claims {
		if claim.SubmissionID == submissionID || claim.Hash == hash {
			continue
		}
		if forensics.IsSimilar(hash, claim.Hash, p.svc.cfg.SimilarHashDistance) {
			return true, nil
		}
	}
	return false, nil
}

// disposeAction maps the recommended action to a submission status, honoring
// the operator's auto-approve switch.
func (p *Pipeline) disposeAction(ctx context.Context, score *domain.ScoreResult) string {
	switch score.RecommendedAction {
	case domain.ActionAutoApprove:
		settings, err := p.svc.settings.Get(ctx)
		if err != nil || !settings.AutoApproveEnabled {
			// Unknown operator intent defaults to the conservative path.
			return domain.SubmissionStatusManualReview
		}
		return domain.SubmissionStatusApproved
	case domain.ActionAutoReject:
		return domain.SubmissionStatusRejected
	default:
		return domain.SubmissionStatusManualReview
	}
}

// validate compares the extracted fields against the order's expectations.
func (p *Pipeline) validate(order *domain.Order, ex *domain.ExtractionResult, now time.Time) *domain.ValidationResult {
	freshness := time.Duration(p.svc.cfg.ReceiptFreshnessHours) * time.Hour

	fresh := false
	if ex.Timestamp != nil {
		age := now.Sub(*ex.Timestamp)
		// Allow a small forward skew for device clocks ahead of ours.
		fresh = age <= freshness && age > -time.Hour
	}

	return &domain.ValidationResult{
		AmountMatches:    ex.Amount == order.Amount,
		ReceiverMatches:  nameMatches(ex.ReceiverName, order.ReceivingAccount.AccountName),
		TimestampFresh:   fresh,
		ReferencePresent: ex.ReferenceNumber != "",
		ConfidenceOK:     ex.Confidence >= float64(p.svc.cfg.MinOCRConfidence),
	}
}

// nameMatches compares a receipt's receiver name against the receiving wallet
// name, tolerating case, spacing, and the masking characters providers print
// over parts of the name.
func nameMatches(got, want string) bool {
	g := foldName(got)
	w := foldName(want)
	if g == "" || w == "" {
		return false
	}
	if g == w {
		return true
	}
	if len(g) != len(w) {
		return false
	}
	for i := range g {
		if g[i] == '*' {
			continue
		}
		if g[i] != w[i] {
			return false
		}
	}
	return true
}

// foldName lowercases a name and strips everything except letters, digits, and
// mask characters, which collapse to '*'.
func foldName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '*' || r == '•' || r == '●':
			b.WriteByte('*')
		}
	}
	return b.String()
}
