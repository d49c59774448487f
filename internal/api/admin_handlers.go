/**
 * @description
 * This file contains the admin-only HTTP handlers: manual resolution of
 * submissions parked in review, and contract fee waivers. All routes in this
 * file sit behind the AdminOnly middleware.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/padala/verification-service/internal/app"
	"github.com/padala/verification-service/internal/store"
)

type adminResolutionRequest struct {
	Notes string `json:"notes"`
}

// ApproveSubmissionHandler manually approves a submission under review.
func (h *VerificationHandlers) ApproveSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	h.resolveSubmission(w, r, true)
}

// RejectSubmissionHandler manually rejects a submission under review.
func (h *VerificationHandlers) RejectSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	h.resolveSubmission(w, r, false)
}

func (h *VerificationHandlers) resolveSubmission(w http.ResponseWriter, r *http.Request, approve bool) {
	adminID := GetAdminActor(r.Context())
	if adminID == "" {
		h.writeError(w, http.StatusInternalServerError, "Could not get admin ID from context")
		return
	}

	submissionID, err := uuid.Parse(chi.URLParam(r, "submissionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid submission ID")
		return
	}

	var req adminResolutionRequest
	if r.Body != nil {
		// Notes are optional; an empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	resolve := h.service.RejectSubmission
	if approve {
		resolve = h.service.ApproveSubmission
	}

	submission, err := resolve(r.Context(), adminID, submissionID, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSubmissionNotFound):
			h.writeError(w, http.StatusNotFound, "Submission not found")
		case errors.Is(err, app.ErrNotReviewable):
			h.writeError(w, http.StatusConflict, "Submission is not awaiting review")
		default:
			log.Printf("level=error component=api endpoint=admin_resolve msg=\"manual resolution failed\" submission_id=%s err=%v", submissionID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not resolve submission")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, submission)
}

// WaiveContractFeeHandler waives a contract's platform fee on admin authority.
func (h *VerificationHandlers) WaiveContractFeeHandler(w http.ResponseWriter, r *http.Request) {
	adminID := GetAdminActor(r.Context())
	if adminID == "" {
		h.writeError(w, http.StatusInternalServerError, "Could not get admin ID from context")
		return
	}

	contractID, err := uuid.Parse(chi.URLParam(r, "contractID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid contract ID")
		return
	}

	outcome, err := h.fees.WaiveFee(r.Context(), adminID, contractID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrContractNotFound):
			h.writeError(w, http.StatusNotFound, "Contract not found")
		case errors.Is(err, store.ErrFeeAlreadyPaid):
			h.writeError(w, http.StatusConflict, "Contract fee is already settled or waived")
		default:
			log.Printf("level=error component=api endpoint=waive_fee msg=\"fee waiver failed\" contract_id=%s err=%v", contractID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not waive contract fee")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"contract_id":      contractID,
		"outstanding_fees": outcome.RecomputedTotal,
		"unsuspended":      outcome.Unsuspended,
	})
}
