/**
 * @description
 * This file contains the HTTP handlers for the verification-service's API
 * endpoints. Handlers parse incoming requests, call the application service,
 * and write the HTTP response, mapping service errors onto status codes.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
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
	"github.com/padala/verification-service/internal/domain"
	"github.com/padala/verification-service/internal/store"
)

// VerificationHandlers holds the application services the handlers use.
type VerificationHandlers struct {
	service *app.Service
	fees    *app.FeeService
}

// NewVerificationHandlers creates a new instance of VerificationHandlers.
func NewVerificationHandlers(service *app.Service, fees *app.FeeService) *VerificationHandlers {
	return &VerificationHandlers{service: service, fees: fees}
}

// CreateOrderHandler handles requests to open a payment-intent order.
func (h *VerificationHandlers) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	var req domain.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), accountID, req)
	if err != nil {
		h.writeOrderError(w, accountID, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *VerificationHandlers) writeOrderError(w http.ResponseWriter, accountID uuid.UUID, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidKind),
		errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrMissingBid):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrAmountTooLarge):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrMaintenanceMode),
		errors.Is(err, app.ErrVerificationDisabled):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, app.ErrAccountSuspended):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrContractNotFound):
		h.writeError(w, http.StatusNotFound, "Contract not found for bid")
	case errors.Is(err, store.ErrNotFeePayer):
		h.writeError(w, http.StatusForbidden, "Only the contract's fee payer can settle its fee")
	case errors.Is(err, store.ErrFeeAlreadyPaid):
		h.writeError(w, http.StatusConflict, "Contract fee is already settled")
	case errors.Is(err, store.ErrDailyLimitExceeded):
		h.writeError(w, http.StatusTooManyRequests, "Daily top-up order limit reached")
	default:
		log.Printf("level=error component=api endpoint=create_order msg=\"order creation failed\" account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not create order")
	}
}

// GetOrderHandler returns one of the caller's orders with its current status.
func (h *VerificationHandlers) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.service.GetOrder(r.Context(), accountID, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_order msg=\"order lookup failed\" order_id=%s err=%v", orderID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not fetch order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// ListPendingOrdersHandler returns the caller's open orders.
func (h *VerificationHandlers) ListPendingOrdersHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	orders, err := h.service.ListPendingOrders(r.Context(), accountID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_pending_orders msg=\"listing failed\" account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// CreateSubmissionHandler accepts a screenshot submission against an order and
// queues it for asynchronous verification.
func (h *VerificationHandlers) CreateSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req domain.CreateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ScreenshotURL == "" {
		h.writeError(w, http.StatusBadRequest, "screenshot_url is required")
		return
	}

	submission, err := h.service.CreateSubmission(r.Context(), accountID, orderID, req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, app.ErrOrderNotOpen):
			h.writeError(w, http.StatusConflict, "Order is not accepting submissions")
		case errors.Is(err, app.ErrUntrustedScreenshot):
			h.writeError(w, http.StatusUnprocessableEntity, "Screenshot URL is not from the trusted storage origin")
		case errors.Is(err, app.ErrRateLimited):
			h.writeError(w, http.StatusTooManyRequests, "Too many submissions; try again later")
		default:
			log.Printf("level=error component=api endpoint=create_submission msg=\"submission failed\" order_id=%s err=%v", orderID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not accept submission")
		}
		return
	}

	// 202: evaluation happens asynchronously; the client polls the order.
	h.writeJSON(w, http.StatusAccepted, submission)
}

func (h *VerificationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *VerificationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
