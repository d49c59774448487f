package app

import "errors"

// Sentinel errors surfaced to the API layer. Handlers map them onto HTTP
// statuses; the taxonomy distinguishes client input errors from policy
// violations so the client can tell a malformed request from a denied one.
var (
	// Client input errors.
	ErrInvalidKind         = errors.New("order kind must be top_up or fee_settlement")
	ErrInvalidAmount       = errors.New("amount must be a positive number of centavos")
	ErrMissingBid          = errors.New("fee settlement orders require a bid id")
	ErrUntrustedScreenshot = errors.New("screenshot url is not from the trusted storage origin")
	ErrOrderNotOpen        = errors.New("order is not accepting submissions")

	// Policy violations.
	ErrAmountTooLarge       = errors.New("amount exceeds the per-order maximum")
	ErrMaintenanceMode      = errors.New("platform is in maintenance mode")
	ErrVerificationDisabled = errors.New("payment verification is disabled")
	ErrAccountSuspended     = errors.New("account is suspended")
	ErrRateLimited          = errors.New("too many requests")

	// Admin-facing errors.
	ErrNotReviewable = errors.New("submission is not awaiting review")
)
