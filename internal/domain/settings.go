package domain

// PlatformSettings are the operator-controlled flags read on the hot path
// through a TTL cache. They live in a single settings record so flips are
// atomic and take effect within one cache window.
type PlatformSettings struct {
	MaintenanceMode     bool `json:"maintenance_mode"`
	VerificationEnabled bool `json:"verification_enabled"`
	// AutoApproveEnabled gates the pipeline's low-risk auto-approvals. When
	// false, auto_approve recommendations are downgraded to manual_review.
	AutoApproveEnabled bool    `json:"auto_approve_enabled"`
	FeePercent         float64 `json:"fee_percent"`
}
