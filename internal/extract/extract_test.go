package extract

import (
	"testing"
	"time"
)

func TestRunGCashReceipt(t *testing.T) {
	text := "GCash\nSent to JUAN DELA CRUZ\nAmount ₱1,500.00\nRef No. 1234 567 890123\nMay 12, 2025 4:02 PM\nSuccessful"

	result := Run(text, 92.5)

	if result.ReferenceNumber != "1234567890123" {
		t.Errorf("reference = %q, want 1234567890123", result.ReferenceNumber)
	}
	if result.Amount != 150000 {
		t.Errorf("amount = %d centavos, want 150000", result.Amount)
	}
	if result.ReceiverName != "JUAN DELA CRUZ" {
		t.Errorf("receiver = %q, want JUAN DELA CRUZ", result.ReceiverName)
	}
	if result.Timestamp == nil {
		t.Fatal("expected a timestamp")
	}
	want := time.Date(2025, time.May, 12, 16, 2, 0, 0, time.UTC)
	if !result.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", result.Timestamp, want)
	}
	if !result.HasSuccessWording {
		t.Error("expected success wording to be detected")
	}
	if !result.HasProviderBranding {
		t.Error("expected provider branding to be detected")
	}
	if result.Confidence != 92.5 {
		t.Errorf("confidence = %v, want 92.5", result.Confidence)
	}
}

func TestRunMayaReceipt(t *testing.T) {
	text := "PayMaya payment confirmed.\nReceived by Maria Santos.\nTransaction ID: 9A8B7C6D5E4F.\nPHP 250.00\n2025-08-31 22:10"

	result := Run(text, 88)

	if result.ReferenceNumber != "9A8B7C6D5E4F" {
		t.Errorf("reference = %q, want 9A8B7C6D5E4F", result.ReferenceNumber)
	}
	if result.Amount != 25000 {
		t.Errorf("amount = %d centavos, want 25000", result.Amount)
	}
	if result.Timestamp == nil {
		t.Fatal("expected a timestamp")
	}
	want := time.Date(2025, time.August, 31, 22, 10, 0, 0, time.UTC)
	if !result.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", result.Timestamp, want)
	}
	if !result.HasProviderBranding {
		t.Error("expected provider branding to be detected")
	}
}

func TestRunBareWalletReference(t *testing.T) {
	result := Run("GCash 1234 567 890123", 75)

	if result.ReferenceNumber != "1234567890123" {
		t.Errorf("reference = %q, want the 13-digit wallet format", result.ReferenceNumber)
	}
}

func TestRunLabeledAmountOutranksBareNumber(t *testing.T) {
	// The grouped number 9,999 appears first but the labeled amount must win.
	result := Run("Account 9,999 You sent ₱500.00 today", 80)

	if result.Amount != 50000 {
		t.Errorf("amount = %d centavos, want 50000", result.Amount)
	}
}

func TestRunMissingFields(t *testing.T) {
	result := Run("blurry unreadable fragment", 12)

	if result.ReferenceNumber != "" {
		t.Errorf("reference = %q, want empty", result.ReferenceNumber)
	}
	if result.Amount != 0 {
		t.Errorf("amount = %d, want 0", result.Amount)
	}
	if result.Timestamp != nil {
		t.Errorf("timestamp = %v, want nil", result.Timestamp)
	}
	if result.HasSuccessWording || result.HasProviderBranding {
		t.Error("expected no wording or branding signals")
	}
}

func TestRunShortReferenceRejected(t *testing.T) {
	// Fewer than 10 alphanumeric characters is a partial OCR fragment.
	result := Run("Ref No. AB12", 90)

	if result.ReferenceNumber != "" {
		t.Errorf("reference = %q, want empty for implausibly short candidate", result.ReferenceNumber)
	}
}

func TestRunSlashDateWithoutPadding(t *testing.T) {
	result := Run("Sent ₱100.00 Ref No. REF4455667788 on 5/2/2025 3:04 PM", 85)

	if result.Timestamp == nil {
		t.Fatal("expected a timestamp from a non-padded slash date")
	}
	want := time.Date(2025, time.May, 2, 15, 4, 0, 0, time.UTC)
	if !result.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", result.Timestamp, want)
	}
}
