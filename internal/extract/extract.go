/**
 * @description
 * This package implements the pattern extractor: a pure, synchronous pass over
 * recognized screenshot text that recovers structured candidate fields
 * (reference number, amount, sender/receiver names, timestamp) plus two
 * booleans for transaction-success wording and payment-provider branding.
 *
 * @notes
 * - Receipts are heterogeneous and adversarial. Each field carries an ordered
 *   list of candidate patterns, from most specific to least specific; the
 *   first pattern that matches and survives a minimal plausibility filter
 *   wins. Ordering this way minimizes false positives while tolerating OCR
 *   noise.
 * - No I/O. The extractor never fails: fields it cannot recover stay zero.
 */

package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/padala/verification-service/internal/domain"
)

// referencePatterns are tried in order. Labeled forms first, then the bare
// 13-digit wallet format, then any long alphanumeric run as a last resort.
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ref(?:erence)?\s*(?:no\.?|number|#)?\s*[:.]?\s*([A-Z0-9][A-Z0-9 ]{8,}[A-Z0-9])`),
	regexp.MustCompile(`(?i)transaction\s*(?:id|no\.?|number)\s*[:.]?\s*([A-Z0-9][A-Z0-9 ]{8,}[A-Z0-9])`),
	regexp.MustCompile(`\b(\d{4}\s?\d{3}\s?\d{6})\b`),
	regexp.MustCompile(`\b([A-Z0-9]{10,24})\b`),
}

// amountPatterns recover a money value. Labeled amounts outrank bare
// peso-signed values, which outrank any grouped number.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:amount|total|you\s+sent|sent)\s*[:.]?\s*(?:PHP|₱|P)?\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`),
	regexp.MustCompile(`(?:₱|PHP)\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`),
	regexp.MustCompile(`\b([0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]{2})?)\b`),
}

var receiverPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:sent\s+to|transferred\s+to|receiver|recipient)\s*[:.]?\s*([A-Za-z][A-Za-z .'\-]{2,40})`),
	regexp.MustCompile(`(?i)\bto\s*[:.]\s*([A-Za-z][A-Za-z .'\-]{2,40})`),
}

var senderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:from|sender)\s*[:.]?\s*([A-Za-z][A-Za-z .'\-]{2,40})`),
}

var timestampPattern = regexp.MustCompile(`(?i)\b((?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}(?:,?\s+\d{1,2}:\d{2}(?::\d{2})?\s*(?:AM|PM)?)?|\d{4}-\d{2}-\d{2}(?:\s+\d{1,2}:\d{2}(?::\d{2})?)?|\d{1,2}/\d{1,2}/\d{4}(?:,?\s+\d{1,2}:\d{2}(?::\d{2})?\s*(?:AM|PM)?)?)\b`)

// timestampLayouts are tried in order against the matched fragment after
// whitespace normalization.
var timestampLayouts = []string{
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006, 3:04 PM",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 3:04 PM",
	"01/02/2006, 3:04 PM",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006 3:04 PM",
	"1/2/2006 15:04",
	"1/2/2006",
}

var successWords = []string{
	"successful", "success", "completed", "sent", "received by", "confirmed",
}

var providerWords = []string{
	"gcash", "g-cash", "maya", "paymaya", "instapay", "pesonet",
}

// Run extracts all candidate fields from recognized text in one pass.
// Confidence is carried through from the recognizer unchanged.
func Run(rawText string, confidence float64) *domain.ExtractionResult {
	result := &domain.ExtractionResult{
		RawText:    rawText,
		Confidence: confidence,
	}

	text := normalize(rawText)

	result.ReferenceNumber = extractReference(text)
	result.Amount = extractAmount(text)
	result.ReceiverName = extractName(text, receiverPatterns)
	result.SenderName = extractName(text, senderPatterns)
	result.Timestamp = extractTimestamp(text)
	result.HasSuccessWording = containsAny(text, successWords)
	result.HasProviderBranding = containsAny(text, providerWords)

	return result
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\t", " ")
	return strings.Join(strings.Fields(text), " ")
}

func extractReference(text string) string {
	for _, pattern := range referencePatterns {
		match := pattern.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		candidate := referenceCandidate(match[1])
		// Plausibility: at least 10 alphanumeric characters once whitespace is
		// stripped. Anything shorter is likely a partial OCR fragment.
		if len(candidate) >= 10 && isAlphanumeric(candidate) {
			return strings.ToUpper(candidate)
		}
	}
	return ""
}

// referenceCandidate reduces a greedy capture to the actual reference. Wallet
// references are either one alphanumeric token or a run of digit groups; the
// capture class cannot stop a digit run from bleeding into a trailing date, so
// the cut happens here at the first non-digit token.
func referenceCandidate(raw string) string {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return ""
	}
	if !isDigits(tokens[0]) {
		return tokens[0]
	}
	var b strings.Builder
	for _, token := range tokens {
		if !isDigits(token) {
			break
		}
		b.WriteString(token)
	}
	return b.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func extractAmount(text string) int64 {
	for _, pattern := range amountPatterns {
		match := pattern.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		centavos, ok := parseAmount(match[1])
		if ok && centavos > 0 {
			return centavos
		}
	}
	return 0
}

// parseAmount converts a matched money string like "1,500.00" to centavos.
func parseAmount(raw string) (int64, bool) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return int64(value*100 + 0.5), true
}

func extractName(text string, patterns []*regexp.Regexp) string {
	for _, pattern := range patterns {
		match := pattern.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		name := strings.TrimSpace(match[1])
		// Names that bleed into the next receipt label are cut at common
		// boundary words the capture group cannot exclude.
		for _, boundary := range []string{" Ref", " Amount", " Total", " via", " Via"} {
			if idx := strings.Index(name, boundary); idx > 0 {
				name = strings.TrimSpace(name[:idx])
			}
		}
		if len(name) >= 3 {
			return name
		}
	}
	return ""
}

func extractTimestamp(text string) *time.Time {
	match := timestampPattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return nil
	}
	fragment := strings.Join(strings.Fields(match[1]), " ")
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, fragment); err == nil {
			return &ts
		}
	}
	return nil
}

func containsAny(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return len(s) > 0
}
