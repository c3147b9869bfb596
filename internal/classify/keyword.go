// Package classify implements the Keyword Classifier: a pure, deterministic
// first-stage scorer over a Mail Row. Textural cousin of
// JeromeDesseaux-test_stoik's weighted keyword strategies
// (urgency_financial_strategy.go's additive keyword-count weighting,
// bec_role_strategy.go's graduated-confidence keyword tables) — the
// aggregation itself is a sum against a fixed threshold, not a
// max-weighted-strategy-score.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/ports"
	"github.com/stoik/mailsub/internal/query"
)

// Threshold is the default confidence above which a Mail Row is considered
// a subscription by the Keyword Classifier alone. It backs the package-level
// Classify; a Classifier built via New carries its own threshold instead.
var Threshold = 0.4

// Classifier scores a Mail Row against a configurable confidence threshold,
// so the Process Runner can wire classifier.keyword_confidence_threshold
// through instead of the package default.
type Classifier struct {
	Threshold float64
}

// New returns a Classifier using threshold in place of the package default.
func New(threshold float64) *Classifier {
	return &Classifier{Threshold: threshold}
}

// Classify scores row using c.Threshold.
func (c *Classifier) Classify(row domain.MailRow) ports.Verdict {
	return classify(row, c.Threshold)
}

var billingKeywords = []string{
	"billing", "invoice", "receipt", "statement", "payment method", "card ending",
}

// servicePatterns maps a regex to the canonical service name it identifies.
// Order matters: the first match wins.
var servicePatterns = []struct {
	re      *regexp.Regexp
	service string
}{
	{regexp.MustCompile(`(?i)netflix`), "Netflix"},
	{regexp.MustCompile(`(?i)spotify`), "Spotify"},
	{regexp.MustCompile(`(?i)hulu`), "Hulu"},
	{regexp.MustCompile(`(?i)disney\+?`), "Disney+"},
	{regexp.MustCompile(`(?i)amazon prime`), "Amazon Prime"},
	{regexp.MustCompile(`(?i)dropbox`), "Dropbox"},
	{regexp.MustCompile(`(?i)github`), "GitHub"},
	{regexp.MustCompile(`(?i)icloud`), "iCloud"},
	{regexp.MustCompile(`(?i)adobe`), "Adobe"},
}

var amountPattern = regexp.MustCompile(`\$\s?(\d+(?:\.\d{1,2})?)`)

var (
	yearlyTerms  = []string{"annual", "yearly", "per year"}
	weeklyTerms  = []string{"weekly", "per week"}
)

// Classify runs the keyword scoring over a Mail Row's subject, body and
// sender, using the package default Threshold.
func Classify(row domain.MailRow) ports.Verdict {
	return classify(row, Threshold)
}

func classify(row domain.MailRow, threshold float64) ports.Verdict {
	haystack := strings.ToLower(row.Subject + " " + row.BodyText + " " + row.SenderEmail)

	score := 0.0
	for _, kw := range query.SubjectKeywords {
		if strings.Contains(haystack, kw) {
			score += 0.15
		}
	}
	for _, kw := range billingKeywords {
		if strings.Contains(haystack, kw) {
			score += 0.10
		}
	}

	extracted := domain.Extracted{}

	for _, sp := range servicePatterns {
		if sp.re.MatchString(haystack) {
			score += 0.30
			svc := sp.service
			extracted.ServiceName = &svc
			break
		}
	}

	if m := amountPattern.FindStringSubmatch(haystack); m != nil {
		if amount, err := strconv.ParseFloat(m[1], 64); err == nil {
			score += 0.20
			extracted.Amount = &amount
			currency := "USD"
			extracted.Currency = &currency
		}
	}

	cycle := billingCycle(haystack)
	extracted.BillingCycle = &cycle

	confidence := score
	if confidence > 1 {
		confidence = 1
	}

	return ports.Verdict{
		IsSubscription: confidence > threshold,
		Confidence:     confidence,
		Extracted:      extracted,
		Reasoning:      "keyword classifier: weighted keyword sum",
	}
}

func billingCycle(haystack string) domain.BillingCycle {
	for _, t := range yearlyTerms {
		if strings.Contains(haystack, t) {
			return domain.BillingYearly
		}
	}
	for _, t := range weeklyTerms {
		if strings.Contains(haystack, t) {
			return domain.BillingWeekly
		}
	}
	return domain.BillingMonthly
}

