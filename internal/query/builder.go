// Package query builds the provider-side filter expression the Mail Fetcher
// lists messages under, plus a fingerprint used to detect filter drift
// across restarts. Grounded on the sender/subject-disjunction query
// construction in jhjaggars-package-tracking's Gmail client, adapted to a
// fixed subscription-keyword policy.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SubjectKeywords is the fixed, documented subject/body/sender keyword
// policy.
var SubjectKeywords = []string{
	"subscription", "billing", "invoice", "receipt", "payment received",
	"payment confirmation", "payment successful", "renew", "renewal",
	"auto-pay", "autopay", "membership", "premium", "plan upgraded",
	"plan downgraded", "recurring charge", "monthly charge",
	"annual charge", "yearly charge", "charged", "statement",
	"payment method", "card ending", "trial ending", "trial ends",
	"cancel subscription",
}

// SenderPatterns is the fixed billing-sender policy.
var SenderPatterns = []string{
	"billing", "subscriptions", "payments", "invoices", "receipts",
	"finance", "accounts-payable", "membership",
}

// ErrMissingLastSync is returned when an incremental build is requested
// without a last-sync instant — a programming error by the caller.
var ErrMissingLastSync = errors.New("query: incremental build requires a non-zero last sync time")

// Params selects between an initial (N-month lookback) and incremental
// (since last sync) filter.
type Params struct {
	Initial     bool
	MonthsBack  int
	LastSync    time.Time
	Now         time.Time
}

// Result is the built filter and its fingerprint.
type Result struct {
	Filter      string
	Fingerprint string
}

// Build constructs the filter string and its fingerprint from p.
func Build(p Params) (Result, error) {
	var dateClause string
	if p.Initial {
		since := p.Now.AddDate(0, -p.MonthsBack, 0)
		dateClause = fmt.Sprintf("after:%04d/%02d/%02d", since.Year(), int(since.Month()), since.Day())
	} else {
		if p.LastSync.IsZero() {
			return Result{}, ErrMissingLastSync
		}
		dateClause = fmt.Sprintf("after:%04d/%02d/%02d", p.LastSync.Year(), int(p.LastSync.Month()), p.LastSync.Day())
	}

	content := contentDisjunction()
	filter := strings.Join([]string{content, dateClause, "-in:spam -in:trash"}, " ")

	return Result{
		Filter:      filter,
		Fingerprint: Fingerprint(filter),
	}, nil
}

// contentDisjunction builds the `subject:(...) OR from:(...)` clause from the
// fixed keyword and sender-pattern lists, quoting multi-word keywords.
func contentDisjunction() string {
	subjectClauses := make([]string, 0, len(SubjectKeywords))
	for _, kw := range SubjectKeywords {
		subjectClauses = append(subjectClauses, fmt.Sprintf("subject:%s", quoteIfMultiword(kw)))
	}
	senderClauses := make([]string, 0, len(SenderPatterns))
	for _, pat := range SenderPatterns {
		senderClauses = append(senderClauses, fmt.Sprintf("from:%s", quoteIfMultiword(pat)))
	}
	all := append(subjectClauses, senderClauses...)
	return "(" + strings.Join(all, " OR ") + ")"
}

func quoteIfMultiword(s string) string {
	if strings.Contains(s, " ") {
		return `"` + s + `"`
	}
	return s
}

// Fingerprint returns the first 16 hex characters of SHA-256(filter).
func Fingerprint(filter string) string {
	sum := sha256.Sum256([]byte(filter))
	return hex.EncodeToString(sum[:])[:16]
}
