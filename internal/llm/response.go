package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/ports"
)

// ErrInvalidResponse is returned when the LM's answer cannot be parsed, even
// after a repair attempt, or fails field validation. This is a
// classification failure, not a call failure.
var ErrInvalidResponse = errors.New("llm: invalid classifier response")

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type rawVerdict struct {
	IsSubscription  bool     `json:"is_subscription"`
	Confidence      float64  `json:"confidence"`
	ServiceName     *string  `json:"service_name"`
	Amount          *float64 `json:"amount"`
	Currency        *string  `json:"currency"`
	BillingCycle    *string  `json:"billing_cycle"`
	NextBillingDate *string  `json:"next_billing_date"`
	Reasoning       string   `json:"reasoning"`
}

// parseResponse strips code-fence markers, parses JSON, attempts one
// minimal repair on failure (trim trailing commas, balance braces), and
// validates the result.
func parseResponse(content string) (ports.Verdict, error) {
	candidate := stripCodeFence(content)

	verdict, err := decodeAndValidate(candidate)
	if err == nil {
		return verdict, nil
	}

	repaired := repairJSON(candidate)
	verdict, err2 := decodeAndValidate(repaired)
	if err2 != nil {
		return ports.Verdict{}, fmt.Errorf("%w: %v (after repair: %v)", ErrInvalidResponse, err, err2)
	}
	return verdict, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

func repairJSON(s string) string {
	s = strings.TrimSpace(s)
	// Trim a trailing comma before a closing brace/bracket.
	s = regexp.MustCompile(`,\s*([}\]])`).ReplaceAllString(s, "$1")
	// Balance unclosed braces by appending the missing count.
	open := strings.Count(s, "{")
	closeCount := strings.Count(s, "}")
	for i := 0; i < open-closeCount; i++ {
		s += "}"
	}
	return s
}

func decodeAndValidate(s string) (ports.Verdict, error) {
	var raw rawVerdict
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return ports.Verdict{}, err
	}

	if raw.Confidence < 0 || raw.Confidence > 1 {
		return ports.Verdict{}, fmt.Errorf("confidence %v out of [0,1]", raw.Confidence)
	}
	if raw.NextBillingDate != nil && *raw.NextBillingDate != "" && !dateRe.MatchString(*raw.NextBillingDate) {
		return ports.Verdict{}, fmt.Errorf("next_billing_date %q is not YYYY-MM-DD", *raw.NextBillingDate)
	}

	var cycle *domain.BillingCycle
	if raw.BillingCycle != nil {
		c := domain.BillingCycle(*raw.BillingCycle)
		cycle = &c
	}

	return ports.Verdict{
		IsSubscription: raw.IsSubscription,
		Confidence:     raw.Confidence,
		Reasoning:      raw.Reasoning,
		Extracted: domain.Extracted{
			ServiceName:     raw.ServiceName,
			Amount:          raw.Amount,
			Currency:        raw.Currency,
			BillingCycle:    cycle,
			NextBillingDate: raw.NextBillingDate,
		},
	}, nil
}
