package ports

import (
	"context"

	"github.com/stoik/mailsub/internal/domain"
)

// Verdict is the common shape both the Keyword Classifier and the LM
// Classifier produce for a Mail Row.
type Verdict struct {
	IsSubscription bool
	Confidence     float64
	Extracted      domain.Extracted
	Reasoning      string
}

// Usage is the LM Classifier's reported token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// LMClassifier calls an external language-model HTTP endpoint and parses its
// answer. The Process Runner gates on Enabled before calling Classify, so a
// disabled implementation's Classify error only matters if that guard is
// skipped.
type LMClassifier interface {
	Classify(ctx context.Context, row domain.MailRow) (Verdict, Usage, error)
	Enabled() bool
}

// Cost computes the LM Classifier's USD cost for one call's token usage,
// rounded to 6 decimal places.
func (u Usage) Cost() float64 {
	raw := float64(u.InputTokens)/1e6*0.25 + float64(u.OutputTokens)/1e6*1.25
	return roundTo6(raw)
}

func roundTo6(v float64) float64 {
	const factor = 1e6
	return float64(int64(v*factor+sign(v)*0.5)) / factor
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
