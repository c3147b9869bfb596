package classify

import (
	"testing"

	"github.com/stoik/mailsub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_NewsletterIsFree(t *testing.T) {
	row := domain.MailRow{
		Subject:  "Your weekly newsletter",
		BodyText: "Here is what happened this week, nothing to pay.",
	}
	v := Classify(row)
	assert.Equal(t, 0.0, v.Confidence)
	assert.False(t, v.IsSubscription)
}

func TestClassify_NetflixReceiptEscalates(t *testing.T) {
	row := domain.MailRow{
		Subject:     "Your monthly Netflix receipt — $15.99 charged",
		SenderEmail: "billing@netflix.com",
		BodyText:    "Thanks for your payment.",
	}
	v := Classify(row)
	assert.GreaterOrEqual(t, v.Confidence, Threshold)
	assert.True(t, v.IsSubscription)
	require.NotNil(t, v.Extracted.ServiceName)
	assert.Equal(t, "Netflix", *v.Extracted.ServiceName)
	require.NotNil(t, v.Extracted.Amount)
	assert.InDelta(t, 15.99, *v.Extracted.Amount, 0.001)
	require.NotNil(t, v.Extracted.BillingCycle)
	assert.Equal(t, domain.BillingMonthly, *v.Extracted.BillingCycle)
}

func TestClassify_BillingCycleDerivation(t *testing.T) {
	yearly := Classify(domain.MailRow{Subject: "Your annual subscription renewal"})
	assert.Equal(t, domain.BillingYearly, *yearly.Extracted.BillingCycle)

	weekly := Classify(domain.MailRow{Subject: "Your weekly membership charge"})
	assert.Equal(t, domain.BillingWeekly, *weekly.Extracted.BillingCycle)
}

func TestClassify_ConfidenceCapsAtOne(t *testing.T) {
	row := domain.MailRow{
		Subject:     "subscription billing invoice receipt payment received renewal membership",
		SenderEmail: "billing@subscriptions.example.com",
		BodyText:    "netflix $9.99 recurring charge monthly charge statement card ending",
	}
	v := Classify(row)
	assert.LessOrEqual(t, v.Confidence, 1.0)
}
