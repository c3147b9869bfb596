package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse_PlainJSON(t *testing.T) {
	v, err := parseResponse(`{"is_subscription":true,"confidence":0.98,"service_name":"Netflix","amount":15.99,"currency":"USD","billing_cycle":"monthly","next_billing_date":null,"reasoning":"subscription receipt"}`)
	require.NoError(t, err)
	assert.True(t, v.IsSubscription)
	assert.Equal(t, 0.98, v.Confidence)
	require.NotNil(t, v.Extracted.ServiceName)
	assert.Equal(t, "Netflix", *v.Extracted.ServiceName)
}

func TestParseResponse_StripsCodeFence(t *testing.T) {
	v, err := parseResponse("```json\n{\"is_subscription\":false,\"confidence\":0.1,\"reasoning\":\"no\"}\n```")
	require.NoError(t, err)
	assert.False(t, v.IsSubscription)
}

func TestParseResponse_RepairsTrailingCommaAndUnbalancedBrace(t *testing.T) {
	v, err := parseResponse(`{"is_subscription":true,"confidence":0.5,"reasoning":"x",}`)
	require.NoError(t, err)
	assert.True(t, v.IsSubscription)

	_, err = parseResponse(`{"is_subscription":true,"confidence":0.5,"reasoning":"x"`)
	require.NoError(t, err)
}

func TestParseResponse_RejectsOutOfRangeConfidence(t *testing.T) {
	_, err := parseResponse(`{"is_subscription":true,"confidence":1.5,"reasoning":"x"}`)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestParseResponse_RejectsBadDateFormat(t *testing.T) {
	_, err := parseResponse(`{"is_subscription":true,"confidence":0.5,"next_billing_date":"next month","reasoning":"x"}`)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestParseResponse_DoubleFailureIsInvalid(t *testing.T) {
	_, err := parseResponse(`not json at all {{{`)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
