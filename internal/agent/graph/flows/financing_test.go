package flows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivana/sales-agent/internal/agent/graph/parsers"
)

func TestMonthlyPaymentCanonicalPlan(t *testing.T) {
	// price 250000, down payment 50000, 3 years at 10% annual.
	got := MonthlyPayment(250000-50000, 0.10, 3)

	assert.InDelta(t, 6449, got, 10)
}

func TestMonthlyPaymentFiveYearPlan(t *testing.T) {
	// price 350000, down payment 35000, 5 years at 10% annual.
	got := MonthlyPayment(350000-35000, 0.10, 5)

	assert.InDelta(t, 6692.8, got, 1)
}

func TestMonthlyPaymentIsDeterministic(t *testing.T) {
	a := MonthlyPayment(200000, 0.10, 3)
	b := MonthlyPayment(200000, 0.10, 3)

	assert.Equal(t, a, b)
}

func TestMonthlyPaymentZeroRateDegradesToStraightDivision(t *testing.T) {
	got := MonthlyPayment(12000, 0, 1)

	assert.InDelta(t, 1000, got, 0.0001)
}

func TestMonthlyPaymentGrowsWithShorterTerm(t *testing.T) {
	short := MonthlyPayment(200000, 0.10, 2)
	long := MonthlyPayment(200000, 0.10, 6)

	assert.Greater(t, short, long)
}

func TestTermsPayloadDecodeAndMapping(t *testing.T) {
	raw := "Aqui esta el resultado:\n```json\n{\"years\": 3, \"enganche\": 50000}\n```"

	payload, ok := parsers.Decode[termsPayload](raw)
	require.True(t, ok)

	terms := payload.terms()
	require.NotNil(t, terms.Years)
	require.NotNil(t, terms.DownPayment)
	assert.Equal(t, 3, *terms.Years)
	assert.Equal(t, 50000.0, *terms.DownPayment)
	assert.True(t, terms.Complete())
}

func TestTermsPayloadPartialDecode(t *testing.T) {
	payload, ok := parsers.Decode[termsPayload](`{"years": 4, "user_response": ""}`)
	require.True(t, ok)

	terms := payload.terms()
	require.NotNil(t, terms.Years)
	assert.Nil(t, terms.DownPayment)
	assert.False(t, terms.Complete())
}
