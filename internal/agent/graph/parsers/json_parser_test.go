package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type termsPayload struct {
	Years        *int     `json:"years"`
	DownPayment  *float64 `json:"down_payment"`
	UserResponse string   `json:"user_response"`
}

func TestExtractObjectPlain(t *testing.T) {
	obj, ok := ExtractObject(`{"years": 5}`)
	require.True(t, ok)
	assert.Equal(t, `{"years": 5}`, obj)
}

func TestExtractObjectWithCommentary(t *testing.T) {
	content := "Sure! Here is what I extracted:\n{\"years\": 3, \"down_payment\": 10000.0}\nLet me know if you need more."
	obj, ok := ExtractObject(content)
	require.True(t, ok)
	assert.Equal(t, `{"years": 3, "down_payment": 10000.0}`, obj)
}

func TestExtractObjectWithCodeFence(t *testing.T) {
	content := "```json\n{\"years\": 7}\n```"
	obj, ok := ExtractObject(content)
	require.True(t, ok)
	assert.Equal(t, `{"years": 7}`, obj)
}

func TestExtractObjectNestedAndStrings(t *testing.T) {
	content := `prefix {"user_response": "use \"braces\" like } carefully", "inner": {"a": 1}} suffix`
	obj, ok := ExtractObject(content)
	require.True(t, ok)
	assert.Contains(t, obj, `"inner": {"a": 1}`)
}

func TestExtractObjectNone(t *testing.T) {
	_, ok := ExtractObject("I could not find any useful fields, sorry.")
	assert.False(t, ok)
}

func TestExtractObjectUnbalanced(t *testing.T) {
	_, ok := ExtractObject(`{"years": 5`)
	assert.False(t, ok)
}

func TestDecodeTerms(t *testing.T) {
	out, ok := Decode[termsPayload]("```json\n{\"years\": 5, \"user_response\": \"¿De cuánto sería tu enganche?\"}\n```")
	require.True(t, ok)
	require.NotNil(t, out.Years)
	assert.Equal(t, 5, *out.Years)
	assert.Nil(t, out.DownPayment)
	assert.NotEmpty(t, out.UserResponse)
}

func TestDecodeFailsSoftOnGarbage(t *testing.T) {
	out, ok := Decode[termsPayload]("no structured payload here")
	assert.False(t, ok)
	assert.Nil(t, out.Years)

	// Present object, wrong shape for a field: still fails soft.
	_, ok = Decode[termsPayload](`{"years": "lots"}`)
	assert.False(t, ok)
}
