package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func docWithAmount(amount int64) DocumentContext {
	a := decimal.NewFromInt(amount)
	return DocumentContext{Amount: &a}
}

func TestEvaluateConditionEmpty(t *testing.T) {
	assert.True(t, EvaluateCondition("", DocumentContext{}))
	assert.True(t, EvaluateCondition("   ", DocumentContext{}))
}

func TestEvaluateValuePredicates(t *testing.T) {
	cases := []struct {
		condition string
		amount    int64
		want      bool
	}{
		{"isHighValue", 50001, true},
		{"isHighValue", 50000, false},
		{"isHighValue", 100, false},
		{"isLowValue", 5000, true},
		{"isLowValue", 5001, false},
		{"isMediumValue", 5001, true},
		{"isMediumValue", 50000, true},
		{"isMediumValue", 5000, false},
		{"isMediumValue", 50001, false},
	}
	for _, tc := range cases {
		t.Run(tc.condition, func(t *testing.T) {
			assert.Equal(t, tc.want, EvaluateCondition(tc.condition, docWithAmount(tc.amount)),
				"%s with amount %d", tc.condition, tc.amount)
		})
	}
}

func TestEvaluateTypeAndPriorityPredicates(t *testing.T) {
	contract := DocumentContext{DocumentType: "CONTRACT"}
	invoice := DocumentContext{DocumentType: "invoice"}
	urgent := DocumentContext{Priority: "URGENT"}
	high := DocumentContext{Priority: "high"}
	normal := DocumentContext{Priority: "NORMAL"}

	assert.True(t, EvaluateCondition("isContract", contract))
	assert.False(t, EvaluateCondition("isContract", invoice))
	assert.True(t, EvaluateCondition("isInvoice", invoice))
	assert.True(t, EvaluateCondition("isUrgent", urgent))
	assert.True(t, EvaluateCondition("isUrgent", high))
	assert.False(t, EvaluateCondition("isUrgent", normal))
	assert.True(t, EvaluateCondition("isNormal", normal))
	assert.False(t, EvaluateCondition("isNormal", urgent))
}

func TestEvaluateAmountComparisons(t *testing.T) {
	doc := docWithAmount(10000)

	assert.True(t, EvaluateCondition("amount > 9999", doc))
	assert.False(t, EvaluateCondition("amount > 10000", doc))
	assert.True(t, EvaluateCondition("amount >= 10000", doc))
	assert.True(t, EvaluateCondition("amount < 10001", doc))
	assert.True(t, EvaluateCondition("amount <= 10000", doc))
	assert.True(t, EvaluateCondition("amount = 10000", doc))
	assert.True(t, EvaluateCondition("amount != 9999", doc))
	assert.False(t, EvaluateCondition("amount != 10000", doc))
}

func TestEvaluateDecimalExactness(t *testing.T) {
	a, err := decimal.NewFromString("10000.10")
	assert.NoError(t, err)
	doc := DocumentContext{Amount: &a}

	assert.True(t, EvaluateCondition("amount > 10000", doc))
	assert.True(t, EvaluateCondition("amount = 10000.1", doc))
	assert.False(t, EvaluateCondition("amount = 10000", doc))
}

func TestEvaluateStringComparisons(t *testing.T) {
	doc := DocumentContext{Priority: "HIGH", DocumentType: "Contract", Status: "ACTIVE"}

	assert.True(t, EvaluateCondition("priority = high", doc))
	assert.True(t, EvaluateCondition("type = CONTRACT", doc))
	assert.True(t, EvaluateCondition("status = active", doc))
	assert.False(t, EvaluateCondition("priority = LOW", doc))
	assert.True(t, EvaluateCondition("priority != LOW", doc))
}

func TestEvaluateNegation(t *testing.T) {
	doc := docWithAmount(60000)

	assert.False(t, EvaluateCondition("!isHighValue", doc))
	assert.True(t, EvaluateCondition("!isLowValue", doc))
	assert.True(t, EvaluateCondition("!amount < 60000", doc))
	assert.False(t, EvaluateCondition("!", doc))
}

func TestEvaluateFailsClosed(t *testing.T) {
	doc := docWithAmount(100)

	// Unknown predicate or field.
	assert.False(t, EvaluateCondition("isGigantic", doc))
	assert.False(t, EvaluateCondition("weight > 10", doc))

	// Unresolvable values.
	assert.False(t, EvaluateCondition("amount > 10", DocumentContext{}))
	assert.False(t, EvaluateCondition("priority = HIGH", DocumentContext{}))
	assert.False(t, EvaluateCondition("amount > abc", doc))

	// Malformed expressions.
	assert.False(t, EvaluateCondition("amount >", doc))
	assert.False(t, EvaluateCondition("> 100", doc))
	assert.False(t, EvaluateCondition("=", doc))
}
