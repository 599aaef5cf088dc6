package parser

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DocumentContext is the fixed set of document fields a routing condition can
// reference. Amount is nil when the document carries no monetary value.
type DocumentContext struct {
	Amount       *decimal.Decimal
	DocumentType string
	Priority     string
	Status       string
}

// Value-band thresholds for the named predicates.
var (
	highValueThreshold = decimal.NewFromInt(50000)
	lowValueThreshold  = decimal.NewFromInt(5000)
)

// fieldValue is either a decimal or a string, never both.
type fieldValue struct {
	num *decimal.Decimal
	str string
}

// fieldAccessors maps the closed set of condition field names to accessors.
// Unknown names fall through to the fail-closed policy in EvaluateCondition.
var fieldAccessors = map[string]func(DocumentContext) (fieldValue, bool){
	"amount": func(doc DocumentContext) (fieldValue, bool) {
		if doc.Amount == nil {
			return fieldValue{}, false
		}
		return fieldValue{num: doc.Amount}, true
	},
	"priority": func(doc DocumentContext) (fieldValue, bool) {
		return fieldValue{str: doc.Priority}, doc.Priority != ""
	},
	"type": func(doc DocumentContext) (fieldValue, bool) {
		return fieldValue{str: doc.DocumentType}, doc.DocumentType != ""
	},
	"status": func(doc DocumentContext) (fieldValue, bool) {
		return fieldValue{str: doc.Status}, doc.Status != ""
	},
}

// EvaluateCondition evaluates a routing condition against a document.
//
// Supported forms:
//   - empty string: always true
//   - negation: "!<expr>"
//   - comparisons: "amount > 10000", "priority = HIGH" (numeric fields use
//     exact decimal arithmetic, other fields compare case-insensitively)
//   - named predicates: isHighValue, isLowValue, isMediumValue, isContract,
//     isInvoice, isUrgent, isNormal
//
// The evaluator fails closed: an unknown field, an unresolvable value or a
// malformed expression yields false, never an error. A condition that cannot
// be evaluated must never count as matched.
func EvaluateCondition(condition string, doc DocumentContext) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}

	if strings.HasPrefix(condition, "!") {
		inner := strings.TrimSpace(condition[1:])
		if inner == "" {
			return false
		}
		return !EvaluateCondition(inner, doc)
	}

	if strings.ContainsAny(condition, "><=!") {
		return evaluateComparison(condition, doc)
	}

	return evaluatePredicate(condition, doc)
}

// comparisonOperators is ordered so two-character operators match before
// their one-character prefixes.
var comparisonOperators = []string{">=", "<=", "!=", "=", ">", "<"}

func evaluateComparison(condition string, doc DocumentContext) bool {
	for _, op := range comparisonOperators {
		if !strings.Contains(condition, op) {
			continue
		}
		parts := strings.SplitN(condition, op, 2)
		if len(parts) != 2 {
			return false
		}
		field := strings.ToLower(strings.TrimSpace(parts[0]))
		literal := strings.TrimSpace(parts[1])
		if field == "" || literal == "" {
			return false
		}

		accessor, ok := fieldAccessors[field]
		if !ok {
			return false
		}
		left, ok := accessor(doc)
		if !ok {
			return false
		}

		if left.num != nil {
			right, err := decimal.NewFromString(literal)
			if err != nil {
				return false
			}
			return compareOrdering(left.num.Cmp(right), op)
		}
		return compareOrdering(compareFold(left.str, literal), op)
	}
	return false
}

// compareFold is a case-insensitive three-way string comparison.
func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func compareOrdering(cmp int, op string) bool {
	switch op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	}
	return false
}

func evaluatePredicate(condition string, doc DocumentContext) bool {
	switch strings.ToLower(condition) {
	case "ishighvalue":
		return doc.Amount != nil && doc.Amount.GreaterThan(highValueThreshold)
	case "islowvalue":
		return doc.Amount != nil && doc.Amount.LessThanOrEqual(lowValueThreshold)
	case "ismediumvalue":
		return doc.Amount != nil &&
			doc.Amount.GreaterThan(lowValueThreshold) &&
			doc.Amount.LessThanOrEqual(highValueThreshold)
	case "iscontract":
		return strings.EqualFold(doc.DocumentType, "CONTRACT")
	case "isinvoice":
		return strings.EqualFold(doc.DocumentType, "INVOICE")
	case "isurgent":
		return strings.EqualFold(doc.Priority, "HIGH") || strings.EqualFold(doc.Priority, "URGENT")
	case "isnormal":
		return strings.EqualFold(doc.Priority, "NORMAL") || strings.EqualFold(doc.Priority, "LOW")
	}
	return false
}

// AvailableConditions documents the supported predicate and comparison forms
// for the template-authoring endpoint.
func AvailableConditions() map[string]string {
	return map[string]string{
		"isHighValue":      "Document amount > 50,000",
		"isLowValue":       "Document amount <= 5,000",
		"isMediumValue":    "Document amount between 5,000 and 50,000",
		"isContract":       "Document type is CONTRACT",
		"isInvoice":        "Document type is INVOICE",
		"isUrgent":         "Document priority is HIGH or URGENT",
		"isNormal":         "Document priority is NORMAL or LOW",
		"amount > X":       "Compare document amount with X",
		"priority = VALUE": "Compare document priority with VALUE",
		"!<condition>":     "Negate any condition",
	}
}
