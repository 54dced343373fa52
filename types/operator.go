package types

import (
	"math"
	"strconv"
)

// Operator is the comparison applied between a telemetry value and a rule
// threshold.
type Operator string

// Supported comparison operators
const (
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
	OpEquals      Operator = "EQUALS"
	OpNotEquals   Operator = "NOT_EQUALS"
)

// Epsilon is the tolerance for (in)equality comparisons. Exact float
// comparison would make EQUALS rules useless against sensor noise.
const Epsilon = 1e-4

// Valid reports whether the operator is one of the closed set.
func (op Operator) Valid() bool {
	switch op {
	case OpGreaterThan, OpLessThan, OpEquals, OpNotEquals:
		return true
	default:
		return false
	}
}

// Evaluate applies the operator to value and threshold after numeric
// coercion. A non-numeric value or threshold never matches; rules with an
// unusable threshold are skipped without error.
func (op Operator) Evaluate(value, threshold any) bool {
	v, ok := CoerceFloat(value)
	if !ok {
		return false
	}
	t, ok := CoerceFloat(threshold)
	if !ok {
		return false
	}

	switch op {
	case OpGreaterThan:
		return v > t
	case OpLessThan:
		return v < t
	case OpEquals:
		return math.Abs(v-t) < Epsilon
	case OpNotEquals:
		return math.Abs(v-t) >= Epsilon
	default:
		return false
	}
}

// CoerceFloat converts decoded JSON scalars to float64. Devices often
// report readings as numeric strings, so those coerce too. Values stored
// as a one-element array take the first element (JSONB threshold
// compatibility).
func CoerceFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	case []any:
		if len(value) == 0 {
			return 0, false
		}
		return CoerceFloat(value[0])
	default:
		return 0, false
	}
}
