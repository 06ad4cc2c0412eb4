package rule

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Evaluate applies a trigger operator to an event value and a target value.
//
// Comparison semantics:
//   - equals / not_equals / contains compare string-normalised operands.
//     Numbers are normalised to a canonical decimal form, so 25, 25.0,
//     and "25" all compare equal.
//   - greater_than / less_than coerce both operands to float64. An
//     operand that cannot be coerced yields an error wrapping
//     ErrNotNumeric; the caller treats this as "condition unknown" and
//     leaves stored condition state untouched.
//
// Evaluate is pure: it has no side effects and no dependencies on the
// rule store, so it can be exercised exhaustively in isolation.
func Evaluate(op Operator, eventValue, target any) (bool, error) {
	switch op {
	case OpEquals:
		return normalizeOperand(eventValue) == normalizeOperand(target), nil

	case OpNotEquals:
		return normalizeOperand(eventValue) != normalizeOperand(target), nil

	case OpContains:
		return strings.Contains(normalizeOperand(eventValue), normalizeOperand(target)), nil

	case OpGreaterThan:
		ev, tv, err := numericOperands(eventValue, target)
		if err != nil {
			return false, err
		}
		return ev > tv, nil

	case OpLessThan:
		ev, tv, err := numericOperands(eventValue, target)
		if err != nil {
			return false, err
		}
		return ev < tv, nil

	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidOperator, op)
	}
}

// normalizeOperand converts a JSON scalar to its canonical string form.
//
// Floats use the shortest decimal representation that round-trips, so
// 25.0 normalises to "25" and matches the integer. Anything outside the
// JSON scalar set falls back to fmt.Sprintf.
func normalizeOperand(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// numericOperands coerces both comparison operands to float64.
func numericOperands(eventValue, target any) (float64, float64, error) {
	ev, err := toFloat(eventValue)
	if err != nil {
		return 0, 0, fmt.Errorf("event value: %w", err)
	}
	tv, err := toFloat(target)
	if err != nil {
		return 0, 0, fmt.Errorf("target value: %w", err)
	}
	return ev, tv, nil
}

// toFloat coerces a JSON scalar to float64. Numeric strings are
// accepted; booleans and non-numeric strings are not.
func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, val.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, v)
	}
}
