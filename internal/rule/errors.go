package rule

import "errors"

// Domain errors for the rule package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, rule.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrRuleExists is returned when creating a rule with an ID that already exists.
	ErrRuleExists = errors.New("rule: already exists")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidName is returned when a rule name is empty or too long.
	ErrInvalidName = errors.New("rule: invalid name")

	// ErrInvalidTrigger is returned when a trigger definition is invalid.
	ErrInvalidTrigger = errors.New("rule: invalid trigger")

	// ErrInvalidOperator is returned when a trigger operator is not recognised.
	ErrInvalidOperator = errors.New("rule: invalid operator")

	// ErrInvalidAction is returned when a rule action is invalid.
	ErrInvalidAction = errors.New("rule: invalid action")

	// ErrNoActions is returned when a rule has no actions defined.
	ErrNoActions = errors.New("rule: no actions")

	// ErrNotNumeric is returned when a numeric comparison receives an
	// operand that cannot be coerced to a number.
	ErrNotNumeric = errors.New("rule: operand not numeric")

	// ErrExecutionNotFound is returned when an execution ID does not exist.
	ErrExecutionNotFound = errors.New("rule: execution not found")
)

// permanentError marks an action failure that retrying cannot fix
// (unknown device, unknown scene, malformed action). The dispatcher
// stops retrying as soon as it sees one.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the dispatcher treats it as non-retryable.
// A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or any error it wraps) was marked
// with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
