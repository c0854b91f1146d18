package finding

import (
	"errors"
	"fmt"
)

// Sentinel errors for aggregation failures.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrEmptyGroup indicates a finding group was constructed without members.
	ErrEmptyGroup = errors.New("empty finding groups are not allowed")

	// ErrTypeMismatch indicates a group member is not a usable Finding.
	ErrTypeMismatch = errors.New("group members must be valid findings")

	// ErrMissingGroupingKey indicates matching was attempted without a grouping
	// key, or a finding lacks the grouping key attribute of its class.
	ErrMissingGroupingKey = errors.New("missing grouping key")

	// ErrUndefinedGroupingKey indicates a finding class has no grouping key configured.
	ErrUndefinedGroupingKey = errors.New("grouping key is not defined for finding class")

	// ErrTemplateRender indicates a description template could not be rendered.
	ErrTemplateRender = errors.New("template render failed")
)

// Error kinds categorize errors by their type.
const (
	// KindValidation represents errors caused by malformed findings or groups.
	KindValidation = "validation"

	// KindConfiguration represents finding-class misconfiguration.
	KindConfiguration = "configuration"

	// KindRender represents description template failures.
	KindRender = "render"

	// KindStorage represents persistence failures.
	KindStorage = "storage"
)

// Error is a structured error that wraps one of the sentinel errors with the
// operation that failed and optional debugging context.
//
// Example usage:
//
//	err := &Error{
//		Op:   "Store.Report",
//		Kind: KindConfiguration,
//		Err:  ErrUndefinedGroupingKey,
//	}
type Error struct {
	// Op is the operation that failed (e.g., "Store.Report", "group.New").
	Op string

	// Kind categorizes the error (e.g., KindValidation).
	Kind string

	// Err is the underlying error.
	Err error

	// Context carries debugging values such as the producer or class.
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("aggregator: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("aggregator: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("aggregator: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op, when the target sets one) and
// otherwise delegates to the wrapped error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with ctx merged into its context.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	newErr.Context = make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		newErr.Context[k] = v
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// NewValidationError creates a new Error with KindValidation.
func NewValidationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: err}
}

// NewConfigurationError creates a new Error with KindConfiguration.
func NewConfigurationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConfiguration, Err: err}
}

// NewRenderError creates a new Error with KindRender.
func NewRenderError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindRender, Err: err}
}

// NewStorageError creates a new Error with KindStorage.
func NewStorageError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindStorage, Err: err}
}
