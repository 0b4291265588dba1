package optimization

import "fmt"

// Kind classifies optimization errors so callers can branch on the
// failure category with errors.Is.
type Kind int

const (
	// KindUnknown is the zero kind used by plain wrapped errors.
	KindUnknown Kind = iota
	// KindInvalidInput marks bad arguments: wrong vector length, out of
	// range indices, nil constraints, unknown names.
	KindInvalidInput
	// KindInvalidConfiguration marks requests the selected setup cannot
	// serve, such as maximizing with SQP or a non-positive grid resolution.
	KindInvalidConfiguration
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindInvalidConfiguration:
		return "invalid configuration"
	default:
		return "unknown"
	}
}

// Sentinel errors for use with errors.Is.
var (
	ErrInvalidInput         = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration, Message: "invalid configuration"}
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind classifies the error.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same, known kind.
// This lets errors.Is(err, ErrInvalidInput) match any invalid input error
// regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind != KindUnknown && e.Kind == t.Kind
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// InvalidInputf returns a KindInvalidInput error for the given operation.
func InvalidInputf(op, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindInvalidInput,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// InvalidConfigurationf returns a KindInvalidConfiguration error for the
// given operation.
func InvalidConfigurationf(op, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindInvalidConfiguration,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf returns the kind of the first *Error found in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind != KindUnknown {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindUnknown
		}
		err = u.Unwrap()
	}
	return KindUnknown
}
