package message

import (
	"errors"
	"fmt"

	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/session"
)

var (
	// ErrUnsupportedOperation is returned by capabilities a variant deliberately lacks
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrUnknownKind is returned when a kind is not registered
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrWrongVariant is returned when a capability is given a message of another kind
	ErrWrongVariant = errors.New("message of wrong variant")
	// ErrNilMessage is returned when a capability is given no message
	ErrNilMessage = errors.New("nil message")
	// ErrMissingContext is returned when a prerequisite is absent from the session
	ErrMissingContext = errors.New("missing session context")
)

// PreparationError signals a broken script: a nil message or a missing
// prerequisite in the session. It aborts the run.
type PreparationError struct {
	Kind Kind
	Err  error
}

func (e *PreparationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("preparation failed: %s", e.Err)
	}
	return fmt.Sprintf("preparing %s: %s", e.Kind, e.Err)
}

func (e *PreparationError) Unwrap() error {
	return e.Err
}

// NewPreparationError wraps err unless it already is a PreparationError
func NewPreparationError(kind Kind, err error) error {
	var prep *PreparationError
	if errors.As(err, &prep) {
		return err
	}
	return &PreparationError{Kind: kind, Err: err}
}

// Missing returns a PreparationError for an absent session value
func Missing(kind Kind, what string) error {
	return &PreparationError{Kind: kind, Err: fmt.Errorf("%w: %s", ErrMissingContext, what)}
}

// UnknownValueWarning describes a peer value a handler could not interpret.
// It is logged and the handler continues.
type UnknownValueWarning struct {
	Kind  Kind
	Field string
	Value interface{}
}

func (w UnknownValueWarning) Error() string {
	return fmt.Sprintf("unknown value %v for %s.%s", w.Value, w.Kind, w.Field)
}

// Warn logs an UnknownValueWarning with the session logger
func Warn(ctx *session.Context, w UnknownValueWarning) {
	ctx.Logger().With(log.LogParams{
		"kind":  w.Kind.String(),
		"field": w.Field,
		"value": fmt.Sprintf("%v", w.Value),
	}).Warn("Ignoring unknown value")
}
