package thread

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput     = errors.New("invalid_input")
	ErrNotFound         = errors.New("not_found")
	ErrSelfConversation = errors.New("self_conversation_forbidden")
	ErrTransient        = errors.New("fetch_failed")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel kinds; Err, when set, is the underlying cause.
type OpError struct {
	Op   string
	Kind error
	ID   string
	Err  error
}

func (e *OpError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.ID != "" {
		msg += ": " + e.ID
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is/errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opErr(op string, kind error, id string, cause error) error {
	return &OpError{Op: op, Kind: kind, ID: id, Err: cause}
}

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsSelfConversation reports whether err represents ErrSelfConversation.
func IsSelfConversation(err error) bool { return errors.Is(err, ErrSelfConversation) }

// IsTransient reports whether err represents ErrTransient.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsTerminal reports whether a resolution error must not be retried by the caller.
func IsTerminal(err error) bool {
	return IsNotFound(err) || IsSelfConversation(err) || IsInvalidInput(err)
}

// Code returns the stable wire code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsSelfConversation(err):
		return ErrSelfConversation.Error()
	case IsNotFound(err):
		return ErrNotFound.Error()
	case IsInvalidInput(err):
		return ErrInvalidInput.Error()
	default:
		return ErrTransient.Error()
	}
}

// WrapTransient classifies a collaborator failure as ErrTransient unless it already
// carries a thread error kind.
func WrapTransient(op string, err error) error {
	if err == nil || IsTerminal(err) || IsTransient(err) {
		return err
	}
	return opErr(op, ErrTransient, "", err)
}
