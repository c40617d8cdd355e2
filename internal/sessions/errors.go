package sessions

import (
	"errors"
	"fmt"
)

// Error kinds a failed session reports. Match with errors.Is against the
// session error.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrNetwork        = errors.New("network error")
	ErrIO             = errors.New("local file error")
	ErrRepository     = errors.New("repository operation failed")
	ErrConflicts      = errors.New("merge conflicts could not be resolved")
	ErrPushRejected   = errors.New("push rejected by remote")
)

// SessionError is the terminal error of a failed session: the phase it
// failed in, its kind and the originating cause.
type SessionError struct {
	Phase Phase
	Kind  error
	Err   error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Phase, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Phase, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *SessionError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func sessionErr(p Phase, kind, err error) *SessionError {
	return &SessionError{Phase: p, Kind: kind, Err: err}
}
