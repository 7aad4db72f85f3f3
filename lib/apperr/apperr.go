package apperr

import "errors"

// RecoverableError marks a failure the poll loop is allowed to recover
// from by discarding the session and restarting from login. Anything
// not wrapped in it is treated as fatal.
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string {
	return e.Err.Error()
}

func (e *RecoverableError) Unwrap() error {
	return e.Err
}

func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Err: err}
}

func IsRecoverable(err error) bool {
	var r *RecoverableError
	return errors.As(err, &r)
}
