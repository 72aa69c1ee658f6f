package mail

import (
	"errors"
	"fmt"
)

// AuthError indicates the mail server rejected the credentials.
// It is fatal for a run; retrying with the same credentials cannot help.
type AuthError struct {
	Server   string // "imap" or "smtp"
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed for %s: %v", e.Server, e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is a mail authentication failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
