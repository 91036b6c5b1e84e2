package shared

import "errors"

var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials covers unknown email, wrong password and
	// deactivated accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionExpired is returned by Renew when the backing record is gone.
	ErrSessionExpired = errors.New("session expired")
	// ErrCSRFTokenMissing occurs when neither the header nor the form field
	// carries a token.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when the token was not issued for the session.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
