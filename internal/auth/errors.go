package auth

// Reason classifies an authentication failure.
type Reason int

// Authentication failure reasons.
const (
	InvalidCredentials Reason = iota + 1
	Expired
	NotFound
)

func (r Reason) String() string {
	switch r {
	case InvalidCredentials:
		return "invalid credentials"
	case Expired:
		return "session expired"
	case NotFound:
		return "session not found"
	default:
		return "unknown auth failure"
	}
}

// AuthError is returned by Login and Validate. Login never reports whether
// the username or the password was wrong.
type AuthError struct {
	Reason Reason
}

func (e *AuthError) Error() string {
	return "auth: " + e.Reason.String()
}

// Is matches any *AuthError with the same Reason.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Reason == e.Reason
}

// Sentinel errors for use with errors.Is.
var (
	ErrInvalidCredentials = &AuthError{Reason: InvalidCredentials}
	ErrExpired            = &AuthError{Reason: Expired}
	ErrNotFound           = &AuthError{Reason: NotFound}
)
