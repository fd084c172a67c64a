package telegram

import "errors"

// Sentinel errors surfaced by platform implementations. The login state
// machine branches on these to decide between re-prompt and abort.
var (
	// ErrPasswordNeeded is returned by SignIn when the account has
	// two-factor protection and a cloud password must follow the code.
	ErrPasswordNeeded = errors.New("two-step verification password needed")

	// ErrCodeInvalid is returned by SignIn when the one-time code is wrong.
	ErrCodeInvalid = errors.New("one-time code invalid")

	// ErrPasswordInvalid is returned by CheckPassword on a wrong password.
	ErrPasswordInvalid = errors.New("password invalid")

	// ErrNoMedia indicates the referenced message carries no downloadable media.
	ErrNoMedia = errors.New("message has no media")

	// ErrNotFound indicates the scope or message could not be fetched.
	ErrNotFound = errors.New("message not found")
)
