package pipeline

import (
	"errors"
	"fmt"
)

// ErrCancelled is the terminal error of a request aborted by /cancel or
// /killall. It suppresses generic failure reporting.
var ErrCancelled = errors.New("transfer cancelled")

// Reason classifies an authorization denial.
type Reason int

const (
	ReasonNotLoggedIn Reason = iota
	ReasonTermsNotAccepted
	ReasonBanned
	ReasonNotSubscribed
	ReasonQuotaExceeded
)

func (r Reason) String() string {
	switch r {
	case ReasonNotLoggedIn:
		return "not_logged_in"
	case ReasonTermsNotAccepted:
		return "terms_not_accepted"
	case ReasonBanned:
		return "banned"
	case ReasonNotSubscribed:
		return "not_subscribed"
	case ReasonQuotaExceeded:
		return "quota_exceeded"
	default:
		return "unknown"
	}
}

// Denial is a non-fatal refusal to run a request. It terminates the
// request but is reported to the user rather than logged as a failure.
type Denial struct {
	Reason Reason

	// Quota details, set for ReasonQuotaExceeded.
	Used  int
	Limit int

	// Channel the user must join, set for ReasonNotSubscribed.
	Channel string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("request denied: %s", d.Reason)
}

// UserMessage renders the denial as the reply sent to the chat.
func (d *Denial) UserMessage() string {
	switch d.Reason {
	case ReasonNotLoggedIn:
		return "This content needs an authenticated session. Send /login to connect your account first."
	case ReasonTermsNotAccepted:
		return "Please accept the terms first: send /start."
	case ReasonBanned:
		return "You are banned from using this bot."
	case ReasonNotSubscribed:
		if d.Channel != "" {
			return fmt.Sprintf("Join %s to use this bot, then try again.", d.Channel)
		}
		return "Join the required channel to use this bot, then try again."
	case ReasonQuotaExceeded:
		return fmt.Sprintf("Daily limit reached (%d of %d). Try again tomorrow or upgrade to premium.", d.Used, d.Limit)
	default:
		return "Request denied."
	}
}
