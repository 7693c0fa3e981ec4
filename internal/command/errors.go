package command

import "errors"

// Sentinel errors for the command package.
var (
	// ErrEmpty is returned for a blank line.
	ErrEmpty = errors.New("command: empty command")

	// ErrSyntax is returned for a line matching none of the command forms.
	ErrSyntax = errors.New("command: syntax error")

	// ErrRateLimited is returned when the same line repeats too quickly.
	ErrRateLimited = errors.New("command: rate limited, too many requests")
)
