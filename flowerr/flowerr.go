// Package flowerr enumerates the error kinds from which the broker and
// orchestrator decide ack/reject/retry behaviour. Sentinels are wrapped with
// github.com/pkg/errors so call sites keep a stack trace for Crit-level
// logging while still comparing with errors.Cause against the sentinel.
package flowerr

import "github.com/pkg/errors"

// Programmer/workflow-bug errors: reject the message, do not retry.
var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrForeignToken   = errors.New("token belongs to a different net")
	ErrPlaceNotFound  = errors.New("place not found")
	ErrDuplicateToken = errors.New("token already marked at place")
)

// Expected consume_tokens outcomes: not errors in the operational sense, but
// returned as sentinels so callers can branch without side channels.
var (
	ErrNotReady      = errors.New("not all input arcs are marked")
	ErrAlreadyEnabled = errors.New("enabler already recorded")
	ErrAlreadyFired  = errors.New("transition already fired for this color")
)

// Retryable via bus redelivery after reconnect.
var (
	ErrTransientStore = errors.New("transient store error")
	ErrTransientBus   = errors.New("transient bus error")
)

// Fatal to the broker process.
var ErrPublisherNack = errors.New("publisher nack")

// Cause unwraps err to the deepest pkg/errors cause, for comparing against
// the sentinels above.
func Cause(err error) error {
	return errors.Cause(err)
}

// Wrap attaches msg as context to err while preserving Cause().
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Is reports whether err's cause is the given sentinel.
func Is(err, sentinel error) bool {
	return Cause(err) == sentinel
}
