// Package ledger owns the durable record of every ticket and its
// lifecycle state. It is the only writer of ticket state: issuing,
// redemption and void flows all go through its atomic operations, and
// the sync engine reads from it and writes back nothing but the synced
// flag. The sentinel errors below let handlers distinguish the failure
// modes the protocol cares about.
package ledger

import "errors"

// ErrDuplicateTicket is returned when a create collides with an
// existing ticket_number. The insert fails atomically; no partial
// record is left behind. Handlers should translate this into 409.
var ErrDuplicateTicket = errors.New("ticket number already exists")

// ErrNotFound is returned when no ticket with the requested number
// exists locally. It is distinct from ErrInvalidTransition so the
// redemption flow can fall back to a remote lookup before reporting a
// final failure.
var ErrNotFound = errors.New("ticket not found")

// ErrInvalidTransition is returned when a redeem or void targets a
// ticket that is no longer ISSUED. The record is left untouched. A
// second redemption attempt surfacing this error is a genuine conflict
// that must be shown to the operator, not swallowed.
var ErrInvalidTransition = errors.New("invalid ticket state transition")

// ErrValidation is returned for bad input: non-positive amounts,
// unsupported currencies, empty ticket numbers. Validation failures
// are rejected immediately and never retried.
var ErrValidation = errors.New("validation failed")
