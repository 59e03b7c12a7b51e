package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by Start on a listening hub.
	ErrAlreadyStarted = errors.New("hub: already started")

	// ErrNotStarted is returned by Rebind before the first Start.
	ErrNotStarted = errors.New("hub: not started")
)

// BindError reports that the listening socket could not be created.
// The hub stays inert; retry is up to the caller.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("hub: bind %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// AcceptError reports one failed accept. The accept loop keeps running.
type AcceptError struct {
	Err error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("hub: accept: %v", e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }
