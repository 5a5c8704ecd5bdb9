package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is at every boundary above transport.
var (
	// ErrTransportUnavailable means the proxy health probe failed; nothing
	// was sent.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrRegistrationRejected means the proxy refused our register frame.
	ErrRegistrationRejected = errors.New("registration rejected")

	// ErrTimeout means a command's deadline elapsed before its reply.
	ErrTimeout = errors.New("command timed out")

	// ErrDisconnected means the session failed or closed while the command
	// was in flight.
	ErrDisconnected = errors.New("session disconnected")
)

// ApplicationError is a status:"error" reply from the remote application.
// It resolves a single command and never affects the session.
type ApplicationError struct {
	Kind    string
	Message string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("application error: %s", e.Kind)
	}
	return fmt.Sprintf("application error %s: %s", e.Kind, e.Message)
}
