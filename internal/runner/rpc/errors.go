package rpc

import (
	"errors"

	"github.com/bdobrica/lcsm/internal/runner/protocol"
)

// ErrClientClosed is returned by calls that were pending, or issued, after
// the client's connection went away.
var ErrClientClosed = errors.New("rpc: client closed")

// Error is a failure reported by the runner in an error response.
type Error struct {
	Message  string
	Response *protocol.Response
}

func (e *Error) Error() string {
	return "rpc: remote error: " + e.Message
}

// IsRemote reports whether err came from an error response, as opposed to a
// local timeout, cancellation or transport failure.
func IsRemote(err error) bool {
	var re *Error
	return errors.As(err, &re)
}
