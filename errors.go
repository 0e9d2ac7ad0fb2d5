package rpc

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrKeyTaken is reported when the remote side already serves a live
	// session under the requested key.
	ErrKeyTaken = errors.New("key is already held by another session")

	// ErrNoMatch is reported when no remote endpoint is registered under the
	// requested key.
	ErrNoMatch = errors.New("no server matches the requested key")

	// ErrBadPeer is reported when the remote side does not speak this
	// protocol at all.
	ErrBadPeer = errors.New("peer is not a compatible rpc server")
)

// HandshakeError is returned by Connect when the magic/key exchange fails. It
// names the address and key of the attempt; Reason is one of ErrKeyTaken,
// ErrNoMatch, or ErrBadPeer.
type HandshakeError struct {
	Addr   string
	Key    string
	Reason error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("rpc: handshake with %s failed for key %q: %v", e.Addr, e.Key, e.Reason)
}

func (e *HandshakeError) Unwrap() error { return e.Reason }

// Cause implements the pkg/errors causer interface.
func (e *HandshakeError) Cause() error { return e.Reason }

// RemoteError is an exception reported by the remote side over the wire. It
// is application-level data, not a transport fault.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string {
	return "rpc: remote error: " + e.Msg
}
