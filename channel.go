// Package rpc implements the keyed socket transport a client uses to reach a
// remote worker: a byte-level channel abstraction, the magic/key handshake
// that opens a session, the worker-side blocking server loop, and the narrow
// side-channel for reporting a remote exception back over the wire.
//
// The transport is strictly synchronous. A channel owns one connection, is
// never safe for concurrent use from two goroutines, and performs no
// multiplexing; a process that needs concurrent sessions runs one channel per
// goroutine.
package rpc

import (
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Channel is the byte-level send/receive capability underlying a session.
//
// Both primitives may block indefinitely and may transfer fewer bytes than
// requested; callers needing an exact count loop via SendAll/RecvAll. Recv
// returns io.EOF once the peer has closed its end gracefully.
type Channel interface {
	io.Closer

	Send(p []byte) (int, error)
	Recv(p []byte) (int, error)
}

var _ Channel = (*sockChannel)(nil)

// sockChannel is a Channel over a connected stream socket. It owns the
// connection and releases it on Close.
type sockChannel struct {
	conn net.Conn
}

func newSockChannel(conn net.Conn) *sockChannel {
	return &sockChannel{conn: conn}
}

func (s *sockChannel) Send(p []byte) (int, error) {
	n, err := s.conn.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "channel send failed")
	}

	return n, nil
}

func (s *sockChannel) Recv(p []byte) (int, error) {
	n, err := s.conn.Read(p)
	if err != nil {
		if err == io.EOF {
			return n, io.EOF
		}

		return n, errors.Wrap(err, "channel recv failed")
	}

	return n, nil
}

func (s *sockChannel) Close() error {
	return s.conn.Close()
}

// discardClose releases a channel at the end of a session. Cleanup must never
// escalate into another fatal error, so any failure is logged and dropped.
func discardClose(ch Channel, logger zerolog.Logger) {
	if err := ch.Close(); err != nil {
		logger.Debug().Err(err).Msg("Failed to close channel; ignored.")
	}
}

// SendAll writes the whole of p to ch, looping partial sends until every byte
// has been transferred or an error occurs.
func SendAll(ch Channel, p []byte) error {
	for len(p) > 0 {
		n, err := ch.Send(p)
		if err != nil {
			return err
		}

		p = p[n:]
	}

	return nil
}

// RecvAll fills the whole of p from ch, looping partial reads. A recv that
// delivers the final bytes together with io.EOF still counts as success, per
// the io.Reader convention. A peer close before any byte arrives surfaces as
// io.EOF; a close partway through a field is io.ErrUnexpectedEOF, never a
// short success.
func RecvAll(ch Channel, p []byte) error {
	read := 0

	var err error

	for read < len(p) && err == nil {
		var n int

		n, err = ch.Recv(p[read:])
		read += n
	}

	if read == len(p) {
		return nil
	}

	if err == io.EOF {
		if read == 0 {
			return io.EOF
		}

		return errors.Wrap(io.ErrUnexpectedEOF, "peer closed mid-transfer")
	}

	return err
}
