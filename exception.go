package rpc

import (
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/oi2996814/tvm-rpc/payload"
)

// Framer is an optional capability of packet-framed stream variants. A writer
// that implements it has each packet bracketed by MessageStart/MessageDone;
// plain byte streams simply don't implement it and get neither call.
type Framer interface {
	MessageStart(packetBytes uint64)
	MessageDone()
}

// ReturnException serializes msg with the exact wire convention the
// call-reply protocol uses for exceptions and writes it straight onto conn,
// bypassing any session state. It is the escape hatch for reporting a failure
// that happened outside the normal request/response cycle.
func ReturnException(conn net.Conn, msg string) error {
	return WriteException(conn, msg)
}

// WriteException is ReturnException over any byte stream.
func WriteException(w io.Writer, msg string) error {
	body := exceptionBody(msg)

	packet := payload.NewWriter(nil).WriteUint64(uint64(len(body)))
	_, _ = packet.Write(body)

	if f, ok := w.(Framer); ok {
		f.MessageStart(uint64(packet.Len()))
		defer f.MessageDone()
	}

	if err := writeFull(w, packet.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write exception packet")
	}

	return nil
}

func exceptionBody(msg string) []byte {
	return payload.NewWriter(nil).
		WriteInt32(codeException).
		WriteString(msg).
		Bytes()
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}

		p = p[n:]
	}

	return nil
}
