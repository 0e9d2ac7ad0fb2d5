package rpc

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/oi2996814/tvm-rpc/payload"
)

// Packet codes, in wire order. Every packet is a uint64 byte count followed
// by a body whose first field is one of these.
const (
	codeNone int32 = iota
	codeShutdown
	codeInitServer
	codeCallFunc
	codeReturn
	codeException
)

// Packets above this size indicate a desynchronized stream rather than a
// legitimate payload.
const maxPacketSize = 64 << 20

// Handler services one named operation dispatched through an endpoint's
// serve loop. A returned error travels back to the caller as a remote
// exception.
type Handler func(args []byte) ([]byte, error)

// Endpoint owns an established channel for the lifetime of a session and
// speaks the packet protocol over it: calls out, dispatch in. An endpoint is
// sequential; it must not be driven from two goroutines at once.
type Endpoint struct {
	ch Channel

	localKey  string
	remoteKey string

	handlers map[string]Handler

	wmu sync.Mutex

	logger zerolog.Logger
}

// NewEndpoint wraps an established channel together with the two keys
// discovered during the handshake.
func NewEndpoint(ch Channel, localKey, remoteKey string, logger zerolog.Logger) *Endpoint {
	return &Endpoint{
		ch:        ch,
		localKey:  localKey,
		remoteKey: remoteKey,
		handlers:  make(map[string]Handler),
		logger:    logger,
	}
}

func (e *Endpoint) LocalKey() string {
	return e.localKey
}

func (e *Endpoint) RemoteKey() string {
	return e.remoteKey
}

// Handle registers a handler for method. Registration must finish before the
// serve loop starts.
func (e *Endpoint) Handle(method string, h Handler) {
	e.handlers[method] = h
}

// Close releases the endpoint's channel. Errors on release are logged and
// discarded; teardown never escalates.
func (e *Endpoint) Close() {
	discardClose(e.ch, e.logger)
}

// Serve blocks dispatching incoming packets until the peer shuts the session
// down, the stream ends, or a fatal transport error occurs. A clean
// end-of-stream returns nil.
func (e *Endpoint) Serve() error {
	e.logger.Debug().Str("local_key", e.localKey).Msg("Serve loop started.")

	for {
		body, err := e.readPacket()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		r := payload.NewReader(body)

		code, err := r.ReadInt32()
		if err != nil {
			return errors.Wrap(err, "packet too short for code")
		}

		switch code {
		case codeShutdown:
			e.logger.Debug().Msg("Peer requested shutdown.")
			return nil
		case codeInitServer:
			if err := e.handleInit(r); err != nil {
				return err
			}
		case codeCallFunc:
			if err := e.handleCall(r); err != nil {
				return err
			}
		case codeException:
			msg, rerr := r.ReadString()
			if rerr != nil {
				return errors.Wrap(rerr, "malformed exception packet")
			}
			return &RemoteError{Msg: msg}
		default:
			if err := e.writeException(errors.Errorf("unknown rpc code %d", code)); err != nil {
				return err
			}
		}
	}
}

func (e *Endpoint) handleInit(r payload.Reader) error {
	blob, err := r.ReadBytes()
	if err != nil {
		return errors.Wrap(err, "malformed init packet")
	}

	e.logger.Debug().Int("bytes", len(blob)).Msg("Accepted init blob.")

	return e.writePacket(payload.NewWriter(nil).WriteInt32(codeReturn).Bytes())
}

func (e *Endpoint) handleCall(r payload.Reader) error {
	method, err := r.ReadString()
	if err != nil {
		return errors.Wrap(err, "malformed call packet")
	}

	h, ok := e.handlers[method]
	if !ok {
		return e.writeException(errors.Errorf("unknown method %q", method))
	}

	reply, herr := h(r.ReadRest())
	if herr != nil {
		return e.writeException(herr)
	}

	body := payload.NewWriter(nil).WriteInt32(codeReturn)
	_, _ = body.Write(reply)

	return e.writePacket(body.Bytes())
}

// Call invokes method on the remote side and blocks for its reply. A remote
// exception comes back as *RemoteError; transport failures as ordinary
// errors.
func (e *Endpoint) Call(method string, args []byte) ([]byte, error) {
	body := payload.NewWriter(nil).
		WriteInt32(codeCallFunc).
		WriteString(method)
	_, _ = body.Write(args)

	if err := e.writePacket(body.Bytes()); err != nil {
		return nil, errors.Wrapf(err, "failed to send call %q", method)
	}

	return e.readReply(method)
}

// Init forwards an opaque batch of setup blobs to the remote session, one
// packet per element, each individually acknowledged.
func (e *Endpoint) Init(seq [][]byte) error {
	for i, blob := range seq {
		body := payload.NewWriter(nil).
			WriteInt32(codeInitServer).
			WriteBytes(blob)

		if err := e.writePacket(body.Bytes()); err != nil {
			return errors.Wrapf(err, "failed to send init element %d", i)
		}

		if _, err := e.readReply("init"); err != nil {
			return errors.Wrapf(err, "init element %d rejected", i)
		}
	}

	return nil
}

// Shutdown asks the peer's serve loop to end, then releases the channel.
func (e *Endpoint) Shutdown() {
	body := payload.NewWriter(nil).WriteInt32(codeShutdown)

	if err := e.writePacket(body.Bytes()); err != nil {
		e.logger.Debug().Err(err).Msg("Failed to send shutdown; closing anyway.")
	}

	e.Close()
}

func (e *Endpoint) readReply(method string) ([]byte, error) {
	body, err := e.readPacket()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to receive reply for %q", method)
	}

	r := payload.NewReader(body)

	code, err := r.ReadInt32()
	if err != nil {
		return nil, errors.Wrap(err, "reply too short for code")
	}

	switch code {
	case codeReturn:
		return r.ReadRest(), nil
	case codeException:
		msg, rerr := r.ReadString()
		if rerr != nil {
			return nil, errors.Wrap(rerr, "malformed exception packet")
		}
		return nil, &RemoteError{Msg: msg}
	default:
		return nil, errors.Errorf("unexpected rpc code %d in reply to %q", code, method)
	}
}

func (e *Endpoint) writePacket(body []byte) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	hdr := payload.NewWriter(nil).WriteUint64(uint64(len(body)))

	if err := SendAll(e.ch, hdr.Bytes()); err != nil {
		return err
	}

	return SendAll(e.ch, body)
}

func (e *Endpoint) writeException(cause error) error {
	e.logger.Debug().Err(cause).Msg("Returning exception to peer.")

	body := exceptionBody(cause.Error())
	return e.writePacket(body)
}

func (e *Endpoint) readPacket() ([]byte, error) {
	var hdr [8]byte

	if err := RecvAll(e.ch, hdr[:]); err != nil {
		return nil, err
	}

	size, err := payload.NewReader(hdr[:]).ReadUint64()
	if err != nil {
		return nil, err
	}

	if size > maxPacketSize {
		return nil, errors.Errorf("packet of %d bytes exceeds limit", size)
	}

	body := make([]byte, size)
	if err := RecvAll(e.ch, body); err != nil {
		if err == io.EOF {
			err = errors.Wrap(io.ErrUnexpectedEOF, "peer closed mid-packet")
		}
		return nil, err
	}

	return body, nil
}
