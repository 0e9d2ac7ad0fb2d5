package rpc

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/oi2996814/tvm-rpc/log"
	"github.com/oi2996814/tvm-rpc/transport"
)

type DialOption func(o *dialOptions)

type dialOptions struct {
	layer  transport.Layer
	logger zerolog.Logger
	init   [][]byte
}

// WithTransport selects the transport layer used to reach the server.
// Defaults to plain TCP.
func WithTransport(layer transport.Layer) DialOption {
	return func(o *dialOptions) { o.layer = layer }
}

// WithLogger injects the logger the session should use. Defaults to the
// module logger; pass a disabled logger for silence.
func WithLogger(logger zerolog.Logger) DialOption {
	return func(o *dialOptions) { o.logger = logger }
}

// WithInitSequence supplies an opaque batch of setup blobs forwarded verbatim
// to the remote session once the handshake succeeds.
func WithInitSequence(seq ...[]byte) DialOption {
	return func(o *dialOptions) { o.init = append(o.init, seq...) }
}

func defaultDialOptions() *dialOptions {
	return &dialOptions{
		layer:  transport.NewTCP(),
		logger: log.With().Str("mod", "rpc").Logger(),
	}
}

// Connect establishes a keyed session with the server at address
// ("host:port"). It drives the magic/key handshake and, on success, returns
// an endpoint holding the negotiated remote key, with the init sequence
// already forwarded.
//
// A rejected handshake comes back as *HandshakeError naming the address, the
// key, and which of the three rejection reasons applied. Every failure path
// closes the socket before returning; there is no retry.
func Connect(address, key string, opts ...DialOption) (*Endpoint, error) {
	o := defaultDialOptions()
	for _, opt := range opts {
		opt(o)
	}

	conn, err := o.layer.Dial(address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s for key %q", address, key)
	}

	logger := o.logger.With().Str("addr", address).Logger()

	ch := newSockChannel(conn)

	remoteKey, err := clientHandshake(ch, key)
	if err != nil {
		discardClose(ch, logger)

		switch errors.Cause(err) {
		case ErrKeyTaken, ErrNoMatch, ErrBadPeer:
			return nil, &HandshakeError{Addr: address, Key: key, Reason: errors.Cause(err)}
		}

		return nil, errors.Wrapf(err, "handshake with %s failed for key %q", address, key)
	}

	logger.Debug().Str("remote_key", remoteKey).Msg("Handshake complete.")

	endpoint := NewEndpoint(ch, key, remoteKey, logger)

	if err := endpoint.Init(o.init); err != nil {
		endpoint.Close()
		return nil, errors.Wrapf(err, "failed to initialize session with %s", address)
	}

	return endpoint, nil
}
