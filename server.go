package rpc

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/oi2996814/tvm-rpc/log"
	"github.com/oi2996814/tvm-rpc/transport"
)

// serverLoopKey labels the local side of a loop run over a connection the
// listener has already accepted, where no key was negotiated.
const serverLoopKey = "SockServerLoop"

type ServeOption func(o *serveOptions)

type serveOptions struct {
	logger   zerolog.Logger
	handlers map[string]Handler
}

// WithServeLogger injects the logger the loop should use.
func WithServeLogger(logger zerolog.Logger) ServeOption {
	return func(o *serveOptions) { o.logger = logger }
}

// WithHandler registers a handler dispatched by the loop.
func WithHandler(method string, h Handler) ServeOption {
	return func(o *serveOptions) { o.handlers[method] = h }
}

func defaultServeOptions() *serveOptions {
	return &serveOptions{
		logger:   log.With().Str("mod", "rpc").Logger(),
		handlers: make(map[string]Handler),
	}
}

// ServerLoop wraps an already-accepted connection and blocks dispatching
// requests on it until the stream ends or a fatal transport error occurs.
// Normal termination returns nil.
func ServerLoop(conn net.Conn, opts ...ServeOption) error {
	return serveChannel(newSockChannel(conn), opts)
}

// ServerLoopFunc is ServerLoop over a caller-supplied pair of send/receive
// functions instead of a socket.
func ServerLoopFunc(send, recv func(p []byte) (int, error), opts ...ServeOption) error {
	return serveChannel(NewCallbackChannel(send, recv), opts)
}

func serveChannel(ch Channel, opts []ServeOption) error {
	o := defaultServeOptions()
	for _, opt := range opts {
		opt(o)
	}

	endpoint := NewEndpoint(ch, serverLoopKey, "", o.logger)
	for method, h := range o.handlers {
		endpoint.Handle(method, h)
	}

	defer endpoint.Close()

	return endpoint.Serve()
}

// KeyRegistry is the stock KeyMatcher: a table of client keys each mapped to
// the key the server answers with. A registered key serves one live session
// at a time; a second concurrent match is refused with ErrKeyTaken until
// Release is called.
type KeyRegistry struct {
	sync.Mutex

	entries map[string]*registryEntry
}

type registryEntry struct {
	serverKey string
	busy      bool
}

func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{entries: make(map[string]*registryEntry)}
}

// Register maps clientKey to the serverKey given back on a successful match.
func (r *KeyRegistry) Register(clientKey, serverKey string) {
	r.Lock()
	defer r.Unlock()

	r.entries[clientKey] = &registryEntry{serverKey: serverKey}
}

func (r *KeyRegistry) Match(clientKey string) (string, error) {
	r.Lock()
	defer r.Unlock()

	entry, ok := r.entries[clientKey]
	if !ok {
		return "", ErrNoMatch
	}

	if entry.busy {
		return "", ErrKeyTaken
	}

	entry.busy = true

	return entry.serverKey, nil
}

// Release frees clientKey for the next session.
func (r *KeyRegistry) Release(clientKey string) {
	r.Lock()
	defer r.Unlock()

	if entry, ok := r.entries[clientKey]; ok {
		entry.busy = false
	}
}

var _ KeyMatcher = (*KeyRegistry)(nil)

// releaseMatch hands a consumed key back to matchers that track liveness.
// One-method custom matchers simply don't implement Release and get nothing.
func releaseMatch(m KeyMatcher, clientKey string) {
	if r, ok := m.(interface{ Release(string) }); ok {
		r.Release(clientKey)
	}
}

type ServerOption func(s *Server)

// WithServerTransport selects the transport layer the server listens on.
func WithServerTransport(layer transport.Layer) ServerOption {
	return func(s *Server) { s.layer = layer }
}

// WithServerLogger injects the server's logger.
func WithServerLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithMatcher replaces the server's stock registry with a custom decision
// seam for the accept-side handshake.
func WithMatcher(m KeyMatcher) ServerOption {
	return func(s *Server) { s.matcher = m }
}

// WithServerHandler registers a handler dispatched on every session.
func WithServerHandler(method string, h Handler) ServerOption {
	return func(s *Server) { s.handlers[method] = h }
}

// Server accepts keyed sessions: every inbound connection is handshaken
// against the server's key matcher, then served on its own goroutine until
// the client goes away.
type Server struct {
	layer    transport.Layer
	matcher  KeyMatcher
	registry *KeyRegistry

	listener net.Listener
	port     uint16

	handlers map[string]Handler

	logger zerolog.Logger

	kill     chan struct{}
	killOnce sync.Once
}

// NewServer starts listening on port (0 picks a free one). Keys clients may
// present are added with Register, or a custom matcher is injected with
// WithMatcher.
func NewServer(port uint16, opts ...ServerOption) (*Server, error) {
	registry := NewKeyRegistry()

	s := &Server{
		layer:    transport.NewTCP(),
		matcher:  registry,
		registry: registry,
		handlers: make(map[string]Handler),
		logger:   log.With().Str("mod", "rpc.server").Logger(),
		kill:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	listener, err := s.layer.Listen(port)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on port %d over %s", port, s.layer)
	}

	s.listener = listener
	s.port = s.layer.Port(listener.Addr())

	return s, nil
}

// Register maps clientKey to serverKey on the server's stock registry.
func (s *Server) Register(clientKey, serverKey string) {
	s.registry.Register(clientKey, serverKey)
}

func (s *Server) Port() uint16 {
	return s.port
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve blocks accepting connections until Shutdown is called. Per-session
// failures are logged, never propagated; only listener teardown ends the
// loop.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()

		select {
		case <-s.kill:
			if conn != nil {
				_ = conn.Close()
			}
			return nil
		default:
		}

		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to accept an incoming connection.")
			continue
		}

		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	ch := newSockChannel(conn)

	clientKey, serverKey, err := ServerHandshake(ch, s.matcher)
	if err != nil {
		s.logger.Debug().Err(err).Str("client_key", clientKey).Msg("Rejected handshake.")
		discardClose(ch, s.logger)
		return
	}

	logger := s.logger.With().Str("client_key", clientKey).Logger()
	logger.Debug().Msg("Session established.")

	endpoint := NewEndpoint(ch, serverKey, clientKey, logger)
	for method, h := range s.handlers {
		endpoint.Handle(method, h)
	}

	if err := endpoint.Serve(); err != nil {
		logger.Warn().Err(err).Msg("Session ended with error.")
	}

	endpoint.Close()

	releaseMatch(s.matcher, clientKey)
}

// Shutdown stops accepting sessions and closes the listener. Errors on
// teardown are logged and discarded.
func (s *Server) Shutdown() {
	s.killOnce.Do(func() {
		close(s.kill)

		if err := s.listener.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to close listener; ignored.")
		}
	})
}
