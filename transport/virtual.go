package transport

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/grpc/test/bufconn"
)

const virtualBufSize = 1 << 20

var _ Layer = (*virtual)(nil)

// virtual is an in-memory layer for tests and embedded setups: every "port"
// maps to a bufconn listener, and dials connect through process memory
// instead of the network stack.
type virtual struct {
	sync.Mutex
	listeners map[uint16]*bufconn.Listener
}

func NewVirtual() Layer {
	return &virtual{listeners: map[uint16]*bufconn.Listener{}}
}

func (v *virtual) String() string {
	return "virtual"
}

func (v *virtual) Listen(port uint16) (net.Listener, error) {
	v.Lock()
	defer v.Unlock()

	l, ok := v.listeners[port]
	if !ok {
		l = bufconn.Listen(virtualBufSize)
		v.listeners[port] = l
	}

	return &virtualListener{Listener: l, port: port}, nil
}

func (v *virtual) Dial(address string) (net.Conn, error) {
	split := strings.Split(address, ":")

	port, err := strconv.Atoi(split[len(split)-1])
	if err != nil {
		return nil, errors.Wrapf(err, "virtual address %q has no port", address)
	}

	v.Lock()
	l, ok := v.listeners[uint16(port)]
	v.Unlock()

	if !ok {
		return nil, errors.Errorf("no virtual listener on port %d", port)
	}

	return l.Dial()
}

func (v *virtual) IP(address net.Addr) net.IP {
	if a, ok := address.(*net.TCPAddr); ok {
		return a.IP
	}

	return net.IPv4(127, 0, 0, 1)
}

func (v *virtual) Port(address net.Addr) uint16 {
	if a, ok := address.(*net.TCPAddr); ok {
		return uint16(a.Port)
	}

	return 0
}

// virtualListener overrides Addr so callers still observe a port, which
// bufconn itself does not track.
type virtualListener struct {
	*bufconn.Listener
	port uint16
}

func (l *virtualListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(l.port)}
}
