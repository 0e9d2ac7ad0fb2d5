package transport

import (
	"net"
	"strconv"

	kcp "github.com/xtaci/kcp-go/v5"
)

var _ Layer = (*kcpLayer)(nil)

// kcpLayer carries sessions over KCP, a reliable stream on top of UDP. Useful
// when a worker sits behind a link where TCP retransmission behavior hurts.
type kcpLayer struct{}

func NewKCP() Layer {
	return kcpLayer{}
}

func (k kcpLayer) String() string {
	return "kcp"
}

func (k kcpLayer) Listen(port uint16) (net.Listener, error) {
	listener, err := kcp.ListenWithOptions(":"+strconv.Itoa(int(port)), nil, 0, 0)
	if err != nil {
		return nil, err
	}

	return listener, nil
}

func (k kcpLayer) Dial(address string) (net.Conn, error) {
	conn, err := kcp.DialWithOptions(address, nil, 0, 0)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (k kcpLayer) IP(address net.Addr) net.IP {
	return address.(*net.UDPAddr).IP
}

func (k kcpLayer) Port(address net.Addr) uint16 {
	return uint16(address.(*net.UDPAddr).Port)
}
