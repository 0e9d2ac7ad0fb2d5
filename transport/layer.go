// Package transport abstracts how sessions reach the network. A Layer knows
// how to listen on a port and dial an address; everything above it only ever
// sees net.Listener and net.Conn.
package transport

import (
	"fmt"
	"net"
)

type Layer interface {
	fmt.Stringer

	Listen(port uint16) (net.Listener, error)
	Dial(address string) (net.Conn, error)

	IP(address net.Addr) net.IP
	Port(address net.Addr) uint16
}
