package transport

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoundTrip(t *testing.T, layer Layer, port uint16) {
	listener, err := layer.Listen(port)
	require.NoError(t, err)
	defer listener.Close()

	addr := "127.0.0.1:" + strconv.Itoa(int(layer.Port(listener.Addr())))

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := layer.Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	msg := []byte("ping")
	_, err = client.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, len(msg))
	_, err = server.Read(buf)
	require.NoError(t, err)

	assert.Equal(t, msg, buf)
}

func TestTCPRoundTrip(t *testing.T) {
	testRoundTrip(t, NewTCP(), 0)
}

func TestVirtualRoundTrip(t *testing.T) {
	testRoundTrip(t, NewVirtual(), 7001)
}

func TestVirtualDialUnknownPort(t *testing.T) {
	_, err := NewVirtual().Dial("127.0.0.1:9999")
	assert.Error(t, err)
}

func TestVirtualListenIsStable(t *testing.T) {
	layer := NewVirtual()

	a, err := layer.Listen(7002)
	require.NoError(t, err)

	b, err := layer.Listen(7002)
	require.NoError(t, err)

	assert.Equal(t, a.Addr().String(), b.Addr().String())
}

func TestLayerNames(t *testing.T) {
	assert.Equal(t, "tcp", NewTCP().String())
	assert.Equal(t, "kcp", NewKCP().String())
	assert.Equal(t, "virtual", NewVirtual().String())
}
