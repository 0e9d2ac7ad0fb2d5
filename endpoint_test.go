package rpc

import (
	"bytes"
	"net"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oi2996814/tvm-rpc/payload"
)

func endpointPair() (*Endpoint, *Endpoint) {
	a, b := pipeChannels()

	client := NewEndpoint(a, "client:test", "server:test", zerolog.Nop())
	server := NewEndpoint(b, "server:test", "client:test", zerolog.Nop())

	return client, server
}

func TestEndpointCallRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := endpointPair()

	server.Handle("echo", func(args []byte) ([]byte, error) {
		return args, nil
	})

	done := make(chan error, 1)
	go func() { done <- server.Serve() }()

	reply, err := client.Call("echo", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), reply)

	client.Shutdown()
	require.NoError(t, <-done)

	server.Close()
}

func TestEndpointHandlerErrorBecomesRemoteError(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := endpointPair()

	server.Handle("div", func(args []byte) ([]byte, error) {
		return nil, &RemoteError{Msg: "divide by zero"}
	})

	done := make(chan error, 1)
	go func() { done <- server.Serve() }()

	_, err := client.Call("div", nil)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Msg, "divide by zero")

	client.Shutdown()
	require.NoError(t, <-done)

	server.Close()
}

func TestEndpointUnknownMethod(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := endpointPair()

	done := make(chan error, 1)
	go func() { done <- server.Serve() }()

	_, err := client.Call("missing", nil)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Msg, "missing")

	client.Shutdown()
	require.NoError(t, <-done)

	server.Close()
}

func TestEndpointInitSequence(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := endpointPair()

	done := make(chan error, 1)
	go func() { done <- server.Serve() }()

	require.NoError(t, client.Init([][]byte{
		[]byte("setup-1"),
		[]byte("setup-2"),
	}))

	client.Shutdown()
	require.NoError(t, <-done)

	server.Close()
}

func TestEndpointServeEndsCleanlyOnPeerClose(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := endpointPair()

	done := make(chan error, 1)
	go func() { done <- server.Serve() }()

	client.Close()
	require.NoError(t, <-done)

	server.Close()
}

func TestEndpointKeys(t *testing.T) {
	client, server := endpointPair()
	defer client.Close()
	defer server.Close()

	assert.Equal(t, "client:test", client.LocalKey())
	assert.Equal(t, "server:test", client.RemoteKey())
}

func TestReturnExceptionReachesCaller(t *testing.T) {
	defer leaktest.Check(t)()

	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	client := NewEndpoint(newSockChannel(clientConn), "client:test", "server:test", zerolog.Nop())
	defer client.Close()

	go func() {
		_ = ReturnException(serverConn, "divide by zero")
	}()

	_, err := client.readReply("compute")

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "divide by zero", remote.Msg)
}

func TestWriteExceptionWireLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteException(&buf, "divide by zero"))

	r := payload.NewReader(buf.Bytes())

	size, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(r.Len()), size)

	code, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, codeException, code)

	msg, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "divide by zero", msg)

	assert.Zero(t, r.Len())
}

type framedBuffer struct {
	bytes.Buffer

	started uint64
	dones   int
}

func (f *framedBuffer) MessageStart(packetBytes uint64) { f.started = packetBytes }
func (f *framedBuffer) MessageDone()                    { f.dones++ }

func TestWriteExceptionInvokesFramerHooks(t *testing.T) {
	var f framedBuffer
	require.NoError(t, WriteException(&f, "boom"))

	assert.Equal(t, uint64(f.Len()), f.started)
	assert.Equal(t, 1, f.dones)
}

func TestEndpointRejectsOversizedPacket(t *testing.T) {
	a, b := pipeChannels()
	defer b.Close()

	endpoint := NewEndpoint(b, "server:test", "", zerolog.Nop())

	go func() {
		_ = SendAll(a, payload.NewWriter(nil).WriteUint64(maxPacketSize+1).Bytes())
		_ = a.Close()
	}()

	err := endpoint.Serve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}
