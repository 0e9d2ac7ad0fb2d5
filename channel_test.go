package rpc

import (
	"io"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeChannels() (Channel, Channel) {
	a, b := net.Pipe()
	return newSockChannel(a), newSockChannel(b)
}

// oneByteChannel throttles an inner channel to a single byte per call, to
// exercise partial-transfer accumulation.
type oneByteChannel struct {
	inner Channel
}

func (c oneByteChannel) Send(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return c.inner.Send(p)
}

func (c oneByteChannel) Recv(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return c.inner.Recv(p)
}

func (c oneByteChannel) Close() error {
	return c.inner.Close()
}

func TestSendAllRecvAllAccumulatePartialTransfers(t *testing.T) {
	a, b := pipeChannels()
	defer a.Close()
	defer b.Close()

	msg := []byte("a message long enough to need many one-byte transfers")

	go func() {
		_ = SendAll(oneByteChannel{inner: a}, msg)
	}()

	buf := make([]byte, len(msg))
	require.NoError(t, RecvAll(oneByteChannel{inner: b}, buf))

	assert.Equal(t, msg, buf)
}

func TestRecvAllCleanCloseIsEOF(t *testing.T) {
	a, b := pipeChannels()
	defer b.Close()

	require.NoError(t, a.Close())

	buf := make([]byte, 4)
	assert.Equal(t, io.EOF, RecvAll(b, buf))
}

func TestRecvAllAcceptsFinalBytesWithEOF(t *testing.T) {
	msg := []byte("tail")

	// Some transports report EOF together with the last bytes.
	ch := NewCallbackChannel(nil, func(p []byte) (int, error) {
		return copy(p, msg), io.EOF
	})

	buf := make([]byte, len(msg))
	require.NoError(t, RecvAll(ch, buf))
	assert.Equal(t, msg, buf)
}

func TestRecvAllMidTransferCloseIsError(t *testing.T) {
	a, b := pipeChannels()
	defer b.Close()

	go func() {
		_ = SendAll(a, []byte{1, 2})
		_ = a.Close()
	}()

	buf := make([]byte, 4)
	err := RecvAll(b, buf)

	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
	assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))
}

func TestCallbackChannelAdaptsFunctions(t *testing.T) {
	a, b := pipeChannels()
	defer b.Close()

	cb := NewCallbackChannelCloser(
		func(p []byte) (int, error) { return a.Send(p) },
		func(p []byte) (int, error) { return a.Recv(p) },
		a.Close,
	)

	go func() {
		_ = SendAll(cb, []byte("ping"))
	}()

	buf := make([]byte, 4)
	require.NoError(t, RecvAll(b, buf))
	assert.Equal(t, []byte("ping"), buf)

	require.NoError(t, cb.Close())
}

func TestCallbackChannelWrapsRecvErrors(t *testing.T) {
	cause := errors.New("recv exploded")

	cb := NewCallbackChannel(nil, func(p []byte) (int, error) {
		return 0, cause
	})

	_, err := cb.Recv(make([]byte, 1))
	require.Error(t, err)
	assert.NotEqual(t, cause, err)
	assert.Equal(t, cause, errors.Cause(err))
}

func TestCallbackChannelCloseWithoutHookIsNoop(t *testing.T) {
	cb := NewCallbackChannel(nil, nil)
	assert.NoError(t, cb.Close())
}

type failingCloseChannel struct {
	Channel
}

func (failingCloseChannel) Close() error {
	return errors.New("close exploded")
}

func TestDiscardCloseSwallowsErrors(t *testing.T) {
	a, _ := pipeChannels()

	assert.NotPanics(t, func() {
		discardClose(failingCloseChannel{Channel: a}, zerolog.Nop())
	})
}
