package rpc

import (
	"io"

	"github.com/pkg/errors"
)

var _ Channel = (*callbackChannel)(nil)

// callbackChannel adapts an arbitrary pair of send/receive functions into a
// Channel, for embedding the transport where no socket exists.
type callbackChannel struct {
	send func(p []byte) (int, error)
	recv func(p []byte) (int, error)

	close func() error
}

// NewCallbackChannel wraps send and recv into a Channel. Both functions carry
// the same contract as Channel.Send/Recv: partial transfers are allowed, and
// recv signals a graceful close with io.EOF.
func NewCallbackChannel(send, recv func(p []byte) (int, error)) Channel {
	return &callbackChannel{send: send, recv: recv}
}

// NewCallbackChannelCloser is NewCallbackChannel with a teardown hook invoked
// once the owning session releases the channel.
func NewCallbackChannelCloser(send, recv func(p []byte) (int, error), close func() error) Channel {
	return &callbackChannel{send: send, recv: recv, close: close}
}

func (c *callbackChannel) Send(p []byte) (int, error) {
	n, err := c.send(p)
	if err != nil {
		return n, errors.Wrap(err, "callback send failed")
	}

	return n, nil
}

func (c *callbackChannel) Recv(p []byte) (int, error) {
	n, err := c.recv(p)
	if err != nil && err != io.EOF {
		return n, errors.Wrap(err, "callback recv failed")
	}

	return n, err
}

func (c *callbackChannel) Close() error {
	if c.close == nil {
		return nil
	}

	return c.close()
}
