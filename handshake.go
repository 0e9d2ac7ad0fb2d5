package rpc

import (
	"github.com/pkg/errors"

	"github.com/oi2996814/tvm-rpc/payload"
)

// Magic is the sentinel both peers must present before any session traffic
// flows. A connect attempt answered with Magic proceeds; Magic+1 means the
// requested key is already held, Magic+2 means nothing matches it, and any
// other value marks an incompatible peer.
const Magic int32 = 0xff271

const (
	magicKeyTaken = Magic + 1
	magicNoMatch  = Magic + 2
)

// KeyMatcher is the accept-side decision seam of the handshake. Match
// inspects the key a client presented and either returns the key the server
// should answer with, or ErrKeyTaken / ErrNoMatch to reject the attempt.
type KeyMatcher interface {
	Match(clientKey string) (serverKey string, err error)
}

// MatcherFunc adapts a function to a KeyMatcher.
type MatcherFunc func(clientKey string) (string, error)

func (f MatcherFunc) Match(clientKey string) (string, error) {
	return f(clientKey)
}

// clientHandshake drives the connect-side key exchange over an open channel:
// magic, key length, and key bytes out; a response code and, on success, the
// remote key back. Every field moves in full or the handshake dies.
func clientHandshake(ch Channel, key string) (string, error) {
	hello := payload.NewWriter(nil).
		WriteInt32(Magic).
		WriteString(key)

	if err := SendAll(ch, hello.Bytes()); err != nil {
		return "", errors.Wrap(err, "failed to send handshake hello")
	}

	code, err := recvInt32(ch)
	if err != nil {
		return "", errors.Wrap(err, "failed to receive handshake response")
	}

	switch code {
	case Magic:
	case magicKeyTaken:
		return "", ErrKeyTaken
	case magicNoMatch:
		return "", ErrNoMatch
	default:
		return "", ErrBadPeer
	}

	remoteKey, err := recvKey(ch)
	if err != nil {
		return "", errors.Wrap(err, "failed to receive remote key")
	}

	return remoteKey, nil
}

// ServerHandshake runs the accept-side of the key exchange. The transport
// moves the bytes; m decides whether the presented key is answered with
// Magic, Magic+1, or Magic+2. On success it returns the client's key and the
// key that was sent back.
func ServerHandshake(ch Channel, m KeyMatcher) (clientKey, serverKey string, err error) {
	code, err := recvInt32(ch)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to receive handshake hello")
	}

	if code != Magic {
		// Answer with a code the client cannot mistake for success, then
		// refuse the connection.
		_ = SendAll(ch, payload.NewWriter(nil).WriteInt32(0).Bytes())
		return "", "", ErrBadPeer
	}

	clientKey, err = recvKey(ch)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to receive client key")
	}

	serverKey, merr := m.Match(clientKey)

	switch errors.Cause(merr) {
	case nil:
	case ErrKeyTaken:
		_ = SendAll(ch, payload.NewWriter(nil).WriteInt32(magicKeyTaken).Bytes())
		return clientKey, "", ErrKeyTaken
	case ErrNoMatch:
		_ = SendAll(ch, payload.NewWriter(nil).WriteInt32(magicNoMatch).Bytes())
		return clientKey, "", ErrNoMatch
	default:
		return clientKey, "", errors.Wrapf(merr, "matcher failed for key %q", clientKey)
	}

	reply := payload.NewWriter(nil).
		WriteInt32(Magic).
		WriteString(serverKey)

	if err := SendAll(ch, reply.Bytes()); err != nil {
		// The match already consumed the key; hand it back or the next
		// legitimate connect under it is refused forever.
		releaseMatch(m, clientKey)
		return clientKey, serverKey, errors.Wrap(err, "failed to send handshake reply")
	}

	return clientKey, serverKey, nil
}

func recvInt32(ch Channel) (int32, error) {
	var buf [4]byte

	if err := RecvAll(ch, buf[:]); err != nil {
		return 0, err
	}

	code, err := payload.NewReader(buf[:]).ReadInt32()
	if err != nil {
		return 0, err
	}

	return code, nil
}

// recvKey reads a uint32 length prefix and exactly that many key bytes. An
// empty key is legal and yields "".
func recvKey(ch Channel) (string, error) {
	raw, err := recvInt32(ch)
	if err != nil {
		return "", err
	}

	// Guard before converting: on a 32-bit build a huge uint32 length would
	// turn into a negative int and slip past the limit check.
	size := uint32(raw)
	if size > maxKeyLen {
		return "", errors.Errorf("key length %d exceeds limit %d", size, maxKeyLen)
	}

	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	if err := RecvAll(ch, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}

// Keys are short routing labels; anything larger is a desynchronized or
// hostile peer.
const maxKeyLen = 1 << 12
