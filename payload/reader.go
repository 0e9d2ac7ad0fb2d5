// Package payload provides the little-endian primitives every wire structure
// in this module is built from. Fixing the byte order here keeps client and
// worker builds compatible across architectures.
package payload

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

var _ io.Reader = (*Reader)(nil)

type Reader struct {
	reader *bytes.Reader
}

func NewReader(payload []byte) Reader {
	return Reader{
		reader: bytes.NewReader(payload),
	}
}

// Len returns the number of bytes that have not yet been read.
func (r Reader) Len() int {
	return r.reader.Len()
}

func (r Reader) Read(b []byte) (n int, err error) {
	return r.reader.Read(b)
}

// ReadBytes reads a uint32 length prefix followed by that many raw bytes.
func (r Reader) ReadBytes() ([]byte, error) {
	raw, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}

	size := int(raw)

	if size > r.reader.Len() {
		return nil, errors.Errorf("length prefix %d exceeds %d remaining bytes", size, r.reader.Len())
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return nil, err
	}

	return buf, nil
}

func (r Reader) ReadString() (string, error) {
	buf, err := r.ReadBytes()
	return string(buf), err
}

// ReadRest drains whatever has not been read yet.
func (r Reader) ReadRest() []byte {
	buf := make([]byte, r.reader.Len())
	_, _ = io.ReadFull(r.reader, buf)

	return buf
}

func (r Reader) ReadByte() (byte, error) {
	return r.reader.ReadByte()
}

func (r Reader) ReadUint32() (uint32, error) {
	var buf [4]byte

	if _, err := io.ReadFull(r.reader, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (r Reader) ReadInt32() (int32, error) {
	raw, err := r.ReadUint32()
	return int32(raw), err
}

func (r Reader) ReadUint64() (uint64, error) {
	var buf [8]byte

	if _, err := io.ReadFull(r.reader, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}
