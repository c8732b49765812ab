// Package wire implements the binary framing described in spec §6:
// length-prefixed, versioned-by-a-leading-byte messages with varint
// integers and fixed-width 32-byte ids. It plays the same role the
// teacher's rlp package plays for devp2p — a small, explicit byte-level
// codec every wire message is built from — but emits Indra's tag-prefixed
// frames instead of RLP lists, since §6 pins an exact byte layout rather
// than a generic structural encoding.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// Tag identifies the kind of a top-level wire message (§6).
type Tag byte

const (
	TagPacket          Tag = 0x01
	TagDeliveryAck     Tag = 0x02
	TagPresenceHint    Tag = 0x03
	TagSyncOffer       Tag = 0x10
	TagSyncReply       Tag = 0x11
	TagChannelEnvelope Tag = 0x20
	TagInvite          Tag = 0x30
)

// Version is the single leading version byte every frame carries.
const Version byte = 0x01

var ErrShortBuffer = errors.New("wire: short buffer")
var ErrBadVersion = errors.New("wire: unsupported version byte")

// Writer accumulates a frame body. Its append methods (Uvarint, Byte,
// Fixed32, Fixed16, VarBytes, String) write to an internal byte slice;
// callers obtain the result with Bytes.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{buf: make([]byte, 0, 64)} }

func (w *Writer) Bytes() []byte { return w.buf }

// Uvarint appends n as an unsigned LEB128 varint.
func (w *Writer) Uvarint(n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(tmp[:], n)
	w.buf = append(w.buf, tmp[:l]...)
}

// Byte appends a single byte.
func (w *Writer) Byte(b byte) { w.buf = append(w.buf, b) }

// Fixed32 appends an exact 32-byte id.
func (w *Writer) Fixed32(id [32]byte) { w.buf = append(w.buf, id[:]...) }

// Fixed16 appends an exact 16-byte id (e.g. a 128-bit packet id).
func (w *Writer) Fixed16(id [16]byte) { w.buf = append(w.buf, id[:]...) }

// VarBytes appends a varint length followed by the raw bytes.
func (w *Writer) VarBytes(b []byte) {
	w.Uvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// String appends a varint length followed by the UTF-8 bytes of s.
func (w *Writer) String(s string) { w.VarBytes([]byte(s)) }

// Reader consumes a frame body produced by Writer.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) Uvarint() (uint64, error) {
	n, sz := binary.Uvarint(r.buf[r.pos:])
	if sz <= 0 {
		return 0, ErrShortBuffer
	}
	r.pos += sz
	return n, nil
}

func (r *Reader) Byte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, ErrShortBuffer
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) Fixed32() ([32]byte, error) {
	var out [32]byte
	if r.Remaining() < 32 {
		return out, ErrShortBuffer
	}
	copy(out[:], r.buf[r.pos:r.pos+32])
	r.pos += 32
	return out, nil
}

func (r *Reader) Fixed16() ([16]byte, error) {
	var out [16]byte
	if r.Remaining() < 16 {
		return out, ErrShortBuffer
	}
	copy(out[:], r.buf[r.pos:r.pos+16])
	r.pos += 16
	return out, nil
}

func (r *Reader) VarBytes() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if uint64(r.Remaining()) < n {
		return nil, ErrShortBuffer
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *Reader) String() (string, error) {
	b, err := r.VarBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Frame wraps a tagged body with the leading version byte and a
// length-prefix (uvarint of body length), matching §6's "length-prefixed,
// binary, versioned by a single leading byte" requirement.
func Frame(tag Tag, body []byte) []byte {
	w := NewWriter()
	w.Byte(Version)
	w.Byte(byte(tag))
	w.Uvarint(uint64(len(body)))
	w.buf = append(w.buf, body...)
	return w.Bytes()
}

// Unframe splits a frame into its tag and body, validating the version
// byte and the length prefix.
func Unframe(b []byte) (Tag, []byte, error) {
	if len(b) < 2 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	if b[0] != Version {
		return 0, nil, ErrBadVersion
	}
	tag := Tag(b[1])
	r := NewReader(b[2:])
	body, err := r.VarBytes()
	if err != nil {
		return 0, nil, err
	}
	return tag, body, nil
}
