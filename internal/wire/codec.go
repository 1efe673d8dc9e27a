package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const headerSize = 4 + 1 // CRC32 + type byte

// Cursor is a small big-endian read/write cursor over a byte buffer: a
// position that advances as each field is consumed or appended, erroring
// on underrun rather than panicking.
type Cursor struct {
	data   []byte
	offset int
}

// NewReader wraps data for sequential field reads.
func NewReader(data []byte) *Cursor {
	return &Cursor{data: data}
}

// NewWriter returns a cursor whose Bytes() grows as fields are appended.
func NewWriter() *Cursor {
	return &Cursor{data: make([]byte, 0, 64)}
}

func (c *Cursor) Remaining() int { return len(c.data) - c.offset }

func (c *Cursor) ReadByte() (byte, error) {
	if c.Remaining() < 1 {
		return 0, fmt.Errorf("wire: buffer underrun reading byte")
	}
	b := c.data[c.offset]
	c.offset++
	return b, nil
}

func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, fmt.Errorf("wire: buffer underrun reading %d bytes", n)
	}
	out := make([]byte, n)
	copy(out, c.data[c.offset:c.offset+n])
	c.offset += n
	return out, nil
}

func (c *Cursor) ReadUint16() (uint16, error) {
	b, err := c.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *Cursor) ReadUint32() (uint32, error) {
	b, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *Cursor) ReadUint64() (uint64, error) {
	b, err := c.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadLenPrefixed reads a 1-byte length followed by that many bytes, used
// for ASCII fields such as username and servername.
func (c *Cursor) ReadLenPrefixed() ([]byte, error) {
	n, err := c.ReadByte()
	if err != nil {
		return nil, err
	}
	return c.ReadBytes(int(n))
}

// ReadLenPrefixed16 reads a 2-byte length followed by that many bytes, used
// for the data-packet payload field.
func (c *Cursor) ReadLenPrefixed16() ([]byte, error) {
	n, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	return c.ReadBytes(int(n))
}

func (c *Cursor) WriteByte(b byte) { c.data = append(c.data, b) }

func (c *Cursor) WriteBytes(b []byte) { c.data = append(c.data, b...) }

func (c *Cursor) WriteUint16(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	c.data = append(c.data, buf[:]...)
}

func (c *Cursor) WriteUint32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	c.data = append(c.data, buf[:]...)
}

func (c *Cursor) WriteUint64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	c.data = append(c.data, buf[:]...)
}

// WriteLenPrefixed writes a 1-byte length followed by b. Callers must
// ensure len(b) <= 255 (validated earlier for username/servername fields).
func (c *Cursor) WriteLenPrefixed(b []byte) {
	c.WriteByte(byte(len(b)))
	c.WriteBytes(b)
}

// WriteLenPrefixed16 writes a 2-byte length followed by b.
func (c *Cursor) WriteLenPrefixed16(b []byte) {
	c.WriteUint16(uint16(len(b)))
	c.WriteBytes(b)
}

func (c *Cursor) Bytes() []byte { return c.data }

// Encode assembles a complete wire frame: CRC32 of (typeByte + body),
// followed by the type byte and body. chunked is only meaningful (and
// only honored) for kinds in the reliable subset.
func Encode(kind Kind, chunked bool, body []byte) []byte {
	typeByte := byte(kind)
	if chunked && kind.IsReliableKind() {
		typeByte |= ChunkFlag
	}

	rest := make([]byte, 0, 1+len(body))
	rest = append(rest, typeByte)
	rest = append(rest, body...)

	sum := crc32.ChecksumIEEE(rest)
	frame := make([]byte, 0, 4+len(rest))
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], sum)
	frame = append(frame, crcBuf[:]...)
	frame = append(frame, rest...)
	return frame
}

// Classify validates CRC and minimum length, masks off the chunk flag, and
// returns the packet kind, whether the chunk flag was set, and the raw body
// bytes still needing kind-specific decoding. Malformed frames (bad CRC,
// short, unknown type) return an error; callers must drop them silently
// and only count them, never surface them to the application.
func Classify(frame []byte) (kind Kind, chunked bool, body []byte, err error) {
	if len(frame) < headerSize {
		return 0, false, nil, fmt.Errorf("wire: frame too short (%d bytes)", len(frame))
	}

	wantSum := binary.BigEndian.Uint32(frame[:4])
	rest := frame[4:]
	gotSum := crc32.ChecksumIEEE(rest)
	if wantSum != gotSum {
		return 0, false, nil, fmt.Errorf("wire: CRC mismatch (want %08x, got %08x)", wantSum, gotSum)
	}

	typeByte := rest[0]
	chunked = typeByte&ChunkFlag != 0
	kind = Kind(typeByte &^ ChunkFlag)
	if kind < ConnectionRequest || kind > ClientInfo {
		return 0, false, nil, fmt.Errorf("wire: unknown packet kind %d", typeByte)
	}
	if chunked && !kind.IsReliableKind() {
		return 0, false, nil, fmt.Errorf("wire: chunk flag set on non-reliable kind %s", kind)
	}
	return kind, chunked, rest[1:], nil
}
