package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindSingle byte = 1

	// FlagSpeculative marks an optimistic value written ahead of server confirmation.
	FlagSpeculative byte = 1 << 0

	headerLen = 4 + 1 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("querycache: corrupt entry")
	magic4     = [...]byte{'Q', 'C', 'E', 'N'}
)

// Entry is a decoded single cache entry. Payload aliases the input buffer.
type Entry struct {
	Gen     uint64
	Flags   byte
	Payload []byte
}

func (e Entry) Speculative() bool { return e.Flags&FlagSpeculative != 0 }

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Single: magic(4) | ver(1) | kind(1=single) | flags(1) | gen(u64 be) | vlen(u32 be) | payload(vlen)
func EncodeSingle(gen uint64, flags byte, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindSingle)
	buf.WriteByte(flags)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func DecodeSingle(b []byte) (Entry, error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != version || b[5] != kindSingle {
		return Entry{}, ErrCorrupt
	}

	flags := b[6]
	off := 7

	gen := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// strict framing: payload must end exactly at the buffer end
	if vlen < 0 || vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}

	return Entry{Gen: gen, Flags: flags, Payload: b[off : off+vlen]}, nil
}
