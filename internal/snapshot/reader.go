// Package snapshot implements the clustered image deserializer of spec
// §4.2, §6.1: a forward-only, two-pass (node bodies, then edge bodies)
// reader over a byte stream, grounded on
// original_source/vm/snapshot.cc's Deserializer/Cluster hierarchy and,
// for the streaming-reader shape itself, on the teacher's own
// incremental-allocation style (SPEC_FULL.md's domain-stack note: a
// plain bufio.Reader suffices since the format never seeks backward).
package snapshot

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

const (
	magic   = 0x1984
	version = 0
)

// Reader wraps a byte stream with the LEB128/SLEB128 and fixed-width
// primitives the snapshot format uses (spec §6.1).
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader { return &Reader{r: bufio.NewReader(r)} }

// skipShebang consumes an optional "#!" line, mirroring
// Deserializer::Deserialize's shebang-skip loop exactly.
func (r *Reader) skipShebang() error {
	b, err := r.r.Peek(2)
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	if b[0] != '#' || b[1] != '!' {
		return nil
	}
	if _, err := r.r.Discard(2); err != nil {
		return err
	}
	for {
		c, err := r.r.ReadByte()
		if err != nil {
			return err
		}
		if c == '\n' {
			return nil
		}
	}
}

func (r *Reader) byte() (byte, error) { return r.r.ReadByte() }

// ReadULEB128 reads an unsigned LEB128 value (spec §6.1's uleb128
// fields).
func (r *Reader) ReadULEB128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, errors.Wrap(err, "snapshot: read uleb128")
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// ReadSLEB128 reads a signed LEB128 value (spec §6.1's sleb128
// cluster-format field), sign-extending once the terminating byte is
// consumed.
func (r *Reader) ReadSLEB128() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.byte()
		if err != nil {
			return 0, errors.Wrap(err, "snapshot: read sleb128")
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// ReadU16 reads a little-endian 16-bit value (the magic/version
// header).
func (r *Reader) ReadU16() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, errors.Wrap(err, "snapshot: read u16")
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// ReadByteExact reads a single raw byte (large-integer sign byte).
func (r *Reader) ReadByteExact() (byte, error) {
	b, err := r.byte()
	return b, errors.Wrap(err, "snapshot: read byte")
}

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, errors.Wrap(err, "snapshot: read bytes")
	}
	return buf, nil
}

// ReadFloat64 reads a native-byte-order IEEE-754 double (spec §6.1:
// "not portable across endianness").
func (r *Reader) ReadFloat64() (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, errors.Wrap(err, "snapshot: read float64")
	}
	return math.Float64frombits(binary.NativeEndian.Uint64(buf[:])), nil
}

// readHeader consumes the shebang line (if any) and the magic/version
// pair, failing fatally-from-the-caller's-perspective (spec B3) on a
// mismatch.
func (r *Reader) readHeader() error {
	if err := r.skipShebang(); err != nil {
		return errors.Wrap(err, "snapshot: shebang")
	}
	m, err := r.ReadU16()
	if err != nil {
		return err
	}
	if m != magic {
		return errors.Errorf("snapshot: wrong magic 0x%x", m)
	}
	// Version is itself LEB128-encoded, unlike the raw two-byte magic
	// (original_source/vm/snapshot.cc: ReadLEB128<uint16_t>, not Read<uint16_t>).
	v, err := r.ReadULEB128()
	if err != nil {
		return err
	}
	if v != version {
		return errors.Errorf("snapshot: wrong version %d", v)
	}
	return nil
}
