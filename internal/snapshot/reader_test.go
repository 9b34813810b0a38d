package snapshot

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadULEB128SingleByte(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x00}))
	v, err := r.ReadULEB128()
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)
}

func TestReadULEB128MultiByte(t *testing.T) {
	// 624485 encodes as 0xE5 0x8E 0x26 (the canonical LEB128 example).
	r := NewReader(bytes.NewReader([]byte{0xE5, 0x8E, 0x26}))
	v, err := r.ReadULEB128()
	require.NoError(t, err)
	require.Equal(t, uint64(624485), v)
}

func TestReadSLEB128Negative(t *testing.T) {
	// -624485 encodes as 0x9B 0xF1 0x59 (the canonical SLEB128 example).
	r := NewReader(bytes.NewReader([]byte{0x9B, 0xF1, 0x59}))
	v, err := r.ReadSLEB128()
	require.NoError(t, err)
	require.Equal(t, int64(-624485), v)
}

func TestReadSLEB128SmallPositiveAndNegative(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x02}))
	v, err := r.ReadSLEB128()
	require.NoError(t, err)
	require.Equal(t, int64(2), v)

	r = NewReader(bytes.NewReader([]byte{0x7e}))
	v, err = r.ReadSLEB128()
	require.NoError(t, err)
	require.Equal(t, int64(-2), v)
}

func TestReadU16LittleEndian(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x84, 0x19}))
	v, err := r.ReadU16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x1984), v)
}

func TestReadFloat64RoundTrips(t *testing.T) {
	var buf [8]byte
	bits := math.Float64bits(3.25)
	for i := 0; i < 8; i++ {
		buf[i] = byte(bits >> (8 * i))
	}
	r := NewReader(bytes.NewReader(buf[:]))
	v, err := r.ReadFloat64()
	require.NoError(t, err)
	require.Equal(t, 3.25, v)
}

func TestSkipShebangConsumesLine(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("#!run me\n\x84\x19\x00")))
	require.NoError(t, r.skipShebang())
	m, err := r.ReadU16()
	require.NoError(t, err)
	require.Equal(t, uint16(magic), m)
}

func TestSkipShebangNoopWithoutShebang(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x84, 0x19}))
	require.NoError(t, r.skipShebang())
	m, err := r.ReadU16()
	require.NoError(t, err)
	require.Equal(t, uint16(magic), m)
}

func TestReadHeaderRejectsWrongMagic(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x00, 0x00, 0x00}))
	err := r.readHeader()
	require.Error(t, err)
}

func TestReadHeaderAcceptsValidHeader(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x84, 0x19, 0x00}))
	require.NoError(t, r.readHeader())
}
