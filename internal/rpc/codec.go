package rpc

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/zonecore/zonecore/internal/grid"
)

// ValueMarker is the one-byte type tag for the isolated baseline codec
// (§4.2, §6 codec variant 0xFE). Every request's arguments are encoded by a
// fresh Encoder and decoded by a fresh Decoder: the codec keeps no object
// table, so there is nothing to intern across requests from independent
// runtimes (design note "reference-based object-graph serialization").
type ValueMarker byte

const (
	MarkerNull    ValueMarker = 0
	MarkerString  ValueMarker = 1
	MarkerGUID    ValueMarker = 2
	MarkerI32     ValueMarker = 3
	MarkerBool    ValueMarker = 4
	MarkerF64     ValueMarker = 5
	MarkerTime    ValueMarker = 6
	MarkerDecimal ValueMarker = 7
	MarkerVec2    ValueMarker = 8
	MarkerOptVec2 ValueMarker = 9
)

// CodecVariant is the one-byte prefix on every Request/Response payload (§6).
type CodecVariant byte

const (
	VariantOrleansCompatible CodecVariant = 0x00
	VariantIsolatedBaseline  CodecVariant = 0xFE
)

// Decimal mirrors the four-int32 .NET decimal layout named in §6. This
// implementation only round-trips the four words; arithmetic on decimals is
// out of scope (the in-zone gameplay rules that would consume it are
// themselves out of scope per spec §1).
type Decimal struct {
	Low, Mid, High, Flags int32
}

// Encoder serializes a fresh, unshared argument list. A new Encoder must be
// created per request — reusing one across requests would reintroduce the
// cross-runtime identity sharing the isolated codec exists to avoid.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{buf: make([]byte, 0, 64)} }

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) putMarker(m ValueMarker) { e.buf = append(e.buf, byte(m)) }

func (e *Encoder) Null() *Encoder {
	e.putMarker(MarkerNull)
	return e
}

func (e *Encoder) String(s string) *Encoder {
	e.putMarker(MarkerString)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	e.buf = append(e.buf, lenBuf[:]...)
	e.buf = append(e.buf, s...)
	return e
}

func (e *Encoder) GUID(id uuid.UUID) *Encoder {
	e.putMarker(MarkerGUID)
	e.buf = append(e.buf, id[:]...)
	return e
}

func (e *Encoder) I32(v int32) *Encoder {
	e.putMarker(MarkerI32)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.buf = append(e.buf, b[:]...)
	return e
}

func (e *Encoder) Bool(v bool) *Encoder {
	e.putMarker(MarkerBool)
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
	return e
}

func (e *Encoder) F64(v float64) *Encoder {
	e.putMarker(MarkerF64)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	e.buf = append(e.buf, b[:]...)
	return e
}

func (e *Encoder) Time(t time.Time) *Encoder {
	e.putMarker(MarkerTime)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(t.UTC().UnixNano()/100)) // .NET-style 100ns ticks since epoch approximation
	e.buf = append(e.buf, b[:]...)
	return e
}

func (e *Encoder) DecimalVal(d Decimal) *Encoder {
	e.putMarker(MarkerDecimal)
	var b [16]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(d.Low))
	binary.LittleEndian.PutUint32(b[4:8], uint32(d.Mid))
	binary.LittleEndian.PutUint32(b[8:12], uint32(d.High))
	binary.LittleEndian.PutUint32(b[12:16], uint32(d.Flags))
	e.buf = append(e.buf, b[:]...)
	return e
}

func (e *Encoder) Vec2(v grid.Vec2) *Encoder {
	e.putMarker(MarkerVec2)
	e.buf = append(e.buf, encodeVec2(v)...)
	return e
}

func (e *Encoder) OptVec2(v *grid.Vec2) *Encoder {
	e.putMarker(MarkerOptVec2)
	if v == nil {
		e.buf = append(e.buf, 0)
		return e
	}
	e.buf = append(e.buf, 1)
	e.buf = append(e.buf, encodeVec2(*v)...)
	return e
}

func encodeVec2(v grid.Vec2) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(v.X))
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(v.Y))
	return b[:]
}

// Decoder reads a fresh argument list produced by a matching Encoder. Like
// Encoder, a Decoder must not be reused across requests.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(data []byte) *Decoder { return &Decoder{buf: data} }

func (d *Decoder) remaining() int { return len(d.buf) - d.pos }

func (d *Decoder) peekMarker() (ValueMarker, error) {
	if d.remaining() < 1 {
		return 0, fmt.Errorf("%w: expected a type marker", ErrArgumentDecode)
	}
	return ValueMarker(d.buf[d.pos]), nil
}

func (d *Decoder) expect(want ValueMarker) error {
	got, err := d.peekMarker()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: expected marker %d, got %d", ErrArgumentDecode, want, got)
	}
	d.pos++
	return nil
}

func (d *Decoder) take(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrArgumentDecode, n, d.remaining())
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) IsNull() (bool, error) {
	m, err := d.peekMarker()
	if err != nil {
		return false, err
	}
	if m == MarkerNull {
		d.pos++
		return true, nil
	}
	return false, nil
}

func (d *Decoder) String() (string, error) {
	if err := d.expect(MarkerString); err != nil {
		return "", err
	}
	lb, err := d.take(4)
	if err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lb)
	const maxStringLen = 1 << 20
	if n > maxStringLen {
		return "", fmt.Errorf("%w: string length %d exceeds limit", ErrArgumentDecode, n)
	}
	sb, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(sb), nil
}

func (d *Decoder) GUID() (uuid.UUID, error) {
	if err := d.expect(MarkerGUID); err != nil {
		return uuid.UUID{}, err
	}
	b, err := d.take(16)
	if err != nil {
		return uuid.UUID{}, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

func (d *Decoder) I32() (int32, error) {
	if err := d.expect(MarkerI32); err != nil {
		return 0, err
	}
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (d *Decoder) Bool() (bool, error) {
	if err := d.expect(MarkerBool); err != nil {
		return false, err
	}
	b, err := d.take(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (d *Decoder) F64() (float64, error) {
	if err := d.expect(MarkerF64); err != nil {
		return 0, err
	}
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (d *Decoder) Time() (time.Time, error) {
	if err := d.expect(MarkerTime); err != nil {
		return time.Time{}, err
	}
	b, err := d.take(8)
	if err != nil {
		return time.Time{}, err
	}
	ticks := binary.LittleEndian.Uint64(b)
	return time.Unix(0, int64(ticks)*100).UTC(), nil
}

func (d *Decoder) DecimalVal() (Decimal, error) {
	if err := d.expect(MarkerDecimal); err != nil {
		return Decimal{}, err
	}
	b, err := d.take(16)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{
		Low:   int32(binary.LittleEndian.Uint32(b[0:4])),
		Mid:   int32(binary.LittleEndian.Uint32(b[4:8])),
		High:  int32(binary.LittleEndian.Uint32(b[8:12])),
		Flags: int32(binary.LittleEndian.Uint32(b[12:16])),
	}, nil
}

func (d *Decoder) Vec2() (grid.Vec2, error) {
	if err := d.expect(MarkerVec2); err != nil {
		return grid.Vec2{}, err
	}
	return d.decodeVec2Bytes()
}

func (d *Decoder) decodeVec2Bytes() (grid.Vec2, error) {
	b, err := d.take(8)
	if err != nil {
		return grid.Vec2{}, err
	}
	return grid.Vec2{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
	}, nil
}

func (d *Decoder) OptVec2() (*grid.Vec2, error) {
	if err := d.expect(MarkerOptVec2); err != nil {
		return nil, err
	}
	hasVal, err := d.take(1)
	if err != nil {
		return nil, err
	}
	if hasVal[0] == 0 {
		return nil, nil
	}
	v, err := d.decodeVec2Bytes()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Done reports whether the decoder has consumed every byte — callers use
// this to catch trailing garbage from a schema mismatch.
func (d *Decoder) Done() bool { return d.remaining() == 0 }
