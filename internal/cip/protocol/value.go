package protocol

import (
	"math"
	"strconv"

	"github.com/georgelake2/plcaudit/internal/cip/codec"
)

// Value is a decoded CIP scalar. The concrete type identifies the variant,
// so a caller can only reach the payload through a type switch or
// assertion on one of Bool, Sint, Int, Dint, Lint or Real. Unsupported
// type ids never produce a Value.
type Value interface {
	Type() DataType
	// AppendTo appends the little-endian wire encoding of the value.
	AppendTo(dst []byte) []byte
	String() string
	sealed()
}

type (
	Bool bool
	Sint int8
	Int  int16
	Dint int32
	Lint int64
	Real float32
)

func (Bool) Type() DataType { return TypeBOOL }
func (Sint) Type() DataType { return TypeSINT }
func (Int) Type() DataType  { return TypeINT }
func (Dint) Type() DataType { return TypeDINT }
func (Lint) Type() DataType { return TypeLINT }
func (Real) Type() DataType { return TypeREAL }

func (v Bool) AppendTo(dst []byte) []byte {
	if v {
		return append(dst, 0x01)
	}
	return append(dst, 0x00)
}
func (v Sint) AppendTo(dst []byte) []byte { return append(dst, byte(v)) }
func (v Int) AppendTo(dst []byte) []byte  { return codec.AppendUint16(dst, uint16(v)) }
func (v Dint) AppendTo(dst []byte) []byte { return codec.AppendUint32(dst, uint32(v)) }
func (v Lint) AppendTo(dst []byte) []byte { return codec.AppendUint64(dst, uint64(v)) }
func (v Real) AppendTo(dst []byte) []byte {
	return codec.AppendUint32(dst, math.Float32bits(float32(v)))
}

func (v Bool) String() string { return strconv.FormatBool(bool(v)) }
func (v Sint) String() string { return strconv.FormatInt(int64(v), 10) }
func (v Int) String() string  { return strconv.FormatInt(int64(v), 10) }
func (v Dint) String() string { return strconv.FormatInt(int64(v), 10) }
func (v Lint) String() string { return strconv.FormatInt(int64(v), 10) }
func (v Real) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }

func (Bool) sealed() {}
func (Sint) sealed() {}
func (Int) sealed()  {}
func (Dint) sealed() {}
func (Lint) sealed() {}
func (Real) sealed() {}

// decodeValue reads one element of type t from r.
func decodeValue(t DataType, r *codec.Reader) (Value, error) {
	switch t {
	case TypeBOOL:
		b, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		return Bool(b&0x01 != 0), nil
	case TypeSINT:
		b, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		return Sint(int8(b)), nil
	case TypeINT:
		u, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		return Int(int16(u)), nil
	case TypeDINT:
		u, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		return Dint(int32(u)), nil
	case TypeLINT:
		u, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		return Lint(int64(u)), nil
	case TypeREAL:
		u, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		return Real(math.Float32frombits(u)), nil
	default:
		return nil, &UnsupportedTypeError{TypeID: uint16(t)}
	}
}

// ZeroValue returns the zero value of a supported type.
func ZeroValue(t DataType) (Value, error) {
	switch t {
	case TypeBOOL:
		return Bool(false), nil
	case TypeSINT:
		return Sint(0), nil
	case TypeINT:
		return Int(0), nil
	case TypeDINT:
		return Dint(0), nil
	case TypeLINT:
		return Lint(0), nil
	case TypeREAL:
		return Real(0), nil
	default:
		return nil, &UnsupportedTypeError{TypeID: uint16(t)}
	}
}

// DecodeValue decodes exactly one element of type t from data.
func DecodeValue(t DataType, data []byte) (Value, error) {
	return decodeValue(t, codec.NewReader(data))
}
