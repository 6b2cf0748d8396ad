// Package protocol encodes and decodes the CIP message-router bodies used
// for symbolic tag access: Read Tag (0x4C) and Write Tag (0x4D) requests,
// and their replies.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Service codes.
const (
	ServiceReadTag  uint8 = 0x4C
	ServiceWriteTag uint8 = 0x4D

	// ReplyFlag is set in the service byte of every reply.
	ReplyFlag uint8 = 0x80
)

// SegmentANSIExtendedSymbol introduces a length-prefixed symbolic path segment.
const SegmentANSIExtendedSymbol uint8 = 0x91

// MaxPathBytes is the largest encoded path whose word count fits the
// single-byte path size field.
const MaxPathBytes = 510

// DataType is a CIP elementary data type id.
type DataType uint16

const (
	TypeBOOL DataType = 0x00C1
	TypeSINT DataType = 0x00C2
	TypeINT  DataType = 0x00C3
	TypeDINT DataType = 0x00C4
	TypeLINT DataType = 0x00C5
	TypeREAL DataType = 0x00CA
)

// Size returns the encoded width in bytes, or 0 for unsupported types.
func (t DataType) Size() int {
	switch t {
	case TypeBOOL, TypeSINT:
		return 1
	case TypeINT:
		return 2
	case TypeDINT, TypeREAL:
		return 4
	case TypeLINT:
		return 8
	default:
		return 0
	}
}

// Supported reports whether values of this type can be decoded.
func (t DataType) Supported() bool {
	return t.Size() != 0
}

func (t DataType) String() string {
	switch t {
	case TypeBOOL:
		return "BOOL"
	case TypeSINT:
		return "SINT"
	case TypeINT:
		return "INT"
	case TypeDINT:
		return "DINT"
	case TypeLINT:
		return "LINT"
	case TypeREAL:
		return "REAL"
	default:
		return fmt.Sprintf("UNSUPPORTED(0x%04X)", uint16(t))
	}
}

// ParseDataType maps a type name such as "dint" or "REAL" to its id.
func ParseDataType(name string) (DataType, error) {
	for _, t := range []DataType{TypeBOOL, TypeSINT, TypeINT, TypeDINT, TypeLINT, TypeREAL} {
		if strings.EqualFold(t.String(), name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", name)
}

var (
	ErrEmptyTag        = errors.New("empty tag name")
	ErrSegmentTooLong  = errors.New("symbol segment longer than 255 bytes")
	ErrPathTooLong     = errors.New("encoded symbol path exceeds 510 bytes")
	ErrNotReply        = errors.New("reply flag not set")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrUnsupportedType = errors.New("unsupported data type")
)

// UnsupportedTypeError reports a reply carrying a type id this codec cannot decode.
type UnsupportedTypeError struct {
	TypeID uint16
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported data type 0x%04X", e.TypeID)
}

func (e *UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedType
}

// TypeMismatchError reports a well-formed reply whose type differs from
// the one the caller asked for.
type TypeMismatchError struct {
	Want DataType
	Got  DataType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: want %s, got %s", e.Want, e.Got)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}
