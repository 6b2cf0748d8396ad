package config

import (
	"fmt"
	"math"

	"github.com/spf13/cast"

	"github.com/georgelake2/plcaudit/internal/cip/protocol"
)

// CoerceValue converts a YAML scalar or command-line string to a tag value
// of type typ. A nil raw value yields the type's zero value.
func CoerceValue(typ protocol.DataType, raw interface{}) (protocol.Value, error) {
	if raw == nil {
		return protocol.ZeroValue(typ)
	}
	var (
		v   protocol.Value
		err error
	)
	switch typ {
	case protocol.TypeBOOL:
		var b bool
		b, err = cast.ToBoolE(raw)
		v = protocol.Bool(b)
	case protocol.TypeSINT:
		var n int64
		n, err = intInRange(raw, math.MinInt8, math.MaxInt8)
		v = protocol.Sint(n)
	case protocol.TypeINT:
		var n int64
		n, err = intInRange(raw, math.MinInt16, math.MaxInt16)
		v = protocol.Int(n)
	case protocol.TypeDINT:
		var n int64
		n, err = intInRange(raw, math.MinInt32, math.MaxInt32)
		v = protocol.Dint(n)
	case protocol.TypeLINT:
		var n int64
		n, err = cast.ToInt64E(raw)
		v = protocol.Lint(n)
	case protocol.TypeREAL:
		var f float64
		f, err = cast.ToFloat64E(raw)
		if err == nil && !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
			err = fmt.Errorf("out of range for REAL")
		}
		v = protocol.Real(f)
	default:
		return nil, &protocol.UnsupportedTypeError{TypeID: uint16(typ)}
	}
	if err != nil {
		return nil, fmt.Errorf("%v is not a valid %s: %w", raw, typ, err)
	}
	return v, nil
}

// EmulatorValues returns the initial elements of an emulator tag: one for
// a scalar, len(Values) for an array.
func (t EmulatorTag) EmulatorValues() (protocol.DataType, []protocol.Value, error) {
	typ, err := protocol.ParseDataType(t.Type)
	if err != nil {
		return 0, nil, err
	}
	raws := t.Values
	if len(raws) == 0 {
		raws = []interface{}{t.Value}
	}
	values := make([]protocol.Value, len(raws))
	for i, raw := range raws {
		if values[i], err = CoerceValue(typ, raw); err != nil {
			return 0, nil, fmt.Errorf("%s[%d]: %w", t.Name, i, err)
		}
	}
	return typ, values, nil
}

// intInRange coerces raw to an integer and rejects values outside
// [lo, hi] instead of letting them wrap.
func intInRange(raw interface{}, lo, hi int64) (int64, error) {
	n, err := cast.ToInt64E(raw)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("out of range [%d, %d]", lo, hi)
	}
	return n, nil
}
