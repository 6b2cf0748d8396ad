package monitor

import (
	"encoding/json"
	"math"
)

// Real is a REAL tag value in JSON output. NaN and infinities, which a
// controller can legitimately hold, encode as null.
type Real float32

func (r Real) MarshalJSON() ([]byte, error) {
	f := float64(r)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(float32(r))
}

// Float is a float64 in JSON output that encodes NaN and infinities as null.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (v Values) MarshalJSON() ([]byte, error) {
	type plain Values
	return json.Marshal(struct {
		plain
		Kp Real `json:"Kp"`
		Ki Real `json:"Ki"`
		Kd Real `json:"Kd"`
	}{plain(v), Real(v.Kp), Real(v.Ki), Real(v.Kd)})
}

func (b Baseline) MarshalJSON() ([]byte, error) {
	type plain Baseline
	return json.Marshal(struct {
		plain
		Kp Real `json:"Kp"`
		Ki Real `json:"Ki"`
		Kd Real `json:"Kd"`
	}{plain(b), Real(b.Kp), Real(b.Ki), Real(b.Kd)})
}

func (c Comparison) MarshalJSON() ([]byte, error) {
	type plain Comparison
	return json.Marshal(struct {
		plain
		DeltaKp Float `json:"delta_Kp"`
		DeltaKi Float `json:"delta_Ki"`
		DeltaKd Float `json:"delta_Kd"`
	}{plain(c), Float(c.DeltaKp), Float(c.DeltaKi), Float(c.DeltaKd)})
}
