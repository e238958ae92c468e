package rcu9

import "fmt"

// Kind discriminates the DecodedValue tagged union.
type Kind int

const (
	KindInteger Kind = iota
	KindReal
	KindEnumerated
	KindBoolean
)

// DecodedValue is a tagged union: Integer(i64), Real(f64, unit),
// Enumerated(u32, optional label) or Boolean(bool). Only the fields relevant
// to Kind are meaningful.
type DecodedValue struct {
	Kind Kind

	Integer int64

	Real float64
	Unit string

	Enum     uint32
	Label    string
	HasLabel bool

	Bool bool
}

// IntegerValue constructs a Kind: Integer DecodedValue.
func IntegerValue(i int64) DecodedValue {
	return DecodedValue{Kind: KindInteger, Integer: i}
}

// RealValue constructs a Kind: Real DecodedValue, tagged with unit.
func RealValue(f float64, unit string) DecodedValue {
	return DecodedValue{Kind: KindReal, Real: f, Unit: unit}
}

// EnumeratedValue constructs a Kind: Enumerated DecodedValue with a label.
func EnumeratedValue(v uint32, label string) DecodedValue {
	return DecodedValue{Kind: KindEnumerated, Enum: v, Label: label, HasLabel: true}
}

// EnumeratedValueNoLabel constructs a Kind: Enumerated DecodedValue lacking a
// label. Bitfield decoding does not use it: a projected integer with no
// value_map entry decodes as an Integer.
func EnumeratedValueNoLabel(v uint32) DecodedValue {
	return DecodedValue{Kind: KindEnumerated, Enum: v}
}

// BooleanValue constructs a Kind: Boolean DecodedValue.
func BooleanValue(b bool) DecodedValue {
	return DecodedValue{Kind: KindBoolean, Bool: b}
}

func (v DecodedValue) String() string {
	switch v.Kind {
	case KindInteger:
		return fmt.Sprintf("%d", v.Integer)
	case KindReal:
		return fmt.Sprintf("%.1f %s", v.Real, v.Unit)
	case KindEnumerated:
		if v.HasLabel {
			return v.Label
		}
		return fmt.Sprintf("%d", v.Enum)
	case KindBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return "?"
	}
}
