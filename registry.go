package rcu9

import (
	"fmt"
	"math/bits"
	"sort"
)

// BitfieldDef is a named sub-region of a register's raw integer, projected
// via mask and shift.
type BitfieldDef struct {
	Name      string
	Mask      uint16
	SortOrder int
	ValueMap  map[uint32]string // optional; nil means no labels
}

// Definition is the immutable record of one parameter: a one-byte index
// mapped to its name, width, scaling, unit, writability and optional
// bitfield decomposition.
type Definition struct {
	Index     byte
	Name      string
	Size      int // 1 or 2
	Factor    float64
	Unit      string
	Writable  bool
	Menu      string
	Min, Max  *int64
	Step      *int64
	Bitfields []BitfieldDef
}

func (d *Definition) validate() error {
	if d.Size != 1 && d.Size != 2 {
		return fmt.Errorf("rcu9: parameter 0x%02X: size must be 1 or 2, got %d", d.Index, d.Size)
	}
	width := uint(d.Size * 8)
	seen := map[int]bool{}
	for _, bf := range d.Bitfields {
		if bf.Mask == 0 {
			return fmt.Errorf("rcu9: parameter 0x%02X: bitfield %q has zero mask", d.Index, bf.Name)
		}
		if bits.Len16(bf.Mask) > int(width) {
			return fmt.Errorf("rcu9: parameter 0x%02X: bitfield %q mask 0x%X does not fit in %d bits", d.Index, bf.Name, bf.Mask, width)
		}
		if seen[bf.SortOrder] {
			return fmt.Errorf("rcu9: parameter 0x%02X: duplicate bitfield sort_order %d", d.Index, bf.SortOrder)
		}
		seen[bf.SortOrder] = true
	}
	if d.Writable && d.Min == nil && d.Max == nil {
		lo, hi := signedRange(d.Size)
		d.Min, d.Max = &lo, &hi
	}
	return nil
}

func signedRange(size int) (lo, hi int64) {
	if size == 1 {
		return -128, 127
	}
	return -32768, 32767
}

// FieldValue is one decoded bitfield projection, carrying the declared
// display sort order so callers can render fields in the registry's order
// independent of mask value or declaration order.
type FieldValue struct {
	Name      string
	SortOrder int
	Value     DecodedValue
}

// decodeBitfields projects raw through every declared bitfield: a pure
// function of (raw, definition). Each subfield's integer is
// (raw & mask) >> trailing_zeros(mask); it is looked up in ValueMap for a
// label, or left as a plain Integer.
func (d *Definition) decodeBitfields(raw uint16) []FieldValue {
	out := make([]FieldValue, 0, len(d.Bitfields))
	for _, bf := range d.Bitfields {
		shift := bits.TrailingZeros16(bf.Mask)
		v := uint32((raw & bf.Mask) >> uint(shift))
		var dv DecodedValue
		if label, ok := bf.ValueMap[v]; ok {
			dv = EnumeratedValue(v, label)
		} else {
			dv = IntegerValue(int64(v))
		}
		out = append(out, FieldValue{Name: bf.Name, SortOrder: bf.SortOrder, Value: dv})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// decodeScalar handles the non-bitfield case: signed two's-complement
// interpretation at the declared width, divided by factor, tagged with the
// declared unit. factor > 1 yields Real, else Integer.
func (d *Definition) decodeScalar(raw uint16) DecodedValue {
	var signed int64
	if d.Size == 2 {
		signed = int64(int16(raw))
	} else {
		signed = int64(int8(raw))
	}
	factor := d.Factor
	if factor <= 0 {
		factor = 1
	}
	if factor > 1 {
		return RealValue(float64(signed)/factor, d.Unit)
	}
	return IntegerValue(signed)
}

// Registry is the process-wide immutable parameter catalog. It is built
// once (by NewRegistry, or via LoadRegistryConfig) and handed to components
// by reference; there is no hidden singleton.
type Registry struct {
	defs map[byte]*Definition
	// UnknownWidth is the configurable fallback width (1 or 2) used by
	// ParseParameters when a payload carries an index absent from defs. The
	// "true" width of an undeclared parameter can't be known in general, so
	// this field exists rather than hard-coding a guess.
	UnknownWidth int
}

// NewRegistry builds a Registry from a declarative table of definitions,
// validating each one. unknownWidth is the fallback width (1 or 2) for
// indices absent from defs; 0 defaults to 2, the more commonly observed
// convention for undeclared parameters.
func NewRegistry(defs []Definition, unknownWidth int) (*Registry, error) {
	if unknownWidth == 0 {
		unknownWidth = 2
	}
	if unknownWidth != 1 && unknownWidth != 2 {
		return nil, fmt.Errorf("%w: unknown-parameter fallback width must be 1 or 2, got %d", ErrInvalidConfig, unknownWidth)
	}
	r := &Registry{defs: make(map[byte]*Definition, len(defs)), UnknownWidth: unknownWidth}
	for i := range defs {
		d := defs[i]
		if err := d.validate(); err != nil {
			return nil, err
		}
		r.defs[d.Index] = &d
	}
	return r, nil
}

// Definition returns the catalog entry for idx, if any.
func (r *Registry) Definition(idx byte) (*Definition, bool) {
	d, ok := r.defs[idx]
	return d, ok
}

// Size returns the declared width of idx in bytes (1 or 2), or false if idx
// is not in the catalog.
func (r *Registry) Size(idx byte) (int, bool) {
	d, ok := r.defs[idx]
	if !ok {
		return 0, false
	}
	return d.Size, true
}

// Writable reports whether idx is both known and writable.
func (r *Registry) Writable(idx byte) bool {
	d, ok := r.defs[idx]
	return ok && d.Writable
}

// Bitfields returns the bitfield decomposition declared for idx, if any.
func (r *Registry) Bitfields(idx byte) []BitfieldDef {
	d, ok := r.defs[idx]
	if !ok {
		return nil
	}
	return d.Bitfields
}

// Indices returns every parameter index declared in the catalog, in
// ascending order, for callers that want to wait on the full register set
// (e.g. rcuctl's one-shot read mode).
func (r *Registry) Indices() []byte {
	out := make([]byte, 0, len(r.defs))
	for idx := range r.defs {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// sizeOf resolves the width to use when parsing idx out of a payload,
// falling back to UnknownWidth for indices absent from the catalog.
func (r *Registry) sizeOf(idx byte) (size int, unknown bool) {
	if d, ok := r.defs[idx]; ok {
		return d.Size, false
	}
	return r.UnknownWidth, true
}

// Decode projects a ParamRecord's raw value into the zero or more decoded
// values it represents: a single scalar for a plain parameter, or one
// FieldValue per declared bitfield, sorted by sort_order. idx not present in
// the catalog decodes as a single raw Integer (see UnknownParameterWarning).
func (r *Registry) Decode(rec ParamRecord) (scalar *DecodedValue, fields []FieldValue) {
	d, ok := r.defs[rec.Index]
	if !ok {
		v := IntegerValue(int64(rec.Raw))
		return &v, nil
	}
	if len(d.Bitfields) > 0 {
		return nil, d.decodeBitfields(rec.Raw)
	}
	v := d.decodeScalar(rec.Raw)
	return &v, nil
}
