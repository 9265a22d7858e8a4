package wire

import (
	"errors"
	"fmt"
	"math"
)

// ValueType is the data type discriminant of a layer value record.
type ValueType uint8

const (
	TypeReserved ValueType = iota
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeReal16
	TypeReal32
	TypeReal64
)

// MaxValueCount is the largest component count a single value may carry.
const MaxValueCount = 4

var (
	ErrValueType  = errors.New("unknown value type")
	ErrValueCount = errors.New("value component count out of range")
	ErrValueRange = errors.New("value component does not fit its type")
)

func (t ValueType) Valid() bool {
	return t >= TypeUint8 && t <= TypeReal64
}

func (t ValueType) IsReal() bool {
	return t >= TypeReal16 && t <= TypeReal64
}

// Size is the encoded width of one component in bytes.
func (t ValueType) Size() int {
	switch t {
	case TypeUint8:
		return 1
	case TypeUint16, TypeReal16:
		return 2
	case TypeUint32, TypeReal32:
		return 4
	case TypeUint64, TypeReal64:
		return 8
	default:
		return 0
	}
}

func (t ValueType) String() string {
	switch t {
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeReal16:
		return "real16"
	case TypeReal32:
		return "real32"
	case TypeReal64:
		return "real64"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(t))
	}
}

// Value is one tagged layer item. Integer types use Uints, real types use Reals.
type Value struct {
	Type  ValueType
	Uints []uint64
	Reals []float64
}

func UintValue(t ValueType, v ...uint64) Value {
	return Value{Type: t, Uints: v}
}

func RealValue(t ValueType, v ...float64) Value {
	return Value{Type: t, Reals: v}
}

func (v Value) Count() int {
	if v.Type.IsReal() {
		return len(v.Reals)
	}
	return len(v.Uints)
}

func (v Value) Validate() error {
	if !v.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrValueType, uint8(v.Type))
	}
	n := v.Count()
	if n < 1 || n > MaxValueCount {
		return fmt.Errorf("%w: %d", ErrValueCount, n)
	}
	if v.Type.IsReal() {
		if len(v.Uints) != 0 {
			return fmt.Errorf("%w: integer components on %s value", ErrValueRange, v.Type)
		}
		return nil
	}
	if len(v.Reals) != 0 {
		return fmt.Errorf("%w: real components on %s value", ErrValueRange, v.Type)
	}
	limit := uint64(math.MaxUint64)
	if v.Type != TypeUint64 {
		limit = 1<<(8*v.Type.Size()) - 1
	}
	for i, c := range v.Uints {
		if c > limit {
			return fmt.Errorf("%w: component %d = %d exceeds %s", ErrValueRange, i, c, v.Type)
		}
	}
	return nil
}

func (v Value) encode(e *encoder) error {
	if err := v.Validate(); err != nil {
		return err
	}
	e.u8(uint8(v.Type))
	e.u8(uint8(v.Count()))
	if v.Type.IsReal() {
		for _, c := range v.Reals {
			switch v.Type {
			case TypeReal16:
				e.u16(halfFromFloat(c))
			case TypeReal32:
				e.u32(math.Float32bits(float32(c)))
			case TypeReal64:
				e.u64(math.Float64bits(c))
			}
		}
		return nil
	}
	for _, c := range v.Uints {
		switch v.Type {
		case TypeUint8:
			e.u8(uint8(c))
		case TypeUint16:
			e.u16(uint16(c))
		case TypeUint32:
			e.u32(uint32(c))
		case TypeUint64:
			e.u64(c)
		}
	}
	return nil
}

func (v *Value) decode(d *decoder) {
	v.Type = ValueType(d.u8())
	n := int(d.u8())
	if d.err != nil {
		return
	}
	if !v.Type.Valid() {
		d.fail(fmt.Errorf("%w: %d", ErrValueType, uint8(v.Type)))
		return
	}
	if n < 1 || n > MaxValueCount {
		d.fail(fmt.Errorf("%w: %d", ErrValueCount, n))
		return
	}
	v.Uints, v.Reals = nil, nil
	for i := 0; i < n; i++ {
		switch v.Type {
		case TypeUint8:
			v.Uints = append(v.Uints, uint64(d.u8()))
		case TypeUint16:
			v.Uints = append(v.Uints, uint64(d.u16()))
		case TypeUint32:
			v.Uints = append(v.Uints, uint64(d.u32()))
		case TypeUint64:
			v.Uints = append(v.Uints, d.u64())
		case TypeReal16:
			v.Reals = append(v.Reals, floatFromHalf(d.u16()))
		case TypeReal32:
			v.Reals = append(v.Reals, float64(math.Float32frombits(d.u32())))
		case TypeReal64:
			v.Reals = append(v.Reals, math.Float64frombits(d.u64()))
		}
	}
}
