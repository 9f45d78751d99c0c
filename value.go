package hana

import "fmt"

// Kind tags the variant a Value currently holds.
type Kind uint8

const (
	KNil Kind = iota
	KBool
	KInt
	KFloat
	KNativeFn
	KFn
	KStr
	KRecord
	KArray
	KIterator
	KInterpreterError
	KPropagateError
)

func (k Kind) String() string {
	switch k {
	case KNil:
		return "nil"
	case KBool:
		return "bool"
	case KInt:
		return "int"
	case KFloat:
		return "float"
	case KNativeFn:
		return "nativefn"
	case KFn:
		return "fn"
	case KStr:
		return "str"
	case KRecord:
		return "record"
	case KArray:
		return "array"
	case KIterator:
		return "iterator"
	default:
		return "error"
	}
}

// Value is hana's tagged union runtime value. Heap-backed kinds
// (Str, Record, Array, Fn) carry a *gcNode; everything else is
// stored inline so the common path (ints, floats, booleans) never
// touches the heap.
type Value struct {
	kind   Kind
	num    int64
	flt    float64
	obj    *gcNode
	native NativeFn
}

var Nil = Value{kind: KNil}
var True = Value{kind: KBool, num: 1}
var False = Value{kind: KBool, num: 0}
var IteratorSentinel = Value{kind: KIterator}
var InterpreterErrorValue = Value{kind: KInterpreterError}
var PropagateErrorValue = Value{kind: KPropagateError}

func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

func IntValue(n int64) Value   { return Value{kind: KInt, num: n} }
func FloatValue(f float64) Value { return Value{kind: KFloat, flt: f} }

func NativeFnValue(fn NativeFn) Value {
	return Value{kind: KNativeFn, native: fn}
}

func strValue(n *gcNode) Value    { return Value{kind: KStr, obj: n} }
func recordValue(n *gcNode) Value { return Value{kind: KRecord, obj: n} }
func arrayValue(n *gcNode) Value  { return Value{kind: KArray, obj: n} }
func fnValue(n *gcNode) Value     { return Value{kind: KFn, obj: n} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool  { return v.kind == KNil }
func (v Value) IsBool() bool { return v.kind == KBool }
func (v Value) IsInt() bool  { return v.kind == KInt }

func (v Value) AsInt() int64     { return v.num }
func (v Value) AsFloat() float64 { return v.flt }
func (v Value) AsBool() bool     { return v.num != 0 }
func (v Value) AsNative() NativeFn { return v.native }

func (v Value) AsStr() *HanaString { return v.obj.body.(*HanaString) }
func (v Value) AsRecord() *Record  { return v.obj.body.(*Record) }
func (v Value) AsArray() *Array    { return v.obj.body.(*Array) }
func (v Value) AsFn() *Function    { return v.obj.body.(*Function) }

func (v Value) node() *gcNode { return v.obj }

// numericFloat returns the numeric value of an Int or Float Value as a
// float64, used by mixed arithmetic (§4.1: float-int mixed arithmetic
// produces Float).
func (v Value) numericFloat() float64 {
	if v.kind == KInt {
		return float64(v.num)
	}
	return v.flt
}

// Truthy implements §3.1's truthiness rule: nil, 0, 0.0 and "" are
// false; everything else (including empty records/arrays) is true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KNil:
		return false
	case KBool, KInt:
		return v.num != 0
	case KFloat:
		return v.flt != 0
	case KStr:
		return len(v.AsStr().Bytes()) != 0
	default:
		return true
	}
}

// Equals implements content equality for Str, pointer identity for
// other heap handles, and numeric equality across Int/Float.
func (v Value) Equals(other Value) bool {
	if v.kind == KStr && other.kind == KStr {
		return v.AsStr().String() == other.AsStr().String()
	}
	if isNumeric(v.kind) && isNumeric(other.kind) {
		return v.numericFloat() == other.numericFloat()
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KNil:
		return true
	case KBool:
		return v.num == other.num
	case KNativeFn:
		return fmt.Sprintf("%p", v.native) == fmt.Sprintf("%p", other.native)
	case KRecord, KArray, KFn, KStr:
		return v.obj == other.obj
	default:
		return false
	}
}

func isNumeric(k Kind) bool { return k == KInt || k == KFloat }

func (v Value) String() string {
	switch v.kind {
	case KNil:
		return "nil"
	case KBool:
		return fmt.Sprintf("%t", v.num != 0)
	case KInt:
		return fmt.Sprintf("%d", v.num)
	case KFloat:
		return fmt.Sprintf("%g", v.flt)
	case KStr:
		return v.AsStr().String()
	case KNativeFn:
		return "<native fn>"
	case KFn:
		return "<fn>"
	case KRecord:
		return v.AsRecord().String()
	case KArray:
		return v.AsArray().String()
	default:
		return "<" + v.kind.String() + ">"
	}
}
