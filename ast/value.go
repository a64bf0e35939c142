package ast

import (
	"bytes"
	"encoding/json"
)

// Value is a tagged JSON value: exactly one of null, bool, int, float,
// string, list or map is populated, selected by Kind.
type Value struct {
	Kind ValueKind
	Bool bool
	Int  int64
	Flt  float64
	Str  string
	List []Value
	Map  map[string]Value
}

type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

// ValueOf lifts a decoded interface{} (as produced by encoding/json with
// UseNumber) into a Value. It is the single conversion point between the
// outside JSON world and the engine's internal representation, used for
// worker payloads, worker output, shared_context entries and artifacts.
func ValueOf(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Value{Kind: KindNull}
	case bool:
		return Value{Kind: KindBool, Bool: t}
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Value{Kind: KindInt, Int: i}
		}
		f, _ := t.Float64()
		return Value{Kind: KindFloat, Flt: f}
	case int:
		return Value{Kind: KindInt, Int: int64(t)}
	case int64:
		return Value{Kind: KindInt, Int: t}
	case float64:
		if float64(int64(t)) == t {
			return Value{Kind: KindInt, Int: int64(t)}
		}
		return Value{Kind: KindFloat, Flt: t}
	case string:
		return Value{Kind: KindString, Str: t}
	case []interface{}:
		list := make([]Value, len(t))
		for i, e := range t {
			list[i] = ValueOf(e)
		}
		return Value{Kind: KindList, List: list}
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = ValueOf(e)
		}
		return Value{Kind: KindMap, Map: m}
	case map[string]Value:
		return Value{Kind: KindMap, Map: t}
	case []Value:
		return Value{Kind: KindList, List: t}
	case Value:
		return t
	default:
		return Value{Kind: KindNull}
	}
}

// Interface lowers a Value back to a plain interface{} suitable for
// json.Marshal or for feeding to the expression evaluator.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Flt
	case KindString:
		return v.Str
	case KindList:
		out := make([]interface{}, len(v.List))
		for i, e := range v.List {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.Map))
		for k, e := range v.Map {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// TypeName reports the JSON-schema-ish type name used by FieldSpec
// validation error messages and by canonical artifact typing: one of
// "null", "bool", "int", "float", "string", "list", "dict".
func (v Value) TypeName() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "dict"
	default:
		return "null"
	}
}

// MarshalJSON round-trips a Value through its lowered interface{} form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(&raw); err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}
