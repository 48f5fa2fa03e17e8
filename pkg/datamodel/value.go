// Copyright 2023 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package datamodel

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/cristalhq/base64"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

// Kind enumerates the scalar types a Value can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindTime
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is a single row value or statement parameter.
// The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
	t    time.Time
	raw  []byte
}

func Null() Value            { return Value{} }
func Int(v int64) Value      { return Value{kind: KindInt, i: v} }
func Float(v float64) Value  { return Value{kind: KindFloat, f: v} }
func String(v string) Value  { return Value{kind: KindString, s: v} }
func Bool(v bool) Value      { return Value{kind: KindBool, b: v} }
func Time(v time.Time) Value { return Value{kind: KindTime, t: v} }
func Bytes(v []byte) Value {
	if v == nil {
		return Null()
	}
	return Value{kind: KindBytes, raw: v}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsInt() (int64, bool)      { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)  { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool)  { return v.s, v.kind == KindString }
func (v Value) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }
func (v Value) AsBytes() ([]byte, bool)   { return v.raw, v.kind == KindBytes }

// Any returns the value in the form the driver expects as a statement argument.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindBytes:
		return v.raw
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindBytes:
		return base64.StdEncoding.EncodeToString(v.raw)
	default:
		return "NULL"
	}
}

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindTime:
		return v.t.Equal(o.t)
	case KindBytes:
		return string(v.raw) == string(o.raw)
	default:
		return v.Any() == o.Any()
	}
}

// FromAny converts a Go scalar into a Value.
// Composite values (maps, slices other than []byte, structs) are rejected.
func FromAny(in any) (Value, error) {
	switch x := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint:
		return fromUint(uint64(x)), nil
	case uint64:
		return fromUint(x), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Null(), standarderrors.InvalidArgument("number %q out of range", x.String())
		}
		return Float(f), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case time.Time:
		return Time(x), nil
	case []byte:
		return Bytes(x), nil
	case [16]byte:
		return String(formatUUID(x)), nil
	case pgtype.Numeric:
		if !x.Valid {
			return Null(), nil
		}
		if !x.NaN && x.InfinityModifier == pgtype.Finite {
			if i, err := x.Int64Value(); err == nil && i.Valid {
				return Int(i.Int64), nil
			}
		}
		// Fractions and out of range integers keep their exact decimal text.
		text, err := x.Value()
		if err != nil {
			return Null(), standarderrors.InvalidArgument("numeric: %s", err)
		}
		s, ok := text.(string)
		if !ok {
			return Null(), standarderrors.InvalidArgument("numeric: unexpected text %T", text)
		}
		return String(s), nil
	case fmt.Stringer:
		return String(x.String()), nil
	}
	return Null(), standarderrors.InvalidArgument("unsupported value type %T", in)
}

// FromDriver converts a value decoded by the driver. Unlike FromAny it never fails:
// composite values such as json columns or arrays are rendered as JSON text.
func FromDriver(in any) Value {
	v, err := FromAny(in)
	if err == nil {
		return v
	}
	rv := reflect.ValueOf(in)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return Null()
		}
		return FromDriver(rv.Elem().Interface())
	}
	b, err := json.Marshal(in)
	if err != nil {
		return String(fmt.Sprint(in))
	}
	return String(string(b))
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return Float(float64(u))
	}
	return Int(int64(u))
}

func formatUUID(u [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return json.Marshal(v.String())
		}
		return json.Marshal(v.f)
	case KindString, KindTime, KindBytes:
		return json.Marshal(v.String())
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar. Strings stay strings, so time and byte
// values do not survive a round trip through JSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Values converts a list of Go scalars.
func Values(in ...any) ([]Value, error) {
	out := make([]Value, 0, len(in))
	for i, p := range in {
		v, err := FromAny(p)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
