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
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

func TestFromAny(t *testing.T) {
	ts := time.Date(2023, 5, 4, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Null()},
		{"int", 42, Int(42)},
		{"int32", int32(-7), Int(-7)},
		{"uint64 small", uint64(12), Int(12)},
		{"float32", float32(0.5), Float(0.5)},
		{"json integer", json.Number("17"), Int(17)},
		{"json float", json.Number("1.25"), Float(1.25)},
		{"string", "abc", String("abc")},
		{"bool", true, Bool(true)},
		{"time", ts, Time(ts)},
		{"bytes", []byte{1, 2}, Bytes([]byte{1, 2})},
		{"uuid", [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}, String("12345678-9abc-def0-1234-56789abcdef0")},
		{"invalid numeric", pgtype.Numeric{}, Null()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.in)
			assert.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %v (%s), got %v (%s)", tt.want, tt.want.Kind(), got, got.Kind())
		})
	}
}

func TestNumericKeepsPrecision(t *testing.T) {
	numeric := func(s string) pgtype.Numeric {
		var n pgtype.Numeric
		assert.NoError(t, n.Scan(s))
		return n
	}

	got := FromDriver(numeric("12345678901234567.89"))
	assert.True(t, String("12345678901234567.89").Equal(got), "got %v (%s)", got, got.Kind())

	got = FromDriver(numeric("99999999999999999999"))
	assert.True(t, String("99999999999999999999").Equal(got), "got %v (%s)", got, got.Kind())

	got = FromDriver(numeric("0.5"))
	assert.True(t, String("0.5").Equal(got), "got %v (%s)", got, got.Kind())

	got = FromDriver(numeric("42"))
	assert.True(t, Int(42).Equal(got), "got %v (%s)", got, got.Kind())

	got = FromDriver(numeric("NaN"))
	assert.True(t, String("NaN").Equal(got), "got %v (%s)", got, got.Kind())
}

func TestFromAnyRejectsComposites(t *testing.T) {
	_, err := FromAny(map[string]any{"a": 1})
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)

	_, err = FromAny([]int{1, 2})
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)
}

func TestFromDriverRendersCompositesAsJSON(t *testing.T) {
	v := FromDriver(map[string]any{"a": 1})
	s, ok := v.AsString()
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, s)

	var nilPtr *int
	assert.True(t, FromDriver(nilPtr).IsNull())

	n := 5
	assert.True(t, Int(5).Equal(FromDriver(&n)))
}

func TestValueJSON(t *testing.T) {
	row := Row{
		"id":      Int(1),
		"name":    String("press"),
		"ratio":   Float(0.75),
		"active":  Bool(false),
		"payload": Bytes([]byte("hi")),
		"deleted": Null(),
	}
	b, err := json.Marshal(row)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"press","ratio":0.75,"active":false,"payload":"aGk=","deleted":null}`, string(b))

	var params []Value
	err = json.Unmarshal([]byte(`[1, 2.5, "x", true, null]`), &params)
	assert.NoError(t, err)
	assert.Equal(t, []any{int64(1), 2.5, "x", true, nil}, NewStatement("", params...).Args())
}

func TestFieldsFromMapOrdersColumns(t *testing.T) {
	fields, err := FieldsFromMap(map[string]any{"b": 2, "a": "x", "c": nil})
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, fields.Names())
	assert.Equal(t, []Value{String("x"), Int(2), Null()}, fields.Values())
}

func TestParseIsolationLevel(t *testing.T) {
	for in, want := range map[string]IsolationLevel{
		"":                 ReadCommitted,
		"read_committed":   ReadCommitted,
		"READ UNCOMMITTED": ReadUncommitted,
		"repeatable-read":  RepeatableRead,
		"snapshot":         RepeatableRead,
		"Serializable":     Serializable,
	} {
		got, err := ParseIsolationLevel(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseIsolationLevel("chaos")
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)
}
