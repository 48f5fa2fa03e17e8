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
	"sort"
)

// Field is one named value of an insert or update.
type Field struct {
	Name  string
	Value Value
}

// Fields keeps the column order of insert and update statements stable.
type Fields []Field

func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i, field := range f {
		names[i] = field.Name
	}
	return names
}

func (f Fields) Values() []Value {
	values := make([]Value, len(f))
	for i, field := range f {
		values[i] = field.Value
	}
	return values
}

// FieldsFromMap converts decoded request data, ordering the columns by name.
func FieldsFromMap(m map[string]any) (Fields, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make(Fields, 0, len(keys))
	for _, k := range keys {
		v, err := FromAny(m[k])
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: k, Value: v})
	}
	return fields, nil
}

// Statement is a parameterized SQL text. Placeholders are written as ?.
type Statement struct {
	SQL    string
	Params []Value
	// Returning names the column whose generated value is read back after an insert.
	Returning string
}

func NewStatement(sql string, params ...Value) Statement {
	return Statement{SQL: sql, Params: params}
}

// Args returns the parameters as driver arguments.
func (s Statement) Args() []any {
	args := make([]any, len(s.Params))
	for i, p := range s.Params {
		args[i] = p.Any()
	}
	return args
}

// Row maps column names to values.
type Row map[string]Value

type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
	Count   int      `json:"count"`
}

type ExecuteResult struct {
	AffectedRows int64 `json:"affectedRows"`
	// GeneratedID is only set when the statement asked for a generated key.
	GeneratedID *Value `json:"generatedId,omitempty"`
}

// StatementResult is the outcome of one operation inside a transaction.
type StatementResult struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         []Row    `json:"rows,omitempty"`
	AffectedRows int64    `json:"affectedRows"`
}
