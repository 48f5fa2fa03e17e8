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

package crud

import (
	"regexp"
	"strings"

	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)

// ValidIdentifier reports whether name is a plain, optionally schema qualified, identifier.
// Names are not quoted, so they follow the backend's case folding.
func ValidIdentifier(name string) bool {
	return identifier.MatchString(name)
}

func checkIdentifier(kind string, name string) error {
	if !ValidIdentifier(name) {
		return standarderrors.InvalidArgument("invalid %s name %q", kind, name)
	}
	return nil
}

// Predicate is a WHERE clause with its own ? placeholders.
// The zero Predicate matches every row.
type Predicate struct {
	SQL    string
	Params []datamodel.Value
	err    error
}

// Where returns a predicate from raw SQL. The text is used as is.
func Where(sql string, params ...datamodel.Value) Predicate {
	return Predicate{SQL: strings.TrimSpace(sql), Params: params}
}

// Eq compares column to v. A null v compares with IS NULL.
func Eq(column string, v datamodel.Value) Predicate {
	if err := checkIdentifier("column", column); err != nil {
		return Predicate{err: err}
	}
	if v.IsNull() {
		return Predicate{SQL: column + " IS NULL"}
	}
	return Predicate{SQL: column + " = ?", Params: []datamodel.Value{v}}
}

// And joins the non empty predicates.
func And(predicates ...Predicate) Predicate {
	var parts []string
	var params []datamodel.Value
	for _, p := range predicates {
		if p.err != nil {
			return p
		}
		if p.Empty() {
			continue
		}
		parts = append(parts, p.SQL)
		params = append(params, p.Params...)
	}
	if len(parts) > 1 {
		for i := range parts {
			parts[i] = "(" + parts[i] + ")"
		}
	}
	return Predicate{SQL: strings.Join(parts, " AND "), Params: params}
}

// Empty reports whether the predicate has no condition.
func (p Predicate) Empty() bool {
	return p.SQL == ""
}

func (p Predicate) Err() error {
	return p.err
}

func (p Predicate) clause() string {
	if p.Empty() {
		return ""
	}
	return " WHERE " + p.SQL
}
