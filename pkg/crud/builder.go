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

// Package crud builds SELECT, INSERT, UPDATE, DELETE, COUNT and EXISTS statements
// from runtime table and column names. Builders do no I/O; PrimaryKeyOf is the exception
// and lives on Keys.
package crud

import (
	"fmt"
	"strings"

	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

// Select builds SELECT <columns> FROM <table> [WHERE <where>] [LIMIT <n> OFFSET <o>].
// No columns selects *. A nil window returns every row.
func Select(table string, columns []string, where Predicate, window *datamodel.Window) (datamodel.Statement, error) {
	if err := checkTable(table, where); err != nil {
		return datamodel.Statement{}, err
	}
	cols := "*"
	if len(columns) > 0 {
		for _, c := range columns {
			if c == "*" {
				continue
			}
			if err := checkIdentifier("column", c); err != nil {
				return datamodel.Statement{}, err
			}
		}
		cols = strings.Join(columns, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(table)
	sb.WriteString(where.clause())
	if window != nil {
		sb.WriteString(windowClause(*window))
	}
	return datamodel.NewStatement(sb.String(), where.Params...), nil
}

// SelectByID selects the row whose idColumn equals id.
func SelectByID(table string, idColumn string, id datamodel.Value) (datamodel.Statement, error) {
	if err := checkIdentifier("column", idColumn); err != nil {
		return datamodel.Statement{}, err
	}
	return Select(table, nil, Eq(idColumn, id), nil)
}

// Insert builds INSERT INTO <table> (<names>) VALUES (?, ...) in data order.
// With idColumn set the statement returns the generated key.
func Insert(table string, data datamodel.Fields, idColumn string) (datamodel.Statement, error) {
	if err := checkTable(table, Predicate{}); err != nil {
		return datamodel.Statement{}, err
	}
	if len(data) == 0 {
		return datamodel.Statement{}, standarderrors.InvalidArgument("insert into %s without data", table)
	}
	if err := checkColumns(data); err != nil {
		return datamodel.Statement{}, err
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(data.Names(), ", "), placeholders(len(data)))
	stmt := datamodel.NewStatement(sql, data.Values()...)
	if idColumn != "" {
		if err := checkIdentifier("column", idColumn); err != nil {
			return datamodel.Statement{}, err
		}
		stmt.SQL += " RETURNING " + idColumn
		stmt.Returning = idColumn
	}
	return stmt, nil
}

// Update builds UPDATE <table> SET <name> = ?, ... WHERE <where>.
// The parameters are the data values followed by the where parameters.
// An empty where is rejected.
func Update(table string, data datamodel.Fields, where Predicate, idColumn string) (datamodel.Statement, error) {
	if err := checkTable(table, where); err != nil {
		return datamodel.Statement{}, err
	}
	if len(data) == 0 {
		return datamodel.Statement{}, standarderrors.InvalidArgument("update of %s without data", table)
	}
	if where.Empty() {
		return datamodel.Statement{}, standarderrors.InvalidArgument("update of %s without condition", table)
	}
	if err := checkColumns(data); err != nil {
		return datamodel.Statement{}, err
	}

	assignments := make([]string, len(data))
	for i, name := range data.Names() {
		assignments[i] = name + " = ?"
	}
	params := append(data.Values(), where.Params...)
	stmt := datamodel.NewStatement(fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(assignments, ", "), where.clause()), params...)
	if idColumn != "" {
		if err := checkIdentifier("column", idColumn); err != nil {
			return datamodel.Statement{}, err
		}
		stmt.SQL += " RETURNING " + idColumn
		stmt.Returning = idColumn
	}
	return stmt, nil
}

// Delete builds DELETE FROM <table> WHERE <where>. An empty where is rejected.
func Delete(table string, where Predicate) (datamodel.Statement, error) {
	if err := checkTable(table, where); err != nil {
		return datamodel.Statement{}, err
	}
	if where.Empty() {
		return datamodel.Statement{}, standarderrors.InvalidArgument("delete from %s without condition", table)
	}
	return datamodel.NewStatement("DELETE FROM "+table+where.clause(), where.Params...), nil
}

// CountColumn is the column name of the Count result.
const CountColumn = "count"

// Count builds SELECT COUNT(*) AS count FROM <table> [WHERE <where>].
func Count(table string, where Predicate) (datamodel.Statement, error) {
	if err := checkTable(table, where); err != nil {
		return datamodel.Statement{}, err
	}
	return datamodel.NewStatement("SELECT COUNT(*) AS "+CountColumn+" FROM "+table+where.clause(), where.Params...), nil
}

// Exists selects at most one row under where. The caller tests for presence,
// which stops at the first match instead of counting all of them.
func Exists(table string, where Predicate) (datamodel.Statement, error) {
	if err := checkTable(table, where); err != nil {
		return datamodel.Statement{}, err
	}
	return datamodel.NewStatement("SELECT 1 AS found FROM "+table+where.clause()+" LIMIT 1", where.Params...), nil
}

func windowClause(w datamodel.Window) string {
	return fmt.Sprintf(" LIMIT %d OFFSET %d", w.Limit, w.Offset)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func checkTable(table string, where Predicate) error {
	if err := where.Err(); err != nil {
		return err
	}
	return checkIdentifier("table", table)
}

func checkColumns(data datamodel.Fields) error {
	seen := make(map[string]struct{}, len(data))
	for _, name := range data.Names() {
		if err := checkIdentifier("column", name); err != nil {
			return err
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return standarderrors.InvalidArgument("duplicate column %q", name)
		}
		seen[key] = struct{}{}
	}
	return nil
}
