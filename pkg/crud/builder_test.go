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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

func TestSelect(t *testing.T) {
	window, err := datamodel.Paging{Page: 3, Limit: 20}.Window(datamodel.DefaultLimit)
	require.NoError(t, err)

	stmt, err := Select("users", []string{"id", "name"}, Eq("age", datamodel.Int(30)), &window)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, name FROM users WHERE age = ? LIMIT 20 OFFSET 40", stmt.SQL)
	assert.Equal(t, []any{int64(30)}, stmt.Args())

	stmt, err = Select("public.users", nil, Predicate{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM public.users", stmt.SQL)
	assert.Empty(t, stmt.Params)
}

func TestSelectByID(t *testing.T) {
	stmt, err := SelectByID("users", "id", datamodel.Int(5))
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE id = ?", stmt.SQL)
	assert.Equal(t, []any{int64(5)}, stmt.Args())
}

func TestInsert(t *testing.T) {
	data := datamodel.Fields{
		{Name: "name", Value: datamodel.String("alice")},
		{Name: "age", Value: datamodel.Int(31)},
	}

	stmt, err := Insert("users", data, "")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (name, age) VALUES (?, ?)", stmt.SQL)
	assert.Equal(t, []any{"alice", int64(31)}, stmt.Args())
	assert.Empty(t, stmt.Returning)

	stmt, err = Insert("users", data, "id")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (name, age) VALUES (?, ?) RETURNING id", stmt.SQL)
	assert.Equal(t, "id", stmt.Returning)

	_, err = Insert("users", nil, "")
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)

	_, err = Insert("users", datamodel.Fields{{Name: "a", Value: datamodel.Int(1)}, {Name: "A", Value: datamodel.Int(2)}}, "")
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)
}

func TestUpdateParameterOrder(t *testing.T) {
	data := datamodel.Fields{
		{Name: "name", Value: datamodel.String("bob")},
		{Name: "active", Value: datamodel.Bool(false)},
	}

	stmt, err := Update("users", data, Where("age > ? AND city = ?", datamodel.Int(60), datamodel.String("Aachen")), "")
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET name = ?, active = ? WHERE age > ? AND city = ?", stmt.SQL)
	assert.Equal(t, []any{"bob", false, int64(60), "Aachen"}, stmt.Args())

	_, err = Update("users", data, Predicate{}, "")
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)
}

func TestDeleteCountExists(t *testing.T) {
	where := Eq("id", datamodel.Int(9))

	stmt, err := Delete("users", where)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM users WHERE id = ?", stmt.SQL)

	_, err = Delete("users", Predicate{})
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)

	stmt, err = Count("users", Predicate{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) AS count FROM users", stmt.SQL)

	stmt, err = Exists("users", where)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 AS found FROM users WHERE id = ? LIMIT 1", stmt.SQL)
	assert.Equal(t, []any{int64(9)}, stmt.Args())
}

func TestRejectsInvalidIdentifiers(t *testing.T) {
	for _, name := range []string{"", "users; DROP TABLE x", "a.b.c", "1users", `"users"`, "users--"} {
		_, err := Select(name, nil, Predicate{}, nil)
		assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument, name)
	}

	_, err := Select("users", []string{"id, name"}, Predicate{}, nil)
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)

	_, err = Delete("users", Eq("id = 1 OR 1", datamodel.Int(1)))
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)
}

func TestPredicates(t *testing.T) {
	p := And(Eq("a", datamodel.Int(1)), Predicate{}, Eq("b", datamodel.Null()), Where("c < ?", datamodel.Float(2.5)))
	assert.Equal(t, "(a = ?) AND (b IS NULL) AND (c < ?)", p.SQL)
	assert.Equal(t, []any{int64(1), 2.5}, datamodel.NewStatement(p.SQL, p.Params...).Args())

	single := And(Eq("a", datamodel.Int(1)))
	assert.Equal(t, "a = ?", single.SQL)

	assert.True(t, And().Empty())
}
