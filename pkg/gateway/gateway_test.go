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

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/crud"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/jobs"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/pool"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

// containsMatcher keeps expectations short: the expected text only has to appear in the statement.
var containsMatcher = pgxmock.QueryMatcherFunc(func(expectedSQL, actualSQL string) error {
	if !strings.Contains(actualSQL, expectedSQL) {
		return fmt.Errorf("statement %q does not contain %q", actualSQL, expectedSQL)
	}
	return nil
})

func newGateway(t *testing.T, opts Options) (*Gateway, pgxmock.PgxConnIface) {
	mock, err := pgxmock.NewConn(pgxmock.QueryMatcherOption(containsMatcher))
	require.NoError(t, err)
	if opts.StatementTimeout == 0 {
		opts.StatementTimeout = time.Second
	}
	g, err := New(pool.NewStatic(time.Second, mock), opts)
	require.NoError(t, err)
	return g, mock
}

func expectPrimaryKey(mock pgxmock.PgxConnIface, table string, column string) {
	rows := pgxmock.NewRows([]string{"column_name"})
	if column != "" {
		rows.AddRow(column)
	}
	mock.ExpectQuery("information_schema.table_constraints").WithArgs(table).WillReturnRows(rows)
}

func TestInsertThenSelectByID(t *testing.T) {
	g, mock := newGateway(t, Options{})
	ctx := context.Background()

	expectPrimaryKey(mock, "users", "id")
	mock.ExpectQuery("INSERT INTO users (age, name) VALUES ($1, $2) RETURNING id").
		WithArgs(int64(31), "alice").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT * FROM users WHERE id = $1").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "age", "name"}).AddRow(int64(1), int64(31), "alice"))

	data, err := datamodel.FieldsFromMap(map[string]any{"name": "alice", "age": 31})
	require.NoError(t, err)

	id, err := g.InsertAndReturnID(ctx, "users", data)
	require.NoError(t, err)
	assert.True(t, id.Equal(datamodel.Int(1)))

	row, err := g.SelectByID(ctx, "users", id)
	require.NoError(t, err)
	assert.True(t, row["name"].Equal(datamodel.String("alice")))
	assert.True(t, row["age"].Equal(datamodel.Int(31)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsAfterDeleteAndInsert(t *testing.T) {
	g, mock := newGateway(t, Options{})
	ctx := context.Background()
	existsSQL := "SELECT 1 AS found FROM users WHERE id = $1 LIMIT 1"

	expectPrimaryKey(mock, "users", "id")
	mock.ExpectQuery(existsSQL).WithArgs(int64(7)).WillReturnRows(pgxmock.NewRows([]string{"found"}).AddRow(int32(1)))
	mock.ExpectExec("DELETE FROM users WHERE id = $1").WithArgs(int64(7)).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(existsSQL).WithArgs(int64(7)).WillReturnRows(pgxmock.NewRows([]string{"found"}))
	mock.ExpectExec("INSERT INTO users (id, name) VALUES ($1, $2)").WithArgs(int64(7), "bob").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(existsSQL).WithArgs(int64(7)).WillReturnRows(pgxmock.NewRows([]string{"found"}).AddRow(int32(1)))

	affected, err := g.DeleteByID(ctx, "users", datamodel.Int(7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	ok, err := g.ExistsByID(ctx, "users", datamodel.Int(7))
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := g.Insert(ctx, "users", datamodel.Fields{
		{Name: "id", Value: datamodel.Int(7)},
		{Name: "name", Value: datamodel.String("bob")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AffectedRows)

	ok, err = g.ExistsByID(ctx, "users", datamodel.Int(7))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestByIDWithoutPrimaryKey(t *testing.T) {
	g, mock := newGateway(t, Options{})

	expectPrimaryKey(mock, "audit_log", "")

	_, err := g.SelectByID(context.Background(), "audit_log", datamodel.Int(1))
	assert.ErrorIs(t, err, standarderrors.ErrNoPrimaryKey)

	// the empty lookup is cached, no second catalog query
	_, err = g.DeleteByID(context.Background(), "audit_log", datamodel.Int(1))
	assert.ErrorIs(t, err, standarderrors.ErrNoPrimaryKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateByIDMissingRecord(t *testing.T) {
	g, mock := newGateway(t, Options{})

	expectPrimaryKey(mock, "users", "id")
	mock.ExpectQuery("SELECT 1 AS found FROM users WHERE id = $1 LIMIT 1").
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows([]string{"found"}))

	_, err := g.UpdateByID(context.Background(), "users", datamodel.Int(404), datamodel.Fields{{Name: "name", Value: datamodel.String("x")}})
	assert.ErrorIs(t, err, standarderrors.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectByIDMissingRecord(t *testing.T) {
	g, mock := newGateway(t, Options{})

	expectPrimaryKey(mock, "users", "id")
	mock.ExpectQuery("SELECT * FROM users WHERE id = $1").
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := g.SelectByID(context.Background(), "users", datamodel.Int(404))
	assert.ErrorIs(t, err, standarderrors.ErrRecordNotFound)
}

func TestSelectPagesAndFilters(t *testing.T) {
	g, mock := newGateway(t, Options{PageSize: 25})

	mock.ExpectQuery("SELECT id, name FROM users WHERE (city = $1) AND (active = $2) LIMIT 25 OFFSET 50").
		WithArgs("Aachen", true).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(int64(51), "carl"))

	where := crud.And(crud.Eq("city", datamodel.String("Aachen")), crud.Eq("active", datamodel.Bool(true)))
	res, err := g.Select(context.Background(), "users", []string{"id", "name"}, where, datamodel.Paging{Page: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestCountAndUpdate(t *testing.T) {
	g, mock := newGateway(t, Options{})

	mock.ExpectQuery("SELECT COUNT(*) AS count FROM users WHERE age > $1").
		WithArgs(int64(60)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectExec("UPDATE users SET retired = $1 WHERE age > $2").
		WithArgs(true, int64(60)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 12))

	where := crud.Where("age > ?", datamodel.Int(60))
	n, err := g.Count(context.Background(), "users", where)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	affected, err := g.Update(context.Background(), "users", datamodel.Fields{{Name: "retired", Value: datamodel.Bool(true)}}, where)
	require.NoError(t, err)
	assert.Equal(t, int64(12), affected)
}

func TestCheckTables(t *testing.T) {
	g, mock := newGateway(t, Options{CheckTables: true})

	mock.ExpectQuery("FROM pg_class c").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"found"}))

	_, err := g.Select(context.Background(), "ghost", nil, crud.Predicate{}, datamodel.Paging{})
	assert.ErrorIs(t, err, standarderrors.ErrTableNotFound)

	_, err = g.Count(context.Background(), "bad name", crud.Predicate{})
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)
}

func TestSubmitAsyncDone(t *testing.T) {
	g, mock := newGateway(t, Options{})

	mock.ExpectQuery("SELECT 42 AS answer").
		WillReturnRows(pgxmock.NewRows([]string{"answer"}).AddRow(int32(42))).
		WillDelayFor(20 * time.Millisecond)

	job, err := g.SubmitAsync("job-1", "SELECT 42 AS answer", nil)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, job.Status)

	_, err = g.SubmitAsync("job-1", "SELECT 42 AS answer", nil)
	assert.ErrorIs(t, err, standarderrors.ErrDuplicateJob)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, g.Wait(ctx))

	status, err := g.JobStatus("job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDone, status.Status)
	assert.Nil(t, status.Result)

	result, err := g.JobResult("job-1")
	require.NoError(t, err)
	require.NotNil(t, result.Result)
	assert.True(t, result.Result.Rows[0]["answer"].Equal(datamodel.Int(42)))
}

func TestSubmitAsyncError(t *testing.T) {
	g, mock := newGateway(t, Options{})

	mock.ExpectQuery("SELECT broken").WillReturnError(errors.New("syntax error at or near \"broken\""))

	_, err := g.SubmitAsync("job-2", "SELECT broken", nil)
	require.NoError(t, err)
	require.NoError(t, g.Wait(context.Background()))

	job, err := g.JobResult("job-2")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusError, job.Status)
	assert.Contains(t, job.Error, "syntax error")
	assert.Nil(t, job.Result)

	_, err = g.JobStatus("unknown")
	assert.ErrorIs(t, err, standarderrors.ErrJobNotFound)
}

func TestExecuteTransactionRollsBack(t *testing.T) {
	g, mock := newGateway(t, Options{})

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectExec("INSERT INTO t (a) VALUES ($1)").WithArgs(int64(1)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO t (a) VALUES ($1)").WithArgs("oops").WillReturnError(errors.New("invalid input syntax for type integer"))
	mock.ExpectRollback()

	ops := []datamodel.Statement{
		datamodel.NewStatement("INSERT INTO t (a) VALUES (?)", datamodel.Int(1)),
		datamodel.NewStatement("INSERT INTO t (a) VALUES (?)", datamodel.String("oops")),
	}
	results, err := g.ExecuteTransaction(context.Background(), ops, datamodel.ReadCommitted)
	assert.Nil(t, results)
	assert.ErrorIs(t, err, standarderrors.ErrTransactionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
