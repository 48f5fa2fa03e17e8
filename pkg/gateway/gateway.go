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

// Package gateway is the call surface of the data access core. It combines the
// executor, the statement builder, the transaction sequencer, the job tracker and the
// schema introspector behind one set of operations. It knows nothing about HTTP.
package gateway

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/sqlgateway/internal"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/crud"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/executor"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/jobs"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/pool"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/schema"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/transaction"
	"go.uber.org/zap"
)

type Options struct {
	StatementTimeout   time.Duration
	TransactionTimeout time.Duration
	AsyncTimeout       time.Duration
	// PageSize is the select limit when the caller passes none.
	PageSize int
	KeyCase  executor.KeyCase
	// CheckTables verifies that a table exists before running a CRUD operation on it.
	CheckTables bool

	KeyCacheSize     int
	SchemaCacheBytes int
	SchemaCacheTTL   time.Duration

	// JobStore keeps async jobs. Nil uses a MemoryStore with JobTTL.
	JobStore jobs.Store
	JobTTL   time.Duration
	Clock    func() time.Time
}

const DefaultAsyncTimeout = 5 * time.Minute

type Gateway struct {
	pool   pool.Provider
	exec   *executor.Executor
	tx     *transaction.Sequencer
	keys   *crud.Keys
	schema *schema.Introspector
	jobs   *jobs.Tracker
	opts   Options

	background sync.WaitGroup
}

// TableSchema is the column layout of one table.
type TableSchema struct {
	Table   string          `json:"table"`
	Columns []schema.Column `json:"columns"`
}

var ddlStatement = regexp.MustCompile(`(?i)^\s*(CREATE|DROP|ALTER)\b`)

func New(p pool.Provider, opts Options) (*Gateway, error) {
	if opts.AsyncTimeout <= 0 {
		opts.AsyncTimeout = DefaultAsyncTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = datamodel.DefaultLimit
	}
	if opts.JobStore == nil {
		opts.JobStore = jobs.NewMemoryStore(opts.JobTTL)
	}
	var trackerOpts []jobs.Option
	if opts.Clock != nil {
		trackerOpts = append(trackerOpts, jobs.WithClock(opts.Clock))
	}

	exec := executor.New(p, executor.Options{DefaultTimeout: opts.StatementTimeout, KeyCase: opts.KeyCase})
	// catalog queries read their columns by lower case name
	catalog := exec.WithKeyCase(executor.KeyCaseLower)

	keys, err := crud.NewKeys(catalog, opts.KeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary key cache: %w", err)
	}

	return &Gateway{
		pool:   p,
		exec:   exec,
		tx:     transaction.New(p, transaction.Options{Timeout: opts.TransactionTimeout, KeyCase: exec.KeyCase()}),
		keys:   keys,
		schema: schema.New(catalog, schema.Options{CacheBytes: opts.SchemaCacheBytes, TTL: opts.SchemaCacheTTL}),
		jobs:   jobs.NewTracker(opts.JobStore, trackerOpts...),
		opts:   opts,
	}, nil
}

// Select returns the rows of table matching where inside the paging window.
// No columns selects all of them.
func (g *Gateway) Select(ctx context.Context, table string, columns []string, where crud.Predicate, paging datamodel.Paging) (datamodel.QueryResult, error) {
	if err := g.checkTable(ctx, table); err != nil {
		return datamodel.QueryResult{}, err
	}
	window, err := paging.Window(g.opts.PageSize)
	if err != nil {
		return datamodel.QueryResult{}, err
	}
	stmt, err := crud.Select(table, columns, where, &window)
	if err != nil {
		return datamodel.QueryResult{}, err
	}
	return g.exec.RunQuery(ctx, stmt, 0)
}

// SelectByID returns the row whose primary key equals id, or ErrRecordNotFound.
func (g *Gateway) SelectByID(ctx context.Context, table string, id datamodel.Value) (datamodel.Row, error) {
	pk, err := g.primaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	stmt, err := crud.SelectByID(table, pk, id)
	if err != nil {
		return nil, err
	}
	res, err := g.exec.RunQuery(ctx, stmt, 0)
	if err != nil {
		return nil, err
	}
	if res.Count == 0 {
		return nil, fmt.Errorf("%w: %s %s = %s", standarderrors.ErrRecordNotFound, table, pk, id)
	}
	return res.Rows[0], nil
}

func (g *Gateway) Insert(ctx context.Context, table string, data datamodel.Fields) (datamodel.ExecuteResult, error) {
	if err := g.checkTable(ctx, table); err != nil {
		return datamodel.ExecuteResult{}, err
	}
	stmt, err := crud.Insert(table, data, "")
	if err != nil {
		return datamodel.ExecuteResult{}, err
	}
	return g.exec.RunCommand(ctx, stmt, 0)
}

// InsertAndReturnID inserts data and returns the generated primary key.
func (g *Gateway) InsertAndReturnID(ctx context.Context, table string, data datamodel.Fields) (datamodel.Value, error) {
	pk, err := g.primaryKey(ctx, table)
	if err != nil {
		return datamodel.Null(), err
	}
	stmt, err := crud.Insert(table, data, pk)
	if err != nil {
		return datamodel.Null(), err
	}
	res, err := g.exec.RunCommand(ctx, stmt, 0)
	if err != nil {
		return datamodel.Null(), err
	}
	if res.GeneratedID == nil {
		return datamodel.Null(), nil
	}
	return *res.GeneratedID, nil
}

// Update sets data on all rows matching where and returns the affected row count.
func (g *Gateway) Update(ctx context.Context, table string, data datamodel.Fields, where crud.Predicate) (int64, error) {
	if err := g.checkTable(ctx, table); err != nil {
		return 0, err
	}
	stmt, err := crud.Update(table, data, where, "")
	if err != nil {
		return 0, err
	}
	res, err := g.exec.RunCommand(ctx, stmt, 0)
	return res.AffectedRows, err
}

// UpdateByID fails with ErrRecordNotFound if no row has the given id.
func (g *Gateway) UpdateByID(ctx context.Context, table string, id datamodel.Value, data datamodel.Fields) (int64, error) {
	pk, err := g.primaryKey(ctx, table)
	if err != nil {
		return 0, err
	}
	if err := g.mustExist(ctx, table, pk, id); err != nil {
		return 0, err
	}
	stmt, err := crud.Update(table, data, crud.Eq(pk, id), "")
	if err != nil {
		return 0, err
	}
	res, err := g.exec.RunCommand(ctx, stmt, 0)
	return res.AffectedRows, err
}

func (g *Gateway) Delete(ctx context.Context, table string, where crud.Predicate) (int64, error) {
	if err := g.checkTable(ctx, table); err != nil {
		return 0, err
	}
	stmt, err := crud.Delete(table, where)
	if err != nil {
		return 0, err
	}
	res, err := g.exec.RunCommand(ctx, stmt, 0)
	return res.AffectedRows, err
}

// DeleteByID fails with ErrRecordNotFound if no row has the given id.
func (g *Gateway) DeleteByID(ctx context.Context, table string, id datamodel.Value) (int64, error) {
	pk, err := g.primaryKey(ctx, table)
	if err != nil {
		return 0, err
	}
	if err := g.mustExist(ctx, table, pk, id); err != nil {
		return 0, err
	}
	stmt, err := crud.Delete(table, crud.Eq(pk, id))
	if err != nil {
		return 0, err
	}
	res, err := g.exec.RunCommand(ctx, stmt, 0)
	return res.AffectedRows, err
}

func (g *Gateway) Count(ctx context.Context, table string, where crud.Predicate) (int64, error) {
	if err := g.checkTable(ctx, table); err != nil {
		return 0, err
	}
	stmt, err := crud.Count(table, where)
	if err != nil {
		return 0, err
	}
	res, err := g.exec.RunQuery(ctx, stmt, 0)
	if err != nil {
		return 0, err
	}
	if res.Count == 0 || len(res.Columns) == 0 {
		return 0, nil
	}
	n, ok := res.Rows[0][res.Columns[0]].AsInt()
	if !ok {
		return 0, fmt.Errorf("unexpected count value %s", res.Rows[0][res.Columns[0]])
	}
	return n, nil
}

func (g *Gateway) Exists(ctx context.Context, table string, where crud.Predicate) (bool, error) {
	if err := g.checkTable(ctx, table); err != nil {
		return false, err
	}
	return g.exists(ctx, table, where)
}

func (g *Gateway) ExistsByID(ctx context.Context, table string, id datamodel.Value) (bool, error) {
	pk, err := g.primaryKey(ctx, table)
	if err != nil {
		return false, err
	}
	return g.exists(ctx, table, crud.Eq(pk, id))
}

// ExecuteQuery runs raw SQL producing rows. timeout <= 0 uses the statement timeout.
// The caller is responsible for vetting sql.
func (g *Gateway) ExecuteQuery(ctx context.Context, sql string, params []datamodel.Value, timeout time.Duration) (datamodel.QueryResult, error) {
	return g.exec.RunQuery(ctx, datamodel.NewStatement(sql, params...), timeout)
}

// ExecuteCommand runs raw SQL for its effect. DDL drops cached metadata.
func (g *Gateway) ExecuteCommand(ctx context.Context, sql string, params []datamodel.Value) (datamodel.ExecuteResult, error) {
	res, err := g.exec.RunCommand(ctx, datamodel.NewStatement(sql, params...), 0)
	if err == nil && ddlStatement.MatchString(sql) {
		g.InvalidateMetadata()
	}
	return res, err
}

func (g *Gateway) ExecuteTransaction(ctx context.Context, ops []datamodel.Statement, isolation datamodel.IsolationLevel) ([]datamodel.StatementResult, error) {
	results, err := g.tx.Run(ctx, ops, isolation)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if ddlStatement.MatchString(op.SQL) {
			g.InvalidateMetadata()
			break
		}
	}
	return results, nil
}

func (g *Gateway) GetTables(ctx context.Context) ([]schema.Table, error) {
	return g.schema.ListTables(ctx)
}

func (g *Gateway) GetTableSchema(ctx context.Context, table string) (TableSchema, error) {
	columns, err := g.schema.ColumnsOf(ctx, table)
	if err != nil {
		return TableSchema{}, err
	}
	return TableSchema{Table: table, Columns: columns}, nil
}

func (g *Gateway) GetDatabaseInfo(ctx context.Context) (schema.DatabaseInfo, error) {
	return g.schema.DatabaseInfo(ctx)
}

// SubmitAsync registers a job and runs the query in the background with the async timeout.
// It returns as soon as the job is registered.
func (g *Gateway) SubmitAsync(id string, sql string, params []datamodel.Value) (jobs.Job, error) {
	job, err := g.jobs.CreateJob(id)
	if err != nil {
		return jobs.Job{}, err
	}

	stmt := datamodel.NewStatement(sql, params...)
	g.background.Add(1)
	go func() {
		defer g.background.Done()
		res, err := g.exec.RunQuery(context.Background(), stmt, g.opts.AsyncTimeout)
		if err != nil {
			_, err = g.jobs.SetError(job.ID, err.Error())
		} else {
			_, err = g.jobs.SetResult(job.ID, res)
		}
		if err != nil {
			zap.S().Warnf("Failed to record outcome of job %s: %s", internal.SanitizeString(job.ID), err)
		}
	}()
	return job, nil
}

// JobStatus returns the job without its result.
func (g *Gateway) JobStatus(id string) (jobs.Job, error) {
	job, err := g.jobs.GetJob(id)
	if err != nil {
		return jobs.Job{}, err
	}
	job.Result = nil
	return job, nil
}

// JobResult returns the job including its result. A processing job has none yet.
func (g *Gateway) JobResult(id string) (jobs.Job, error) {
	return g.jobs.GetJob(id)
}

// EvictJob removes a finished or abandoned job.
func (g *Gateway) EvictJob(id string) error {
	return g.jobs.Evict(id)
}

// Ping reports whether the backend answers.
func (g *Gateway) Ping(ctx context.Context) bool {
	return g.pool.Ping(ctx)
}

// Wait blocks until all background jobs finished or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InvalidateMetadata drops cached primary keys and schema information.
func (g *Gateway) InvalidateMetadata() {
	g.keys.Purge()
	g.schema.Invalidate()
}

func (g *Gateway) checkTable(ctx context.Context, table string) error {
	if !crud.ValidIdentifier(table) {
		return standarderrors.InvalidArgument("invalid table name %q", table)
	}
	if !g.opts.CheckTables {
		return nil
	}
	ok, err := g.schema.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", standarderrors.ErrTableNotFound, table)
	}
	return nil
}

// primaryKey resolves the key column used by the id based operations.
func (g *Gateway) primaryKey(ctx context.Context, table string) (string, error) {
	if err := g.checkTable(ctx, table); err != nil {
		return "", err
	}
	pk, err := g.keys.PrimaryKeyOf(ctx, table)
	if err != nil {
		return "", err
	}
	if pk == "" {
		return "", fmt.Errorf("%w: %s", standarderrors.ErrNoPrimaryKey, table)
	}
	return pk, nil
}

func (g *Gateway) exists(ctx context.Context, table string, where crud.Predicate) (bool, error) {
	stmt, err := crud.Exists(table, where)
	if err != nil {
		return false, err
	}
	res, err := g.exec.RunQuery(ctx, stmt, 0)
	if err != nil {
		return false, err
	}
	return res.Count > 0, nil
}

func (g *Gateway) mustExist(ctx context.Context, table string, pk string, id datamodel.Value) error {
	ok, err := g.exists(ctx, table, crud.Eq(pk, id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s = %s", standarderrors.ErrRecordNotFound, table, pk, id)
	}
	return nil
}
