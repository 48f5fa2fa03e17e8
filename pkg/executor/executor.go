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

// Package executor runs single statements on a borrowed connection under a deadline.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/united-manufacturing-hub/sqlgateway/internal"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/metrics"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/pool"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
	"go.uber.org/zap"
)

// KeyCase controls how result column names are cased.
type KeyCase string

const (
	KeyCasePreserve KeyCase = "preserve"
	KeyCaseLower    KeyCase = "lower"
	KeyCaseUpper    KeyCase = "upper"
)

// ParseKeyCase accepts preserve, lower and upper. Empty means preserve.
func ParseKeyCase(s string) (KeyCase, error) {
	switch KeyCase(strings.ToLower(strings.TrimSpace(s))) {
	case "", KeyCasePreserve:
		return KeyCasePreserve, nil
	case KeyCaseLower:
		return KeyCaseLower, nil
	case KeyCaseUpper:
		return KeyCaseUpper, nil
	}
	return "", standarderrors.InvalidArgument("unknown key case %q", s)
}

// Apply trims name and cases it.
func (k KeyCase) Apply(name string) string {
	name = strings.TrimSpace(name)
	switch k {
	case KeyCaseLower:
		return strings.ToLower(name)
	case KeyCaseUpper:
		return strings.ToUpper(name)
	}
	return name
}

type Options struct {
	// DefaultTimeout is used when a call passes a timeout <= 0.
	DefaultTimeout time.Duration
	KeyCase        KeyCase
}

// DefaultTimeout applies when Options.DefaultTimeout is not set.
const DefaultTimeout = 30 * time.Second

type Executor struct {
	pool pool.Provider
	opts Options
}

func New(p pool.Provider, opts Options) *Executor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.KeyCase == "" {
		opts.KeyCase = KeyCasePreserve
	}
	return &Executor{pool: p, opts: opts}
}

// WithKeyCase returns an executor on the same pool with a different column casing.
func (e *Executor) WithKeyCase(k KeyCase) *Executor {
	opts := e.opts
	opts.KeyCase = k
	return &Executor{pool: e.pool, opts: opts}
}

func (e *Executor) KeyCase() KeyCase {
	return e.opts.KeyCase
}

// RunQuery runs a statement producing rows.
func (e *Executor) RunQuery(ctx context.Context, stmt datamodel.Statement, timeout time.Duration) (datamodel.QueryResult, error) {
	var result datamodel.QueryResult
	err := e.run(ctx, metrics.KindQuery, stmt, timeout, func(ctx context.Context, q pool.Querier, sql string, args []any) error {
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		result, err = Collect(rows, e.opts.KeyCase)
		return err
	})
	if err != nil {
		return datamodel.QueryResult{}, err
	}
	return result, nil
}

// RunCommand runs a statement for its effect. With stmt.Returning set, the first
// returned row carries the generated key.
func (e *Executor) RunCommand(ctx context.Context, stmt datamodel.Statement, timeout time.Duration) (datamodel.ExecuteResult, error) {
	var result datamodel.ExecuteResult
	err := e.run(ctx, metrics.KindCommand, stmt, timeout, func(ctx context.Context, q pool.Querier, sql string, args []any) error {
		if stmt.Returning == "" {
			tag, err := q.Exec(ctx, sql, args...)
			if err != nil {
				return err
			}
			result.AffectedRows = tag.RowsAffected()
			return nil
		}

		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		returned, err := Collect(rows, e.opts.KeyCase)
		if err != nil {
			return err
		}
		result.AffectedRows = int64(returned.Count)
		if returned.Count > 0 && len(returned.Columns) > 0 {
			id := returned.Rows[0][returned.Columns[0]]
			result.GeneratedID = &id
		}
		return nil
	})
	if err != nil {
		return datamodel.ExecuteResult{}, err
	}
	return result, nil
}

type statementFunc func(ctx context.Context, q pool.Querier, sql string, args []any) error

func (e *Executor) run(ctx context.Context, kind string, stmt datamodel.Statement, timeout time.Duration, fn statementFunc) error {
	if timeout <= 0 {
		timeout = e.opts.DefaultTimeout
	}
	fingerprint := internal.Fingerprint(stmt.SQL)
	start := time.Now()

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		metrics.ObserveStatement(kind, metrics.OutcomeError, time.Since(start))
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(e.pool.Context(), cancel)
	defer stop()

	zap.S().Debugf("Running %s %s with %d parameters", kind, fingerprint, len(stmt.Params))

	done := make(chan error, 1)
	go func() {
		done <- fn(runCtx, conn, Rebind(stmt.SQL), stmt.Args())
	}()

	select {
	case err = <-done:
		if err == nil {
			conn.Release()
			metrics.ObserveStatement(kind, metrics.OutcomeSuccess, time.Since(start))
			return nil
		}
		if runCtx.Err() != nil {
			conn.Discard()
			return e.interrupted(ctx, kind, fingerprint, timeout, start)
		}
		conn.Release()
		metrics.ObserveStatement(kind, metrics.OutcomeError, time.Since(start))
		return StatementFailed(fingerprint, err)

	case <-runCtx.Done():
		// The driver call is abandoned, its session state is unknown.
		go func() {
			<-done
			conn.Discard()
		}()
		return e.interrupted(ctx, kind, fingerprint, timeout, start)
	}
}

func (e *Executor) interrupted(ctx context.Context, kind string, fingerprint string, timeout time.Duration, start time.Time) error {
	switch {
	case e.pool.Context().Err() != nil:
		metrics.ObserveStatement(kind, metrics.OutcomeError, time.Since(start))
		return fmt.Errorf("%s %s interrupted: %w", kind, fingerprint, standarderrors.ErrPoolClosed)
	case ctx.Err() != nil:
		metrics.ObserveStatement(kind, metrics.OutcomeError, time.Since(start))
		return fmt.Errorf("%s %s cancelled: %w", kind, fingerprint, ctx.Err())
	}
	metrics.ObserveStatement(kind, metrics.OutcomeTimeout, time.Since(start))
	zap.S().Warnf("%s %s exceeded %s, discarding its connection", kind, fingerprint, timeout)
	return fmt.Errorf("%s %s exceeded %s: %w", kind, fingerprint, timeout, standarderrors.ErrStatementTimeout)
}

// StatementFailed converts a driver error into a StatementError.
func StatementFailed(fingerprint string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return standarderrors.NewStatementError(fingerprint, pgErr.Message, pgErr.Code, err)
	}
	return standarderrors.NewStatementError(fingerprint, internal.SanitizeString(err.Error()), "", err)
}

// Collect reads all rows and closes them. Column names are normalized with keyCase.
func Collect(rows pgx.Rows, keyCase KeyCase) (datamodel.QueryResult, error) {
	defer rows.Close()

	descriptions := rows.FieldDescriptions()
	columns := make([]string, len(descriptions))
	for i, d := range descriptions {
		columns[i] = keyCase.Apply(d.Name)
	}

	result := datamodel.QueryResult{Columns: columns, Rows: []datamodel.Row{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return datamodel.QueryResult{}, err
		}
		row := make(datamodel.Row, len(columns))
		for i, c := range columns {
			if i < len(values) {
				row[c] = datamodel.FromDriver(values[i])
			} else {
				row[c] = datamodel.Null()
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return datamodel.QueryResult{}, err
	}
	result.Count = len(result.Rows)
	return result, nil
}
