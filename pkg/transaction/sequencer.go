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

// Package transaction runs a list of statements atomically on one connection.
package transaction

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/united-manufacturing-hub/sqlgateway/internal"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/executor"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/metrics"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/pool"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 60 * time.Second
	rollbackTimeout = 5 * time.Second
)

var (
	leadingRowKeyword = regexp.MustCompile(`(?i)^\s*(SELECT|WITH|VALUES|SHOW|TABLE)\b`)
	returningClause   = regexp.MustCompile(`(?i)\bRETURNING\b`)
)

type Options struct {
	// Timeout bounds the whole transaction including commit.
	Timeout time.Duration
	KeyCase executor.KeyCase
}

type Sequencer struct {
	pool pool.Provider
	opts Options
}

func New(p pool.Provider, opts Options) *Sequencer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.KeyCase == "" {
		opts.KeyCase = executor.KeyCasePreserve
	}
	return &Sequencer{pool: p, opts: opts}
}

type outcome struct {
	results []datamodel.StatementResult
	discard bool
	err     error
}

// Run executes ops in order inside one transaction at the given isolation level.
// On the first failure the transaction is rolled back and a *TransactionError naming the
// failing index is returned, without partial results. On success the results are index
// aligned with ops.
func (s *Sequencer) Run(ctx context.Context, ops []datamodel.Statement, isolation datamodel.IsolationLevel) ([]datamodel.StatementResult, error) {
	if len(ops) == 0 {
		return nil, standarderrors.InvalidArgument("transaction without operations")
	}
	start := time.Now()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		metrics.ObserveStatement(metrics.KindTransaction, metrics.OutcomeError, time.Since(start))
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(s.pool.Context(), cancel)
	defer stop()

	done := make(chan outcome, 1)
	go func() {
		done <- s.sequence(runCtx, conn, ops, isolation)
	}()

	select {
	case out := <-done:
		if out.err != nil && runCtx.Err() != nil {
			conn.Discard()
			return nil, s.interrupted(ctx, start)
		}
		if out.discard {
			conn.Discard()
		} else {
			conn.Release()
		}
		if out.err != nil {
			metrics.ObserveStatement(metrics.KindTransaction, metrics.OutcomeError, time.Since(start))
			return nil, out.err
		}
		metrics.ObserveStatement(metrics.KindTransaction, metrics.OutcomeSuccess, time.Since(start))
		return out.results, nil

	case <-runCtx.Done():
		go func() {
			<-done
			conn.Discard()
		}()
		return nil, s.interrupted(ctx, start)
	}
}

func (s *Sequencer) interrupted(ctx context.Context, start time.Time) error {
	switch {
	case s.pool.Context().Err() != nil:
		metrics.ObserveStatement(metrics.KindTransaction, metrics.OutcomeError, time.Since(start))
		return standarderrors.NewTransactionError(-1, standarderrors.ErrPoolClosed)
	case ctx.Err() != nil:
		metrics.ObserveStatement(metrics.KindTransaction, metrics.OutcomeError, time.Since(start))
		return standarderrors.NewTransactionError(-1, ctx.Err())
	}
	metrics.ObserveStatement(metrics.KindTransaction, metrics.OutcomeTimeout, time.Since(start))
	zap.S().Warnf("Transaction exceeded %s, discarding its connection", s.opts.Timeout)
	return standarderrors.NewTransactionError(-1, fmt.Errorf("exceeded %s: %w", s.opts.Timeout, standarderrors.ErrStatementTimeout))
}

func (s *Sequencer) sequence(ctx context.Context, q pool.Querier, ops []datamodel.Statement, isolation datamodel.IsolationLevel) outcome {
	tx, err := q.BeginTx(ctx, pgx.TxOptions{IsoLevel: isoLevel(isolation)})
	if err != nil {
		return outcome{err: standarderrors.NewTransactionError(-1, executor.StatementFailed("begin", err))}
	}

	results := make([]datamodel.StatementResult, 0, len(ops))
	for i, op := range ops {
		res, err := s.step(ctx, tx, op)
		if err != nil {
			fingerprint := internal.Fingerprint(op.SQL)
			zap.S().Debugf("Operation %d (%s) failed, rolling back: %s", i, fingerprint, err)
			return outcome{
				discard: !rollback(tx),
				err:     standarderrors.NewTransactionError(i, executor.StatementFailed(fingerprint, err)),
			}
		}
		results = append(results, res)
	}

	if err := tx.Commit(ctx); err != nil {
		return outcome{err: standarderrors.NewTransactionError(-1, executor.StatementFailed("commit", err))}
	}
	return outcome{results: results}
}

func (s *Sequencer) step(ctx context.Context, tx pgx.Tx, op datamodel.Statement) (datamodel.StatementResult, error) {
	sql := executor.Rebind(op.SQL)
	if !ProducesRows(op) {
		tag, err := tx.Exec(ctx, sql, op.Args()...)
		if err != nil {
			return datamodel.StatementResult{}, err
		}
		return datamodel.StatementResult{AffectedRows: tag.RowsAffected()}, nil
	}

	rows, err := tx.Query(ctx, sql, op.Args()...)
	if err != nil {
		return datamodel.StatementResult{}, err
	}
	res, err := executor.Collect(rows, s.opts.KeyCase)
	if err != nil {
		return datamodel.StatementResult{}, err
	}
	return datamodel.StatementResult{Columns: res.Columns, Rows: res.Rows, AffectedRows: int64(res.Count)}, nil
}

// ProducesRows reports whether op returns a result set.
func ProducesRows(op datamodel.Statement) bool {
	return op.Returning != "" || leadingRowKeyword.MatchString(op.SQL) || returningClause.MatchString(op.SQL)
}

// rollback reports whether the session is still usable.
func rollback(tx pgx.Tx) bool {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	if err := tx.Rollback(ctx); err != nil {
		zap.S().Errorw("Rollback failed", "error", err)
		return false
	}
	return true
}

func isoLevel(l datamodel.IsolationLevel) pgx.TxIsoLevel {
	switch l {
	case datamodel.ReadUncommitted:
		return pgx.ReadUncommitted
	case datamodel.RepeatableRead:
		return pgx.RepeatableRead
	case datamodel.Serializable:
		return pgx.Serializable
	}
	return pgx.ReadCommitted
}
