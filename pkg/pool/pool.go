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

package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/united-manufacturing-hub/sqlgateway/internal"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/metrics"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
	"go.uber.org/zap"
)

// Pool is the production Provider, backed by pgxpool.
type Pool struct {
	db      *pgxpool.Pool
	cfg     Config
	initErr error
	closed  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ Provider = (*Pool)(nil)

// New creates the pool and pings the database until it answers or cfg.ConnectAttempts are used up.
// The returned pool is never nil. If err is not nil the pool is unavailable and every
// Acquire fails with ErrPoolUnavailable.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	lifetime, cancel := context.WithCancel(context.Background())
	p := &Pool{cfg: cfg, ctx: lifetime, cancel: cancel}

	zap.S().Infof("Connecting to %s", cfg.Redacted())

	parseConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		p.initErr = fmt.Errorf("failed to parse config: %w", err)
		return p, p.unavailable()
	}
	if cfg.MaxConns > 0 {
		parseConfig.MaxConns = cfg.MaxConns
	}
	parseConfig.MinConns = cfg.MinConns
	if parseConfig.MinConns > parseConfig.MaxConns {
		parseConfig.MinConns = parseConfig.MaxConns
	}
	if cfg.MaxConnIdleTime > 0 {
		parseConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.MaxConnLifetime > 0 {
		parseConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	parseConfig.BeforeConnect = func(ctx context.Context, conn *pgx.ConnConfig) error {
		zap.S().Debugf("BeforeConnect: %s:%d/%s", conn.Host, conn.Port, conn.Database)
		return nil
	}
	parseConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if cfg.Role == "" {
			return nil
		}
		_, err := conn.Exec(ctx, "SET ROLE "+pgx.Identifier{cfg.Role}.Sanitize())
		if err != nil {
			return fmt.Errorf("failed to set role %s: %w", cfg.Role, err)
		}
		return nil
	}
	parseConfig.BeforeClose = func(conn *pgx.Conn) {
		zap.S().Debugf("BeforeClose: conn: %v", conn.PgConn().PID())
	}

	p.db, err = pgxpool.NewWithConfig(ctx, parseConfig)
	if err != nil {
		p.initErr = fmt.Errorf("failed to open database: %w", err)
		return p, p.unavailable()
	}

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	err = internal.RetryBackedOff(ctx, attempts, 250*time.Millisecond, 10*time.Second, func(ctx context.Context) error {
		pingCtx, cncl := context.WithTimeout(ctx, 5*time.Second)
		defer cncl()
		return p.db.Ping(pingCtx)
	})
	if err != nil {
		p.db.Close()
		p.db = nil
		p.initErr = fmt.Errorf("database not reachable after %d attempts: %w", attempts, err)
		return p, p.unavailable()
	}
	return p, nil
}

func (p *Pool) unavailable() error {
	return fmt.Errorf("%w: %s", standarderrors.ErrPoolUnavailable, p.initErr)
}

func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	if p.closed.Load() {
		return nil, standarderrors.ErrPoolClosed
	}
	if p.db == nil {
		metrics.IncAcquireFailure("unavailable")
		return nil, p.unavailable()
	}

	acquireCtx, cancel := withAcquireTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	c, err := p.db.Acquire(acquireCtx)
	if err != nil {
		return nil, classifyAcquireError(ctx, p.ctx, err)
	}
	return &pooledConn{Conn: c}, nil
}

// Ping borrows a connection and runs SELECT 1 on it.
func (p *Pool) Ping(ctx context.Context) bool {
	return ping(ctx, p)
}

// Shutdown cancels in-flight operations and closes every connection.
func (p *Pool) Shutdown() {
	if p.closed.Swap(true) {
		return
	}
	p.cancel()
	if p.db != nil {
		zap.S().Infof("Closing database pool")
		p.db.Close()
	}
}

func (p *Pool) Context() context.Context {
	return p.ctx
}

// Stats returns the pgxpool statistics, nil if the pool is unavailable.
func (p *Pool) Stats() metrics.PoolStats {
	if p.db == nil {
		return nil
	}
	return p.db.Stat()
}

// HealthCheck reports the database reachability to the healthcheck handler.
func (p *Pool) HealthCheck() healthcheck.Check {
	return func() error {
		if p.Ping(context.Background()) {
			return nil
		}
		if p.initErr != nil {
			return p.unavailable()
		}
		return errors.New("healthcheck failed to reach database")
	}
}

type pooledConn struct {
	*pgxpool.Conn
}

func (c *pooledConn) Discard() {
	raw := c.Conn.Hijack()
	ctx, cncl := context.WithTimeout(context.Background(), 5*time.Second)
	defer cncl()
	if err := raw.Close(ctx); err != nil {
		zap.S().Debugf("Failed to close discarded connection: %s", err)
	}
	metrics.IncDiscardedConnections()
}

func withAcquireTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyAcquireError maps a failed acquisition onto the pool error taxonomy.
// A cancelled caller context is passed through so the caller can report its own timeout.
func classifyAcquireError(callerCtx context.Context, lifetime context.Context, err error) error {
	switch {
	case lifetime.Err() != nil:
		metrics.IncAcquireFailure("closed")
		return standarderrors.ErrPoolClosed
	case callerCtx.Err() != nil:
		metrics.IncAcquireFailure("cancelled")
		return fmt.Errorf("acquire: %w", callerCtx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		metrics.IncAcquireFailure("exhausted")
		return standarderrors.ErrPoolExhausted
	default:
		metrics.IncAcquireFailure("unavailable")
		return fmt.Errorf("%w: %s", standarderrors.ErrPoolUnavailable, err)
	}
}

func ping(ctx context.Context, p Provider) bool {
	ctx, cncl := context.WithTimeout(ctx, 5*time.Second)
	defer cncl()
	c, err := p.Acquire(ctx)
	if err != nil {
		zap.S().Debugf("Failed to acquire connection for ping: %s", err)
		return false
	}
	if _, err = c.Exec(ctx, "SELECT 1"); err != nil {
		zap.S().Debugf("Failed to ping database: %s", err)
		c.Discard()
		return false
	}
	c.Release()
	return true
}
