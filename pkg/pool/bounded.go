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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/united-manufacturing-hub/sqlgateway/pkg/metrics"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
	"go.uber.org/zap"
)

// Dialer opens a new session for a Bounded pool.
type Dialer func(ctx context.Context) (Querier, error)

type closer interface {
	Close(ctx context.Context) error
}

// Bounded is a Provider over any Dialer. It keeps at most max sessions borrowed at
// a time and reuses released ones. It is used for tests and for callers bringing
// their own session factory.
type Bounded struct {
	dial           Dialer
	slots          chan struct{}
	acquireTimeout time.Duration

	mu   sync.Mutex
	idle []Querier

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

var _ Provider = (*Bounded)(nil)

// NewBounded returns a pool of at most max sessions. acquireTimeout <= 0 waits for the caller context only.
func NewBounded(max int, acquireTimeout time.Duration, dial Dialer) *Bounded {
	if max < 1 {
		max = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bounded{
		dial:           dial,
		slots:          make(chan struct{}, max),
		acquireTimeout: acquireTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// NewStatic returns a Bounded pool handing out exactly the given sessions.
func NewStatic(acquireTimeout time.Duration, sessions ...Querier) *Bounded {
	b := NewBounded(len(sessions), acquireTimeout, func(ctx context.Context) (Querier, error) {
		return nil, fmt.Errorf("%w: no session left", standarderrors.ErrPoolUnavailable)
	})
	b.idle = append(b.idle, sessions...)
	return b
}

func (b *Bounded) Acquire(ctx context.Context) (Conn, error) {
	if b.closed.Load() {
		return nil, standarderrors.ErrPoolClosed
	}

	acquireCtx, cancel := withAcquireTimeout(ctx, b.acquireTimeout)
	defer cancel()

	select {
	case b.slots <- struct{}{}:
	case <-b.ctx.Done():
		return nil, classifyAcquireError(ctx, b.ctx, b.ctx.Err())
	case <-acquireCtx.Done():
		return nil, classifyAcquireError(ctx, b.ctx, acquireCtx.Err())
	}

	if b.closed.Load() {
		<-b.slots
		return nil, standarderrors.ErrPoolClosed
	}

	if q := b.popIdle(); q != nil {
		return &boundedConn{Querier: q, pool: b}, nil
	}

	q, err := b.dial(acquireCtx)
	if err != nil {
		<-b.slots
		return nil, classifyAcquireError(ctx, b.ctx, err)
	}
	return &boundedConn{Querier: q, pool: b}, nil
}

func (b *Bounded) popIdle() Querier {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.idle) == 0 {
		return nil
	}
	q := b.idle[len(b.idle)-1]
	b.idle = b.idle[:len(b.idle)-1]
	return q
}

func (b *Bounded) Ping(ctx context.Context) bool {
	return ping(ctx, b)
}

// Shutdown closes the idle sessions. Borrowed sessions are closed when they come back.
func (b *Bounded) Shutdown() {
	if b.closed.Swap(true) {
		return
	}
	b.cancel()
	b.mu.Lock()
	idle := b.idle
	b.idle = nil
	b.mu.Unlock()
	for _, q := range idle {
		closeSession(q)
	}
}

func (b *Bounded) Context() context.Context {
	return b.ctx
}

// Stats implements metrics.PoolStats.
func (b *Bounded) Stats() metrics.PoolStats {
	return b
}

func (b *Bounded) AcquiredConns() int32 {
	return int32(len(b.slots))
}

func (b *Bounded) IdleConns() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int32(len(b.idle))
}

func (b *Bounded) TotalConns() int32 {
	return b.AcquiredConns() + b.IdleConns()
}

func (b *Bounded) MaxConns() int32 {
	return int32(cap(b.slots))
}

type boundedConn struct {
	Querier
	pool *Bounded
	done atomic.Bool
}

func (c *boundedConn) Release() {
	if c.done.Swap(true) {
		return
	}
	// closed is read under mu: Shutdown sets it before draining idle.
	c.pool.mu.Lock()
	closed := c.pool.closed.Load()
	if !closed {
		c.pool.idle = append(c.pool.idle, c.Querier)
	}
	c.pool.mu.Unlock()
	if closed {
		closeSession(c.Querier)
	}
	<-c.pool.slots
}

func (c *boundedConn) Discard() {
	if c.done.Swap(true) {
		return
	}
	closeSession(c.Querier)
	metrics.IncDiscardedConnections()
	<-c.pool.slots
}

func closeSession(q Querier) {
	cl, ok := q.(closer)
	if !ok {
		return
	}
	ctx, cncl := context.WithTimeout(context.Background(), 5*time.Second)
	defer cncl()
	if err := cl.Close(ctx); err != nil {
		zap.S().Debugf("Failed to close session: %s", err)
	}
}
