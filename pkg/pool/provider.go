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
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the part of a database session the executor and the transaction sequencer use.
// It is implemented by *pgxpool.Conn, *pgx.Conn and the pgxmock connections.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Conn is a borrowed connection. Exactly one of Release or Discard must be called.
type Conn interface {
	Querier
	// Release returns the connection to the pool.
	Release()
	// Discard closes the connection instead of returning it. Used after timeouts,
	// when the session state is unknown.
	Discard()
}

// Provider hands out connections.
type Provider interface {
	// Acquire blocks until a connection is free. It fails with ErrPoolExhausted when the
	// acquisition wait ran out, ErrPoolUnavailable when the pool never came up and
	// ErrPoolClosed after Shutdown.
	Acquire(ctx context.Context) (Conn, error)
	// Ping reports whether a trivial statement can be run. It never blocks longer than a few seconds.
	Ping(ctx context.Context) bool
	// Shutdown closes all connections. It is irreversible.
	Shutdown()
	// Context is cancelled when Shutdown is called.
	Context() context.Context
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Role is set with SET ROLE on every new connection when not empty.
	Role string

	MinConns int32
	MaxConns int32
	// AcquireTimeout is the longest Acquire waits for a free connection.
	AcquireTimeout  time.Duration
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
	// ConnectAttempts is the number of pings tried before the pool is considered unavailable.
	ConnectAttempts int64
}

// DefaultConfig returns a config with the non connection settings filled in.
func DefaultConfig() Config {
	return Config{
		Host:            "db",
		Port:            5432,
		SSLMode:         "require",
		MinConns:        1,
		MaxConns:        10,
		AcquireTimeout:  30 * time.Second,
		MaxConnIdleTime: 5 * time.Minute,
		MaxConnLifetime: 10 * time.Minute,
		ConnectAttempts: 5,
	}
}

// ConnString renders the config as a libpq key/value connection string.
func (c Config) ConnString() string {
	parts := []string{
		"host=" + quoteConnValue(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"user=" + quoteConnValue(c.User),
		"password=" + quoteConnValue(c.Password),
		"dbname=" + quoteConnValue(c.Database),
		"sslmode=" + quoteConnValue(c.SSLMode),
	}
	return strings.Join(parts, " ")
}

// Redacted is ConnString without the password, for logging.
func (c Config) Redacted() string {
	return fmt.Sprintf("%s@%s:%d/%s [%s]", c.User, c.Host, c.Port, c.Database, c.SSLMode)
}

func quoteConnValue(v string) string {
	if v == "" {
		return "''"
	}
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
