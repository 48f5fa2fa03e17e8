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

// Package schema reads table, column and server metadata from the PostgreSQL catalogs.
package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/sqlgateway/internal"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/crud"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/metrics"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
	"go.uber.org/zap"
)

// Runner is implemented by *executor.Executor. Result columns are expected in lower case.
type Runner interface {
	RunQuery(ctx context.Context, stmt datamodel.Statement, timeout time.Duration) (datamodel.QueryResult, error)
}

type Table struct {
	Name    string `json:"name"`
	Schema  string `json:"schema"`
	Type    string `json:"type"`
	Comment string `json:"comment,omitempty"`
}

type Column struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default,omitempty"`
	Length     *int    `json:"length,omitempty"`
	Precision  *int    `json:"precision,omitempty"`
	Scale      *int    `json:"scale,omitempty"`
	Position   int     `json:"position"`
	PrimaryKey bool    `json:"primaryKey"`
}

// DatabaseInfo holds server facts keyed by lower case names.
type DatabaseInfo map[string]string

const Engine = "postgresql"

const relationKinds = `('r', 'v', 'm', 'p', 'f')`

const listTablesQuery = `SELECT c.relname AS name,
       n.nspname AS schema,
       CASE c.relkind
         WHEN 'v' THEN 'view'
         WHEN 'm' THEN 'materialized view'
         WHEN 'f' THEN 'foreign table'
         ELSE 'table'
       END AS type,
       obj_description(c.oid, 'pg_class') AS comment
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ` + relationKinds + `
  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
  AND n.nspname NOT LIKE 'pg_toast%'
ORDER BY c.relname, n.nspname`

const columnsQuery = `SELECT a.attname AS name,
       a.atttypid AS type_oid,
       a.atttypmod AS type_mod,
       format_type(a.atttypid, a.atttypmod) AS formatted_type,
       NOT a.attnotnull AS nullable,
       pg_get_expr(d.adbin, d.adrelid) AS column_default,
       a.attnum AS position,
       EXISTS (
         SELECT 1 FROM pg_index i
         WHERE i.indrelid = a.attrelid AND i.indisprimary AND a.attnum = ANY (i.indkey)
       ) AS primary_key
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE c.relname = lower(?)
  AND %s
  AND c.relkind IN ` + relationKinds + `
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum`

const tableExistsQuery = `SELECT 1 AS found
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relname = lower(?)
  AND %s
  AND c.relkind IN ` + relationKinds + `
LIMIT 1`

const databaseInfoQuery = `SELECT current_database() AS database_name,
       version() AS version,
       current_setting('server_version') AS server_version,
       current_setting('block_size') AS page_size,
       current_setting('server_encoding') AS encoding,
       current_user AS "current_user"`

type Options struct {
	// CacheBytes is the size of the metadata cache. 0 uses DefaultCacheBytes.
	CacheBytes int
	// TTL is how long metadata is cached. <= 0 disables caching.
	TTL time.Duration
}

const DefaultCacheBytes = 4 * 1024 * 1024

type Introspector struct {
	runner Runner
	cache  *freecache.Cache
	ttl    time.Duration
}

func New(runner Runner, opts Options) *Introspector {
	if opts.CacheBytes <= 0 {
		opts.CacheBytes = DefaultCacheBytes
	}
	i := &Introspector{runner: runner, ttl: opts.TTL}
	if opts.TTL > 0 {
		i.cache = freecache.NewCache(opts.CacheBytes)
	}
	return i
}

// ListTables returns the user relations ordered by name.
func (i *Introspector) ListTables(ctx context.Context) ([]Table, error) {
	return cached(i, internal.CacheKey("tables"), func() ([]Table, error) {
		res, err := i.runner.RunQuery(ctx, datamodel.NewStatement(listTablesQuery), 0)
		if err != nil {
			return nil, err
		}
		tables := make([]Table, 0, res.Count)
		for _, row := range res.Rows {
			tables = append(tables, Table{
				Name:    text(row["name"]),
				Schema:  text(row["schema"]),
				Type:    text(row["type"]),
				Comment: text(row["comment"]),
			})
		}
		return tables, nil
	})
}

// ColumnsOf describes the columns of table in ordinal order.
// An unknown table fails with ErrTableNotFound.
func (i *Introspector) ColumnsOf(ctx context.Context, table string) ([]Column, error) {
	if !crud.ValidIdentifier(table) {
		return nil, standarderrors.InvalidArgument("invalid table name %q", table)
	}
	return cached(i, internal.CacheKey("columns", strings.ToLower(table)), func() ([]Column, error) {
		res, err := i.runner.RunQuery(ctx, scoped(columnsQuery, table), 0)
		if err != nil {
			return nil, err
		}
		if res.Count == 0 {
			return nil, fmt.Errorf("%w: %s", standarderrors.ErrTableNotFound, table)
		}

		columns := make([]Column, 0, res.Count)
		for _, row := range res.Rows {
			oid, _ := row["type_oid"].AsInt()
			typmod, _ := row["type_mod"].AsInt()
			position, _ := row["position"].AsInt()
			nullable, _ := row["nullable"].AsBool()
			primaryKey, _ := row["primary_key"].AsBool()

			c := Column{
				Name:       text(row["name"]),
				Type:       typeName(uint32(oid), text(row["formatted_type"])),
				Nullable:   nullable,
				Position:   int(position),
				PrimaryKey: primaryKey,
			}
			if d := row["column_default"]; !d.IsNull() {
				def := d.String()
				c.Default = &def
			}
			c.Length, c.Precision, c.Scale = decodeTypmod(uint32(oid), int32(typmod))
			columns = append(columns, c)
		}
		return columns, nil
	})
}

// TableExists reports whether table names a user relation visible on the search path.
func (i *Introspector) TableExists(ctx context.Context, table string) (bool, error) {
	if !crud.ValidIdentifier(table) {
		return false, nil
	}
	// Only hits are cached, a table created elsewhere shows up on the next call.
	return cachedIf(i, internal.CacheKey("exists", strings.ToLower(table)), func() (bool, error) {
		res, err := i.runner.RunQuery(ctx, scoped(tableExistsQuery, table), 0)
		if err != nil {
			return false, err
		}
		return res.Count > 0, nil
	}, func(found bool) bool { return found })
}

// DatabaseInfo describes the connected server.
func (i *Introspector) DatabaseInfo(ctx context.Context) (DatabaseInfo, error) {
	return cached(i, internal.CacheKey("database"), func() (DatabaseInfo, error) {
		res, err := i.runner.RunQuery(ctx, datamodel.NewStatement(databaseInfoQuery), 0)
		if err != nil {
			return nil, err
		}
		info := DatabaseInfo{"engine": Engine, "dialect": Engine}
		if res.Count == 0 {
			return info, nil
		}
		for column, v := range res.Rows[0] {
			info[strings.ToLower(column)] = text(v)
		}
		return info, nil
	})
}

// Invalidate drops all cached metadata, e.g. after DDL.
func (i *Introspector) Invalidate() {
	if i.cache != nil {
		i.cache.Clear()
	}
}

func cached[T any](i *Introspector, key []byte, fill func() (T, error)) (T, error) {
	return cachedIf(i, key, fill, nil)
}

// cachedIf is cached for values keep accepts. A nil keep accepts every value.
func cachedIf[T any](i *Introspector, key []byte, fill func() (T, error), keep func(T) bool) (T, error) {
	if i.cache != nil {
		if b, err := i.cache.Get(key); err == nil {
			var v T
			if err := json.Unmarshal(b, &v); err == nil {
				metrics.ObserveCache("schema", true)
				return v, nil
			}
		}
		metrics.ObserveCache("schema", false)
	}

	v, err := fill()
	if err != nil || i.cache == nil || (keep != nil && !keep(v)) {
		return v, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		zap.S().Warnf("Failed to encode metadata for cache: %s", err)
		return v, nil
	}
	seconds := int(i.ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	if err := i.cache.Set(key, b, seconds); err != nil {
		zap.S().Debugf("Metadata not cached: %s", err)
	}
	return v, nil
}

// scoped fills the schema condition of query. Unqualified names are looked up on the search path.
func scoped(query string, table string) datamodel.Statement {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return datamodel.NewStatement(fmt.Sprintf(query, "n.nspname = lower(?)"), datamodel.String(name), datamodel.String(schema))
	}
	return datamodel.NewStatement(fmt.Sprintf(query, "n.nspname = ANY (current_schemas(false))"), datamodel.String(table))
}

func text(v datamodel.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.String()
}
