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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EagleChen/mapmutex"
	lru "github.com/hashicorp/golang-lru"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/metrics"
	"go.uber.org/zap"
)

// QueryRunner is implemented by *executor.Executor.
type QueryRunner interface {
	RunQuery(ctx context.Context, stmt datamodel.Statement, timeout time.Duration) (datamodel.QueryResult, error)
}

const primaryKeyQuery = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.constraint_schema = tc.constraint_schema
 AND kcu.table_name = tc.table_name
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_name = lower(?)
  AND %s
ORDER BY kcu.ordinal_position
LIMIT 1`

// Keys discovers and caches primary key columns.
type Keys struct {
	runner QueryRunner
	arc    *lru.ARCCache
	mutex  *mapmutex.Mutex
}

// DefaultKeyCacheSize is the number of tables whose primary key is remembered.
const DefaultKeyCacheSize = 512

func NewKeys(runner QueryRunner, cacheSize int) (*Keys, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultKeyCacheSize
	}
	arc, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Keys{
		runner: runner,
		arc:    arc,
		// default configs: maxRetry 200, maxDelay 0.1 second, baseDelay 10ns
		mutex: mapmutex.NewCustomizedMapMutex(200, 100000000, 10, 1.1, 0.2),
	}, nil
}

// PrimaryKeyOf returns the first primary key column of table by ordinal position,
// or "" when the table has none.
func (k *Keys) PrimaryKeyOf(ctx context.Context, table string) (string, error) {
	if err := checkIdentifier("table", table); err != nil {
		return "", err
	}
	key := strings.ToLower(table)
	if column, ok := k.cached(key); ok {
		return column, nil
	}

	if k.mutex.TryLock(key) { // is another lookup already running?
		defer k.mutex.Unlock(key)
		if column, ok := k.cached(key); ok {
			return column, nil
		}
	}

	column, err := k.lookup(ctx, table)
	if err != nil {
		return "", err
	}
	k.arc.Add(key, column)
	return column, nil
}

// Forget drops the cached primary key of table, e.g. after DDL.
func (k *Keys) Forget(table string) {
	k.arc.Remove(strings.ToLower(table))
}

// Purge drops all cached primary keys.
func (k *Keys) Purge() {
	k.arc.Purge()
}

func (k *Keys) cached(key string) (string, bool) {
	v, ok := k.arc.Get(key)
	metrics.ObserveCache("primary_key", ok)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (k *Keys) lookup(ctx context.Context, table string) (string, error) {
	var stmt datamodel.Statement
	if schema, name, ok := strings.Cut(table, "."); ok {
		stmt = datamodel.NewStatement(
			fmt.Sprintf(primaryKeyQuery, "tc.table_schema = lower(?)"),
			datamodel.String(name), datamodel.String(schema))
	} else {
		stmt = datamodel.NewStatement(
			fmt.Sprintf(primaryKeyQuery, "tc.table_schema = ANY (current_schemas(false))"),
			datamodel.String(table))
	}

	res, err := k.runner.RunQuery(ctx, stmt, 0)
	if err != nil {
		return "", err
	}
	if res.Count == 0 || len(res.Columns) == 0 {
		zap.S().Debugf("Table %s has no primary key", table)
		return "", nil
	}
	column, _ := res.Rows[0][res.Columns[0]].AsString()
	return column, nil
}
