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

package main

import (
	"time"

	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/executor"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/gateway"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/pool"
	"github.com/united-manufacturing-hub/umh-utils/env"
)

type config struct {
	Pool     pool.Config
	Gateway  gateway.Options
	HTTPPort int
}

func loadConfig() (config, error) {
	var cfg config
	var err error

	cfg.Pool = pool.DefaultConfig()
	if cfg.Pool.Host, err = env.GetAsString("POSTGRES_HOST", false, cfg.Pool.Host); err != nil {
		return cfg, err
	}
	if cfg.Pool.Port, err = env.GetAsInt("POSTGRES_PORT", false, cfg.Pool.Port); err != nil {
		return cfg, err
	}
	if cfg.Pool.User, err = env.GetAsString("POSTGRES_USER", true, ""); err != nil {
		return cfg, err
	}
	if cfg.Pool.Password, err = env.GetAsString("POSTGRES_PASSWORD", true, ""); err != nil {
		return cfg, err
	}
	if cfg.Pool.Database, err = env.GetAsString("POSTGRES_DATABASE", true, ""); err != nil {
		return cfg, err
	}
	if cfg.Pool.SSLMode, err = env.GetAsString("POSTGRES_SSL_MODE", false, cfg.Pool.SSLMode); err != nil {
		return cfg, err
	}
	if cfg.Pool.Role, err = env.GetAsString("POSTGRES_ROLE", false, ""); err != nil {
		return cfg, err
	}

	minConns, err := env.GetAsInt("POOL_MIN_CONNS", false, int(cfg.Pool.MinConns))
	if err != nil {
		return cfg, err
	}
	maxConns, err := env.GetAsInt("POOL_MAX_CONNS", false, int(cfg.Pool.MaxConns))
	if err != nil {
		return cfg, err
	}
	cfg.Pool.MinConns, cfg.Pool.MaxConns = int32(minConns), int32(maxConns)
	if cfg.Pool.AcquireTimeout, err = millis("POOL_ACQUIRE_TIMEOUT_MS", cfg.Pool.AcquireTimeout); err != nil {
		return cfg, err
	}

	if cfg.Gateway.StatementTimeout, err = millis("STATEMENT_TIMEOUT_MS", executor.DefaultTimeout); err != nil {
		return cfg, err
	}
	if cfg.Gateway.TransactionTimeout, err = millis("TRANSACTION_TIMEOUT_MS", 60*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Gateway.AsyncTimeout, err = millis("ASYNC_JOB_TIMEOUT_MS", gateway.DefaultAsyncTimeout); err != nil {
		return cfg, err
	}
	if cfg.Gateway.JobTTL, err = seconds("JOB_TTL_SECONDS", 0); err != nil {
		return cfg, err
	}
	if cfg.Gateway.PageSize, err = env.GetAsInt("PAGE_SIZE", false, datamodel.DefaultLimit); err != nil {
		return cfg, err
	}
	if cfg.Gateway.PageSize > datamodel.MaxLimit {
		cfg.Gateway.PageSize = datamodel.MaxLimit
	}

	keyCase, err := env.GetAsString("KEY_CASE", false, string(executor.KeyCasePreserve))
	if err != nil {
		return cfg, err
	}
	if cfg.Gateway.KeyCase, err = executor.ParseKeyCase(keyCase); err != nil {
		return cfg, err
	}
	if cfg.Gateway.CheckTables, err = env.GetAsBool("CHECK_TABLES", false, true); err != nil {
		return cfg, err
	}
	if cfg.Gateway.KeyCacheSize, err = env.GetAsInt("PK_CACHE_SIZE", false, 1000); err != nil {
		return cfg, err
	}
	if cfg.Gateway.SchemaCacheBytes, err = env.GetAsInt("SCHEMA_CACHE_SIZE_BYTES", false, 10*1024*1024); err != nil {
		return cfg, err
	}
	if cfg.Gateway.SchemaCacheTTL, err = seconds("SCHEMA_CACHE_TTL_SECONDS", 30*time.Second); err != nil {
		return cfg, err
	}

	if cfg.HTTPPort, err = env.GetAsInt("HTTP_PORT", false, 8080); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func millis(key string, fallback time.Duration) (time.Duration, error) {
	ms, err := env.GetAsInt(key, false, int(fallback/time.Millisecond))
	return time.Duration(ms) * time.Millisecond, err
}

func seconds(key string, fallback time.Duration) (time.Duration, error) {
	s, err := env.GetAsInt(key, false, int(fallback/time.Second))
	return time.Duration(s) * time.Second, err
}
