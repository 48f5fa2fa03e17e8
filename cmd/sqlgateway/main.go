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
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/sqlgateway/internal"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/gateway"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/logger"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/metrics"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/pool"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var buildtime string

func main() {
	// Initialize zap logging
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	logFormat, _ := env.GetAsString("LOGGING_FORMAT", false, "JSON")     //nolint:errcheck
	logger.Initialize(logLevel, logger.ParseFormat(logFormat))
	defer func() {
		_ = zap.L().Sync()
	}()

	zap.S().Infof("This is sqlgateway build date: %s", buildtime)

	cfg, err := loadConfig()
	if err != nil {
		zap.S().Fatalf("Failed to load configuration: %s", err)
	}

	zap.S().Debugf("Connecting to %s", cfg.Pool.Redacted())
	db, err := pool.New(context.Background(), cfg.Pool)
	if err != nil {
		// the pool stays usable and reports every acquisition as unavailable
		zap.S().Errorf("Database unavailable: %s", err)
	}
	if err = metrics.RegisterPool(prometheus.DefaultRegisterer, db.Stats); err != nil {
		zap.S().Errorf("Failed to register pool metrics: %s", err)
	}

	gw, err := gateway.New(db, cfg.Gateway)
	if err != nil {
		zap.S().Fatalf("Failed to set up gateway: %s", err)
	}

	var shuttingDown atomic.Bool
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	health.AddReadinessCheck("database", db.HealthCheck())
	health.AddReadinessCheck("shutdownEnabled", func() error {
		if shuttingDown.Load() {
			return fmt.Errorf("shutdown")
		}
		return nil
	})

	gin.SetMode(gin.ReleaseMode)
	api := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           setupRouter(gw),
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthServer := &http.Server{Addr: "0.0.0.0:8086", Handler: health, ReadHeaderTimeout: 10 * time.Second}
	metricsServer := &http.Server{Addr: ":2112", Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}

	shutdownHandler := internal.NewGracefulShutdown(func(ctx context.Context) error {
		shuttingDown.Store(true)
		zap.S().Infof("Stopping API")
		apiErr := api.Shutdown(ctx)

		zap.S().Infof("Waiting for background jobs")
		waitErr := gw.Wait(ctx)

		db.Shutdown()
		_ = metricsServer.Close()
		_ = healthServer.Close()
		return errors.Join(apiErr, waitErr)
	})

	// the context is cancelled as soon as one server fails
	servers, serversCtx := errgroup.WithContext(context.Background())
	for _, srv := range []*http.Server{api, healthServer, metricsServer} {
		srv := srv
		servers.Go(func() error {
			zap.S().Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.S().Errorf("Server on %s failed: %s", srv.Addr, err)
				return err
			}
			return nil
		})
	}
	go func() {
		<-serversCtx.Done()
		shutdownHandler.Shutdown()
	}()

	shutdownHandler.Wait()
}
