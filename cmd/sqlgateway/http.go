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
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/gateway"
	"go.uber.org/zap"
)

// setupRouter registers the API routes on a new gin engine.
func setupRouter(g *gateway.Gateway) *gin.Engine {
	router := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	h := &handlers{gateway: g}
	v1 := router.Group("/api/v1")
	{
		v1.GET("/info", h.getDatabaseInfo)
		v1.GET("/tables", h.getTables)
		v1.GET("/tables/:table/schema", h.getTableSchema)

		v1.GET("/tables/:table/rows", h.selectRows)
		v1.POST("/tables/:table/rows", h.insertRow)
		v1.GET("/tables/:table/rows/:id", h.selectRowByID)
		v1.PUT("/tables/:table/rows/:id", h.updateRowByID)
		v1.DELETE("/tables/:table/rows/:id", h.deleteRowByID)
		v1.GET("/tables/:table/rows/:id/exists", h.existsByID)
		v1.GET("/tables/:table/count", h.count)
		v1.GET("/tables/:table/exists", h.exists)

		v1.POST("/query", h.executeQuery)
		v1.POST("/execute", h.executeCommand)
		v1.POST("/transaction", h.executeTransaction)

		v1.POST("/jobs", h.submitJob)
		v1.GET("/jobs/:id", h.jobStatus)
		v1.GET("/jobs/:id/result", h.jobResult)
		v1.DELETE("/jobs/:id", h.evictJob)
	}
	return router
}
