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
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/united-manufacturing-hub/sqlgateway/internal"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
	"go.uber.org/zap"
)

var kindStatus = map[string]int{
	"pool_unavailable":   http.StatusServiceUnavailable,
	"pool_exhausted":     http.StatusServiceUnavailable,
	"pool_closed":        http.StatusServiceUnavailable,
	"statement_timeout":  http.StatusGatewayTimeout,
	"unsafe_statement":   http.StatusBadRequest,
	"invalid_argument":   http.StatusBadRequest,
	"no_primary_key":     http.StatusBadRequest,
	"table_not_found":    http.StatusNotFound,
	"record_not_found":   http.StatusNotFound,
	"job_not_found":      http.StatusNotFound,
	"duplicate_job":      http.StatusConflict,
	"job_finalized":      http.StatusConflict,
	"statement_failed":   http.StatusUnprocessableEntity,
	"transaction_failed": http.StatusUnprocessableEntity,
}

func statusOf(err error) int {
	var te *standarderrors.TransactionError
	if errors.As(err, &te) && errors.Is(te.Cause, standarderrors.ErrStatementTimeout) {
		return http.StatusGatewayTimeout
	}
	if status, ok := kindStatus[standarderrors.Kind(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// handleError writes err as JSON with the status of its kind.
func handleError(c *gin.Context, err error) {
	if c == nil {
		panic("handleError: c is nil")
	}
	if err == nil {
		err = errors.New("unknown error")
	}

	status := statusOf(err)
	kind := standarderrors.Kind(err)
	erx := internal.SanitizeString(err.Error())

	body := gin.H{
		"error":   kind,
		"status":  status,
		"message": erx,
	}
	var te *standarderrors.TransactionError
	if errors.As(err, &te) && te.Index >= 0 {
		body["failedOperation"] = te.Index
	}
	var se *standarderrors.StatementError
	if errors.As(err, &se) {
		body["driverMessage"] = internal.SanitizeString(se.DriverMessage)
		if se.Code != "" {
			body["code"] = se.Code
		}
	}

	if status >= http.StatusInternalServerError {
		zap.S().Errorw("Request failed", "error", erx, "kind", kind, "route", c.FullPath())
		if kind == "internal" {
			body["stack-trace"] = string(debug.Stack())
		}
	} else {
		zap.S().Debugw("Request rejected", "error", erx, "kind", kind, "route", c.FullPath())
	}
	c.AbortWithStatusJSON(status, body)
}

func handleInvalidInputError(c *gin.Context, err error) {
	handleError(c, standarderrors.InvalidArgument("%s", err))
}
