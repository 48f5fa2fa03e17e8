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
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/crud"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/gateway"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/guard"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/jobs"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

type handlers struct {
	gateway *gateway.Gateway
}

type statementRequest struct {
	SQL       string `json:"sql"`
	Params    []any  `json:"params"`
	TimeoutMs int64  `json:"timeoutMs"`
}

type transactionRequest struct {
	Operations []statementRequest `json:"operations"`
	Isolation  string             `json:"isolation"`
}

type jobRequest struct {
	ID     string `json:"id"`
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

// query keys of row endpoints that are not equality filters
var reservedQueryKeys = map[string]struct{}{
	"page":     {},
	"limit":    {},
	"offset":   {},
	"columns":  {},
	"returnId": {},
}

// ---------------------- metadata ----------------------

func (h *handlers) getDatabaseInfo(c *gin.Context) {
	info, err := h.gateway.GetDatabaseInfo(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handlers) getTables(c *gin.Context) {
	tables, err := h.gateway.GetTables(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

func (h *handlers) getTableSchema(c *gin.Context) {
	schema, err := h.gateway.GetTableSchema(c.Request.Context(), c.Param("table"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

// ---------------------- rows ----------------------

func (h *handlers) selectRows(c *gin.Context) {
	paging, err := pagingOf(c)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}
	res, err := h.gateway.Select(c.Request.Context(), c.Param("table"), columnsOf(c), filtersOf(c), paging)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) selectRowByID(c *gin.Context) {
	row, err := h.gateway.SelectByID(c.Request.Context(), c.Param("table"), idValue(c.Param("id")))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *handlers) insertRow(c *gin.Context) {
	data, err := fieldsOf(c)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	if c.Query("returnId") == "true" {
		id, err := h.gateway.InsertAndReturnID(c.Request.Context(), c.Param("table"), data)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
		return
	}

	res, err := h.gateway.Insert(c.Request.Context(), c.Param("table"), data)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *handlers) updateRowByID(c *gin.Context) {
	data, err := fieldsOf(c)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}
	affected, err := h.gateway.UpdateByID(c.Request.Context(), c.Param("table"), idValue(c.Param("id")), data)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, datamodel.ExecuteResult{AffectedRows: affected})
}

func (h *handlers) deleteRowByID(c *gin.Context) {
	affected, err := h.gateway.DeleteByID(c.Request.Context(), c.Param("table"), idValue(c.Param("id")))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, datamodel.ExecuteResult{AffectedRows: affected})
}

func (h *handlers) existsByID(c *gin.Context) {
	ok, err := h.gateway.ExistsByID(c.Request.Context(), c.Param("table"), idValue(c.Param("id")))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": ok})
}

func (h *handlers) count(c *gin.Context) {
	n, err := h.gateway.Count(c.Request.Context(), c.Param("table"), filtersOf(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *handlers) exists(c *gin.Context) {
	ok, err := h.gateway.Exists(c.Request.Context(), c.Param("table"), filtersOf(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": ok})
}

// ---------------------- raw statements ----------------------

func (h *handlers) executeQuery(c *gin.Context) {
	var req statementRequest
	stmt, err := decodeStatement(c, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	res, err := h.gateway.ExecuteQuery(c.Request.Context(), stmt.SQL, stmt.Params, timeout)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) executeCommand(c *gin.Context) {
	var req statementRequest
	stmt, err := decodeStatement(c, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	res, err := h.gateway.ExecuteCommand(c.Request.Context(), stmt.SQL, stmt.Params)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) executeTransaction(c *gin.Context) {
	var req transactionRequest
	if err := decodeBody(c, &req); err != nil {
		handleInvalidInputError(c, err)
		return
	}
	isolation, err := datamodel.ParseIsolationLevel(req.Isolation)
	if err != nil {
		handleError(c, err)
		return
	}

	ops := make([]datamodel.Statement, 0, len(req.Operations))
	for _, op := range req.Operations {
		stmt, err := vetStatement(op.SQL, op.Params)
		if err != nil {
			handleError(c, err)
			return
		}
		ops = append(ops, stmt)
	}

	results, err := h.gateway.ExecuteTransaction(c.Request.Context(), ops, isolation)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// ---------------------- jobs ----------------------

func (h *handlers) submitJob(c *gin.Context) {
	var req jobRequest
	if err := decodeBody(c, &req); err != nil {
		handleInvalidInputError(c, err)
		return
	}
	stmt, err := vetStatement(req.SQL, req.Params)
	if err != nil {
		handleError(c, err)
		return
	}
	job, err := h.gateway.SubmitAsync(req.ID, stmt.SQL, stmt.Params)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *handlers) jobStatus(c *gin.Context) {
	job, err := h.gateway.JobStatus(c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handlers) jobResult(c *gin.Context) {
	job, err := h.gateway.JobResult(c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if job.Status == jobs.StatusProcessing {
		c.JSON(http.StatusAccepted, job)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handlers) evictJob(c *gin.Context) {
	if err := h.gateway.EvictJob(c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------------------- request parsing ----------------------

// decodeBody decodes the JSON body, keeping numbers exact.
func decodeBody(c *gin.Context, v any) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeStatement(c *gin.Context, req *statementRequest) (datamodel.Statement, error) {
	if err := decodeBody(c, req); err != nil {
		return datamodel.Statement{}, standarderrors.InvalidArgument("invalid body: %s", err)
	}
	return vetStatement(req.SQL, req.Params)
}

// vetStatement runs raw SQL through the guard and converts its parameters.
func vetStatement(sql string, params []any) (datamodel.Statement, error) {
	if err := guard.Validate(sql); err != nil {
		return datamodel.Statement{}, err
	}
	values, err := datamodel.Values(params...)
	if err != nil {
		return datamodel.Statement{}, err
	}
	return datamodel.NewStatement(sql, values...), nil
}

func fieldsOf(c *gin.Context) (datamodel.Fields, error) {
	var data map[string]any
	if err := decodeBody(c, &data); err != nil {
		return nil, err
	}
	return datamodel.FieldsFromMap(data)
}

func pagingOf(c *gin.Context) (datamodel.Paging, error) {
	var paging datamodel.Paging
	var err error
	if s := c.Query("page"); s != "" {
		if paging.Page, err = strconv.Atoi(s); err != nil {
			return paging, err
		}
	}
	if s := c.Query("limit"); s != "" {
		if paging.Limit, err = strconv.Atoi(s); err != nil {
			return paging, err
		}
	}
	if s := c.Query("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil {
			return paging, err
		}
		paging.Offset = &offset
	}
	// MaxLimit is the strictest bound for an unset limit.
	if _, err := paging.Window(datamodel.MaxLimit); err != nil {
		return paging, err
	}
	return paging, nil
}

func columnsOf(c *gin.Context) []string {
	var columns []string
	for _, col := range strings.Split(c.Query("columns"), ",") {
		if col = strings.TrimSpace(col); col != "" {
			columns = append(columns, col)
		}
	}
	return columns
}

// filtersOf turns the non reserved query keys into equality conditions, ordered by key.
func filtersOf(c *gin.Context) crud.Predicate {
	query := c.Request.URL.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		if _, ok := reservedQueryKeys[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var predicates []crud.Predicate
	for _, k := range keys {
		for _, v := range query[k] {
			predicates = append(predicates, crud.Eq(k, queryValue(v)))
		}
	}
	return crud.And(predicates...)
}

// queryValue passes a query string value as text, PostgreSQL casts it to the column type.
// Only the literal null becomes an IS NULL condition.
func queryValue(s string) datamodel.Value {
	if strings.EqualFold(s, "null") {
		return datamodel.Null()
	}
	return datamodel.String(s)
}

// idValue passes a path id as text so that keys like "007" keep their leading zeros.
func idValue(s string) datamodel.Value {
	return datamodel.String(s)
}
