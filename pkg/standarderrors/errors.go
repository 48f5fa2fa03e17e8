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

package standarderrors

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolUnavailable is returned when the pool could not be initialized.
	ErrPoolUnavailable = errors.New("connection pool unavailable")

	// ErrPoolExhausted is returned when no connection became free within the acquisition wait.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrPoolClosed is returned for every acquisition after Shutdown and for
	// operations that were still in flight when the pool shut down.
	ErrPoolClosed = errors.New("connection pool closed")

	// ErrStatementTimeout is returned when a statement exceeded its deadline.
	// The connection that ran it has been discarded.
	ErrStatementTimeout = errors.New("statement timeout")

	// ErrStatementFailed is returned when the backend rejected a statement.
	// Use errors.As with *StatementError to get the driver message.
	ErrStatementFailed = errors.New("statement failed")

	// ErrUnsafeStatement is returned by the SQL guard.
	ErrUnsafeStatement = errors.New("unsafe statement")

	// ErrTransactionFailed is returned when any statement of a transaction failed.
	// The transaction has been rolled back.
	ErrTransactionFailed = errors.New("transaction failed")

	ErrTableNotFound  = errors.New("table not found")
	ErrRecordNotFound = errors.New("record not found")
	ErrJobNotFound    = errors.New("job not found")

	// ErrDuplicateJob is returned when a job id is already tracked.
	ErrDuplicateJob = errors.New("job already exists")

	// ErrJobFinalized is returned when a job already reached done or error.
	ErrJobFinalized = errors.New("job already finalized")

	// ErrNoPrimaryKey is returned by id based operations on tables without a primary key.
	ErrNoPrimaryKey = errors.New("table has no primary key")

	ErrInvalidArgument = errors.New("invalid argument")
)

// StatementError carries the backend message of a rejected statement.
type StatementError struct {
	// Fingerprint identifies the statement text without exposing parameters.
	Fingerprint   string
	DriverMessage string
	// Code is the SQLSTATE if the backend sent one.
	Code string
	Err  error
}

func (e *StatementError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("statement %s failed: %s (SQLSTATE %s)", e.Fingerprint, e.DriverMessage, e.Code)
	}
	return fmt.Sprintf("statement %s failed: %s", e.Fingerprint, e.DriverMessage)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

func (e *StatementError) Is(target error) bool {
	return target == ErrStatementFailed
}

// TransactionError wraps the error of the first failing statement of a transaction.
type TransactionError struct {
	// Index of the failing operation, -1 if begin or commit failed.
	Index int
	Cause error
}

func (e *TransactionError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("transaction failed: %s", e.Cause)
	}
	return fmt.Sprintf("transaction failed at operation %d: %s", e.Index, e.Cause)
}

func (e *TransactionError) Unwrap() error {
	return e.Cause
}

func (e *TransactionError) Is(target error) bool {
	return target == ErrTransactionFailed
}

// UnsafeStatementError names the rule the SQL guard tripped over.
type UnsafeStatementError struct {
	Reason string
}

func (e *UnsafeStatementError) Error() string {
	return fmt.Sprintf("unsafe statement: %s", e.Reason)
}

func (e *UnsafeStatementError) Is(target error) bool {
	return target == ErrUnsafeStatement
}

// NewStatementError builds a StatementError from a driver error.
func NewStatementError(fingerprint string, driverMessage string, code string, err error) error {
	return &StatementError{
		Fingerprint:   fingerprint,
		DriverMessage: driverMessage,
		Code:          code,
		Err:           err,
	}
}

// NewTransactionError wraps cause, keeping an already wrapped TransactionError as is.
func NewTransactionError(index int, cause error) error {
	var te *TransactionError
	if errors.As(cause, &te) {
		return cause
	}
	return &TransactionError{Index: index, Cause: cause}
}

// InvalidArgument returns an error matching ErrInvalidArgument with a formatted message.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Kind returns the name of the taxonomy entry err belongs to, or "internal".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

var kinds = []struct {
	err  error
	name string
}{
	// Transaction first, its cause is one of the other kinds.
	{ErrTransactionFailed, "transaction_failed"},
	{ErrPoolUnavailable, "pool_unavailable"},
	{ErrPoolExhausted, "pool_exhausted"},
	{ErrPoolClosed, "pool_closed"},
	{ErrStatementTimeout, "statement_timeout"},
	{ErrUnsafeStatement, "unsafe_statement"},
	{ErrStatementFailed, "statement_failed"},
	{ErrTableNotFound, "table_not_found"},
	{ErrRecordNotFound, "record_not_found"},
	{ErrJobNotFound, "job_not_found"},
	{ErrDuplicateJob, "duplicate_job"},
	{ErrJobFinalized, "job_finalized"},
	{ErrNoPrimaryKey, "no_primary_key"},
	{ErrInvalidArgument, "invalid_argument"},
}
