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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatementErrorMatchesSentinel(t *testing.T) {
	driverErr := errors.New("duplicate key value violates unique constraint")
	err := fmt.Errorf("insert: %w", NewStatementError("abc", driverErr.Error(), "23505", driverErr))

	assert.ErrorIs(t, err, ErrStatementFailed)
	assert.ErrorIs(t, err, driverErr)
	assert.NotErrorIs(t, err, ErrTransactionFailed)

	var se *StatementError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "23505", se.Code)
	assert.Contains(t, err.Error(), "SQLSTATE 23505")
}

func TestTransactionErrorWrapsCause(t *testing.T) {
	cause := NewStatementError("abc", "syntax error", "42601", nil)
	err := NewTransactionError(1, cause)

	assert.ErrorIs(t, err, ErrTransactionFailed)
	assert.ErrorIs(t, err, ErrStatementFailed)
	assert.Equal(t, "transaction_failed", Kind(err))

	// already wrapped errors keep their original index
	again := NewTransactionError(5, err)
	var te *TransactionError
	assert.True(t, errors.As(again, &te))
	assert.Equal(t, 1, te.Index)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "pool_exhausted", Kind(fmt.Errorf("acquire: %w", ErrPoolExhausted)))
	assert.Equal(t, "unsafe_statement", Kind(&UnsafeStatementError{Reason: "comment"}))
	assert.Equal(t, "invalid_argument", Kind(InvalidArgument("bad table %q", "x y")))
	assert.Equal(t, "internal", Kind(errors.New("boom")))
}
