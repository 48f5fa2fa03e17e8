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

package datamodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

func window(t *testing.T, p Paging, defaultLimit int) Window {
	t.Helper()
	w, err := p.Window(defaultLimit)
	require.NoError(t, err)
	return w
}

func TestWindowFromPage(t *testing.T) {
	for _, limit := range []int{1, 7, 100, 999, 1000} {
		for _, page := range []int{1, 2, 3, 50} {
			w := window(t, Paging{Page: page, Limit: limit}, DefaultLimit)
			assert.Equal(t, (page-1)*limit, w.Offset)
			assert.Equal(t, limit, w.Limit)
			assert.Equal(t, w.Offset+1, w.First())
			assert.Equal(t, w.Offset+limit, w.Last())
		}
	}
}

func TestWindowDefaults(t *testing.T) {
	w := window(t, Paging{}, 0)
	assert.Equal(t, Window{Offset: 0, Limit: 100}, w)

	w = window(t, Paging{Page: 3}, 25)
	assert.Equal(t, Window{Offset: 50, Limit: 25}, w)

	w = window(t, Paging{Limit: 5000}, DefaultLimit)
	assert.Equal(t, MaxLimit, w.Limit)
}

func TestWindowExplicitOffset(t *testing.T) {
	offset := 13
	w := window(t, Paging{Page: 4, Limit: 10, Offset: &offset}, DefaultLimit)
	assert.Equal(t, Window{Offset: 13, Limit: 10}, w)

	negative := -3
	w = window(t, Paging{Offset: &negative}, DefaultLimit)
	assert.Equal(t, 0, w.Offset)
}

func TestWindowRejectsOverflow(t *testing.T) {
	_, err := Paging{Page: math.MaxInt/10 + 2, Limit: 1000}.Window(DefaultLimit)
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)

	_, err = Paging{Page: math.MaxInt/1000 + 1, Limit: 1000}.Window(DefaultLimit)
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)

	w := window(t, Paging{Page: math.MaxInt / 1000, Limit: 1000}, DefaultLimit)
	assert.Equal(t, math.MaxInt/1000*1000, w.Last())

	offset := math.MaxInt - 5
	_, err = Paging{Offset: &offset, Limit: 10}.Window(DefaultLimit)
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)
}
