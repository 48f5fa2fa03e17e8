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

	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Paging is the pagination input of a select. Zero Page and Limit mean unset,
// a nil Offset is derived from the page.
type Paging struct {
	Page   int
	Limit  int
	Offset *int
}

// Window is a normalized row range.
type Window struct {
	Offset int
	Limit  int
}

// Window normalizes the paging input. defaultLimit <= 0 falls back to DefaultLimit.
// A page or offset whose last row would not fit an int is rejected.
func (p Paging) Window(defaultLimit int) (Window, error) {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	page := p.Page
	if page < 1 {
		page = 1
	}

	if p.Offset != nil {
		offset := *p.Offset
		if offset < 0 {
			offset = 0
		}
		if offset > math.MaxInt-limit {
			return Window{}, standarderrors.InvalidArgument("offset %d out of range", offset)
		}
		return Window{Offset: offset, Limit: limit}, nil
	}
	if page > math.MaxInt/limit {
		return Window{}, standarderrors.InvalidArgument("page %d out of range for limit %d", page, limit)
	}
	return Window{Offset: (page - 1) * limit, Limit: limit}, nil
}

// First is the 1-based index of the first row in the window.
func (w Window) First() int {
	return w.Offset + 1
}

// Last is the 1-based index of the last row in the window, inclusive.
func (w Window) Last() int {
	return w.Offset + w.Limit
}
