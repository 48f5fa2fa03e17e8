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
	"strings"

	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota
	ReadUncommitted
	RepeatableRead
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

// ParseIsolationLevel accepts the SQL names with spaces, underscores or dashes.
// An empty string selects ReadCommitted, "snapshot" selects RepeatableRead.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer("_", " ", "-", " ").Replace(normalized)
	switch normalized {
	case "", "READ COMMITTED":
		return ReadCommitted, nil
	case "READ UNCOMMITTED":
		return ReadUncommitted, nil
	case "REPEATABLE READ", "SNAPSHOT":
		return RepeatableRead, nil
	case "SERIALIZABLE":
		return Serializable, nil
	}
	return ReadCommitted, standarderrors.InvalidArgument("unknown isolation level %q", s)
}
