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

// Package guard rejects raw SQL that contains constructs the gateway does not forward.
//
// Validate is a textual heuristic, not a parser. It works on the raw text, so a
// forbidden keyword inside a string literal is rejected as well (false positive) and
// constructs it does not know about pass (false negative). Statements generated by
// the crud package do not need to go through it.
package guard

import (
	"regexp"
	"strings"

	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

// AllowedKeywords are the keywords a statement may start with.
var AllowedKeywords = []string{"SELECT", "INSERT", "UPDATE", "DELETE", "EXECUTE", "CALL", "CREATE", "DROP"}

var (
	leadingKeyword = regexp.MustCompile(`^([A-Za-z]+)`)

	forbidden = []struct {
		pattern *regexp.Regexp
		reason  string
	}{
		{regexp.MustCompile(`(?i)\bALTER\s+(TABLE|DATABASE)\b`), "ALTER TABLE/DATABASE is not allowed"},
		{regexp.MustCompile(`(?i)\bGRANT\b`), "GRANT is not allowed"},
		{regexp.MustCompile(`(?i)\bREVOKE\b`), "REVOKE is not allowed"},
		{regexp.MustCompile(`(?i)\bEXECUTE\s+AS\b`), "EXECUTE AS is not allowed"},
		{regexp.MustCompile(`--`), "inline comments are not allowed"},
		{regexp.MustCompile(`/\*`), "block comments are not allowed"},
		// a terminator followed by anything but whitespace starts a second statement
		{regexp.MustCompile(`;\s*\S`), "multiple statements are not allowed"},
	}
)

// Validate returns an error matching standarderrors.ErrUnsafeStatement if sql does not
// start with one of AllowedKeywords or contains a forbidden construct.
func Validate(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return &standarderrors.UnsafeStatementError{Reason: "empty statement"}
	}

	keyword := strings.ToUpper(leadingKeyword.FindString(trimmed))
	if !isAllowed(keyword) {
		return &standarderrors.UnsafeStatementError{Reason: "statement must start with one of " + strings.Join(AllowedKeywords, ", ")}
	}

	for _, f := range forbidden {
		if f.pattern.MatchString(trimmed) {
			return &standarderrors.UnsafeStatementError{Reason: f.reason}
		}
	}
	return nil
}

func isAllowed(keyword string) bool {
	for _, k := range AllowedKeywords {
		if k == keyword {
			return true
		}
	}
	return false
}
