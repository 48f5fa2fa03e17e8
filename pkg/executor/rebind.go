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

package executor

import (
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
)

// positional matches a $n placeholder that is not part of an identifier.
var positional = regexp.MustCompile(`(^|[^A-Za-z0-9_$])\$[0-9]`)

// Rebind turns ? placeholders into $1, $2, ... in order of appearance.
// Question marks inside string literals, quoted identifiers and dollar quoted
// bodies are kept. Text that already uses $n placeholders is returned unchanged,
// so the jsonb ?, ?| and ?& operators stay usable next to positional parameters.
func Rebind(sql string) string {
	if !strings.Contains(sql, "?") || strings.IndexByte(sql, 0) >= 0 {
		return sql
	}
	masked, quoted := maskQuoted(sql)
	if positional.MatchString(masked) {
		return sql
	}
	rebound := sqlx.Rebind(sqlx.DOLLAR, masked)
	if len(quoted) == 0 {
		return rebound
	}

	var b strings.Builder
	b.Grow(len(sql) + 8)
	for _, q := range quoted {
		i := strings.IndexByte(rebound, 0)
		b.WriteString(rebound[:i])
		b.WriteString(q)
		rebound = rebound[i+1:]
	}
	b.WriteString(rebound)
	return b.String()
}

// maskQuoted replaces every quoted section of sql with a NUL byte and returns
// the sections in order. Unterminated sections run to the end of the text.
func maskQuoted(sql string) (string, []string) {
	var b strings.Builder
	var quoted []string
	start := 0
	for i := 0; i < len(sql); {
		end := -1
		switch c := sql[i]; {
		case c == '\'':
			end = closeSingle(sql, i, i > 0 && (sql[i-1] == 'E' || sql[i-1] == 'e') && (i < 2 || !identChar(sql[i-2])))
		case c == '"':
			end = closeDouble(sql, i)
		case c == '$' && (i == 0 || !identChar(sql[i-1])):
			end = closeDollar(sql, i)
		}
		if end < 0 {
			i++
			continue
		}
		b.WriteString(sql[start:i])
		b.WriteByte(0)
		quoted = append(quoted, sql[i:end])
		i, start = end, end
	}
	b.WriteString(sql[start:])
	return b.String(), quoted
}

// closeSingle returns the index after the literal opened at i.
// Doubled quotes are escapes, backslashes too in E'...' literals.
func closeSingle(sql string, i int, backslash bool) int {
	for j := i + 1; j < len(sql); j++ {
		switch sql[j] {
		case '\\':
			if backslash {
				j++
			}
		case '\'':
			if j+1 < len(sql) && sql[j+1] == '\'' {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(sql)
}

func closeDouble(sql string, i int) int {
	for j := i + 1; j < len(sql); j++ {
		if sql[j] != '"' {
			continue
		}
		if j+1 < len(sql) && sql[j+1] == '"' {
			j++
			continue
		}
		return j + 1
	}
	return len(sql)
}

// closeDollar returns the index after a $tag$ body opened at i, or -1 if i
// does not open one. $1 is a placeholder, tags never start with a digit.
func closeDollar(sql string, i int) int {
	j := i + 1
	for j < len(sql) && sql[j] != '$' {
		c := sql[j]
		if !identChar(c) || (j == i+1 && c >= '0' && c <= '9') {
			return -1
		}
		j++
	}
	if j >= len(sql) {
		return -1
	}
	tag := sql[i : j+1]
	k := strings.Index(sql[j+1:], tag)
	if k < 0 {
		return len(sql)
	}
	return j + 1 + k + len(tag)
}

func identChar(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
