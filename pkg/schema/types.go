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

package schema

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// typeNames maps built in type OIDs to their SQL names.
var typeNames = map[uint32]string{
	pgtype.BoolOID:        "boolean",
	pgtype.ByteaOID:       "bytea",
	pgtype.NameOID:        "name",
	pgtype.Int8OID:        "bigint",
	pgtype.Int2OID:        "smallint",
	pgtype.Int4OID:        "integer",
	pgtype.TextOID:        "text",
	pgtype.OIDOID:         "oid",
	pgtype.JSONOID:        "json",
	pgtype.Float4OID:      "real",
	pgtype.Float8OID:      "double precision",
	pgtype.InetOID:        "inet",
	pgtype.CIDROID:        "cidr",
	pgtype.BPCharOID:      "character",
	pgtype.VarcharOID:     "character varying",
	pgtype.DateOID:        "date",
	pgtype.TimeOID:        "time without time zone",
	pgtype.TimestampOID:   "timestamp without time zone",
	pgtype.TimestamptzOID: "timestamp with time zone",
	pgtype.IntervalOID:    "interval",
	pgtype.NumericOID:     "numeric",
	pgtype.UUIDOID:        "uuid",
	pgtype.JSONBOID:       "jsonb",
	pgtype.Int4ArrayOID:   "integer[]",
	pgtype.Int8ArrayOID:   "bigint[]",
	pgtype.TextArrayOID:   "text[]",
}

// typeName resolves oid, using fallback for types outside the table (domains, enums, extensions).
func typeName(oid uint32, fallback string) string {
	if name, ok := typeNames[oid]; ok {
		return name
	}
	return fallback
}

// typmod header size, see VARHDRSZ
const varHeaderSize = 4

// decodeTypmod extracts length, precision and scale from a type modifier.
// A typmod of -1 means the column has none.
func decodeTypmod(oid uint32, typmod int32) (length *int, precision *int, scale *int) {
	if typmod < 0 {
		return nil, nil, nil
	}
	switch oid {
	case pgtype.VarcharOID, pgtype.BPCharOID:
		if typmod >= varHeaderSize {
			l := int(typmod - varHeaderSize)
			length = &l
		}
	case pgtype.NumericOID:
		if typmod >= varHeaderSize {
			p := int(((typmod - varHeaderSize) >> 16) & 0xffff)
			s := int((typmod - varHeaderSize) & 0xffff)
			precision, scale = &p, &s
		}
	case pgtype.TimeOID, pgtype.TimestampOID, pgtype.TimestamptzOID:
		p := int(typmod)
		precision = &p
	}
	return length, precision, scale
}
