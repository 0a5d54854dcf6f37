// Package sqlutil provides Postgres quoting and literal rendering helpers.
package sqlutil

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// QuoteIdentifier quotes a SQL identifier (schema, table or column name)
// with double quotes and escapes any double quotes within the identifier.
// Callers always pass raw names; quoting an already quoted name escapes it again.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

// QualifiedName returns "schema"."name". An empty schema resolves to public.
func QualifiedName(schema, name string) string {
	if schema == "" {
		schema = "public"
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(name)
}

// QuoteLiteral quotes a SQL string literal. Backslashes switch the literal to
// the E'' escape form so the result is safe regardless of standard_conforming_strings.
func QuoteLiteral(s string) string {
	return strings.TrimSpace(pq.QuoteLiteral(s))
}

// Literal renders a Go value as an inline SQL literal.
func Literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(val)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return formatFloat(float64(val))
	case float64:
		return formatFloat(val)
	case json.Number:
		if _, err := strconv.ParseFloat(val.String(), 64); err == nil {
			return val.String()
		}
		return QuoteLiteral(val.String())
	case string:
		return QuoteLiteral(val)
	case []byte:
		return QuoteLiteral(string(val))
	case time.Time:
		return QuoteLiteral(val.Format(time.RFC3339Nano))
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return "NULL"
		}
		return QuoteLiteral(string(encoded))
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return QuoteLiteral(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
