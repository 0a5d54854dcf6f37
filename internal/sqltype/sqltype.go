// Package sqltype classifies Postgres column types for row queries.
// Formats are udt names (text, jsonb, _int4) and data types are
// information_schema names (text, ARRAY, USER-DEFINED); all matching is case-insensitive.
package sqltype

import "strings"

// textFormats are formats whose values can grow without bound.
var textFormats = map[string]struct{}{
	"text":              {},
	"varchar":           {},
	"character varying": {},
	"json":              {},
	"jsonb":             {},
}

// largeDataTypes are data types whose values are truncated when selected.
var largeDataTypes = map[string]struct{}{
	// binary and document types
	"bytea":  {},
	"xml":    {},
	"hstore": {},
	"lo":     {},
	// array aliases
	"_text":     {},
	"_varchar":  {},
	"_json":     {},
	"_jsonb":    {},
	"uuid[]":    {},
	"text[]":    {},
	"varchar[]": {},
	// embeddings and spatial
	"vector":    {},
	"geometry":  {},
	"geography": {},
	// full text search
	"tsvector": {},
	"tsquery":  {},
	// ranges
	"daterange": {},
	"tsrange":   {},
	"tstzrange": {},
	"numrange":  {},
	"int4range": {},
	"int8range": {},
	// extensions
	"cube":     {},
	"ltree":    {},
	"lquery":   {},
	"jsonpath": {},
	"citext":   {},
}

var numericFormats = map[string]struct{}{
	"int2":             {},
	"int4":             {},
	"int8":             {},
	"float4":           {},
	"float8":           {},
	"numeric":          {},
	"oid":              {},
	"smallint":         {},
	"integer":          {},
	"bigint":           {},
	"real":             {},
	"double precision": {},
	"decimal":          {},
}

// ShouldTruncate reports whether a column value must be cast to text and
// cut down before it is returned. Rules are evaluated in order; the first
// match wins.
func ShouldTruncate(format, dataType string) bool {
	f := strings.ToLower(strings.TrimSpace(format))
	dt := strings.ToLower(strings.TrimSpace(dataType))

	if _, ok := textFormats[f]; ok {
		return true
	}
	if _, ok := largeDataTypes[dt]; ok {
		return true
	}
	if dt == "array" {
		return true
	}
	// Extension types (custom vector or geometry wrappers) surface as user-defined or domain.
	// information_schema reports this in data_type, so both fields are checked.
	if f == "user-defined" || f == "domain" || dt == "user-defined" || dt == "domain" {
		return true
	}
	if strings.Contains(dt, "vector") {
		return true
	}
	if strings.HasPrefix(dt, "_") {
		return true
	}
	return false
}

// IsNumericFormat reports whether filter values for the format should be coerced to numbers.
func IsNumericFormat(format string) bool {
	_, ok := numericFormats[strings.ToLower(strings.TrimSpace(format))]
	return ok
}

// IsArray reports whether a column holds an array, either by data type or
// by the leading underscore Postgres uses for array udt names.
func IsArray(format, dataType string) bool {
	if strings.EqualFold(strings.TrimSpace(dataType), "array") {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(format), "_") ||
		strings.HasPrefix(strings.TrimSpace(dataType), "_")
}
