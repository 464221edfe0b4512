package convert

import "strings"

const (
	sourceExt = ".csv"
	outputExt = ".parquet"
)

// NormalizeColumn turns a ledger header into a column name the query catalog
// accepts: spaces become underscores and letters are lowercased.
func NormalizeColumn(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// IsSource reports whether the key names a file the worker converts. The
// check is case-sensitive.
func IsSource(key string) bool {
	return strings.HasSuffix(key, sourceExt)
}

// OutputKey maps a source key to the key of its columnar copy
func OutputKey(prefix, key string) string {
	return prefix + strings.TrimSuffix(key, sourceExt) + outputExt
}
