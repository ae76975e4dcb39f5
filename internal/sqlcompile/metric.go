package sqlcompile

import (
	"fmt"
	"strings"
)

// BuildMetricQuery wraps a base query in a whitelisted aggregate over a
// whitelisted value column, optionally filtered by a compiled filter tree.
// The column check here repeats the filter layer's check on purpose: neither
// layer trusts the other to have validated identifiers.
func BuildMetricQuery(baseQuery string, tree *Filter, logicalSource, aggregateFn, valueColumn string) CompiledQuery {
	var errs []string

	fn := strings.ToUpper(strings.TrimSpace(aggregateFn))
	if !aggregates[fn] {
		errs = append(errs, fmt.Sprintf("Invalid aggregate function: %s", aggregateFn))
	}

	columns, ok := ColumnsFor(logicalSource)
	if !ok {
		errs = append(errs, fmt.Sprintf("Unknown data source: %s", logicalSource))
	} else if !columns[valueColumn] {
		errs = append(errs, fmt.Sprintf("Invalid column name: %s", valueColumn))
	}

	if len(errs) > 0 {
		return CompiledQuery{Errors: errs}
	}

	query := strings.TrimSpace(baseQuery)
	params := map[string]interface{}{}

	if tree != nil {
		compiled := Compile(tree, logicalSource)
		if !compiled.Valid() {
			return CompiledQuery{Errors: compiled.Errors}
		}

		if containsWhere(query) {
			query = fmt.Sprintf("%s AND (%s)", query, compiled.WhereClause)
		} else {
			query = fmt.Sprintf("%s WHERE %s", query, compiled.WhereClause)
		}
		params = compiled.Parameters
	}

	column := quoteIdent(valueColumn)

	var aggregate string
	if fn == "COUNT_DISTINCT" {
		aggregate = fmt.Sprintf("COUNT(DISTINCT %s)", column)
	} else {
		aggregate = fmt.Sprintf("%s(%s)", fn, column)
	}

	return CompiledQuery{
		SQL:        fmt.Sprintf("SELECT %s AS value FROM (%s) AS metric_base", aggregate, query),
		Parameters: params,
	}
}

// containsWhere reports whether the base query already has a WHERE clause at
// its top level. Base queries are internally authored simple selects, so a
// token scan is sufficient.
func containsWhere(query string) bool {
	for _, token := range strings.Fields(strings.ToUpper(query)) {
		if token == "WHERE" {
			return true
		}
	}
	return false
}
