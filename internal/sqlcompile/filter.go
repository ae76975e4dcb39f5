package sqlcompile

import (
	"fmt"
	"strconv"
	"strings"
)

// Filter is a node in a filter tree: either a leaf condition
// (Column/Operator/Value) or a group (Op plus Conditions). The two shapes
// share one struct so a tree deserializes directly from client JSON.
type Filter struct {
	Column   string      `json:"column,omitempty"`
	Operator string      `json:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty"`

	Op         string   `json:"op,omitempty"`
	Conditions []Filter `json:"conditions,omitempty"`
}

// IsGroup reports whether the node is a group rather than a leaf condition
func (f *Filter) IsGroup() bool {
	return f.Op != "" || len(f.Conditions) > 0
}

// CompiledQuery is the compiler output. WhereClause carries no literal
// values; every value-bearing position references a named parameter in
// Parameters. Callers must check Errors before using any SQL.
type CompiledQuery struct {
	SQL         string                 `json:"sql,omitempty"`
	WhereClause string                 `json:"whereClause,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Errors      []string               `json:"errors,omitempty"`
}

// Valid reports whether compilation succeeded
func (q *CompiledQuery) Valid() bool {
	return len(q.Errors) == 0
}

// compiler carries the state of one recursive compile: the source's column
// whitelist, the shared parameter counter, and accumulated errors
type compiler struct {
	columns map[string]bool
	counter int
	params  map[string]interface{}
	errors  []string
}

// Compile turns a filter tree into a parameterized WHERE clause for the given
// logical source. Any validation failure anywhere in the tree aborts
// compilation: the result carries errors and no SQL.
func Compile(tree *Filter, logicalSource string) CompiledQuery {
	columns, ok := ColumnsFor(logicalSource)
	if !ok {
		return CompiledQuery{Errors: []string{fmt.Sprintf("Unknown data source: %s", logicalSource)}}
	}

	if tree == nil {
		return CompiledQuery{Errors: []string{"Filter tree is empty"}}
	}

	c := &compiler{
		columns: columns,
		params:  make(map[string]interface{}),
	}

	clause := c.compileNode(tree)
	if len(c.errors) > 0 {
		return CompiledQuery{Errors: c.errors}
	}

	return CompiledQuery{
		WhereClause: clause,
		Parameters:  c.params,
	}
}

// compileNode dispatches between groups and leaf conditions. Nested groups
// are parenthesized by compileGroup, so precedence is always explicit.
func (c *compiler) compileNode(node *Filter) string {
	if node.IsGroup() {
		return c.compileGroup(node)
	}
	return c.compileCondition(node)
}

func (c *compiler) compileGroup(group *Filter) string {
	op := strings.ToUpper(strings.TrimSpace(group.Op))
	if op != "AND" && op != "OR" {
		c.fail(fmt.Sprintf("Invalid group operator: %s", group.Op))
		return ""
	}

	if len(group.Conditions) == 0 {
		c.fail("Filter group requires at least one condition")
		return ""
	}

	clauses := make([]string, 0, len(group.Conditions))
	for i := range group.Conditions {
		child := &group.Conditions[i]

		clause := c.compileNode(child)
		if clause == "" {
			continue
		}
		if child.IsGroup() {
			clause = "(" + clause + ")"
		}
		clauses = append(clauses, clause)
	}

	return strings.Join(clauses, " "+op+" ")
}

func (c *compiler) compileCondition(cond *Filter) string {
	if !c.columns[cond.Column] {
		c.fail(fmt.Sprintf("Invalid column name: %s", cond.Column))
		return ""
	}

	op := strings.ToUpper(strings.TrimSpace(cond.Operator))
	if !operators[op] {
		c.fail(fmt.Sprintf("Invalid operator: %s", cond.Operator))
		return ""
	}

	column := quoteIdent(cond.Column)

	switch op {
	case "IS NULL", "IS NOT NULL":
		return fmt.Sprintf("%s %s", column, op)

	case "IN", "NOT IN":
		values := listValues(cond.Value)
		if len(values) == 0 {
			c.fail(fmt.Sprintf("Operator %s requires at least one value for column %s", op, cond.Column))
			return ""
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = "$" + c.addParam(sanitizeValue(v))
		}
		return fmt.Sprintf("%s %s (%s)", column, op, strings.Join(placeholders, ", "))

	case "LIKE", "NOT LIKE":
		pattern := "%" + valueString(cond.Value) + "%"
		return fmt.Sprintf("%s %s $%s", column, op, c.addParam(pattern))

	default:
		return fmt.Sprintf("%s %s $%s", column, op, c.addParam(sanitizeValue(cond.Value)))
	}
}

// addParam registers a value under the next generated parameter name and
// returns that name. The counter is shared across the whole compile so
// nested groups never collide.
func (c *compiler) addParam(value interface{}) string {
	name := fmt.Sprintf("param_%d", c.counter)
	c.counter++
	c.params[name] = value
	return name
}

func (c *compiler) fail(msg string) {
	c.errors = append(c.errors, msg)
}

// listValues normalizes an IN/NOT IN value into a list: native slices pass
// through, comma-separated strings are split and trimmed, empty entries are
// dropped.
func listValues(value interface{}) []interface{} {
	switch v := value.(type) {
	case []interface{}:
		return v
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case string:
		var out []interface{}
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
		return out
	case nil:
		return nil
	default:
		return []interface{}{v}
	}
}

// sanitizeValue normalizes a filter value once, centrally: numeric-looking
// strings become numbers, boolean-looking strings become booleans, other
// strings are trimmed, and anything else is stringified.
func sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		switch strings.ToLower(s) {
		case "true", "yes":
			return true
		case "false", "no":
			return false
		}
		return s
	case bool, int, int32, int64, float32, float64:
		return v
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// valueString renders a value as the string a LIKE pattern wraps
func valueString(value interface{}) string {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprintf("%v", value))
}

// quoteIdent double-quotes a column identifier. Columns come from the
// whitelist, so this guards shape, not content.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
