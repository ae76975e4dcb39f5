package sqlcompile

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompileLeafConditions(t *testing.T) {
	t.Run("Equality", func(t *testing.T) {
		result := Compile(&Filter{Column: "stage", Operator: "=", Value: "closed"}, "core.fact_hubspot")

		assert.Empty(t, result.Errors)
		assert.Equal(t, `"stage" = $param_0`, result.WhereClause)
		assert.Equal(t, "closed", result.Parameters["param_0"])
	})

	t.Run("NumericCoercion", func(t *testing.T) {
		result := Compile(&Filter{Column: "amount", Operator: ">", Value: "100"}, "core.fact_hubspot")

		assert.Empty(t, result.Errors)
		assert.Equal(t, `"amount" > $param_0`, result.WhereClause)
		assert.Equal(t, int64(100), result.Parameters["param_0"])
	})

	t.Run("FloatCoercion", func(t *testing.T) {
		result := Compile(&Filter{Column: "amount", Operator: ">=", Value: "99.5"}, "core.fact_hubspot")

		assert.Empty(t, result.Errors)
		assert.Equal(t, 99.5, result.Parameters["param_0"])
	})

	t.Run("BooleanCoercion", func(t *testing.T) {
		result := Compile(&Filter{Column: "is_won", Operator: "=", Value: "yes"}, "core.fact_hubspot")

		assert.Empty(t, result.Errors)
		assert.Equal(t, true, result.Parameters["param_0"])
	})

	t.Run("LikeWrapsWildcards", func(t *testing.T) {
		result := Compile(&Filter{Column: "deal_name", Operator: "LIKE", Value: "acme"}, "core.fact_hubspot")

		assert.Empty(t, result.Errors)
		assert.Equal(t, `"deal_name" LIKE $param_0`, result.WhereClause)
		assert.Equal(t, "%acme%", result.Parameters["param_0"])
	})

	t.Run("IsNullTakesNoParameter", func(t *testing.T) {
		result := Compile(&Filter{Column: "close_date", Operator: "IS NULL"}, "core.fact_hubspot")

		assert.Empty(t, result.Errors)
		assert.Equal(t, `"close_date" IS NULL`, result.WhereClause)
		assert.Empty(t, result.Parameters)
	})
}

func TestCompileInOperator(t *testing.T) {
	t.Run("CommaSeparatedString", func(t *testing.T) {
		result := Compile(&Filter{Column: "stage", Operator: "IN", Value: "a, b ,c"}, "core.fact_hubspot")

		assert.Empty(t, result.Errors)
		assert.Equal(t, `"stage" IN ($param_0, $param_1, $param_2)`, result.WhereClause)
		assert.Equal(t, "a", result.Parameters["param_0"])
		assert.Equal(t, "b", result.Parameters["param_1"])
		assert.Equal(t, "c", result.Parameters["param_2"])
	})

	t.Run("NativeList", func(t *testing.T) {
		result := Compile(&Filter{Column: "stage", Operator: "NOT IN", Value: []interface{}{"won", "lost"}}, "core.fact_hubspot")

		assert.Empty(t, result.Errors)
		assert.Equal(t, `"stage" NOT IN ($param_0, $param_1)`, result.WhereClause)
		assert.Len(t, result.Parameters, 2)
	})

	t.Run("EmptyListRejected", func(t *testing.T) {
		result := Compile(&Filter{Column: "stage", Operator: "IN", Value: " , , "}, "core.fact_hubspot")

		assert.NotEmpty(t, result.Errors)
		assert.Empty(t, result.WhereClause)
	})
}

func TestCompileGroups(t *testing.T) {
	t.Run("AndGroup", func(t *testing.T) {
		tree := &Filter{
			Op: "AND",
			Conditions: []Filter{
				{Column: "stage", Operator: "=", Value: "open"},
				{Column: "amount", Operator: ">", Value: "1000"},
			},
		}
		result := Compile(tree, "core.fact_hubspot")

		assert.Empty(t, result.Errors)
		assert.Equal(t, `"stage" = $param_0 AND "amount" > $param_1`, result.WhereClause)
	})

	t.Run("NestedGroupsAreParenthesized", func(t *testing.T) {
		tree := &Filter{
			Op: "AND",
			Conditions: []Filter{
				{Column: "amount", Operator: ">", Value: "0"},
				{
					Op: "OR",
					Conditions: []Filter{
						{Column: "stage", Operator: "=", Value: "won"},
						{Column: "stage", Operator: "=", Value: "lost"},
					},
				},
			},
		}
		result := Compile(tree, "core.fact_hubspot")

		assert.Empty(t, result.Errors)
		assert.Equal(t, `"amount" > $param_0 AND ("stage" = $param_1 OR "stage" = $param_2)`, result.WhereClause)
	})

	t.Run("ParameterCounterSharedAcrossNesting", func(t *testing.T) {
		tree := &Filter{
			Op: "OR",
			Conditions: []Filter{
				{Op: "AND", Conditions: []Filter{
					{Column: "stage", Operator: "=", Value: "a"},
					{Column: "stage", Operator: "=", Value: "b"},
				}},
				{Op: "AND", Conditions: []Filter{
					{Column: "stage", Operator: "=", Value: "c"},
					{Column: "stage", Operator: "=", Value: "d"},
				}},
			},
		}
		result := Compile(tree, "core.fact_hubspot")

		assert.Empty(t, result.Errors)
		assert.Len(t, result.Parameters, 4)
		for i := 0; i < 4; i++ {
			assert.Contains(t, result.Parameters, fmt.Sprintf("param_%d", i))
		}
	})

	t.Run("EmptyGroupRejected", func(t *testing.T) {
		result := Compile(&Filter{Op: "AND"}, "core.fact_hubspot")

		assert.NotEmpty(t, result.Errors)
		assert.Empty(t, result.WhereClause)
	})

	t.Run("InvalidGroupOperatorRejected", func(t *testing.T) {
		tree := &Filter{
			Op:         "XOR",
			Conditions: []Filter{{Column: "stage", Operator: "=", Value: "x"}},
		}
		result := Compile(tree, "core.fact_hubspot")

		assert.NotEmpty(t, result.Errors)
		assert.Empty(t, result.WhereClause)
	})
}

func TestCompileValidation(t *testing.T) {
	t.Run("ColumnWithSpaceRejected", func(t *testing.T) {
		tree := &Filter{
			Op:         "AND",
			Conditions: []Filter{{Column: "amount credit card", Operator: "=", Value: "100"}},
		}
		result := Compile(tree, "core.fact_financials")

		assert.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0], "Invalid column name")
		assert.Empty(t, result.WhereClause)
		assert.Empty(t, result.Parameters)
	})

	t.Run("UnknownColumnRejected", func(t *testing.T) {
		result := Compile(&Filter{Column: "password", Operator: "=", Value: "x"}, "core.fact_financials")

		assert.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0], "Invalid column name")
		assert.Empty(t, result.WhereClause)
	})

	t.Run("UnknownOperatorRejected", func(t *testing.T) {
		result := Compile(&Filter{Column: "amount", Operator: "REGEXP", Value: "x"}, "core.fact_financials")

		assert.NotEmpty(t, result.Errors)
		assert.Empty(t, result.WhereClause)
	})

	t.Run("UnknownSourceFailsImmediately", func(t *testing.T) {
		result := Compile(&Filter{Column: "amount", Operator: "=", Value: "1"}, "core.fact_bogus")

		assert.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0], "Unknown data source")
		assert.Empty(t, result.WhereClause)
	})

	t.Run("OneBadLeafAbortsWholeTree", func(t *testing.T) {
		tree := &Filter{
			Op: "AND",
			Conditions: []Filter{
				{Column: "amount", Operator: "=", Value: "1"},
				{Column: "nope", Operator: "=", Value: "2"},
			},
		}
		result := Compile(tree, "core.fact_financials")

		assert.NotEmpty(t, result.Errors)
		assert.Empty(t, result.WhereClause)
	})
}

func TestCompileNoEmbeddedLiterals(t *testing.T) {
	trees := []*Filter{
		{Column: "stage", Operator: "=", Value: "secret-literal"},
		{Column: "stage", Operator: "IN", Value: "alpha,beta,gamma"},
		{Column: "deal_name", Operator: "LIKE", Value: "needle"},
		{Op: "AND", Conditions: []Filter{
			{Column: "amount", Operator: ">", Value: "12345"},
			{Column: "stage", Operator: "!=", Value: "closed-won"},
		}},
	}

	for i, tree := range trees {
		t.Run(fmt.Sprintf("Tree%d", i), func(t *testing.T) {
			result := Compile(tree, "core.fact_hubspot")
			assert.Empty(t, result.Errors)

			for _, value := range result.Parameters {
				s := fmt.Sprintf("%v", value)
				s = strings.Trim(s, "%")
				assert.NotContains(t, result.WhereClause, s,
					"parameter value leaked into the clause")
			}
		})
	}
}
