package sqlcompile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildMetricQuery(t *testing.T) {
	t.Run("UnfilteredSum", func(t *testing.T) {
		result := BuildMetricQuery("SELECT * FROM core.fact_financials", nil,
			"core.fact_financials", "SUM", "invoice_amount")

		assert.Empty(t, result.Errors)
		assert.Equal(t,
			`SELECT SUM("invoice_amount") AS value FROM (SELECT * FROM core.fact_financials) AS metric_base`,
			result.SQL)
		assert.Empty(t, result.Parameters)
	})

	t.Run("FilteredIntroducesWhere", func(t *testing.T) {
		tree := &Filter{Column: "stage", Operator: "=", Value: "won"}
		result := BuildMetricQuery("SELECT * FROM core.fact_hubspot", tree,
			"core.fact_hubspot", "SUM", "amount")

		assert.Empty(t, result.Errors)
		assert.Contains(t, result.SQL, `WHERE "stage" = $param_0`)
		assert.Equal(t, "won", result.Parameters["param_0"])
	})

	t.Run("ExistingWhereGetsAndGroup", func(t *testing.T) {
		tree := &Filter{Column: "stage", Operator: "=", Value: "won"}
		result := BuildMetricQuery("SELECT * FROM core.fact_hubspot WHERE amount > 0", tree,
			"core.fact_hubspot", "COUNT", "deal_id")

		assert.Empty(t, result.Errors)
		assert.Contains(t, result.SQL, `WHERE amount > 0 AND ("stage" = $param_0)`)
	})

	t.Run("CountDistinct", func(t *testing.T) {
		result := BuildMetricQuery("SELECT * FROM core.fact_hubspot", nil,
			"core.fact_hubspot", "COUNT_DISTINCT", "owner")

		assert.Empty(t, result.Errors)
		assert.Contains(t, result.SQL, `COUNT(DISTINCT "owner")`)
	})

	t.Run("AggregateCaseInsensitive", func(t *testing.T) {
		result := BuildMetricQuery("SELECT * FROM core.fact_hubspot", nil,
			"core.fact_hubspot", "avg", "amount")

		assert.Empty(t, result.Errors)
		assert.Contains(t, result.SQL, `AVG("amount")`)
	})
}

func TestBuildMetricQueryValidation(t *testing.T) {
	t.Run("RejectsUnknownAggregate", func(t *testing.T) {
		result := BuildMetricQuery("SELECT * FROM core.fact_financials", nil,
			"core.fact_financials", "DROP", "invoice_amount")

		assert.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0], "Invalid aggregate function")
		assert.Empty(t, result.SQL)
	})

	t.Run("RejectsUnknownValueColumn", func(t *testing.T) {
		result := BuildMetricQuery("SELECT * FROM core.fact_financials", nil,
			"core.fact_financials", "SUM", "password")

		assert.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0], "Invalid column name")
		assert.Empty(t, result.SQL)
	})

	t.Run("RejectsUnknownSource", func(t *testing.T) {
		result := BuildMetricQuery("SELECT * FROM secrets", nil,
			"secrets", "SUM", "value")

		assert.NotEmpty(t, result.Errors)
		assert.Empty(t, result.SQL)
	})

	t.Run("FilterErrorsPropagate", func(t *testing.T) {
		tree := &Filter{Column: "not a column", Operator: "=", Value: "1"}
		result := BuildMetricQuery("SELECT * FROM core.fact_hubspot", tree,
			"core.fact_hubspot", "SUM", "amount")

		assert.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0], "Invalid column name")
		assert.Empty(t, result.SQL)
	})
}
