package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBindNamedParams(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		sql, args := bindNamedParams("SELECT 1", nil)
		assert.Equal(t, "SELECT 1", sql)
		assert.Empty(t, args)
	})

	t.Run("OrderedByCounter", func(t *testing.T) {
		sql, args := bindNamedParams(
			`SELECT * FROM t WHERE a = $param_0 AND b = $param_1 AND c = $param_2`,
			map[string]interface{}{
				"param_0": "x",
				"param_1": int64(7),
				"param_2": true,
			})

		assert.Equal(t, `SELECT * FROM t WHERE a = $1 AND b = $2 AND c = $3`, sql)
		assert.Equal(t, []interface{}{"x", int64(7), true}, args)
	})

	t.Run("TenPlusParamsDoNotClobber", func(t *testing.T) {
		params := map[string]interface{}{}
		sql := "SELECT 1 WHERE"
		for i := 0; i < 12; i++ {
			params[paramName(i)] = i
			if i > 0 {
				sql += " AND"
			}
			sql += " c = $" + paramName(i)
		}

		bound, args := bindNamedParams(sql, params)

		assert.Len(t, args, 12)
		assert.NotContains(t, bound, "$param_")
		// $param_10 must become $11, not $2 followed by a stray zero.
		assert.Contains(t, bound, "$11")
		assert.Contains(t, bound, "$12")
		for i, arg := range args {
			assert.Equal(t, i, arg)
		}
	})
}

func paramName(i int) string {
	return fmt.Sprintf("param_%d", i)
}
