package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaName(t *testing.T) {
	assert.Equal(t, "analytics_tenant_42", SchemaName(42))
	assert.Equal(t, "analytics_tenant_1", SchemaName(1))
}

func TestTenantID(t *testing.T) {
	t.Run("ValidName", func(t *testing.T) {
		id, ok := TenantID("analytics_tenant_42")
		assert.True(t, ok)
		assert.Equal(t, int64(42), id)
	})

	t.Run("WrongPrefix", func(t *testing.T) {
		_, ok := TenantID("public")
		assert.False(t, ok)

		_, ok = TenantID("analytics_company_42")
		assert.False(t, ok)
	})

	t.Run("NonNumericSuffix", func(t *testing.T) {
		_, ok := TenantID("analytics_tenant_acme")
		assert.False(t, ok)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		for _, id := range []int64{1, 7, 12345} {
			got, ok := TenantID(SchemaName(id))
			assert.True(t, ok)
			assert.Equal(t, id, got)
		}
	})
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"analytics_tenant_9"`, quoteIdent("analytics_tenant_9"))
	assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
}
