package transform

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func artifactNames(artifacts []Artifact) []string {
	names := make([]string, len(artifacts))
	for i, a := range artifacts {
		names[i] = a.Name
	}
	return names
}

func TestPlanAllRawPresent(t *testing.T) {
	available := map[string]bool{
		"raw_jira_issues":   true,
		"raw_jira_projects": true,
	}

	build, skipped := Plan(jiraCatalog, available)

	assert.Empty(t, skipped)
	assert.Equal(t, []string{
		"stg_jira_issues",
		"stg_jira_projects",
		"int_jira_issues",
		"int_jira_projects",
		"core_jira_issues",
		"core_jira_projects",
	}, artifactNames(build))
}

func TestPlanSkipsMissingRawLineage(t *testing.T) {
	// raw_jira_projects never landed: every projects artifact is skipped,
	// issues build normally.
	available := map[string]bool{
		"raw_jira_issues":   true,
		"raw_jira_projects": false,
	}

	build, skipped := Plan(jiraCatalog, available)

	assert.Equal(t, []string{
		"stg_jira_issues",
		"int_jira_issues",
		"core_jira_issues",
	}, artifactNames(build))
	assert.Equal(t, []string{
		"stg_jira_projects",
		"int_jira_projects",
		"core_jira_projects",
	}, artifactNames(skipped))
}

func TestPlanNothingAvailable(t *testing.T) {
	build, skipped := Plan(harvestCatalog, map[string]bool{})

	assert.Empty(t, build)
	assert.Len(t, skipped, len(harvestCatalog))
}

func TestPlanIsDeterministic(t *testing.T) {
	available := map[string]bool{
		"raw_harvest_time_entries": true,
		"raw_harvest_invoices":     true,
	}

	first, firstSkipped := Plan(harvestCatalog, available)
	second, secondSkipped := Plan(harvestCatalog, available)

	assert.Equal(t, artifactNames(first), artifactNames(second))
	assert.Equal(t, artifactNames(firstSkipped), artifactNames(secondSkipped))
}

func TestCatalogOrdering(t *testing.T) {
	// Build order must satisfy dependencies within each catalog: every
	// dependency is either a raw table or an artifact defined earlier.
	for sourceType, catalog := range catalogs {
		t.Run(sourceType, func(t *testing.T) {
			seen := map[string]bool{}
			for _, artifact := range catalog {
				for _, dep := range artifact.DependsOn {
					if strings.HasPrefix(dep, "raw_") {
						continue
					}
					assert.True(t, seen[dep],
						"%s depends on %s which is defined later", artifact.Name, dep)
				}
				seen[artifact.Name] = true
			}
		})
	}
}

func TestCatalogNaming(t *testing.T) {
	for sourceType, catalog := range catalogs {
		t.Run(sourceType, func(t *testing.T) {
			for _, artifact := range catalog {
				layered := strings.HasPrefix(artifact.Name, "stg_") ||
					strings.HasPrefix(artifact.Name, "int_") ||
					strings.HasPrefix(artifact.Name, "core_")
				assert.True(t, layered, "artifact %s has no layer prefix", artifact.Name)
				assert.Contains(t, artifact.Name, "_"+sourceType+"_")

				if strings.HasPrefix(artifact.Name, "core_") {
					assert.Equal(t, View, artifact.Kind, "core artifacts must be views")
				} else {
					assert.Equal(t, Table, artifact.Kind)
				}
			}
		})
	}
}

func TestCatalogSQLTargetsSchemaPlaceholder(t *testing.T) {
	for sourceType, catalog := range catalogs {
		t.Run(sourceType, func(t *testing.T) {
			for _, artifact := range catalog {
				assert.Contains(t, artifact.SQL, "%[1]s."+artifact.Name,
					"artifact %s must create itself inside the schema placeholder", artifact.Name)

				rendered := fmt.Sprintf(artifact.SQL, "analytics_tenant_42")
				assert.NotContains(t, rendered, "%[1]s")
				assert.NotContains(t, rendered, "%!")
			}
		})
	}
}
