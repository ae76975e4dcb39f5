// Package transform rebuilds the layered analytics model inside a tenant's
// schema from the raw landing tables: staging casts, integration derivations,
// and core views.
package transform

// Kind distinguishes materialized tables from views
type Kind int

const (
	// Table artifacts are materialized with CREATE TABLE ... AS
	Table Kind = iota
	// View artifacts are defined with CREATE VIEW ... AS
	View
)

// Artifact is one buildable relation in a tenant's analytics model. SQL uses
// %[1]s as the schema placeholder. DependsOn lists the relations (raw landing
// tables or earlier artifacts) the SQL reads from; an artifact whose
// dependency is absent is skipped, along with everything downstream of it.
type Artifact struct {
	Name      string
	Kind      Kind
	DependsOn []string
	SQL       string
}

// catalogs maps each source type to its artifacts in build order
var catalogs = map[string][]Artifact{
	"harvest": harvestCatalog,
	"jira":    jiraCatalog,
}

// CatalogFor returns the ordered artifact catalog for a source type. Sources
// without transforms return nil.
func CatalogFor(sourceType string) []Artifact {
	return catalogs[sourceType]
}

var harvestCatalog = []Artifact{
	{
		Name:      "stg_harvest_time_entries",
		Kind:      Table,
		DependsOn: []string{"raw_harvest_time_entries"},
		SQL: `CREATE TABLE %[1]s.stg_harvest_time_entries AS
SELECT DISTINCT
  (data->>'id')::bigint as time_entry_id,
  (data->>'spent_date')::date as spent_date,
  (data->>'hours')::numeric as hours,
  data->>'notes' as notes,
  (data->>'is_billed')::boolean as is_billed,
  (data#>>'{user,id}')::bigint as user_id,
  data#>>'{user,name}' as user_name,
  (data#>>'{client,id}')::bigint as client_id,
  data#>>'{client,name}' as client_name,
  (data#>>'{project,id}')::bigint as project_id,
  data#>>'{project,name}' as project_name,
  (data->>'billable_rate')::numeric as billable_rate,
  (data->>'cost_rate')::numeric as cost_rate,
  (data->>'created_at')::timestamp as created_at,
  (data->>'updated_at')::timestamp as updated_at
FROM %[1]s.raw_harvest_time_entries
WHERE data IS NOT NULL
  AND source_system = 'harvest'`,
	},
	{
		Name:      "stg_harvest_projects",
		Kind:      Table,
		DependsOn: []string{"raw_harvest_projects"},
		SQL: `CREATE TABLE %[1]s.stg_harvest_projects AS
SELECT DISTINCT
  (data->>'id')::bigint as project_id,
  data->>'name' as project_name,
  data->>'code' as project_code,
  (data->>'is_active')::boolean as is_active,
  (data->>'is_billable')::boolean as is_billable,
  (data->>'budget')::numeric as budget,
  (data#>>'{client,id}')::bigint as client_id,
  data#>>'{client,name}' as client_name,
  (data->>'starts_on')::date as starts_on,
  (data->>'ends_on')::date as ends_on,
  (data->>'created_at')::timestamp as created_at,
  (data->>'updated_at')::timestamp as updated_at
FROM %[1]s.raw_harvest_projects
WHERE data IS NOT NULL
  AND source_system = 'harvest'`,
	},
	{
		Name:      "stg_harvest_clients",
		Kind:      Table,
		DependsOn: []string{"raw_harvest_clients"},
		SQL: `CREATE TABLE %[1]s.stg_harvest_clients AS
SELECT DISTINCT
  (data->>'id')::bigint as client_id,
  data->>'name' as client_name,
  (data->>'is_active')::boolean as is_active,
  data->>'address' as address,
  data->>'currency' as currency,
  (data->>'created_at')::timestamp as created_at,
  (data->>'updated_at')::timestamp as updated_at
FROM %[1]s.raw_harvest_clients
WHERE data IS NOT NULL
  AND source_system = 'harvest'`,
	},
	{
		Name:      "stg_harvest_invoices",
		Kind:      Table,
		DependsOn: []string{"raw_harvest_invoices"},
		SQL: `CREATE TABLE %[1]s.stg_harvest_invoices AS
SELECT DISTINCT
  (data->>'id')::bigint as invoice_id,
  data->>'number' as invoice_number,
  (data->>'amount')::numeric as amount,
  (data->>'due_amount')::numeric as due_amount,
  data->>'state' as state,
  (data#>>'{client,id}')::bigint as client_id,
  data#>>'{client,name}' as client_name,
  (data->>'issue_date')::date as issue_date,
  (data->>'due_date')::date as due_date,
  (data->>'paid_date')::date as paid_date,
  (data->>'created_at')::timestamp as created_at,
  (data->>'updated_at')::timestamp as updated_at
FROM %[1]s.raw_harvest_invoices
WHERE data IS NOT NULL
  AND source_system = 'harvest'`,
	},
	{
		Name:      "stg_harvest_users",
		Kind:      Table,
		DependsOn: []string{"raw_harvest_users"},
		SQL: `CREATE TABLE %[1]s.stg_harvest_users AS
SELECT DISTINCT
  (data->>'id')::bigint as user_id,
  data->>'first_name' as first_name,
  data->>'last_name' as last_name,
  data->>'email' as email,
  (data->>'is_active')::boolean as is_active,
  (data->>'default_hourly_rate')::numeric as default_hourly_rate,
  (data->>'cost_rate')::numeric as cost_rate
FROM %[1]s.raw_harvest_users
WHERE data IS NOT NULL
  AND source_system = 'harvest'`,
	},
	{
		Name:      "int_harvest_time_entries",
		Kind:      Table,
		DependsOn: []string{"stg_harvest_time_entries"},
		SQL: `CREATE TABLE %[1]s.int_harvest_time_entries AS
SELECT
  time_entry_id,
  spent_date,
  hours,
  notes,
  is_billed,
  user_id,
  user_name,
  client_id,
  client_name,
  project_id,
  project_name,
  billable_rate,
  cost_rate,
  hours * billable_rate as billable_amount,
  hours * cost_rate as cost_amount,
  (hours * billable_rate) - (hours * cost_rate) as profit,
  created_at,
  updated_at
FROM %[1]s.stg_harvest_time_entries`,
	},
	{
		Name:      "int_harvest_projects",
		Kind:      Table,
		DependsOn: []string{"stg_harvest_projects"},
		SQL: `CREATE TABLE %[1]s.int_harvest_projects AS
SELECT
  project_id,
  project_name,
  project_code,
  is_active,
  is_billable,
  budget,
  client_id,
  client_name,
  starts_on,
  ends_on,
  created_at,
  updated_at,
  CASE
    WHEN is_active THEN 'Active'
    ELSE 'Inactive'
  END as project_status,
  EXTRACT(DAY FROM (ends_on - starts_on)) as duration_days
FROM %[1]s.stg_harvest_projects`,
	},
	{
		Name:      "int_harvest_invoices",
		Kind:      Table,
		DependsOn: []string{"stg_harvest_invoices"},
		SQL: `CREATE TABLE %[1]s.int_harvest_invoices AS
SELECT
  invoice_id,
  invoice_number,
  amount,
  due_amount,
  state,
  client_id,
  client_name,
  issue_date,
  due_date,
  paid_date,
  created_at,
  updated_at,
  CASE
    WHEN state = 'paid' THEN 'Paid'
    WHEN state = 'open' AND due_date < CURRENT_DATE THEN 'Overdue'
    WHEN state = 'open' THEN 'Outstanding'
    ELSE 'Draft'
  END as payment_status,
  CASE
    WHEN paid_date IS NOT NULL THEN EXTRACT(DAY FROM (paid_date - issue_date))
    ELSE NULL
  END as days_to_payment
FROM %[1]s.stg_harvest_invoices`,
	},
	{
		Name:      "core_harvest_time_entries",
		Kind:      View,
		DependsOn: []string{"int_harvest_time_entries"},
		SQL: `CREATE VIEW %[1]s.core_harvest_time_entries AS
SELECT * FROM %[1]s.int_harvest_time_entries`,
	},
	{
		Name:      "core_harvest_projects",
		Kind:      View,
		DependsOn: []string{"int_harvest_projects"},
		SQL: `CREATE VIEW %[1]s.core_harvest_projects AS
SELECT * FROM %[1]s.int_harvest_projects`,
	},
	{
		Name:      "core_harvest_invoices",
		Kind:      View,
		DependsOn: []string{"int_harvest_invoices"},
		SQL: `CREATE VIEW %[1]s.core_harvest_invoices AS
SELECT * FROM %[1]s.int_harvest_invoices`,
	},
}

var jiraCatalog = []Artifact{
	{
		Name:      "stg_jira_issues",
		Kind:      Table,
		DependsOn: []string{"raw_jira_issues"},
		SQL: `CREATE TABLE %[1]s.stg_jira_issues AS
SELECT DISTINCT
  (data->>'id')::bigint as issue_id,
  data->>'key' as issue_key,
  data#>>'{fields,summary}' as summary,
  data#>>'{fields,status,name}' as status,
  data#>>'{fields,issuetype,name}' as issue_type,
  data#>>'{fields,priority,name}' as priority,
  data#>>'{fields,assignee,displayName}' as assignee,
  data#>>'{fields,reporter,displayName}' as reporter,
  (data#>>'{fields,project,id}')::bigint as project_id,
  data#>>'{fields,project,key}' as project_key,
  data#>>'{fields,project,name}' as project_name,
  (data#>>'{fields,created}')::timestamptz as created_at,
  (data#>>'{fields,updated}')::timestamptz as updated_at,
  (data#>>'{fields,resolutiondate}')::timestamptz as resolved_at
FROM %[1]s.raw_jira_issues
WHERE data IS NOT NULL
  AND source_system = 'jira'`,
	},
	{
		Name:      "stg_jira_projects",
		Kind:      Table,
		DependsOn: []string{"raw_jira_projects"},
		SQL: `CREATE TABLE %[1]s.stg_jira_projects AS
SELECT DISTINCT
  (data->>'id')::bigint as project_id,
  data->>'key' as project_key,
  data->>'name' as project_name,
  data->>'projectTypeKey' as project_type,
  data#>>'{lead,displayName}' as lead_name,
  data->>'description' as description
FROM %[1]s.raw_jira_projects
WHERE data IS NOT NULL
  AND source_system = 'jira'`,
	},
	{
		Name:      "int_jira_issues",
		Kind:      Table,
		DependsOn: []string{"stg_jira_issues"},
		SQL: `CREATE TABLE %[1]s.int_jira_issues AS
SELECT
  issue_id,
  issue_key,
  summary,
  status,
  issue_type,
  priority,
  assignee,
  reporter,
  project_id,
  project_key,
  project_name,
  created_at,
  updated_at,
  resolved_at,
  resolved_at IS NOT NULL as is_resolved,
  CASE
    WHEN resolved_at IS NOT NULL THEN EXTRACT(EPOCH FROM (resolved_at - created_at)) / 86400
    ELSE NULL
  END as days_to_resolution
FROM %[1]s.stg_jira_issues`,
	},
	{
		Name:      "int_jira_projects",
		Kind:      Table,
		DependsOn: []string{"stg_jira_projects"},
		SQL: `CREATE TABLE %[1]s.int_jira_projects AS
SELECT
  project_id,
  project_key,
  project_name,
  project_type,
  lead_name,
  description
FROM %[1]s.stg_jira_projects`,
	},
	{
		Name:      "core_jira_issues",
		Kind:      View,
		DependsOn: []string{"int_jira_issues"},
		SQL: `CREATE VIEW %[1]s.core_jira_issues AS
SELECT * FROM %[1]s.int_jira_issues`,
	},
	{
		Name:      "core_jira_projects",
		Kind:      View,
		DependsOn: []string{"int_jira_projects"},
		SQL: `CREATE VIEW %[1]s.core_jira_projects AS
SELECT * FROM %[1]s.int_jira_projects`,
	},
}
