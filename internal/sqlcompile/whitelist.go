// Package sqlcompile turns user-authored filter trees and aggregate
// specifications into parameterized SQL restricted to a fixed column and
// operator whitelist. Nothing user-supplied ever reaches an identifier
// position unvalidated.
package sqlcompile

import "sort"

// sourceColumns maps each logical data source to the columns a filter or
// metric may reference. A source absent from this map cannot be queried at
// all; a column absent from its set fails compilation.
var sourceColumns = map[string]map[string]bool{
	"core.fact_financials": columnSet(
		"invoice_id", "invoice_number", "invoice_amount", "amount", "due_amount",
		"state", "payment_status", "days_to_payment",
		"client_id", "client_name",
		"issue_date", "due_date", "paid_date",
		"created_at", "updated_at",
	),
	"core.fact_hubspot": columnSet(
		"deal_id", "deal_name", "stage", "pipeline", "amount",
		"owner", "close_date", "is_closed", "is_won",
		"created_at", "updated_at",
	),
	"core_harvest_time_entries": columnSet(
		"time_entry_id", "spent_date", "hours", "notes", "is_billed",
		"user_id", "user_name", "client_id", "client_name",
		"project_id", "project_name",
		"billable_rate", "cost_rate", "billable_amount", "cost_amount", "profit",
		"created_at", "updated_at",
	),
	"core_harvest_projects": columnSet(
		"project_id", "project_name", "project_code", "is_active", "is_billable",
		"budget", "client_id", "client_name", "starts_on", "ends_on",
		"project_status", "duration_days",
		"created_at", "updated_at",
	),
	"core_harvest_invoices": columnSet(
		"invoice_id", "invoice_number", "amount", "due_amount", "state",
		"client_id", "client_name",
		"issue_date", "due_date", "paid_date",
		"payment_status", "days_to_payment",
		"created_at", "updated_at",
	),
	"core_jira_issues": columnSet(
		"issue_id", "issue_key", "summary", "status", "issue_type", "priority",
		"assignee", "reporter",
		"project_id", "project_key", "project_name",
		"created_at", "updated_at", "resolved_at",
		"is_resolved", "days_to_resolution",
	),
	"core_jira_projects": columnSet(
		"project_id", "project_key", "project_name", "project_type",
		"lead_name", "description",
	),
}

// operators is the fixed global operator set. IS NULL and IS NOT NULL take no
// value; IN and NOT IN take a list.
var operators = map[string]bool{
	"=":           true,
	"!=":          true,
	"<>":          true,
	">":           true,
	"<":           true,
	">=":          true,
	"<=":          true,
	"LIKE":        true,
	"NOT LIKE":    true,
	"IN":          true,
	"NOT IN":      true,
	"IS NULL":     true,
	"IS NOT NULL": true,
}

// aggregates is the fixed aggregate function whitelist for the metric builder
var aggregates = map[string]bool{
	"SUM":            true,
	"COUNT":          true,
	"AVG":            true,
	"MIN":            true,
	"MAX":            true,
	"COUNT_DISTINCT": true,
}

// ColumnsFor returns the column whitelist for a logical source, or false when
// the source itself is not whitelisted
func ColumnsFor(logicalSource string) (map[string]bool, bool) {
	cols, ok := sourceColumns[logicalSource]
	return cols, ok
}

// ListSources returns the whitelisted logical sources, sorted
func ListSources() []string {
	sources := make([]string, 0, len(sourceColumns))
	for name := range sourceColumns {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	return sources
}

func columnSet(columns ...string) map[string]bool {
	set := make(map[string]bool, len(columns))
	for _, col := range columns {
		set[col] = true
	}
	return set
}
