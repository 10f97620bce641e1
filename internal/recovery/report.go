package recovery

import (
	"fmt"
	"strings"
)

const maxTableRows = 5

// companyTable renders a markdown table when output looks like a list of
// company records. Returns "" when the shape doesn't match.
func companyTable(output any) string {
	records := extractRecords(output)
	if len(records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("| Company | ID | Employees | Revenue |\n")
	b.WriteString("|---|---|---|---|\n")

	shown := records
	if len(shown) > maxTableRows {
		shown = shown[:maxTableRows]
	}
	for _, record := range shown {
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			cell(record, "name", "company_name", "razon_social"),
			cell(record, "ruc", "tax_id", "id"),
			cell(record, "employees", "employee_count"),
			cell(record, "revenue", "annual_revenue"),
		))
	}
	if extra := len(records) - len(shown); extra > 0 {
		b.WriteString(fmt.Sprintf("\n...and %d more\n", extra))
	}
	return b.String()
}

// extractRecords accepts either a bare record list or a map wrapping one
// under a conventional key.
func extractRecords(output any) []map[string]any {
	switch v := output.(type) {
	case []any:
		return coerceRecords(v)
	case []map[string]any:
		if hasName(v) {
			return v
		}
	case map[string]any:
		for _, key := range []string{"companies", "results", "records", "data"} {
			if list, ok := v[key].([]any); ok {
				if records := coerceRecords(list); records != nil {
					return records
				}
			}
		}
	}
	return nil
}

func coerceRecords(list []any) []map[string]any {
	records := make([]map[string]any, 0, len(list))
	for _, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			return nil
		}
		records = append(records, record)
	}
	if !hasName(records) {
		return nil
	}
	return records
}

func hasName(records []map[string]any) bool {
	if len(records) == 0 {
		return false
	}
	for _, key := range []string{"name", "company_name", "razon_social"} {
		if _, ok := records[0][key]; ok {
			return true
		}
	}
	return false
}

func cell(record map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := record[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			if v == float64(int64(v)) {
				return fmt.Sprintf("%d", int64(v))
			}
			return fmt.Sprintf("%g", v)
		case int:
			return fmt.Sprintf("%d", v)
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return "-"
}
