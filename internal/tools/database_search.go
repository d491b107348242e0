package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Limits for database_search result pages.
const (
	searchLimitMin     = 5
	searchLimitMax     = 100
	searchLimitDefault = 20
)

// DatabaseSearch finds tables, views, and columns whose names contain the
// search text, case-insensitively, in a single catalog query.
type DatabaseSearch struct{}

func (t *DatabaseSearch) Name() string { return "database_search" }

func (t *DatabaseSearch) Description() string {
	return "Search table names, view names, and column names for a substring, case-insensitively. Returns a ranked page of matches plus the grand total match count."
}

func (t *DatabaseSearch) InputSchema() string {
	return `{"type":"object","properties":{"query":{"type":"string","description":"Substring to look for."},"limit":{"type":"integer","description":"Page size, clamped between 5 and 100."}},"required":["query"]}`
}

type databaseSearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchMatch struct {
	Kind        string `json:"kind"`
	Schema      string `json:"schema"`
	Name        string `json:"name"`
	ColumnName  string `json:"column_name,omitempty"`
	ColumnCount int    `json:"column_count"`
}

// clampSearchLimit bounds the requested page size to [5, 100]. Zero selects
// the default.
func clampSearchLimit(limit int) int {
	if limit == 0 {
		return searchLimitDefault
	}
	if limit < searchLimitMin {
		return searchLimitMin
	}
	if limit > searchLimitMax {
		return searchLimitMax
	}
	return limit
}

// escapeSearchTerm neutralizes LIKE metacharacters and quote characters before
// the term is interpolated into the catalog query.
func escapeSearchTerm(term string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`%`, `\%`,
		`_`, `\_`,
		`'`, `''`,
		`"`, `""`,
	)
	return r.Replace(term)
}

// searchQuery builds one UNION ALL statement over the information schema.
// The grand total match count rides along on every row via a window aggregate
// so a single round trip yields both the page and the total.
func searchQuery(term string, limit int) string {
	pattern := "%" + escapeSearchTerm(term) + "%"
	return fmt.Sprintf(`
WITH matches AS (
  SELECT 'table' AS kind, 0 AS kind_rank, t.table_schema AS schema_name, t.table_name AS object_name,
         '' AS column_name,
         (SELECT count(*) FROM information_schema.columns c
           WHERE c.table_schema = t.table_schema AND c.table_name = t.table_name) AS column_count
  FROM information_schema.tables t
  WHERE t.table_type = 'BASE TABLE'
    AND t.table_schema NOT IN ('pg_catalog', 'information_schema')
    AND t.table_name ILIKE '%s' ESCAPE '\'
  UNION ALL
  SELECT 'view', 1, v.table_schema, v.table_name, '',
         (SELECT count(*) FROM information_schema.columns c
           WHERE c.table_schema = v.table_schema AND c.table_name = v.table_name)
  FROM information_schema.views v
  WHERE v.table_schema NOT IN ('pg_catalog', 'information_schema')
    AND v.table_name ILIKE '%s' ESCAPE '\'
  UNION ALL
  SELECT 'column', 2, c.table_schema, c.table_name, c.column_name,
         (SELECT count(*) FROM information_schema.columns c2
           WHERE c2.table_schema = c.table_schema AND c2.table_name = c.table_name)
  FROM information_schema.columns c
  WHERE c.table_schema NOT IN ('pg_catalog', 'information_schema')
    AND c.column_name ILIKE '%s' ESCAPE '\'
)
SELECT kind, schema_name, object_name, column_name, column_count,
       count(*) OVER () AS total_matches
FROM matches
ORDER BY kind_rank, column_count DESC, object_name, column_name
LIMIT %d`, pattern, pattern, pattern, limit)
}

func (t *DatabaseSearch) Run(ctx context.Context, input string, tctx *Context) (*Result, error) {
	var args databaseSearchInput
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return nil, fmt.Errorf("invalid input for database_search: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, fmt.Errorf("database_search requires a non-empty \"query\" field")
	}

	limit := clampSearchLimit(args.Limit)

	res, err := tctx.ExecuteSQL(ctx, searchQuery(args.Query, limit))
	if err != nil {
		return nil, err
	}
	if res.Error != "" {
		return nil, fmt.Errorf("catalog search failed: %s", res.Error)
	}

	matches := make([]searchMatch, 0, len(res.Rows))
	total := 0
	for _, row := range res.Rows {
		m := searchMatch{
			Kind:       asString(row["kind"]),
			Schema:     asString(row["schema_name"]),
			Name:       asString(row["object_name"]),
			ColumnName: asString(row["column_name"]),
		}
		m.ColumnCount = asInt(row["column_count"])
		total = asInt(row["total_matches"])
		matches = append(matches, m)
	}

	return &Result{
		Summary: fmt.Sprintf("Found %d matches for %q; returning %d.", total, args.Query, len(matches)),
		Data: map[string]any{
			"query":         args.Query,
			"total_matches": total,
			"matches":       matches,
			"limit":         limit,
		},
		Kind: "search",
	}, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
