package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	// Bounds for the schema summary so observations stay prompt-sized.
	summaryTableLimit  = 12
	summaryColumnLimit = 6
)

// SchemaInspector summarizes the bound schema, or describes one table in full.
type SchemaInspector struct{}

func (t *SchemaInspector) Name() string { return "schema_inspector" }

func (t *SchemaInspector) Description() string {
	return "Inspect the connected database schema. Without arguments it returns a summary of available tables; with a table name it returns that table's full column list with types, nullability, and defaults."
}

func (t *SchemaInspector) InputSchema() string {
	return `{"type":"object","properties":{"table":{"type":"string","description":"Optional table name. Omit to summarize the whole schema."}}}`
}

type schemaInspectorInput struct {
	Table string `json:"table"`
}

type schemaTableSummary struct {
	Name          string   `json:"name"`
	ColumnCount   int      `json:"column_count"`
	SampleColumns []string `json:"sample_columns"`
}

type schemaColumnDetail struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
	Default  string `json:"default,omitempty"`
}

func (t *SchemaInspector) Run(ctx context.Context, input string, tctx *Context) (*Result, error) {
	var args schemaInspectorInput
	if input != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return nil, fmt.Errorf("invalid input for schema_inspector: %w", err)
		}
	}

	schema, err := tctx.Schema(ctx)
	if err != nil {
		return nil, err
	}

	if args.Table == "" {
		total := len(schema.Tables)
		preview := schema.Tables
		if len(preview) > summaryTableLimit {
			preview = preview[:summaryTableLimit]
		}

		summaries := make([]schemaTableSummary, 0, len(preview))
		for _, table := range preview {
			sample := make([]string, 0, summaryColumnLimit)
			for _, col := range table.Columns {
				if len(sample) >= summaryColumnLimit {
					break
				}
				sample = append(sample, col.Name)
			}
			summaries = append(summaries, schemaTableSummary{
				Name:          table.Name,
				ColumnCount:   len(table.Columns),
				SampleColumns: sample,
			})
		}

		return &Result{
			Summary: fmt.Sprintf("Schema has %d tables; previewing %d.", total, len(summaries)),
			Data: map[string]any{
				"table_count": total,
				"tables":      summaries,
			},
			Kind: "schema",
		}, nil
	}

	table := schema.Table(args.Table)
	if table == nil || len(table.Columns) == 0 {
		return nil, fmt.Errorf("table %q not found in the connected schema", args.Table)
	}

	columns := make([]schemaColumnDetail, 0, len(table.Columns))
	for _, col := range table.Columns {
		columns = append(columns, schemaColumnDetail{
			Name:     col.Name,
			DataType: col.DataType,
			Nullable: col.Nullable,
			Default:  col.Default,
		})
	}

	return &Result{
		Summary: fmt.Sprintf("Table %q has %d columns.", table.Name, len(columns)),
		Data: map[string]any{
			"table":   table.Name,
			"columns": columns,
		},
		Kind: "schema",
	}, nil
}
