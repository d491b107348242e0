package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// maxRowPreview caps the rows included in an observation payload.
const maxRowPreview = 25

// SQLRunner executes one arbitrary statement through the bound connection.
type SQLRunner struct{}

func (t *SQLRunner) Name() string { return "sql_runner" }

func (t *SQLRunner) Description() string {
	return "Execute a single SQL statement against the connected database. Returns duration, row count, column metadata, and a bounded row preview. Statement errors are reported in the result rather than failing the call."
}

func (t *SQLRunner) InputSchema() string {
	return `{"type":"object","properties":{"sql":{"type":"string","description":"The statement to execute."},"max_rows":{"type":"integer","description":"Optional preview cap, at most 25."}},"required":["sql"]}`
}

type sqlRunnerInput struct {
	SQL     string `json:"sql"`
	MaxRows int    `json:"max_rows"`
}

func (t *SQLRunner) Run(ctx context.Context, input string, tctx *Context) (*Result, error) {
	var args sqlRunnerInput
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return nil, fmt.Errorf("invalid input for sql_runner: %w", err)
	}
	if strings.TrimSpace(args.SQL) == "" {
		return nil, fmt.Errorf("sql_runner requires a non-empty \"sql\" field")
	}

	limit := maxRowPreview
	if args.MaxRows > 0 && args.MaxRows < limit {
		limit = args.MaxRows
	}

	res, err := tctx.ExecuteSQL(ctx, args.SQL)
	if err != nil {
		return nil, err
	}

	if res.Error != "" {
		return &Result{
			Summary: "Statement failed.",
			Data: map[string]any{
				"error":       res.Error,
				"duration_ms": res.Duration.Milliseconds(),
			},
			Kind: "sql_result",
		}, nil
	}

	preview := res.Rows
	truncated := false
	if len(preview) > limit {
		preview = preview[:limit]
		truncated = true
	}

	return &Result{
		Summary: fmt.Sprintf("Statement returned %d rows in %dms.", res.RowCount, res.Duration.Milliseconds()),
		Data: map[string]any{
			"columns":     res.Columns,
			"rows":        preview,
			"row_count":   res.RowCount,
			"truncated":   truncated,
			"duration_ms": res.Duration.Milliseconds(),
		},
		Kind: "sql_result",
	}, nil
}
