package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// KindSQLSuggestion tags results the controller promotes into a dedicated
// assistant message for UI rendering with insert/run actions.
const KindSQLSuggestion = "sql_suggestion"

// QuerySuggestion packages a SQL string for the UI. It is pure data shaping
// and performs no database access.
type QuerySuggestion struct{}

func (t *QuerySuggestion) Name() string { return "query_suggestion" }

func (t *QuerySuggestion) Description() string {
	return "Propose a SQL query for the user without executing it. The UI renders the suggestion with insert and run actions."
}

func (t *QuerySuggestion) InputSchema() string {
	return `{"type":"object","properties":{"sql":{"type":"string","description":"The suggested statement."},"description":{"type":"string","description":"Optional explanation of what the query does."}},"required":["sql"]}`
}

type querySuggestionInput struct {
	SQL         string `json:"sql"`
	Description string `json:"description"`
}

func (t *QuerySuggestion) Run(ctx context.Context, input string, tctx *Context) (*Result, error) {
	var args querySuggestionInput
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return nil, fmt.Errorf("invalid input for query_suggestion: %w", err)
	}
	if strings.TrimSpace(args.SQL) == "" {
		return nil, fmt.Errorf("query_suggestion requires a non-empty \"sql\" field")
	}

	return &Result{
		Summary: "Suggested a query for the user.",
		Data: map[string]any{
			"sql":         args.SQL,
			"description": args.Description,
		},
		Kind: KindSQLSuggestion,
	}, nil
}
