// Package database wraps the live relational connection the agent inspects.
// It exposes schema discovery and single-statement execution; pooling details
// and connection management UIs live outside this core.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config holds connection settings for the target database.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns default connection settings.
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Conn is a handle to the target database. It is shared read/write across all
// tool invocations within one run; tool calls are serialized by the loop, so no
// extra locking is layered here.
type Conn struct {
	id string
	db *sql.DB
}

// Open connects to the target database and verifies the connection.
func Open(config *Config) (*Conn, error) {
	if config == nil || config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Conn{id: config.DSN, db: db}, nil
}

// NewConn wraps an existing database handle. Used by tests and by callers that
// manage their own pool.
func NewConn(id string, db *sql.DB) *Conn {
	return &Conn{id: id, db: db}
}

// ID identifies the underlying connection for session bookkeeping.
func (c *Conn) ID() string {
	return c.id
}

// DB exposes the underlying handle for related components.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// Close closes the underlying handle.
func (c *Conn) Close() error {
	return c.db.Close()
}

// Result is the outcome of executing one SQL statement. Statement failures are
// reported through Error rather than a Go error so tools can surface them in
// their payloads.
type Result struct {
	Columns  []Column        `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int             `json:"row_count"`
	Duration time.Duration   `json:"duration"`
	Error    string          `json:"error,omitempty"`
}

// Column describes one result column.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type,omitempty"`
}

// ExecuteSQL runs a single arbitrary statement and collects every row.
// Callers wanting bounded previews truncate the returned rows themselves.
func (c *Conn) ExecuteSQL(ctx context.Context, query string) *Result {
	start := time.Now()

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return &Result{Duration: time.Since(start), Error: err.Error()}
	}
	defer rows.Close()

	res := &Result{}

	names, err := rows.Columns()
	if err != nil {
		return &Result{Duration: time.Since(start), Error: err.Error()}
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return &Result{Duration: time.Since(start), Error: err.Error()}
	}
	for i, name := range names {
		col := Column{Name: name}
		if i < len(types) {
			col.DataType = types[i].DatabaseTypeName()
		}
		res.Columns = append(res.Columns, col)
	}

	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			res.Error = err.Error()
			res.Duration = time.Since(start)
			return res
		}

		row := make(map[string]any, len(names))
		for i, name := range names {
			row[name] = normalizeValue(values[i])
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		res.Error = err.Error()
	}

	res.RowCount = len(res.Rows)
	res.Duration = time.Since(start)
	return res
}

// normalizeValue converts driver values into JSON-friendly types.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return v
	}
}
