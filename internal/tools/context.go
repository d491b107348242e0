package tools

import (
	"context"
	"fmt"

	"github.com/haasonsaas/dbpilot/internal/database"
)

// Context binds one orchestrator run to its database connection. It caches the
// schema after the first fetch so repeated inspections within a run do not hit
// the information schema again. Owned per-run; never shared across sessions.
type Context struct {
	conn   *database.Conn
	schema *database.SchemaDescriptor
}

// NewContext creates a tool context for a run. conn may be nil when no
// connection is active; tools that need one report that as an error.
func NewContext(conn *database.Conn) *Context {
	return &Context{conn: conn}
}

// Connection returns the bound connection, or nil.
func (c *Context) Connection() *database.Conn {
	return c.conn
}

// Schema fetches the schema once and serves the cached copy afterwards.
func (c *Context) Schema(ctx context.Context) (*database.SchemaDescriptor, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("no active database connection")
	}
	if c.schema != nil {
		return c.schema, nil
	}
	schema, err := c.conn.Schema(ctx)
	if err != nil {
		return nil, err
	}
	c.schema = schema
	return c.schema, nil
}

// ExecuteSQL delegates one statement to the live connection.
func (c *Context) ExecuteSQL(ctx context.Context, query string) (*database.Result, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("no active database connection")
	}
	return c.conn.ExecuteSQL(ctx, query), nil
}
