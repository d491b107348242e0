package database

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaDescriptor summarizes the tables visible to the bound connection.
// Column order follows declaration position.
type SchemaDescriptor struct {
	Tables []TableDescriptor `json:"tables"`
}

// TableDescriptor describes one table and its columns.
type TableDescriptor struct {
	Schema  string             `json:"schema"`
	Name    string             `json:"name"`
	Columns []ColumnDescriptor `json:"columns"`
}

// ColumnDescriptor describes one column.
type ColumnDescriptor struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
	Default  string `json:"default,omitempty"`
}

const schemaQuery = `
SELECT c.table_schema, c.table_name, c.column_name, c.data_type, c.is_nullable, c.column_default
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE t.table_type = 'BASE TABLE'
  AND c.table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY c.table_schema, c.table_name, c.ordinal_position`

// Schema reads the current table layout from the information schema.
func (c *Conn) Schema(ctx context.Context) (*SchemaDescriptor, error) {
	rows, err := c.db.QueryContext(ctx, schemaQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	defer rows.Close()

	desc := &SchemaDescriptor{}
	current := -1

	for rows.Next() {
		var schema, table, column, dataType, nullable string
		var colDefault sql.NullString
		if err := rows.Scan(&schema, &table, &column, &dataType, &nullable, &colDefault); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}

		if current < 0 || desc.Tables[current].Schema != schema || desc.Tables[current].Name != table {
			desc.Tables = append(desc.Tables, TableDescriptor{Schema: schema, Name: table})
			current = len(desc.Tables) - 1
		}
		desc.Tables[current].Columns = append(desc.Tables[current].Columns, ColumnDescriptor{
			Name:     column,
			DataType: dataType,
			Nullable: nullable == "YES",
			Default:  colDefault.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema rows: %w", err)
	}

	return desc, nil
}

// Table returns the descriptor for a single table, or nil when unknown.
// Lookup ignores schema qualification when the name is unqualified.
func (d *SchemaDescriptor) Table(name string) *TableDescriptor {
	for i := range d.Tables {
		t := &d.Tables[i]
		if t.Name == name || t.Schema+"."+t.Name == name {
			return t
		}
	}
	return nil
}
