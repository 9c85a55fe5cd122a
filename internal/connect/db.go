package connect

import (
	"context"
	"database/sql"
	"strings"

	"github.com/weftlabs/weft/pkg/schema"
)

// DBConnector runs SQL statements for action steps against a shared
// database handle.
//
// Config keys: query (required), args (positional parameters), mode
// ("query" returns rows, "exec" returns rows_affected; defaults by
// statement verb).
type DBConnector struct {
	db *sql.DB
}

// NewDBConnector creates a DB connector over an open handle.
func NewDBConnector(db *sql.DB) *DBConnector {
	return &DBConnector{db: db}
}

func (c *DBConnector) Invoke(ctx context.Context, config map[string]any, payload map[string]any) (any, error) {
	if c.db == nil {
		return nil, schema.NewError(schema.ErrCodeStore, "db: no database handle configured")
	}
	query := stringParam(config, "query", "")
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "db: query is required")
	}

	var args []any
	if raw, ok := config["args"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, schema.NewError(schema.ErrCodeValidation, "db: args must be a list")
		}
		args = list
	}

	mode := stringParam(config, "mode", "")
	if mode == "" {
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
			mode = "query"
		} else {
			mode = "exec"
		}
	}

	switch mode {
	case "query":
		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "db: query failed").WithCause(err)
		}
		defer rows.Close()
		return scanRows(rows)
	case "exec":
		res, err := c.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "db: exec failed").WithCause(err)
		}
		affected, _ := res.RowsAffected()
		return map[string]any{"rows_affected": affected}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "db: unknown mode %q", mode)
	}
}

func scanRows(rows *sql.Rows) (any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "db: failed to read columns").WithCause(err)
	}

	out := make([]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "db: failed to scan row").WithCause(err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "db: row iteration failed").WithCause(err)
	}
	return map[string]any{"rows": out, "count": len(out)}, nil
}
