package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/weftlabs/weft/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/weft.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB exposes the underlying handle, e.g. for the db action connector.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Definitions ---

func (s *LibSQLStore) SaveDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	if def == nil || def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "definition needs an id")
	}
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, version, enabled, definition) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, version=excluded.version, enabled=excluded.enabled,
		   definition=excluded.definition, updated_at=CURRENT_TIMESTAMP`,
		def.ID, def.Name, def.Version, boolToInt(def.Enabled), string(doc),
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "save definition failed").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE id = ?`, id,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, notFound("workflow", id)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "get definition failed").WithCause(err)
	}

	def := &schema.WorkflowDefinition{}
	if err := json.Unmarshal([]byte(doc), def); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "decode definition failed").WithCause(err)
	}
	return def, nil
}

func (s *LibSQLStore) ListDefinitions(ctx context.Context) ([]*schema.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM workflows ORDER BY id`)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list definitions failed").WithCause(err)
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan definition failed").WithCause(err)
		}
		def := &schema.WorkflowDefinition{}
		if err := json.Unmarshal([]byte(doc), def); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "decode definition failed").WithCause(err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *LibSQLStore) DeleteDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "delete definition failed").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("workflow", id)
	}
	return nil
}

// --- Executions ---

func (s *LibSQLStore) SaveExecution(ctx context.Context, result *schema.ExecutionResult) error {
	if result == nil || result.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution needs an id")
	}
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, status, result, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, result=excluded.result,
		   completed_at=excluded.completed_at, duration_ms=excluded.duration_ms`,
		result.ExecutionID, result.WorkflowID, string(result.Status), string(doc),
		result.StartedAt, nullTime(result.CompletedAt), result.DurationMs,
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "save execution failed").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.ExecutionResult, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM executions WHERE id = ?`, id,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, notFound("execution", id)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "get execution failed").WithCause(err)
	}

	result := &schema.ExecutionResult{}
	if err := json.Unmarshal([]byte(doc), result); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "decode execution failed").WithCause(err)
	}
	return result, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*schema.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if workflowID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT result FROM executions ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT result FROM executions WHERE workflow_id = ? ORDER BY started_at DESC LIMIT ?`,
			workflowID, limit)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list executions failed").WithCause(err)
	}
	defer rows.Close()

	var results []*schema.ExecutionResult
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan execution failed").WithCause(err)
		}
		result := &schema.ExecutionResult{}
		if err := json.Unmarshal([]byte(doc), result); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "decode execution failed").WithCause(err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// --- Helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

var _ Store = (*LibSQLStore)(nil)
