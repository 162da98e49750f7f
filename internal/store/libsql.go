package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/nodeflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	// Single writer; also serializes the read-then-write sequences below.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
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

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	graph, err := xjson.Marshal(wf.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, owner_id, graph, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.OwnerID, string(graph), now, now,
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %s already exists", wf.ID)
	}
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var graph string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, graph FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.Name, &wf.OwnerID, &graph)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	g, err := schema.ParseGraph([]byte(graph))
	if err != nil {
		return nil, err
	}
	wf.Graph = *g
	return wf, nil
}

func (s *LibSQLStore) UpdateWorkflowGraph(ctx context.Context, id string, graph schema.Graph) error {
	raw, err := xjson.Marshal(graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET graph = ?, updated_at = ? WHERE id = ?`, string(raw), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	query := `SELECT id, name, owner_id, graph FROM workflows`
	var args []any
	if filter.OwnerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	query += " ORDER BY created_at DESC"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Workflow
	for rows.Next() {
		wf := &schema.Workflow{}
		var graph string
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.OwnerID, &graph); err != nil {
			return nil, err
		}
		g, err := schema.ParseGraph([]byte(graph))
		if err != nil {
			return nil, err
		}
		wf.Graph = *g
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Credentials ---

func (s *LibSQLStore) PutCredential(ctx context.Context, cred *Credential) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, owner_id, name, type, value, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, value=excluded.value, updated_at=excluded.updated_at
		 WHERE credentials.owner_id = excluded.owner_id`,
		cred.ID, cred.OwnerID, cred.Name, cred.Type, cred.Value, timeOrNow(cred.CreatedAt), now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Id taken by another owner.
		return schema.NewErrorf(schema.ErrCodeConflict, "credential %s belongs to another owner", cred.ID)
	}
	return nil
}

// GetCredential returns the credential only when it belongs to ownerID. A
// credential owned by someone else is reported as not found.
func (s *LibSQLStore) GetCredential(ctx context.Context, id, ownerID string) (*Credential, error) {
	c := &Credential{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, type, value, created_at, updated_at FROM credentials WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	).Scan(&c.ID, &c.OwnerID, &c.Name, &c.Type, &c.Value, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("credential", id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCredentials returns the owner's credentials without their values.
func (s *LibSQLStore) ListCredentials(ctx context.Context, ownerID string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, type, created_at, updated_at FROM credentials WHERE owner_id = ? ORDER BY name`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		c := &Credential{}
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Type, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteCredential(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "credential", id)
}

// --- Executions ---

const executionColumns = `id, workflow_id, trigger_event_id, status, started_at, completed_at, output, error, error_stack`

// CreateExecution inserts rec unless an execution for the same trigger event
// already exists, and returns whichever record is stored.
func (s *LibSQLStore) CreateExecution(ctx context.Context, rec *schema.ExecutionRecord) (*schema.ExecutionRecord, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(trigger_event_id) DO NOTHING`,
		rec.ID, rec.WorkflowID, rec.TriggerEventID, string(rec.Status), timeOrNow(rec.StartedAt),
		nullTime(rec.CompletedAt), nullRaw(rec.Output), nullStr(rec.Error), nullStr(rec.ErrorStack),
	)
	if err != nil {
		return nil, err
	}
	return s.GetExecutionByTrigger(ctx, rec.TriggerEventID)
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return rec, err
}

func (s *LibSQLStore) GetExecutionByTrigger(ctx context.Context, triggerEventID string) (*schema.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE trigger_event_id = ?`, triggerEventID)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution for trigger", triggerEventID)
	}
	return rec, err
}

// FinishExecution applies a terminal result to a RUNNING execution. Terminal
// records are write-once: finishing one twice is an INVALID_TRANSITION.
func (s *LibSQLStore) FinishExecution(ctx context.Context, id string, result ExecutionResult) error {
	if !result.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "%s is not a terminal status", result.Status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, completed_at = ?, output = ?, error = ?, error_stack = ?
		 WHERE id = ? AND status = ?`,
		string(result.Status), timeOrNow(result.CompletedAt), nullRaw(result.Output),
		nullStr(result.Error), nullStr(result.ErrorStack), id, string(schema.ExecutionRunning),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	current, err := s.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"execution %s: cannot transition from %s to %s", id, current.Status, result.Status).
		WithDetails(map[string]any{"from": string(current.Status), "to": string(result.Status)})
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.ExecutionRecord, error) {
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.StartedBefore != nil {
		where = append(where, "started_at < ?")
		args = append(args, filter.StartedBefore.UTC())
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*schema.ExecutionRecord, error) {
	rec := &schema.ExecutionRecord{}
	var (
		status                 string
		completedAt            sql.NullTime
		output, errMsg, errStk sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.WorkflowID, &rec.TriggerEventID, &status, &rec.StartedAt,
		&completedAt, &output, &errMsg, &errStk); err != nil {
		return nil, err
	}
	rec.Status = schema.ExecutionStatus(status)
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	rec.Output = rawOrNil(output)
	rec.Error = errMsg.String
	rec.ErrorStack = errStk.String
	return rec, nil
}

// --- Step results ---

func (s *LibSQLStore) LoadStep(ctx context.Context, runID, name string) (xjson.RawMessage, bool, error) {
	var output string
	err := s.db.QueryRowContext(ctx,
		`SELECT output FROM step_results WHERE run_id = ? AND step_name = ?`, runID, name,
	).Scan(&output)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, schema.NewErrorf(schema.ErrCodeStore, "load step %s", name).WithCause(err)
	}
	return xjson.RawMessage(output), true, nil
}

// SaveStep records output unless a result already exists, then re-reads the
// stored row so concurrent writers all observe the first result.
func (s *LibSQLStore) SaveStep(ctx context.Context, runID, name string, output xjson.RawMessage) (xjson.RawMessage, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO step_results (run_id, step_name, output, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, step_name) DO NOTHING`,
		runID, name, string(output), time.Now().UTC(),
	); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "save step %s", name).WithCause(err)
	}
	winner, ok, err := s.LoadStep(ctx, runID, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "step %s vanished after save", name)
	}
	return winner, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s not found: %s", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	clause := fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r xjson.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) xjson.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return xjson.RawMessage(ns.String)
}

var _ Store = (*LibSQLStore)(nil)
