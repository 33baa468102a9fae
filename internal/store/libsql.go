package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rloza/tramite/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite
// fork). Procedures, runs and process documents are persisted as JSON blobs
// with the filterable columns lifted out for indexing.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
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

// --- Procedures ---

func (s *LibSQLStore) CreateProcedure(ctx context.Context, p *schema.Procedure) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal procedure: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO procedures (id, organization_id, name, doc, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.OrganizationID, nullStr(p.Name), string(doc), timeOrNow(p.CreatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict, "procedure already exists: %s", p.ID)
	}
	return err
}

func (s *LibSQLStore) GetProcedure(ctx context.Context, id string) (*schema.Procedure, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM procedures WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, notFound("procedure", id)
	}
	if err != nil {
		return nil, err
	}
	return unmarshalDoc[schema.Procedure](doc, "procedure")
}

func (s *LibSQLStore) ListProcedures(ctx context.Context, orgID string) ([]*schema.Procedure, error) {
	query := `SELECT doc FROM procedures`
	var args []any
	if orgID != "" {
		query += ` WHERE organization_id = ?`
		args = append(args, orgID)
	}
	query += ` ORDER BY created_at DESC`
	return queryDocs[schema.Procedure](ctx, s.db, query, args, "procedure")
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, r *schema.Run) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, procedure_id, organization_id, status, doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProcedureID, r.OrganizationID, string(r.Status), string(doc),
		timeOrNow(r.CreatedAt), timeOrNow(r.UpdatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict, "run already exists: %s", r.ID)
	}
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.Run, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM runs WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, notFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	return unmarshalDoc[schema.Run](doc, "run")
}

// UpdateRun writes the run back, merging its log entries with the stored
// document so interleaved completions never erase each other's entries.
// The single-connection pool makes the read-merge-write cycle atomic within
// this process.
func (s *LibSQLStore) UpdateRun(ctx context.Context, r *schema.Run) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM runs WHERE id = ?`, r.ID).Scan(&current)
	if err == sql.ErrNoRows {
		return notFound("run", r.ID)
	}
	if err != nil {
		return err
	}
	stored, err := unmarshalDoc[schema.Run](current, "run")
	if err != nil {
		return err
	}
	r.Logs = mergeRunLogs(stored.Logs, r.Logs)

	r.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, doc = ?, updated_at = ? WHERE id = ?`,
		string(r.Status), string(doc), r.UpdatedAt, r.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", r.ID)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error) {
	var where []string
	var args []any
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.ProcedureID != "" {
		where = append(where, "procedure_id = ?")
		args = append(args, filter.ProcedureID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT doc FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return queryDocs[schema.Run](ctx, s.db, query, args, "run")
}

// --- Process chains ---

func (s *LibSQLStore) CreateProcessGroup(ctx context.Context, g *schema.ProcessGroup) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal process group: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO process_groups (id, organization_id, doc, created_at) VALUES (?, ?, ?, ?)`,
		g.ID, g.OrganizationID, string(doc), timeOrNow(g.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetProcessGroup(ctx context.Context, id string) (*schema.ProcessGroup, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM process_groups WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, notFound("process group", id)
	}
	if err != nil {
		return nil, err
	}
	return unmarshalDoc[schema.ProcessGroup](doc, "process group")
}

func (s *LibSQLStore) CreateProcessRun(ctx context.Context, pr *schema.ProcessRun) error {
	doc, err := json.Marshal(pr)
	if err != nil {
		return fmt.Errorf("marshal process run: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO process_runs (id, process_group_id, organization_id, status, doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pr.ID, pr.ProcessGroupID, pr.OrganizationID, string(pr.Status), string(doc),
		timeOrNow(pr.CreatedAt), timeOrNow(pr.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetProcessRun(ctx context.Context, id string) (*schema.ProcessRun, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM process_runs WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, notFound("process run", id)
	}
	if err != nil {
		return nil, err
	}
	return unmarshalDoc[schema.ProcessRun](doc, "process run")
}

func (s *LibSQLStore) UpdateProcessRun(ctx context.Context, pr *schema.ProcessRun) error {
	pr.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(pr)
	if err != nil {
		return fmt.Errorf("marshal process run: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE process_runs SET status = ?, doc = ?, updated_at = ? WHERE id = ?`,
		string(pr.Status), string(doc), pr.UpdatedAt, pr.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "process run", pr.ID)
}

// --- Tasks and notifications ---

func (s *LibSQLStore) CreateTask(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, organization_id, run_id, step_id, title, assignee_id, assignee_type, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrganizationID, t.RunID, t.StepID, nullStr(t.Title),
		nullStr(t.AssigneeID), nullStr(string(t.AssigneeType)), t.Status, timeOrNow(t.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) FindOpenTask(ctx context.Context, runID, stepID string) (*Task, error) {
	t := &Task{}
	var title, assigneeID, assigneeType sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, run_id, step_id, title, assignee_id, assignee_type, status, created_at, completed_at
		 FROM tasks WHERE run_id = ? AND step_id = ? AND status = 'open' LIMIT 1`,
		runID, stepID,
	).Scan(&t.ID, &t.OrganizationID, &t.RunID, &t.StepID, &title, &assigneeID, &assigneeType,
		&t.Status, &t.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("task", runID+"/"+stepID)
	}
	if err != nil {
		return nil, err
	}
	t.Title = title.String
	t.AssigneeID = assigneeID.String
	t.AssigneeType = schema.AssignmentType(assigneeType.String)
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

func (s *LibSQLStore) CompleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'done', completed_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "task", id)
}

func (s *LibSQLStore) CreateNotification(ctx context.Context, n *Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, organization_id, recipient_id, kind, message, run_id, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.OrganizationID, n.RecipientID, n.Kind, n.Message,
		nullStr(n.RunID), n.Read, timeOrNow(n.CreatedAt),
	)
	return err
}

// --- Collections and records ---

func (s *LibSQLStore) CreateCollection(ctx context.Context, c *Collection) error {
	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return fmt.Errorf("marshal collection fields: %w", err)
	}
	rules, err := json.Marshal(c.AlertRules)
	if err != nil {
		return fmt.Errorf("marshal alert rules: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections (id, organization_id, name, fields, alert_rules, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrganizationID, c.Name, string(fields), string(rules), timeOrNow(c.CreatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict, "collection already exists: %s", c.Name)
	}
	return err
}

func (s *LibSQLStore) GetCollectionByName(ctx context.Context, orgID, name string) (*Collection, error) {
	return s.scanCollection(s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, fields, alert_rules, created_at
		 FROM collections WHERE organization_id = ? AND name = ?`, orgID, name), name)
}

func (s *LibSQLStore) GetCollection(ctx context.Context, id string) (*Collection, error) {
	return s.scanCollection(s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, fields, alert_rules, created_at
		 FROM collections WHERE id = ?`, id), id)
}

func (s *LibSQLStore) scanCollection(row *sql.Row, key string) (*Collection, error) {
	c := &Collection{}
	var fields, rules sql.NullString
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &fields, &rules, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("collection", key)
	}
	if err != nil {
		return nil, err
	}
	if fields.Valid && fields.String != "" {
		_ = json.Unmarshal([]byte(fields.String), &c.Fields)
	}
	if rules.Valid && rules.String != "" {
		_ = json.Unmarshal([]byte(rules.String), &c.AlertRules)
	}
	return c, nil
}

func (s *LibSQLStore) InsertRecord(ctx context.Context, r *Record) error {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("marshal record fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, organization_id, collection_id, fields, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrganizationID, r.CollectionID, string(fields), nullStr(r.CreatedBy), timeOrNow(r.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListRecords(ctx context.Context, collectionID string, limit int) ([]*Record, error) {
	query := `SELECT id, organization_id, collection_id, fields, created_by, created_at
		 FROM records WHERE collection_id = ? ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		var fields string
		var createdBy sql.NullString
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.CollectionID, &fields, &createdBy, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal record fields: %w", err)
		}
		r.CreatedBy = createdBy.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Staff ---

func (s *LibSQLStore) GetStaff(ctx context.Context, id string) (*StaffMember, error) {
	m := &StaffMember{}
	var email, teamID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, email, team_id, created_at FROM staff WHERE id = ?`, id,
	).Scan(&m.ID, &m.OrganizationID, &m.Name, &email, &teamID, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("staff", id)
	}
	if err != nil {
		return nil, err
	}
	m.Email = email.String
	m.TeamID = teamID.String
	return m, nil
}

func (s *LibSQLStore) ListStaff(ctx context.Context, orgID string) ([]*StaffMember, error) {
	query := `SELECT id, organization_id, name, email, team_id, created_at FROM staff`
	var args []any
	if orgID != "" {
		query += ` WHERE organization_id = ?`
		args = append(args, orgID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*StaffMember
	for rows.Next() {
		m := &StaffMember{}
		var email, teamID sql.NullString
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.Name, &email, &teamID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Email = email.String
		m.TeamID = teamID.String
		members = append(members, m)
	}
	return members, rows.Err()
}

// --- Usage events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, ev *UsageEvent) error {
	var payload any
	if len(ev.Payload) > 0 {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = string(b)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_events (organization_id, run_id, step_id, event_type, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.OrganizationID, nullStr(ev.RunID), nullStr(ev.StepID), ev.Type, payload, timeOrNow(ev.Timestamp),
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListEvents(ctx context.Context, runID string) ([]*UsageEvent, error) {
	query := `SELECT id, organization_id, run_id, step_id, event_type, payload, timestamp FROM usage_events`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*UsageEvent
	for rows.Next() {
		ev := &UsageEvent{}
		var evRunID, stepID, payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.OrganizationID, &evRunID, &stepID, &ev.Type, &payload, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.RunID = evRunID.String
		ev.StepID = stepID.String
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &ev.Payload)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Scheduled triggers ---

func (s *LibSQLStore) CreateScheduledTrigger(ctx context.Context, t *ScheduledTrigger) error {
	var input any
	if len(t.Input) > 0 {
		b, err := json.Marshal(t.Input)
		if err != nil {
			return fmt.Errorf("marshal trigger input: %w", err)
		}
		input = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_triggers (id, organization_id, procedure_id, cron_expression, input, enabled, last_run_at, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrganizationID, t.ProcedureID, t.CronExpression, input, t.Enabled,
		nullTime(t.LastRunAt), nullTime(t.NextRunAt), timeOrNow(t.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListScheduledTriggers(ctx context.Context, enabledOnly bool) ([]*ScheduledTrigger, error) {
	query := `SELECT id, organization_id, procedure_id, cron_expression, input, enabled, last_run_at, next_run_at, created_at
		 FROM scheduled_triggers`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []*ScheduledTrigger
	for rows.Next() {
		t := &ScheduledTrigger{}
		var input sql.NullString
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.ProcedureID, &t.CronExpression,
			&input, &t.Enabled, &lastRun, &nextRun, &t.CreatedAt); err != nil {
			return nil, err
		}
		if input.Valid && input.String != "" {
			_ = json.Unmarshal([]byte(input.String), &t.Input)
		}
		if lastRun.Valid {
			t.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			t.NextRunAt = &nextRun.Time
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

func (s *LibSQLStore) UpdateScheduledTrigger(ctx context.Context, t *ScheduledTrigger) error {
	var input any
	if len(t.Input) > 0 {
		b, err := json.Marshal(t.Input)
		if err != nil {
			return fmt.Errorf("marshal trigger input: %w", err)
		}
		input = string(b)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_triggers SET cron_expression = ?, input = ?, enabled = ?, last_run_at = ?, next_run_at = ?
		 WHERE id = ?`,
		t.CronExpression, input, t.Enabled, nullTime(t.LastRunAt), nullTime(t.NextRunAt), t.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled trigger", t.ID)
}

// --- Helpers ---

func unmarshalDoc[T any](doc, kind string) (*T, error) {
	v := new(T)
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return v, nil
}

func queryDocs[T any](ctx context.Context, db *sql.DB, query string, args []any, kind string) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		v, err := unmarshalDoc[T](doc, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*LibSQLStore)(nil)
