package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"opsboard/internal/lifecycle"
	"opsboard/internal/models"
)

// ErrNotFound marks lookups against rows that do not exist.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const workItemColumns = `id, type, deliverable_type, status, priority, blocked_reason,
	requester_id, owner_id, title, description, tags, needs_proofing,
	tbp_graphics_location, tbp_publish_date, tbp_article_link, tbp_tx_tie, tbp_magazine_issue,
	waiting_on_user_id, waiting_reason, waiting_since, last_contacted_at,
	due_at, started_at, completed_at, status_changed_at, owner_changed_at,
	created_at, updated_at, updated_by_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (models.WorkItem, error) {
	var w models.WorkItem
	err := row.Scan(
		&w.ID, &w.Type, &w.DeliverableType, &w.Status, &w.Priority, &w.BlockedReason,
		&w.RequesterID, &w.OwnerID, &w.Title, &w.Description, &w.Tags, &w.NeedsProofing,
		&w.TBPGraphicsLocation, &w.TBPPublishDate, &w.TBPArticleLink, &w.TBPTxTie, &w.TBPMagazineIssue,
		&w.WaitingOnUserID, &w.WaitingReason, &w.WaitingSince, &w.LastContactedAt,
		&w.DueAt, &w.StartedAt, &w.CompletedAt, &w.StatusChangedAt, &w.OwnerChangedAt,
		&w.CreatedAt, &w.UpdatedAt, &w.UpdatedByID,
	)
	if err != nil {
		return models.WorkItem{}, err
	}
	return w, nil
}

// CreateWorkItemParams collects inputs required to insert a work item.
type CreateWorkItemParams struct {
	Type             string
	Title            string
	Description      *string
	Priority         int
	RequesterID      string
	OwnerID          *string
	DueAt            *time.Time
	Tags             []string
	NeedsProofing    bool
	DeliverableType  *string
	TBPMagazineIssue *string
	// DefaultDueDays applies when neither the request nor the type's
	// trigger template supplies a deadline.
	DefaultDueDays int
}

// CreateWorkItem inserts a work item, seeding subtasks and the default due
// date from the type's trigger template, and appends a CREATED audit row.
// Everything happens in one transaction.
func (s *Store) CreateWorkItem(ctx context.Context, p CreateWorkItemParams) (models.WorkItem, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	tmpl, err := getTemplate(ctx, tx, p.Type)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.WorkItem{}, err
	}

	now := time.Now().UTC()
	dueAt := p.DueAt
	if dueAt == nil {
		days := p.DefaultDueDays
		if tmpl.DueDays > 0 {
			days = tmpl.DueDays
		}
		if days > 0 {
			d := now.AddDate(0, 0, days)
			dueAt = &d
		}
	}

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}

	id := uuid.New().String()
	_, err = tx.Exec(ctx, `
		INSERT INTO work_items (
			id, type, deliverable_type, status, priority, requester_id, owner_id,
			title, description, tags, needs_proofing, tbp_magazine_issue,
			due_at, status_changed_at, created_at, updated_at, updated_by_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14, $14, $6)
	`, id, p.Type, p.DeliverableType, models.StatusBacklog, p.Priority, p.RequesterID, p.OwnerID,
		p.Title, p.Description, tags, p.NeedsProofing, p.TBPMagazineIssue, dueAt, now)
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("insert work item: %w", err)
	}

	for i, title := range tmpl.SubtaskTitles {
		_, err = tx.Exec(ctx, `
			INSERT INTO subtasks (id, work_item_id, title, position, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New().String(), id, title, i, now)
		if err != nil {
			return models.WorkItem{}, fmt.Errorf("seed subtask: %w", err)
		}
	}

	if err := appendAudit(ctx, tx, auditRow{
		WorkItemID: id,
		UserID:     p.RequesterID,
		Action:     models.AuditCreated,
		ToValue:    &p.Type,
		Meta:       map[string]any{"title": p.Title, "type": p.Type},
	}); err != nil {
		return models.WorkItem{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.WorkItem{}, fmt.Errorf("commit: %w", err)
	}

	return models.WorkItem{
		ID:               id,
		Type:             p.Type,
		DeliverableType:  p.DeliverableType,
		Status:           models.StatusBacklog,
		Priority:         p.Priority,
		RequesterID:      p.RequesterID,
		OwnerID:          p.OwnerID,
		Title:            p.Title,
		Description:      p.Description,
		Tags:             tags,
		NeedsProofing:    p.NeedsProofing,
		TBPMagazineIssue: p.TBPMagazineIssue,
		DueAt:            dueAt,
		StatusChangedAt:  now,
		CreatedAt:        now,
		UpdatedAt:        now,
		UpdatedByID:      &p.RequesterID,
	}, nil
}

// GetWorkItem fetches a work item by id.
func (s *Store) GetWorkItem(ctx context.Context, id string) (models.WorkItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, id)
	w, err := scanWorkItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkItem{}, fmt.Errorf("work item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("scan work item: %w", err)
	}
	return w, nil
}

// ListFilter narrows ListWorkItems. Zero values mean "no filter".
type ListFilter struct {
	Status  string
	Type    string
	OwnerID string
	Waiting bool
	Overdue bool
}

// ListWorkItems returns items matching the filter, highest priority first,
// oldest first within a priority.
func (s *Store) ListWorkItems(ctx context.Context, f ListFilter) ([]models.WorkItem, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.OwnerID != "" {
		add("owner_id = $%d", f.OwnerID)
	}
	if f.Waiting {
		conds = append(conds, "waiting_since IS NOT NULL")
	}
	if f.Overdue {
		conds = append(conds, "due_at < NOW() AND status <> '"+models.StatusDone+"'")
	}

	query := `SELECT ` + workItemColumns + ` FROM work_items`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY priority DESC, created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	items := []models.WorkItem{}
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// ApplyPlan writes a lifecycle plan: one UPDATE over the staged columns
// plus the optional audit row, in a single transaction. The read that
// produced the plan is deliberately not re-checked here; see the
// concurrency notes in DESIGN.md.
func (s *Store) ApplyPlan(ctx context.Context, plan lifecycle.Plan, userID string) (models.WorkItem, error) {
	if len(plan.Changes) == 0 {
		return plan.Item, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	setClause, args := buildUpdate(plan.Changes)
	args = append([]any{plan.ItemID}, args...)

	row := tx.QueryRow(ctx, `
		UPDATE work_items SET `+setClause+`, updated_at = NOW()
		WHERE id = $1
		RETURNING `+workItemColumns, args...)
	updated, err := scanWorkItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkItem{}, fmt.Errorf("work item %s: %w", plan.ItemID, ErrNotFound)
	}
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("update work item: %w", err)
	}

	if plan.Audit != nil {
		if err := appendAudit(ctx, tx, auditRow{
			WorkItemID: plan.ItemID,
			UserID:     userID,
			Action:     plan.Audit.Action,
			FromValue:  plan.Audit.FromValue,
			ToValue:    plan.Audit.ToValue,
			Meta:       plan.Audit.Meta,
		}); err != nil {
			return models.WorkItem{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.WorkItem{}, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

// buildUpdate renders "col = $2, col = $3, ..." over the staged columns in
// deterministic order. Placeholders start at $2; $1 is the row id.
func buildUpdate(changes map[string]any) (string, []any) {
	cols := make([]string, 0, len(changes))
	for col := range changes {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	parts := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		parts = append(parts, fmt.Sprintf("%s = $%d", col, i+2))
		args = append(args, changes[col])
	}
	return strings.Join(parts, ", "), args
}

// DeleteWorkItem removes an item; children cascade, the audit trail stays.
func (s *Store) DeleteWorkItem(ctx context.Context, id, userID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM work_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete work item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("work item %s: %w", id, ErrNotFound)
	}

	if err := appendAudit(ctx, tx, auditRow{
		WorkItemID: id,
		UserID:     userID,
		Action:     models.AuditDeleted,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type auditRow struct {
	WorkItemID string
	UserID     string
	Action     string
	FromValue  *string
	ToValue    *string
	Meta       map[string]any
}

// appendAudit inserts an immutable audit row inside the caller's
// transaction. There is no update or delete path for audit_logs anywhere.
func appendAudit(ctx context.Context, tx pgx.Tx, a auditRow) error {
	meta := a.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal audit meta: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_logs (work_item_id, user_id, action, from_value, to_value, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, a.WorkItemID, a.UserID, a.Action, a.FromValue, a.ToValue, metaJSON)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns an item's audit trail, newest first.
func (s *Store) ListAudit(ctx context.Context, workItemID string) ([]models.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_item_id, user_id, action, from_value, to_value, meta, created_at
		FROM audit_logs WHERE work_item_id = $1 ORDER BY id DESC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var l models.AuditLog
		var metaJSON []byte
		if err := rows.Scan(&l.ID, &l.WorkItemID, &l.UserID, &l.Action, &l.FromValue, &l.ToValue, &metaJSON, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &l.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal audit meta: %w", err)
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
