package store

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"opsboard/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreateSubtask appends a manual subtask after the existing ones. The
// parent row is locked so concurrent adds to the same item get distinct
// positions.
func (s *Store) CreateSubtask(ctx context.Context, workItemID, title string) (models.Subtask, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Subtask{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var parentID string
	err = tx.QueryRow(ctx, `SELECT id FROM work_items WHERE id = $1 FOR UPDATE`, workItemID).Scan(&parentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subtask{}, fmt.Errorf("work item %s: %w", workItemID, ErrNotFound)
	}
	if err != nil {
		return models.Subtask{}, fmt.Errorf("lock work item: %w", err)
	}

	now := time.Now().UTC()
	sub := models.Subtask{
		ID:         uuid.New().String(),
		WorkItemID: workItemID,
		Title:      title,
		CreatedAt:  now,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO subtasks (id, work_item_id, title, position, created_at)
		VALUES ($1, $2, $3, COALESCE((SELECT MAX(position)+1 FROM subtasks WHERE work_item_id = $2), 0), $4)
		RETURNING position
	`, sub.ID, workItemID, title, now).Scan(&sub.Position)
	if err != nil {
		return models.Subtask{}, fmt.Errorf("insert subtask: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Subtask{}, fmt.Errorf("commit: %w", err)
	}
	return sub, nil
}

// SubtaskPatch carries optional subtask mutations. Completed toggles
// completed_at on or off.
type SubtaskPatch struct {
	Title     *string
	Position  *int
	Completed *bool
}

// UpdateSubtask applies a patch and returns the updated row.
func (s *Store) UpdateSubtask(ctx context.Context, id string, p SubtaskPatch) (models.Subtask, error) {
	changes := map[string]any{}
	if p.Title != nil {
		changes["title"] = *p.Title
	}
	if p.Position != nil {
		changes["position"] = *p.Position
	}
	if p.Completed != nil {
		if *p.Completed {
			now := time.Now().UTC()
			changes["completed_at"] = &now
		} else {
			changes["completed_at"] = (*time.Time)(nil)
		}
	}
	if len(changes) == 0 {
		return s.getSubtask(ctx, id)
	}

	setClause, args := buildUpdate(changes)
	args = append([]any{id}, args...)
	row := s.pool.QueryRow(ctx, `
		UPDATE subtasks SET `+setClause+` WHERE id = $1
		RETURNING id, work_item_id, title, position, completed_at, created_at
	`, args...)
	return scanSubtask(row, id)
}

func (s *Store) getSubtask(ctx context.Context, id string) (models.Subtask, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, work_item_id, title, position, completed_at, created_at FROM subtasks WHERE id = $1
	`, id)
	return scanSubtask(row, id)
}

func scanSubtask(row pgx.Row, id string) (models.Subtask, error) {
	var sub models.Subtask
	err := row.Scan(&sub.ID, &sub.WorkItemID, &sub.Title, &sub.Position, &sub.CompletedAt, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subtask{}, fmt.Errorf("subtask %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Subtask{}, fmt.Errorf("scan subtask: %w", err)
	}
	return sub, nil
}

// DeleteSubtask removes a subtask.
func (s *Store) DeleteSubtask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subtasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subtask: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subtask %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListSubtasks returns an item's subtasks in position order.
func (s *Store) ListSubtasks(ctx context.Context, workItemID string) ([]models.Subtask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_item_id, title, position, completed_at, created_at
		FROM subtasks WHERE work_item_id = $1 ORDER BY position ASC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	subs := []models.Subtask{}
	for rows.Next() {
		sub, err := scanSubtask(rows, workItemID)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CreateComment attaches a free-text note.
func (s *Store) CreateComment(ctx context.Context, workItemID, authorID, body string) (models.Comment, error) {
	if _, err := s.GetWorkItem(ctx, workItemID); err != nil {
		return models.Comment{}, err
	}
	c := models.Comment{
		ID:         uuid.New().String(),
		WorkItemID: workItemID,
		AuthorID:   authorID,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO comments (id, work_item_id, author_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.WorkItemID, c.AuthorID, c.Body, c.CreatedAt)
	if err != nil {
		return models.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

// ListComments returns an item's comments, oldest first.
func (s *Store) ListComments(ctx context.Context, workItemID string) ([]models.Comment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_item_id, author_id, body, created_at
		FROM comments WHERE work_item_id = $1 ORDER BY created_at ASC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	out := []models.Comment{}
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.WorkItemID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateMessage records a directional communication and mutates the parent
// item's reply-pending state in the same transaction: an outbound message
// starts the waiting clock (if not already running), an inbound message
// stops it. Internal notes touch nothing.
func (s *Store) CreateMessage(ctx context.Context, m models.Message) (models.Message, error) {
	item, err := s.GetWorkItem(ctx, m.WorkItemID)
	if err != nil {
		return models.Message{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m.ID = uuid.New().String()
	m.CreatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, work_item_id, author_id, direction, body, contact_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.WorkItemID, m.AuthorID, m.Direction, m.Body, m.ContactID, m.CreatedAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	switch m.Direction {
	case models.DirectionOutbound:
		reason := summarize(m.Body)
		since := item.WaitingSince
		if since == nil {
			since = &m.CreatedAt
		}
		_, err = tx.Exec(ctx, `
			UPDATE work_items
			SET waiting_since = $2, waiting_on_user_id = $3, waiting_reason = $4,
			    last_contacted_at = $5, updated_at = NOW()
			WHERE id = $1
		`, m.WorkItemID, since, m.ContactID, reason, m.CreatedAt)
	case models.DirectionInbound:
		_, err = tx.Exec(ctx, `
			UPDATE work_items
			SET waiting_since = NULL, waiting_on_user_id = NULL, waiting_reason = NULL,
			    last_contacted_at = $2, updated_at = NOW()
			WHERE id = $1
		`, m.WorkItemID, m.CreatedAt)
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("update waiting state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Message{}, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// summarize trims a message body down to a waiting_reason snippet. The cut
// lands on a rune boundary so the stored text stays valid UTF-8.
func summarize(body string) string {
	const max = 120
	if len(body) <= max {
		return body
	}
	cut := max - 1
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "…"
}

// ListMessages returns an item's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, workItemID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_item_id, author_id, direction, body, contact_id, created_at
		FROM messages WHERE work_item_id = $1 ORDER BY created_at ASC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.WorkItemID, &m.AuthorID, &m.Direction, &m.Body, &m.ContactID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateQCCheck adds a pending checkpoint to a work item.
func (s *Store) CreateQCCheck(ctx context.Context, workItemID, name string) (models.QCCheck, error) {
	if _, err := s.GetWorkItem(ctx, workItemID); err != nil {
		return models.QCCheck{}, err
	}
	c := models.QCCheck{
		ID:         uuid.New().String(),
		WorkItemID: workItemID,
		Name:       name,
		Status:     models.QCPending,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qc_checks (id, work_item_id, name, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.WorkItemID, c.Name, c.Status, c.CreatedAt)
	if err != nil {
		return models.QCCheck{}, fmt.Errorf("insert qc check: %w", err)
	}
	return c, nil
}

// ResolveQCCheck records the outcome of a checkpoint, stamping who checked
// it and when. Setting a check back to PENDING un-resolves it and clears
// both stamps.
func (s *Store) ResolveQCCheck(ctx context.Context, id, status string, notes *string, checkedBy string) (models.QCCheck, error) {
	checkedAt, checkedByID := qcResolutionStamp(status, checkedBy, time.Now().UTC())
	row := s.pool.QueryRow(ctx, `
		UPDATE qc_checks SET status = $2, notes = $3, checked_at = $4, checked_by_id = $5
		WHERE id = $1
		RETURNING id, work_item_id, name, status, notes, checked_at, checked_by_id, created_at
	`, id, status, notes, checkedAt, checkedByID)
	return scanQCCheck(row, id)
}

// qcResolutionStamp decides the checked_at/checked_by_id values for a
// status change: resolved statuses carry them, PENDING carries neither.
func qcResolutionStamp(status, checkedBy string, now time.Time) (*time.Time, *string) {
	if status == models.QCPending {
		return nil, nil
	}
	return &now, &checkedBy
}

func scanQCCheck(row pgx.Row, id string) (models.QCCheck, error) {
	var c models.QCCheck
	err := row.Scan(&c.ID, &c.WorkItemID, &c.Name, &c.Status, &c.Notes, &c.CheckedAt, &c.CheckedByID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QCCheck{}, fmt.Errorf("qc check %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.QCCheck{}, fmt.Errorf("scan qc check: %w", err)
	}
	return c, nil
}

// ListQCChecks returns all checkpoints for a work item.
func (s *Store) ListQCChecks(ctx context.Context, workItemID string) ([]models.QCCheck, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_item_id, name, status, notes, checked_at, checked_by_id, created_at
		FROM qc_checks WHERE work_item_id = $1 ORDER BY created_at ASC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list qc checks: %w", err)
	}
	defer rows.Close()

	out := []models.QCCheck{}
	for rows.Next() {
		c, err := scanQCCheck(rows, workItemID)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertTemplate creates or replaces the trigger template for a type.
func (s *Store) UpsertTemplate(ctx context.Context, t models.TriggerTemplate) (models.TriggerTemplate, error) {
	t.UpdatedAt = time.Now().UTC()
	if t.SubtaskTitles == nil {
		t.SubtaskTitles = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trigger_templates (work_item_type, subtask_titles, due_days, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (work_item_type)
		DO UPDATE SET subtask_titles = $2, due_days = $3, updated_at = $4
	`, t.WorkItemType, t.SubtaskTitles, t.DueDays, t.UpdatedAt)
	if err != nil {
		return models.TriggerTemplate{}, fmt.Errorf("upsert template: %w", err)
	}
	return t, nil
}

// GetTemplate fetches the trigger template for a work item type.
func (s *Store) GetTemplate(ctx context.Context, workItemType string) (models.TriggerTemplate, error) {
	return getTemplate(ctx, s.pool, workItemType)
}

func getTemplate(ctx context.Context, q querier, workItemType string) (models.TriggerTemplate, error) {
	var t models.TriggerTemplate
	err := q.QueryRow(ctx, `
		SELECT work_item_type, subtask_titles, due_days, updated_at
		FROM trigger_templates WHERE work_item_type = $1
	`, workItemType).Scan(&t.WorkItemType, &t.SubtaskTitles, &t.DueDays, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TriggerTemplate{}, fmt.Errorf("template %s: %w", workItemType, ErrNotFound)
	}
	if err != nil {
		return models.TriggerTemplate{}, fmt.Errorf("scan template: %w", err)
	}
	return t, nil
}

// ListTemplates returns every configured trigger template.
func (s *Store) ListTemplates(ctx context.Context) ([]models.TriggerTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT work_item_type, subtask_titles, due_days, updated_at
		FROM trigger_templates ORDER BY work_item_type ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := []models.TriggerTemplate{}
	for rows.Next() {
		var t models.TriggerTemplate
		if err := rows.Scan(&t.WorkItemType, &t.SubtaskTitles, &t.DueDays, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateAttachment records a stored file.
func (s *Store) CreateAttachment(ctx context.Context, a models.Attachment) (models.Attachment, error) {
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attachments (id, work_item_id, file_name, content_type, storage_key, thumb_key, size_bytes, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.WorkItemID, a.FileName, a.ContentType, a.StorageKey, a.ThumbKey, a.SizeBytes, a.UploadedBy, a.CreatedAt)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return a, nil
}

// ListAttachments returns an item's attachments, newest first.
func (s *Store) ListAttachments(ctx context.Context, workItemID string) ([]models.Attachment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_item_id, file_name, content_type, storage_key, thumb_key, size_bytes, uploaded_by, created_at
		FROM attachments WHERE work_item_id = $1 ORDER BY created_at DESC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	out := []models.Attachment{}
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.WorkItemID, &a.FileName, &a.ContentType, &a.StorageKey, &a.ThumbKey, &a.SizeBytes, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
