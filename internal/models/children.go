package models

import (
	"time"
)

// Subtask is a child checklist row on a work item. Completion is toggled
// by setting or clearing CompletedAt.
type Subtask struct {
	ID          string     `json:"id"`
	WorkItemID  string     `json:"work_item_id"`
	Title       string     `json:"title"`
	Position    int        `json:"position"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Comment is a free-text note on a work item.
type Comment struct {
	ID         string    `json:"id"`
	WorkItemID string    `json:"work_item_id"`
	AuthorID   string    `json:"author_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message directions.
const (
	DirectionInbound  = "INBOUND"
	DirectionOutbound = "OUTBOUND"
	DirectionInternal = "INTERNAL"
)

// ValidDirection reports whether d is a known message direction.
func ValidDirection(d string) bool {
	return d == DirectionInbound || d == DirectionOutbound || d == DirectionInternal
}

// Message is a directional communication record. OUTBOUND messages put the
// parent item into a reply-pending state; INBOUND messages clear it.
type Message struct {
	ID         string    `json:"id"`
	WorkItemID string    `json:"work_item_id"`
	AuthorID   string    `json:"author_id"`
	Direction  string    `json:"direction"`
	Body       string    `json:"body"`
	ContactID  *string   `json:"contact_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// QC check statuses.
const (
	QCPending = "PENDING"
	QCPassed  = "PASSED"
	QCFailed  = "FAILED"
	QCSkipped = "SKIPPED"
)

// ValidQCStatus reports whether s is a known QC check status.
func ValidQCStatus(s string) bool {
	return s == QCPending || s == QCPassed || s == QCFailed || s == QCSkipped
}

// QCCheck is a named pass/fail checkpoint attached to a work item. An item
// with one or more checks cannot reach DONE until all of them pass.
type QCCheck struct {
	ID          string     `json:"id"`
	WorkItemID  string     `json:"work_item_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Notes       *string    `json:"notes,omitempty"`
	CheckedAt   *time.Time `json:"checked_at,omitempty"`
	CheckedByID *string    `json:"checked_by_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Audit actions.
const (
	AuditCreated       = "CREATED"
	AuditStatusChanged = "STATUS_CHANGED"
	AuditOwnerChanged  = "OWNER_CHANGED"
	AuditDeleted       = "DELETED"
)

// AuditLog is an immutable append-only record of a significant change.
// work_item_id is deliberately not a foreign key: the trail outlives
// deleted items.
type AuditLog struct {
	ID         int64          `json:"id"`
	WorkItemID string         `json:"work_item_id"`
	UserID     string         `json:"user_id"`
	Action     string         `json:"action"`
	FromValue  *string        `json:"from_value,omitempty"`
	ToValue    *string        `json:"to_value,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TriggerTemplate is the per-type default subtask list and due-day offset
// consumed at work item creation.
type TriggerTemplate struct {
	WorkItemType  string    `json:"work_item_type"`
	SubtaskTitles []string  `json:"subtask_titles"`
	DueDays       int       `json:"due_days"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Attachment is a stored file belonging to a work item. ThumbKey is set
// when the upload was a decodable image.
type Attachment struct {
	ID          string    `json:"id"`
	WorkItemID  string    `json:"work_item_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	StorageKey  string    `json:"storage_key"`
	ThumbKey    *string   `json:"thumb_key,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}
