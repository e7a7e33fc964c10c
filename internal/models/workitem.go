package models

import (
	"time"
)

// Status enumerates work item lifecycle states persisted in Postgres.
// Every status except done is "active" for reporting purposes.
const (
	StatusBacklog    = "BACKLOG"
	StatusReady      = "READY"
	StatusInProgress = "IN_PROGRESS"
	StatusInReview   = "IN_REVIEW"
	StatusNeedsQA    = "NEEDS_QA"
	StatusBlocked    = "BLOCKED"
	StatusDone       = "DONE"
)

// Statuses lists every valid status.
var Statuses = []string{
	StatusBacklog,
	StatusReady,
	StatusInProgress,
	StatusInReview,
	StatusNeedsQA,
	StatusBlocked,
	StatusDone,
}

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Work item types. TX_BOOK_PREVIEW_LEAD and MAGAZINE_CONTENT form the
// TBP/Magazine category and carry extra required fields before QA.
const (
	TypeGeneral           = "GENERAL"
	TypeCampaign          = "CAMPAIGN"
	TypeDesignRequest     = "DESIGN_REQUEST"
	TypeContentReview     = "CONTENT_REVIEW"
	TypeTxBookPreviewLead = "TX_BOOK_PREVIEW_LEAD"
	TypeMagazineContent   = "MAGAZINE_CONTENT"
)

// Types lists every valid work item type.
var Types = []string{
	TypeGeneral,
	TypeCampaign,
	TypeDesignRequest,
	TypeContentReview,
	TypeTxBookPreviewLead,
	TypeMagazineContent,
}

// ValidType reports whether t is a known work item type.
func ValidType(t string) bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}

// Priority ordinals, low to urgent.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
	PriorityUrgent = 3
)

// WorkItem is a trackable unit of operational work.
type WorkItem struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	DeliverableType *string  `json:"deliverable_type,omitempty"`
	Status          string   `json:"status"`
	Priority        int      `json:"priority"`
	BlockedReason   *string  `json:"blocked_reason,omitempty"`
	RequesterID     string   `json:"requester_id"`
	OwnerID         *string  `json:"owner_id,omitempty"`
	Title           string   `json:"title"`
	Description     *string  `json:"description,omitempty"`
	Tags            []string `json:"tags"`
	NeedsProofing   bool     `json:"needs_proofing"`

	// TBP/Magazine fields, required before NEEDS_QA/DONE for gated types.
	TBPGraphicsLocation *string    `json:"tbp_graphics_location,omitempty"`
	TBPPublishDate      *time.Time `json:"tbp_publish_date,omitempty"`
	TBPArticleLink      *string    `json:"tbp_article_link,omitempty"`
	TBPTxTie            *string    `json:"tbp_tx_tie,omitempty"`
	TBPMagazineIssue    *string    `json:"tbp_magazine_issue,omitempty"`

	// Reply-pending state, mutated by message creation.
	WaitingOnUserID *string    `json:"waiting_on_user_id,omitempty"`
	WaitingReason   *string    `json:"waiting_reason,omitempty"`
	WaitingSince    *time.Time `json:"waiting_since,omitempty"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`

	DueAt           *time.Time `json:"due_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	OwnerChangedAt  *time.Time `json:"owner_changed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	UpdatedByID     *string    `json:"updated_by_id,omitempty"`
}

// Active reports whether the item counts toward SLA/overdue/bottleneck
// reporting. Everything short of done is active.
func (w WorkItem) Active() bool {
	return w.Status != StatusDone
}
