package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"opsboard/internal/models"
)

// ValidationError is a client-facing gate or input failure. Problems lists
// every unmet condition, never just the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// ChangeRequest is a partial patch of a work item, optionally carrying a
// status transition. Nil pointers mean "leave unchanged"; for owner and
// blocked reason an explicit empty string clears the field.
type ChangeRequest struct {
	Status          *string    `json:"status"`
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	Priority        *int       `json:"priority"`
	DueAt           *time.Time `json:"due_at"`
	OwnerID         *string    `json:"owner_id"`
	BlockedReason   *string    `json:"blocked_reason"`
	Tags            *[]string  `json:"tags"`
	NeedsProofing   *bool      `json:"needs_proofing"`
	DeliverableType *string    `json:"deliverable_type"`

	TBPGraphicsLocation *string    `json:"tbp_graphics_location"`
	TBPPublishDate      *time.Time `json:"tbp_publish_date"`
	TBPArticleLink      *string    `json:"tbp_article_link"`
	TBPTxTie            *string    `json:"tbp_tx_tie"`
	TBPMagazineIssue    *string    `json:"tbp_magazine_issue"`
}

// AuditEntry describes the single audit row a plan emits.
type AuditEntry struct {
	Action    string
	FromValue *string
	ToValue   *string
	Meta      map[string]any
}

// Plan is the computed outcome of a change request: the column values to
// write, the fully merged item, and at most one audit entry. The store
// applies a plan atomically; nothing is written if planning fails.
type Plan struct {
	ItemID  string
	Changes map[string]any
	Item    models.WorkItem
	Audit   *AuditEntry
}

// PlanChange validates a change request against the current persisted item
// and its QC checklist, and produces the plan to apply. All gate checks run
// before any column value is staged, so a failure leaves nothing to write.
func PlanChange(item models.WorkItem, req ChangeRequest, checks []models.QCCheck, updatedBy string, now time.Time) (Plan, error) {
	statusChanging := req.Status != nil && *req.Status != item.Status

	if req.Status != nil && !models.ValidStatus(*req.Status) {
		return Plan{}, &ValidationError{Problems: []string{fmt.Sprintf("unknown status %q", *req.Status)}}
	}

	// Gates run for any requested status, even a no-op one; stamping below
	// only happens when the status actually changes.
	if req.Status != nil {
		if err := checkGates(item, req, *req.Status, checks); err != nil {
			return Plan{}, err
		}
	}

	plan := Plan{
		ItemID:  item.ID,
		Changes: map[string]any{},
		Item:    item,
	}

	applyPatch(&plan, req)

	oldStatus := item.Status
	if statusChanging {
		newStatus := *req.Status
		plan.set("status", newStatus)
		plan.Item.Status = newStatus
		plan.set("status_changed_at", now)
		plan.Item.StatusChangedAt = now

		// First entry into IN_PROGRESS stamps started_at; it is never
		// overwritten or cleared after that.
		if newStatus == models.StatusInProgress && item.StartedAt == nil {
			plan.set("started_at", now)
			plan.Item.StartedAt = &now
		}
		if newStatus == models.StatusDone {
			plan.set("completed_at", now)
			plan.Item.CompletedAt = &now
		} else if oldStatus == models.StatusDone {
			// Reopening clears completion.
			plan.set("completed_at", (*time.Time)(nil))
			plan.Item.CompletedAt = nil
		}
	}

	ownerChanging := req.OwnerID != nil && !strPtrEq(normalizeOwner(req.OwnerID), item.OwnerID)
	if ownerChanging {
		plan.set("owner_changed_at", now)
		t := now
		plan.Item.OwnerChangedAt = &t
	}

	if len(plan.Changes) == 0 {
		return plan, nil
	}

	plan.set("updated_by_id", updatedBy)
	plan.Item.UpdatedByID = &updatedBy

	// One audit row per observable transition. A status change wins the
	// action label when the same call also reassigns the owner; the owner
	// change stays visible in meta.
	switch {
	case statusChanging:
		plan.Audit = &AuditEntry{
			Action:    models.AuditStatusChanged,
			FromValue: strPtr(oldStatus),
			ToValue:   req.Status,
			Meta:      auditMeta(plan.Changes),
		}
	case ownerChanging:
		plan.Audit = &AuditEntry{
			Action:    models.AuditOwnerChanged,
			FromValue: item.OwnerID,
			ToValue:   normalizeOwner(req.OwnerID),
			Meta:      auditMeta(plan.Changes),
		}
	}

	return plan, nil
}

// checkGates enforces the TBP field gate and the QA checklist gate for the
// requested status. Both gates report every unmet condition in one error.
func checkGates(item models.WorkItem, req ChangeRequest, requested string, checks []models.QCCheck) error {
	var problems []string

	if (requested == models.StatusNeedsQA || requested == models.StatusDone) && TypeRequiresTBP(item.Type) {
		merged := TBPFields{
			GraphicsLocation: coalesce(req.TBPGraphicsLocation, item.TBPGraphicsLocation),
			PublishDate:      coalesceTime(req.TBPPublishDate, item.TBPPublishDate),
			ArticleLink:      coalesce(req.TBPArticleLink, item.TBPArticleLink),
			TxTie:            coalesce(req.TBPTxTie, item.TBPTxTie),
		}
		if ok, missing := TBPFieldsComplete(merged); !ok {
			for _, label := range missing {
				problems = append(problems, fmt.Sprintf("%s is required for TBP/Magazine items", label))
			}
		}
	}

	if requested == models.StatusDone {
		if res := QAChecklistComplete(checks); res.Total > 0 && !res.Complete {
			problems = append(problems, fmt.Sprintf(
				"QA checklist incomplete: %d/%d passed, %d failed", res.Passed, res.Total, res.Failed))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// applyPatch stages every present patch field onto the plan.
func applyPatch(plan *Plan, req ChangeRequest) {
	if req.Title != nil {
		plan.set("title", *req.Title)
		plan.Item.Title = *req.Title
	}
	if req.Description != nil {
		plan.set("description", req.Description)
		plan.Item.Description = req.Description
	}
	if req.Priority != nil {
		plan.set("priority", *req.Priority)
		plan.Item.Priority = *req.Priority
	}
	if req.DueAt != nil {
		plan.set("due_at", req.DueAt)
		plan.Item.DueAt = req.DueAt
	}
	if req.OwnerID != nil {
		owner := normalizeOwner(req.OwnerID)
		plan.set("owner_id", owner)
		plan.Item.OwnerID = owner
	}
	if req.BlockedReason != nil {
		reason := emptyToNil(*req.BlockedReason)
		plan.set("blocked_reason", reason)
		plan.Item.BlockedReason = reason
	}
	if req.Tags != nil {
		plan.set("tags", *req.Tags)
		plan.Item.Tags = *req.Tags
	}
	if req.NeedsProofing != nil {
		plan.set("needs_proofing", *req.NeedsProofing)
		plan.Item.NeedsProofing = *req.NeedsProofing
	}
	if req.DeliverableType != nil {
		dt := emptyToNil(*req.DeliverableType)
		plan.set("deliverable_type", dt)
		plan.Item.DeliverableType = dt
	}
	if req.TBPGraphicsLocation != nil {
		plan.set("tbp_graphics_location", req.TBPGraphicsLocation)
		plan.Item.TBPGraphicsLocation = req.TBPGraphicsLocation
	}
	if req.TBPPublishDate != nil {
		plan.set("tbp_publish_date", req.TBPPublishDate)
		plan.Item.TBPPublishDate = req.TBPPublishDate
	}
	if req.TBPArticleLink != nil {
		plan.set("tbp_article_link", req.TBPArticleLink)
		plan.Item.TBPArticleLink = req.TBPArticleLink
	}
	if req.TBPTxTie != nil {
		plan.set("tbp_tx_tie", req.TBPTxTie)
		plan.Item.TBPTxTie = req.TBPTxTie
	}
	if req.TBPMagazineIssue != nil {
		plan.set("tbp_magazine_issue", req.TBPMagazineIssue)
		plan.Item.TBPMagazineIssue = req.TBPMagazineIssue
	}
}

func (p *Plan) set(column string, value any) {
	p.Changes[column] = value
}

// auditMeta renders the change set for the audit row's meta column.
// Timestamps become RFC3339 strings so the JSON stays readable.
func auditMeta(changes map[string]any) map[string]any {
	meta := make(map[string]any, len(changes))
	for col, v := range changes {
		switch t := v.(type) {
		case time.Time:
			meta[col] = t.UTC().Format(time.RFC3339)
		case *time.Time:
			if t == nil {
				meta[col] = nil
			} else {
				meta[col] = t.UTC().Format(time.RFC3339)
			}
		case *string:
			if t == nil {
				meta[col] = nil
			} else {
				meta[col] = *t
			}
		default:
			meta[col] = v
		}
	}
	return meta
}

func normalizeOwner(owner *string) *string {
	if owner == nil {
		return nil
	}
	return emptyToNil(*owner)
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func strPtr(v string) *string { return &v }

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func coalesce(patch, existing *string) *string {
	if patch != nil {
		return patch
	}
	return existing
}

func coalesceTime(patch, existing *time.Time) *time.Time {
	if patch != nil {
		return patch
	}
	return existing
}
