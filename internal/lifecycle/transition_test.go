package lifecycle

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"opsboard/internal/models"
)

var testNow = time.Date(2026, 4, 15, 10, 30, 0, 0, time.UTC)

func baseItem() models.WorkItem {
	return models.WorkItem{
		ID:          "item-1",
		Type:        models.TypeGeneral,
		Status:      models.StatusInReview,
		Priority:    models.PriorityNormal,
		RequesterID: "user-req",
		Title:       "Spring campaign brief",
		CreatedAt:   testNow.Add(-72 * time.Hour),
	}
}

func tbpItem() models.WorkItem {
	item := baseItem()
	item.Type = models.TypeTxBookPreviewLead
	return item
}

func TestTBPGateNamesEveryMissingField(t *testing.T) {
	item := tbpItem()
	item.TBPGraphicsLocation = strp("/x")

	_, err := PlanChange(item, ChangeRequest{Status: strp(models.StatusNeedsQA)}, nil, "user-1", testNow)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Problems) != 3 {
		t.Fatalf("expected 3 problems, got %v", verr.Problems)
	}
	joined := strings.Join(verr.Problems, "\n")
	for _, want := range []string{"Publish date", "Article link", "Texas tie/connection"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("problems missing %q: %v", want, verr.Problems)
		}
	}
	if strings.Contains(joined, "Graphics location") {
		t.Fatalf("graphics location is present and must not be reported: %v", verr.Problems)
	}
}

// The example scenario from the acceptance checklist: IN_REVIEW item with
// everything but the TX tie filled in, transitioning to NEEDS_QA.
func TestTBPGateSingleMissingField(t *testing.T) {
	item := tbpItem()
	item.TBPGraphicsLocation = strp("/x")
	item.TBPPublishDate = timep(testNow.Add(240 * time.Hour))
	item.TBPArticleLink = strp("https://example.com/preview")

	_, err := PlanChange(item, ChangeRequest{Status: strp(models.StatusNeedsQA)}, nil, "user-1", testNow)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Problems) != 1 || verr.Problems[0] != "Texas tie/connection is required for TBP/Magazine items" {
		t.Fatalf("unexpected problems: %v", verr.Problems)
	}
}

func TestTBPGateMergesPatchOverStored(t *testing.T) {
	item := tbpItem()
	item.TBPGraphicsLocation = strp("/x")
	item.TBPPublishDate = timep(testNow)
	item.TBPArticleLink = strp("https://example.com/a")

	// The missing TX tie arrives in the same patch as the transition.
	plan, err := PlanChange(item, ChangeRequest{
		Status:   strp(models.StatusNeedsQA),
		TBPTxTie: strp("Printed in the Houston edition"),
	}, nil, "user-1", testNow)
	if err != nil {
		t.Fatalf("expected gate to pass with patched field: %v", err)
	}
	if plan.Item.Status != models.StatusNeedsQA {
		t.Fatalf("status not applied: %s", plan.Item.Status)
	}
}

func TestQAGateReportsCounts(t *testing.T) {
	item := tbpItem()
	item.TBPGraphicsLocation = strp("/x")
	item.TBPPublishDate = timep(testNow)
	item.TBPArticleLink = strp("https://example.com/a")
	item.TBPTxTie = strp("tx")

	checks := []models.QCCheck{
		{Status: models.QCPassed},
		{Status: models.QCPassed},
		{Status: models.QCFailed},
		{Status: models.QCPending},
	}
	_, err := PlanChange(item, ChangeRequest{Status: strp(models.StatusDone)}, checks, "user-1", testNow)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Problems) != 1 || verr.Problems[0] != "QA checklist incomplete: 2/4 passed, 1 failed" {
		t.Fatalf("unexpected problems: %v", verr.Problems)
	}
}

// Gates are vacuous for non-gated types with no checkpoints.
func TestDoneVacuousForGeneralItem(t *testing.T) {
	item := baseItem()
	plan, err := PlanChange(item, ChangeRequest{Status: strp(models.StatusDone)}, nil, "user-1", testNow)
	if err != nil {
		t.Fatalf("expected success: %v", err)
	}
	if plan.Item.Status != models.StatusDone {
		t.Fatalf("status = %s", plan.Item.Status)
	}
	if plan.Item.CompletedAt == nil || !plan.Item.CompletedAt.Equal(testNow) {
		t.Fatalf("completed_at not stamped: %v", plan.Item.CompletedAt)
	}
}

func TestDoneWithAllPassedChecks(t *testing.T) {
	item := baseItem()
	checks := []models.QCCheck{{Status: models.QCPassed}, {Status: models.QCPassed}}
	if _, err := PlanChange(item, ChangeRequest{Status: strp(models.StatusDone)}, checks, "user-1", testNow); err != nil {
		t.Fatalf("expected success with all-passed checklist: %v", err)
	}
}

func TestStartedAtStampedOnce(t *testing.T) {
	item := baseItem()
	item.Status = models.StatusReady

	plan, err := PlanChange(item, ChangeRequest{Status: strp(models.StatusInProgress)}, nil, "user-1", testNow)
	if err != nil {
		t.Fatalf("transition to in progress: %v", err)
	}
	if plan.Item.StartedAt == nil || !plan.Item.StartedAt.Equal(testNow) {
		t.Fatalf("started_at not stamped: %v", plan.Item.StartedAt)
	}

	// Round trip through BLOCKED and back; started_at must survive untouched.
	item = plan.Item
	later := testNow.Add(2 * time.Hour)
	plan, err = PlanChange(item, ChangeRequest{Status: strp(models.StatusBlocked), BlockedReason: strp("waiting on print vendor")}, nil, "user-1", later)
	if err != nil {
		t.Fatalf("transition to blocked: %v", err)
	}
	item = plan.Item
	plan, err = PlanChange(item, ChangeRequest{Status: strp(models.StatusInProgress)}, nil, "user-1", later.Add(time.Hour))
	if err != nil {
		t.Fatalf("transition back to in progress: %v", err)
	}
	if _, staged := plan.Changes["started_at"]; staged {
		t.Fatal("started_at must not be rewritten on re-entry")
	}
	if !plan.Item.StartedAt.Equal(testNow) {
		t.Fatalf("started_at changed: %v", plan.Item.StartedAt)
	}
}

func TestReopenClearsCompletedAt(t *testing.T) {
	item := baseItem()
	item.Status = models.StatusDone
	done := testNow.Add(-24 * time.Hour)
	item.CompletedAt = &done

	plan, err := PlanChange(item, ChangeRequest{Status: strp(models.StatusInReview)}, nil, "user-1", testNow)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if plan.Item.CompletedAt != nil {
		t.Fatalf("completed_at not cleared: %v", plan.Item.CompletedAt)
	}
	if v, staged := plan.Changes["completed_at"]; !staged {
		t.Fatal("completed_at clear not staged for persistence")
	} else if ptr, ok := v.(*time.Time); !ok || ptr != nil {
		t.Fatalf("staged completed_at should be a nil *time.Time, got %#v", v)
	}
}

func TestAuditStatusChangeWinsOverOwnerChange(t *testing.T) {
	item := baseItem()
	item.Status = models.StatusReady
	item.OwnerID = strp("user-old")

	plan, err := PlanChange(item, ChangeRequest{
		Status:  strp(models.StatusInProgress),
		OwnerID: strp("user-new"),
	}, nil, "user-1", testNow)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Audit == nil {
		t.Fatal("expected an audit entry")
	}
	if plan.Audit.Action != models.AuditStatusChanged {
		t.Fatalf("action = %s, want STATUS_CHANGED", plan.Audit.Action)
	}
	if *plan.Audit.FromValue != models.StatusReady || *plan.Audit.ToValue != models.StatusInProgress {
		t.Fatalf("from/to = %v/%v", plan.Audit.FromValue, plan.Audit.ToValue)
	}
	// The owner change still rides along in meta.
	if got, ok := plan.Audit.Meta["owner_id"]; !ok || got != "user-new" {
		t.Fatalf("meta missing owner change: %v", plan.Audit.Meta)
	}
	if plan.Item.OwnerChangedAt == nil {
		t.Fatal("owner_changed_at not stamped")
	}
}

func TestAuditOwnerOnlyChange(t *testing.T) {
	item := baseItem()
	plan, err := PlanChange(item, ChangeRequest{OwnerID: strp("user-new")}, nil, "user-1", testNow)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Audit == nil || plan.Audit.Action != models.AuditOwnerChanged {
		t.Fatalf("expected OWNER_CHANGED audit, got %+v", plan.Audit)
	}
	if plan.Audit.FromValue != nil || *plan.Audit.ToValue != "user-new" {
		t.Fatalf("from/to = %v/%v", plan.Audit.FromValue, plan.Audit.ToValue)
	}
}

func TestNoAuditForPlainFieldUpdate(t *testing.T) {
	item := baseItem()
	plan, err := PlanChange(item, ChangeRequest{Description: strp("tightened copy")}, nil, "user-1", testNow)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Audit != nil {
		t.Fatalf("description-only update must not audit, got %+v", plan.Audit)
	}
	if plan.Item.Description == nil || *plan.Item.Description != "tightened copy" {
		t.Fatalf("description not applied: %v", plan.Item.Description)
	}
}

// A failed gate must stage nothing: the returned zero plan carries no
// changes and the caller never reaches the store.
func TestGateFailureStagesNothing(t *testing.T) {
	item := tbpItem()
	before := item

	plan, err := PlanChange(item, ChangeRequest{
		Status: strp(models.StatusNeedsQA),
		Title:  strp("should not apply"),
	}, nil, "user-1", testNow)
	if err == nil {
		t.Fatal("expected gate failure")
	}
	if len(plan.Changes) != 0 || plan.Audit != nil {
		t.Fatalf("failed plan staged changes: %+v", plan)
	}
	if !reflect.DeepEqual(item, before) {
		t.Fatal("input item mutated")
	}
}

func TestNoOpStatusDoesNotRestamp(t *testing.T) {
	item := baseItem()
	plan, err := PlanChange(item, ChangeRequest{Status: strp(models.StatusInReview)}, nil, "user-1", testNow)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, staged := plan.Changes["status_changed_at"]; staged {
		t.Fatal("same-status request must not restamp status_changed_at")
	}
	if plan.Audit != nil {
		t.Fatalf("no-op status must not audit: %+v", plan.Audit)
	}
}

func TestOwnerClearedWithEmptyString(t *testing.T) {
	item := baseItem()
	item.OwnerID = strp("user-old")

	plan, err := PlanChange(item, ChangeRequest{OwnerID: strp("")}, nil, "user-1", testNow)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Item.OwnerID != nil {
		t.Fatalf("owner not cleared: %v", plan.Item.OwnerID)
	}
	if plan.Audit == nil || plan.Audit.ToValue != nil {
		t.Fatalf("expected owner-change audit with nil to-value, got %+v", plan.Audit)
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	item := baseItem()
	_, err := PlanChange(item, ChangeRequest{Status: strp("SHIPPED")}, nil, "user-1", testNow)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
