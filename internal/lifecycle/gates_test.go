package lifecycle

import (
	"testing"
	"time"

	"opsboard/internal/models"
)

func strp(s string) *string { return &s }

func timep(t time.Time) *time.Time { return &t }

func TestTBPFieldsComplete(t *testing.T) {
	pub := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	ok, missing := TBPFieldsComplete(TBPFields{
		GraphicsLocation: strp("/drive/graphics/issue-12"),
		PublishDate:      timep(pub),
		ArticleLink:      strp("https://example.com/article"),
		TxTie:            strp("Author lives in Austin"),
	})
	if !ok || len(missing) != 0 {
		t.Fatalf("expected complete fields, got ok=%v missing=%v", ok, missing)
	}

	ok, missing = TBPFieldsComplete(TBPFields{
		GraphicsLocation: strp(""),
		ArticleLink:      strp("https://example.com/article"),
	})
	if ok {
		t.Fatal("expected incomplete fields")
	}
	// Every missing field must be named, not just the first.
	if len(missing) != 3 {
		t.Fatalf("expected 3 missing labels, got %v", missing)
	}
	want := []string{"Graphics location", "Publish date", "Texas tie/connection"}
	for i, label := range want {
		if missing[i] != label {
			t.Fatalf("missing[%d] = %q, want %q", i, missing[i], label)
		}
	}
}

func TestQAChecklistComplete(t *testing.T) {
	check := func(status string) models.QCCheck {
		return models.QCCheck{Status: status}
	}

	res := QAChecklistComplete(nil)
	if res.Complete || res.Total != 0 {
		t.Fatalf("empty checklist should be incomplete with zero total, got %+v", res)
	}

	res = QAChecklistComplete([]models.QCCheck{check(models.QCPassed), check(models.QCPassed)})
	if !res.Complete || res.Passed != 2 || res.Total != 2 {
		t.Fatalf("all-passed checklist should be complete, got %+v", res)
	}

	res = QAChecklistComplete([]models.QCCheck{check(models.QCPassed), check(models.QCFailed), check(models.QCPending)})
	if res.Complete {
		t.Fatalf("checklist with failures should be incomplete, got %+v", res)
	}
	if res.Passed != 1 || res.Failed != 1 || res.Pending != 1 || res.Total != 3 {
		t.Fatalf("wrong counts: %+v", res)
	}

	// Skipped checks neither block nor count toward the total.
	res = QAChecklistComplete([]models.QCCheck{check(models.QCPassed), check(models.QCSkipped)})
	if !res.Complete || res.Total != 1 || res.Passed != 1 {
		t.Fatalf("skipped check should be excluded, got %+v", res)
	}
}

func TestTypeRequiresTBP(t *testing.T) {
	if !TypeRequiresTBP(models.TypeTxBookPreviewLead) || !TypeRequiresTBP(models.TypeMagazineContent) {
		t.Fatal("TBP/Magazine types must require gating")
	}
	if TypeRequiresTBP(models.TypeGeneral) || TypeRequiresTBP(models.TypeCampaign) {
		t.Fatal("non-magazine types must not require gating")
	}
}
