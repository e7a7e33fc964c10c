package lifecycle

import (
	"time"

	"opsboard/internal/models"
)

// TypeRequiresTBP reports whether a work item type belongs to the
// TBP/Magazine category and therefore needs the four TBP fields filled in
// before it may enter NEEDS_QA or DONE. New gated categories are added
// here, not in the transition control flow.
func TypeRequiresTBP(workItemType string) bool {
	switch workItemType {
	case models.TypeTxBookPreviewLead, models.TypeMagazineContent:
		return true
	}
	return false
}

// TBPFields carries the four gated fields, merged from the stored item and
// the incoming patch.
type TBPFields struct {
	GraphicsLocation *string
	PublishDate      *time.Time
	ArticleLink      *string
	TxTie            *string
}

// Human labels for the gated fields, used verbatim in gate errors.
const (
	labelGraphicsLocation = "Graphics location"
	labelPublishDate      = "Publish date"
	labelArticleLink      = "Article link"
	labelTxTie            = "Texas tie/connection"
)

// TBPFieldsComplete reports whether all four TBP fields are present and
// returns the labels of every missing one, not just the first.
func TBPFieldsComplete(f TBPFields) (bool, []string) {
	var missing []string
	if f.GraphicsLocation == nil || *f.GraphicsLocation == "" {
		missing = append(missing, labelGraphicsLocation)
	}
	if f.PublishDate == nil || f.PublishDate.IsZero() {
		missing = append(missing, labelPublishDate)
	}
	if f.ArticleLink == nil || *f.ArticleLink == "" {
		missing = append(missing, labelArticleLink)
	}
	if f.TxTie == nil || *f.TxTie == "" {
		missing = append(missing, labelTxTie)
	}
	return len(missing) == 0, missing
}

// QAResult summarizes a work item's QC checklist. Skipped checks do not
// block completion and are excluded from Total.
type QAResult struct {
	Complete bool
	Passed   int
	Failed   int
	Pending  int
	Total    int
}

// QAChecklistComplete evaluates the QC checklist. The checklist is complete
// when it has at least one non-skipped check and none of them are pending
// or failed.
func QAChecklistComplete(checks []models.QCCheck) QAResult {
	var res QAResult
	for _, c := range checks {
		switch c.Status {
		case models.QCPassed:
			res.Passed++
		case models.QCFailed:
			res.Failed++
		case models.QCPending:
			res.Pending++
		case models.QCSkipped:
			continue
		}
		res.Total++
	}
	res.Complete = res.Total > 0 && res.Passed == res.Total
	return res
}
