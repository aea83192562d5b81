package engine

import (
	"context"
	"sort"

	"civicflow/internal/domain"
)

const (
	TimelineStatus = "status"
	TimelineAudit  = "audit"
)

// Timeline merges a report's status history with its audit entries, oldest
// first. At equal timestamps status changes sort before audit entries.
func (e Engine) Timeline(ctx context.Context, reportID int64) ([]domain.TimelineItem, error) {
	history, err := e.History(ctx, reportID)
	if err != nil {
		return nil, err
	}
	entries, err := e.Repo.ListReportAudit(ctx, reportID)
	if err != nil {
		return nil, internal(err, "list audit")
	}
	items := make([]domain.TimelineItem, 0, len(history)+len(entries))
	for i := range history {
		items = append(items, domain.TimelineItem{TS: history[i].ChangedAt, Kind: TimelineStatus, Status: &history[i]})
	}
	for i := range entries {
		items = append(items, domain.TimelineItem{TS: entries[i].TS, Kind: TimelineAudit, Audit: &entries[i]})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.TS != b.TS {
			return a.TS < b.TS
		}
		if a.Kind != b.Kind {
			return a.Kind == TimelineStatus
		}
		return itemID(a) < itemID(b)
	})
	return items, nil
}

func itemID(it domain.TimelineItem) int64 {
	if it.Status != nil {
		return it.Status.ID
	}
	if it.Audit != nil {
		return it.Audit.ID
	}
	return 0
}
