package eligibility

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/audit"
)

type BulkOutcome string

const (
	BulkSuccessful BulkOutcome = "successful"
	BulkFailed     BulkOutcome = "failed"
	BulkSkipped    BulkOutcome = "skipped"
)

type BulkItem struct {
	TenantID string      `json:"tenant_id"`
	Outcome  BulkOutcome `json:"outcome"`
	Status   Status      `json:"status,omitempty"` // status after a successful decision
	Reason   string      `json:"reason,omitempty"`
}

type BulkResult struct {
	Action     Action     `json:"action"`
	Total      int        `json:"total"`
	Successful int        `json:"successful"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Details    []BulkItem `json:"details"`
}

// Bulk applies one decision to many tenants under review. Items are independent: unknown
// tenants and tenants no longer under review are skipped, other errors fail the item only.
// Details keep the input order.
func (svc *Service) Bulk(ctx context.Context, bd BulkDecision, actor core.Actor) (BulkResult, error) {
	if err := svc.validate.Check(bd); err != nil {
		return BulkResult{}, err
	}
	action := bd.Action.Normalize()
	r := decisionRules[action]
	notes := core.CleanString(bd.ReviewNotes)

	items := make([]BulkItem, len(bd.TenantIDs))
	seen := make(map[string]bool, len(bd.TenantIDs))

	var g errgroup.Group
	g.SetLimit(svc.conf.BulkConcurrency)
	for i, id := range bd.TenantIDs {
		i, id := i, core.CleanString(id)
		items[i].TenantID = id
		if seen[id] {
			items[i].Outcome = BulkSkipped
			items[i].Reason = "duplicate tenant id"
			continue
		}
		seen[id] = true

		g.Go(func() error {
			items[i] = svc.bulkOne(ctx, id, r, action, notes, actor)
			return nil
		})
	}
	_ = g.Wait() // items never fail the group

	res := BulkResult{Action: action, Total: len(items), Details: items}
	for _, item := range items {
		switch item.Outcome {
		case BulkSuccessful:
			res.Successful++
		case BulkFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}
	svc.metrics.ObserveBulk(string(action), res.Successful, res.Failed, res.Skipped)
	return res, nil
}

func (svc *Service) bulkOne(ctx context.Context, id string, r rule, action Action, notes string, actor core.Actor) BulkItem {
	item := BulkItem{TenantID: id}
	t, err := svc.transition(ctx, id, r, actor, notes, audit.Details{"action": action, "bulk": true})
	switch {
	case err == nil:
		item.Outcome = BulkSuccessful
		item.Status = t.Status
	case core.IsNotFound(err), core.IsConflict(err):
		item.Outcome = BulkSkipped
		item.Reason = err.Error()
	default:
		item.Outcome = BulkFailed
		item.Reason = err.Error()
		svc.log.Error("bulk: decision failed", err, map[string]interface{}{"tenant_id": id, "action": action})
		svc.audit.Record(ctx, audit.Entry{
			TenantID:    id,
			Action:      audit.ActionBulkActionFailed,
			PerformedBy: actor.ID,
			Details:     audit.Details{"action": action, "error": err.Error()},
		})
	}
	return item
}
