package inmemdb

import (
	"context"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/audit"
)

type auditRepository struct {
	db *auditTable
}

var _ audit.Store = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(db *DB) audit.Store {
	return &auditRepository{db: db.audit}
}

func copyDetails(d audit.Details) audit.Details {
	c := make(audit.Details, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

func (repo *auditRepository) Append(_ context.Context, entry audit.Entry) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	entry.Details = copyDetails(entry.Details)
	repo.db.entries = append(repo.db.entries, entry)
	return nil
}

// Query lists matching entries, newest first.
func (repo *auditRepository) Query(_ context.Context, filter audit.Filter, page core.Page) ([]audit.Entry, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	entries := make([]audit.Entry, 0)
	for i := len(repo.db.entries) - 1; i >= 0; i-- {
		e := repo.db.entries[i]
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.Timestamp.After(filter.To) {
			continue
		}
		e.Details = copyDetails(e.Details)
		entries = append(entries, e)
	}

	total := len(entries)
	start, end := paginate(total, page.Offset(), page.Limit)
	return entries[start:end], total, nil
}
