package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
)

type tenantRepository struct {
	db *tenantTable
}

var _ eligibility.Repository = (*tenantRepository)(nil) // interface compliance check

func NewTenantRepository(db *DB) eligibility.Repository {
	return &tenantRepository{db: db.tenant}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyTenant(t *eligibility.Tenant) eligibility.Tenant {
	c := *t
	c.Deadline = copyTime(t.Deadline)
	c.VerifiedAt = copyTime(t.VerifiedAt)
	c.Documents = nil
	return c
}

func (repo *tenantRepository) CreateTenant(_ context.Context, t eligibility.Tenant) (eligibility.Tenant, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, other := range repo.db.table {
		if other.Slug == t.Slug {
			return eligibility.Tenant{}, core.NewConflictError("a tenant with slug %q already exists", t.Slug)
		}
	}
	t.ID = uuid.New().String()
	if t.Version == 0 {
		t.Version = 1
	}
	stored := copyTenant(&t)
	repo.db.table[t.ID] = &stored
	return copyTenant(&stored), nil
}

func (repo *tenantRepository) GetTenant(_ context.Context, id string) (eligibility.Tenant, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if t, ok := repo.db.table[id]; ok {
		return copyTenant(t), nil
	}
	return eligibility.Tenant{}, core.NewNotFoundError("tenant", id)
}

func matchTenant(t *eligibility.Tenant, filter eligibility.QueryFilter) bool {
	if len(filter.Statuses) > 0 {
		var ok bool
		for _, st := range filter.Statuses {
			if t.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filter.Search != "" {
		q := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(t.Name), q) && !strings.Contains(t.Slug, q) {
			return false
		}
	}
	if !filter.DueAfter.IsZero() && (t.Deadline == nil || t.Deadline.Before(filter.DueAfter)) {
		return false
	}
	if !filter.DueBefore.IsZero() && (t.Deadline == nil || !t.Deadline.Before(filter.DueBefore)) {
		return false
	}
	return true
}

func lessTenant(a, b eligibility.Tenant, ordering []core.DBOrdering) bool {
	for _, ord := range ordering {
		var cmp int
		switch ord.Field {
		case "created_at":
			cmp = compareTime(a.CreatedAt, b.CreatedAt)
		case "updated_at":
			cmp = compareTime(a.UpdatedAt, b.UpdatedAt)
		case "eligibility_deadline":
			cmp = compareTimePtr(a.Deadline, b.Deadline)
		case "name":
			cmp = strings.Compare(a.Name, b.Name)
		}
		if cmp == 0 {
			continue
		}
		if ord.Ascending {
			return cmp < 0
		}
		return cmp > 0
	}
	return false
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// nil sorts last
func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return compareTime(*a, *b)
}

func (repo *tenantRepository) QueryTenants(_ context.Context, filter eligibility.QueryFilter, ordering []core.DBOrdering, page *core.Page) ([]eligibility.Tenant, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	tenants := make([]eligibility.Tenant, 0, len(repo.db.table))
	for _, t := range repo.db.table {
		if matchTenant(t, filter) {
			tenants = append(tenants, copyTenant(t))
		}
	}
	sort.SliceStable(tenants, func(i, j int) bool {
		if lessTenant(tenants[i], tenants[j], ordering) {
			return true
		}
		if lessTenant(tenants[j], tenants[i], ordering) {
			return false
		}
		return tenants[i].ID < tenants[j].ID
	})

	total := len(tenants)
	if page != nil {
		start, end := paginate(total, page.Offset(), page.Limit)
		tenants = tenants[start:end]
	}
	return tenants, total, nil
}

func (repo *tenantRepository) ApplyTransition(_ context.Context, tr eligibility.Transition) (eligibility.Tenant, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[tr.Tenant.ID]
	if !ok {
		return eligibility.Tenant{}, core.NewNotFoundError("tenant", tr.Tenant.ID)
	}
	if stored.Status != tr.From || stored.Version != tr.Tenant.Version-1 {
		return eligibility.Tenant{}, core.NewConflictError("tenant was modified concurrently, it is now %s", stored.Status)
	}

	next := copyTenant(&tr.Tenant)
	next.CreatedAt = stored.CreatedAt
	repo.db.table[next.ID] = &next

	if tr.Review != nil {
		for _, doc := range repo.db.documents[next.ID] {
			if doc.Status != eligibility.DocPending {
				continue
			}
			reviewedAt := tr.Review.ReviewedAt
			doc.Status = tr.Review.Status
			doc.ReviewedBy = tr.Review.ReviewedBy
			doc.ReviewedAt = &reviewedAt
			doc.ReviewNotes = tr.Review.Notes
		}
	}
	return copyTenant(&next), nil
}

func (repo *tenantRepository) CreateDocument(_ context.Context, d eligibility.Document) (eligibility.Document, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[d.TenantID]; !ok {
		return eligibility.Document{}, core.NewNotFoundError("tenant", d.TenantID)
	}
	d.ID = uuid.New().String()
	stored := d
	repo.db.documents[d.TenantID] = append(repo.db.documents[d.TenantID], &stored)
	return d, nil
}

// QueryDocuments returns the documents of the given tenants, oldest first.
func (repo *tenantRepository) QueryDocuments(_ context.Context, tenantIDs ...string) ([]eligibility.Document, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	docs := make([]eligibility.Document, 0)
	for _, id := range tenantIDs {
		for _, doc := range repo.db.documents[id] {
			d := *doc
			d.ReviewedAt = copyTime(doc.ReviewedAt)
			docs = append(docs, d)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	return docs, nil
}

func (repo *tenantRepository) CountTenants(_ context.Context, threshold int) (eligibility.Counts, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	counts := eligibility.Counts{
		Total:     len(repo.db.table),
		ByStatus:  make(map[eligibility.Status]int),
		Documents: make(map[eligibility.DocumentStatus]int),
	}
	for _, t := range repo.db.table {
		counts.ByStatus[t.Status]++
		if t.StudentCount >= threshold {
			counts.AboveThreshold++
		}
	}
	for _, docs := range repo.db.documents {
		for _, d := range docs {
			counts.Documents[d.Status]++
		}
	}
	return counts, nil
}

func (repo *tenantRepository) CountActivity(_ context.Context, since time.Time) (eligibility.Activity, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var act eligibility.Activity
	var processing time.Duration
	for _, t := range repo.db.table {
		if !t.CreatedAt.Before(since) {
			act.Registered++
		}
		switch {
		case t.Status == eligibility.StatusEligible && t.VerifiedAt != nil && !t.VerifiedAt.Before(since):
			act.Approved++
			processing += t.VerifiedAt.Sub(t.CreatedAt)
		case t.Status == eligibility.StatusRejected && !t.UpdatedAt.Before(since):
			act.Rejected++
		}
	}
	if act.Approved > 0 {
		act.AvgProcessingDays = processing.Hours() / 24 / float64(act.Approved)
	}
	return act, nil
}
