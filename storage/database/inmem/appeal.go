package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/appeal"
)

type appealRepository struct {
	db *appealTable
}

var _ appeal.Repository = (*appealRepository)(nil) // interface compliance check

func NewAppealRepository(db *DB) appeal.Repository {
	return &appealRepository{db: db.appeal}
}

func copyAppeal(a *appeal.Appeal) appeal.Appeal {
	c := *a
	c.ReviewedAt = copyTime(a.ReviewedAt)
	c.SupportingDocuments = append([]string(nil), a.SupportingDocuments...)
	return c
}

func (repo *appealRepository) CreateAppeal(_ context.Context, a appeal.Appeal) (appeal.Appeal, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// one open appeal per tenant
	for _, other := range repo.db.table {
		if other.TenantID == a.TenantID && other.Status.Open() {
			return appeal.Appeal{}, core.NewConflictError("an appeal is already pending for this institution")
		}
	}
	a.ID = uuid.New().String()
	stored := copyAppeal(&a)
	repo.db.table[a.ID] = &stored
	return copyAppeal(&stored), nil
}

func (repo *appealRepository) GetAppeal(_ context.Context, id string) (appeal.Appeal, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if a, ok := repo.db.table[id]; ok {
		return copyAppeal(a), nil
	}
	return appeal.Appeal{}, core.NewNotFoundError("appeal", id)
}

func matchAppeal(a *appeal.Appeal, filter appeal.Filter) bool {
	if filter.TenantID != "" && a.TenantID != filter.TenantID {
		return false
	}
	if len(filter.Statuses) == 0 {
		return true
	}
	for _, st := range filter.Statuses {
		if a.Status == st {
			return true
		}
	}
	return false
}

func (repo *appealRepository) QueryAppeals(_ context.Context, filter appeal.Filter, ordering []core.DBOrdering, page *core.Page) ([]appeal.Appeal, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	appeals := make([]appeal.Appeal, 0, len(repo.db.table))
	for _, a := range repo.db.table {
		if matchAppeal(a, filter) {
			appeals = append(appeals, copyAppeal(a))
		}
	}
	sort.SliceStable(appeals, func(i, j int) bool {
		for _, ord := range ordering {
			if ord.Field != "created_at" {
				continue
			}
			if cmp := compareTime(appeals[i].CreatedAt, appeals[j].CreatedAt); cmp != 0 {
				return (cmp < 0) == ord.Ascending
			}
		}
		return appeals[i].ID < appeals[j].ID
	})

	total := len(appeals)
	if page != nil {
		start, end := paginate(total, page.Offset(), page.Limit)
		appeals = appeals[start:end]
	}
	return appeals, total, nil
}

func (repo *appealRepository) UpdateAppeal(_ context.Context, a appeal.Appeal, from appeal.Status) (appeal.Appeal, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[a.ID]
	if !ok {
		return appeal.Appeal{}, core.NewNotFoundError("appeal", a.ID)
	}
	if stored.Status != from {
		return appeal.Appeal{}, core.NewConflictError("appeal has already been %s", stored.Status)
	}
	next := copyAppeal(&a)
	next.TenantID = stored.TenantID
	next.CreatedAt = stored.CreatedAt
	repo.db.table[a.ID] = &next
	return copyAppeal(&next), nil
}
