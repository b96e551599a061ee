package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/audit"
)

const auditColumns = `id, tenant_id, action, details, performed_by, "timestamp"`

type auditRow struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	Action      string    `db:"action"`
	Details     []byte    `db:"details"`
	PerformedBy string    `db:"performed_by"`
	Timestamp   time.Time `db:"timestamp"`
}

type auditRepository struct {
	db *sqlx.DB
}

var _ audit.Store = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(db *sqlx.DB) audit.Store {
	return &auditRepository{db: db}
}

func (repo *auditRepository) Append(ctx context.Context, entry audit.Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return errors.Wrap(err, "encoding audit details")
	}
	_, err = repo.db.ExecContext(ctx,
		`INSERT INTO audit_log (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.TenantID, string(entry.Action), details, entry.PerformedBy, entry.Timestamp.UTC(),
	)
	return errors.Wrap(err, "inserting audit entry")
}

// Query lists matching entries, newest first.
func (repo *auditRepository) Query(ctx context.Context, filter audit.Filter, page core.Page) ([]audit.Entry, int, error) {
	var w where
	if filter.TenantID != "" {
		w.add("tenant_id = ?", filter.TenantID)
	}
	if filter.Action != "" {
		w.add("action = ?", string(filter.Action))
	}
	if !filter.From.IsZero() {
		w.add(`"timestamp" >= ?`, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		w.add(`"timestamp" <= ?`, filter.To.UTC())
	}

	var total int
	if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_log`+w.String(), w.args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting audit entries")
	}

	q := `SELECT ` + auditColumns + ` FROM audit_log` + w.String() + ` ORDER BY "timestamp" DESC, id` +
		` LIMIT ` + w.next(1) + ` OFFSET ` + w.next(2)
	var rows []auditRow
	if err := repo.db.SelectContext(ctx, &rows, q, append(w.args, page.Limit, page.Offset())...); err != nil {
		return nil, 0, errors.Wrap(err, "querying audit entries")
	}

	entries := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		e := audit.Entry{
			ID:          r.ID,
			TenantID:    r.TenantID,
			Action:      audit.Action(r.Action),
			PerformedBy: r.PerformedBy,
			Timestamp:   r.Timestamp.UTC(),
			Details:     audit.Details{},
		}
		if len(r.Details) > 0 {
			if err := json.Unmarshal(r.Details, &e.Details); err != nil {
				return nil, 0, errors.Wrapf(err, "decoding audit details of %s", r.ID)
			}
		}
		entries = append(entries, e)
	}
	return entries, total, nil
}
