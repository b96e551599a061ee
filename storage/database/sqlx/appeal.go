package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/appeal"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
)

const appealColumns = `id, tenant_id, appeal_type, original_decision, appeal_reason, supporting_documents, status, ` +
	`review_notes, reviewed_by, reviewed_at, created_at, updated_at`

var appealOrderings = map[string]bool{"created_at": true, "updated_at": true, "reviewed_at": true}

type appealRow struct {
	ID                  string         `db:"id"`
	TenantID            string         `db:"tenant_id"`
	Type                string         `db:"appeal_type"`
	OriginalDecision    string         `db:"original_decision"`
	Reason              string         `db:"appeal_reason"`
	SupportingDocuments pq.StringArray `db:"supporting_documents"`
	Status              string         `db:"status"`
	ReviewNotes         null.String    `db:"review_notes"`
	ReviewedBy          null.String    `db:"reviewed_by"`
	ReviewedAt          null.Time      `db:"reviewed_at"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func newAppealRow(a appeal.Appeal) appealRow {
	docs := pq.StringArray(a.SupportingDocuments)
	if docs == nil {
		docs = pq.StringArray{}
	}
	return appealRow{
		ID:                  a.ID,
		TenantID:            a.TenantID,
		Type:                string(a.Type),
		OriginalDecision:    string(a.OriginalDecision),
		Reason:              a.Reason,
		SupportingDocuments: docs,
		Status:              string(a.Status),
		ReviewNotes:         null.NewString(a.ReviewNotes, a.ReviewNotes != ""),
		ReviewedBy:          null.NewString(a.ReviewedBy, a.ReviewedBy != ""),
		ReviewedAt:          nullTime(a.ReviewedAt),
		CreatedAt:           a.CreatedAt.UTC(),
		UpdatedAt:           a.UpdatedAt.UTC(),
	}
}

func (r appealRow) appeal() appeal.Appeal {
	docs := []string(r.SupportingDocuments)
	if docs == nil {
		docs = []string{}
	}
	return appeal.Appeal{
		ID:                  r.ID,
		TenantID:            r.TenantID,
		Type:                appeal.Type(r.Type),
		OriginalDecision:    eligibility.Status(r.OriginalDecision),
		Reason:              r.Reason,
		SupportingDocuments: docs,
		Status:              appeal.Status(r.Status),
		ReviewNotes:         r.ReviewNotes.String,
		ReviewedBy:          r.ReviewedBy.String,
		ReviewedAt:          timePtr(r.ReviewedAt),
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

type appealRepository struct {
	db *sqlx.DB
}

var _ appeal.Repository = (*appealRepository)(nil) // interface compliance check

func NewAppealRepository(db *sqlx.DB) appeal.Repository {
	return &appealRepository{db: db}
}

// CreateAppeal relies on the partial unique index over open appeals.
func (repo *appealRepository) CreateAppeal(ctx context.Context, a appeal.Appeal) (appeal.Appeal, error) {
	a.ID = uuid.New().String()
	q := `INSERT INTO appeal (` + appealColumns + `) VALUES (:id, :tenant_id, :appeal_type, :original_decision, ` +
		`:appeal_reason, :supporting_documents, :status, :review_notes, :reviewed_by, :reviewed_at, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, newAppealRow(a)); err != nil {
		switch pqCode(err) {
		case pqUniqueViolation:
			return appeal.Appeal{}, core.NewConflictError("an appeal is already pending for this institution")
		case pqForeignKeyViolation:
			return appeal.Appeal{}, core.NewNotFoundError("tenant", a.TenantID)
		}
		return appeal.Appeal{}, errors.Wrap(err, "inserting appeal")
	}
	return a, nil
}

func (repo *appealRepository) GetAppeal(ctx context.Context, id string) (appeal.Appeal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return appeal.Appeal{}, core.NewNotFoundError("appeal", id)
	}
	var row appealRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+appealColumns+` FROM appeal WHERE id = $1`, id); err != nil {
		return appeal.Appeal{}, trapNoRowsErr(err, "appeal", id, "finding appeal by ID")
	}
	return row.appeal(), nil
}

func (repo *appealRepository) QueryAppeals(ctx context.Context, filter appeal.Filter, ordering []core.DBOrdering, page *core.Page) ([]appeal.Appeal, int, error) {
	var w where
	if filter.TenantID != "" {
		w.add("tenant_id = ?", filter.TenantID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		w.add("status = ANY(?)", pq.Array(statuses))
	}

	q := `SELECT ` + appealColumns + ` FROM appeal` + w.String() + orderBy(ordering, appealOrderings, "id")
	args := w.args
	var total int
	if page != nil {
		if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM appeal`+w.String(), w.args...); err != nil {
			return nil, 0, errors.Wrap(err, "counting appeals")
		}
		q += ` LIMIT ` + w.next(1) + ` OFFSET ` + w.next(2)
		args = append(args, page.Limit, page.Offset())
	}

	var rows []appealRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying appeals")
	}
	appeals := make([]appeal.Appeal, 0, len(rows))
	for _, r := range rows {
		appeals = append(appeals, r.appeal())
	}
	if page == nil {
		total = len(appeals)
	}
	return appeals, total, nil
}

func (repo *appealRepository) UpdateAppeal(ctx context.Context, a appeal.Appeal, from appeal.Status) (appeal.Appeal, error) {
	row := newAppealRow(a)
	res, err := repo.db.ExecContext(ctx,
		`UPDATE appeal SET status = $1, review_notes = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $5 `+
			`WHERE id = $6 AND status = $7`,
		row.Status, row.ReviewNotes, row.ReviewedBy, row.ReviewedAt, row.UpdatedAt, row.ID, string(from),
	)
	if err != nil {
		if pqCode(err) == pqUniqueViolation { // reopening next to another open appeal
			return appeal.Appeal{}, core.NewConflictError("an appeal is already pending for this institution")
		}
		return appeal.Appeal{}, errors.Wrap(err, "updating appeal")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return appeal.Appeal{}, errors.Wrap(err, "updating appeal")
	}
	if n == 0 {
		current, err := repo.GetAppeal(ctx, a.ID)
		if err != nil {
			return appeal.Appeal{}, err
		}
		return appeal.Appeal{}, core.NewConflictError("appeal has already been %s", current.Status)
	}
	return repo.GetAppeal(ctx, a.ID)
}
