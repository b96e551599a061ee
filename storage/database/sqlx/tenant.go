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
	"github.com/trezcool/masomo-eligibility/core/eligibility"
)

const (
	tenantColumns = `id, name, slug, contact_email, student_count, eligibility_status, eligibility_deadline, ` +
		`verified_at, created_at, updated_at, version`
	documentColumns = `id, tenant_id, document_type, file_name, file_url, file_size, mime_type, status, ` +
		`reviewed_by, reviewed_at, review_notes, created_at`
)

var tenantOrderings = map[string]bool{
	"created_at":           true,
	"updated_at":           true,
	"eligibility_deadline": true,
	"name":                 true,
}

type (
	tenantRow struct {
		ID           string      `db:"id"`
		Name         string      `db:"name"`
		Slug         string      `db:"slug"`
		ContactEmail null.String `db:"contact_email"`
		StudentCount int         `db:"student_count"`
		Status       string      `db:"eligibility_status"`
		Deadline     null.Time   `db:"eligibility_deadline"`
		VerifiedAt   null.Time   `db:"verified_at"`
		CreatedAt    time.Time   `db:"created_at"`
		UpdatedAt    time.Time   `db:"updated_at"`
		Version      int         `db:"version"`
	}

	documentRow struct {
		ID          string      `db:"id"`
		TenantID    string      `db:"tenant_id"`
		Type        string      `db:"document_type"`
		FileName    string      `db:"file_name"`
		FileURL     string      `db:"file_url"`
		FileSize    int64       `db:"file_size"`
		MimeType    string      `db:"mime_type"`
		Status      string      `db:"status"`
		ReviewedBy  null.String `db:"reviewed_by"`
		ReviewedAt  null.Time   `db:"reviewed_at"`
		ReviewNotes null.String `db:"review_notes"`
		CreatedAt   time.Time   `db:"created_at"`
	}
)

func nullTime(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func timePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func newTenantRow(t eligibility.Tenant) tenantRow {
	return tenantRow{
		ID:           t.ID,
		Name:         t.Name,
		Slug:         t.Slug,
		ContactEmail: null.NewString(t.ContactEmail, t.ContactEmail != ""),
		StudentCount: t.StudentCount,
		Status:       string(t.Status),
		Deadline:     nullTime(t.Deadline),
		VerifiedAt:   nullTime(t.VerifiedAt),
		CreatedAt:    t.CreatedAt.UTC(),
		UpdatedAt:    t.UpdatedAt.UTC(),
		Version:      t.Version,
	}
}

func (r tenantRow) tenant() eligibility.Tenant {
	return eligibility.Tenant{
		ID:           r.ID,
		Name:         r.Name,
		Slug:         r.Slug,
		ContactEmail: r.ContactEmail.String,
		StudentCount: r.StudentCount,
		Status:       eligibility.Status(r.Status),
		Deadline:     timePtr(r.Deadline),
		VerifiedAt:   timePtr(r.VerifiedAt),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		Version:      r.Version,
	}
}

func (r documentRow) document() eligibility.Document {
	return eligibility.Document{
		ID:          r.ID,
		TenantID:    r.TenantID,
		Type:        eligibility.DocumentType(r.Type),
		FileName:    r.FileName,
		FileURL:     r.FileURL,
		FileSize:    r.FileSize,
		MimeType:    r.MimeType,
		Status:      eligibility.DocumentStatus(r.Status),
		ReviewedBy:  r.ReviewedBy.String,
		ReviewedAt:  timePtr(r.ReviewedAt),
		ReviewNotes: r.ReviewNotes.String,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type tenantRepository struct {
	db *sqlx.DB
}

var _ eligibility.Repository = (*tenantRepository)(nil) // interface compliance check

func NewTenantRepository(db *sqlx.DB) eligibility.Repository {
	return &tenantRepository{db: db}
}

func (repo *tenantRepository) CreateTenant(ctx context.Context, t eligibility.Tenant) (eligibility.Tenant, error) {
	t.ID = uuid.New().String()
	if t.Version == 0 {
		t.Version = 1
	}
	q := `INSERT INTO tenant (` + tenantColumns + `) VALUES (:id, :name, :slug, :contact_email, :student_count, ` +
		`:eligibility_status, :eligibility_deadline, :verified_at, :created_at, :updated_at, :version)`
	if _, err := repo.db.NamedExecContext(ctx, q, newTenantRow(t)); err != nil {
		if pqCode(err) == pqUniqueViolation {
			return eligibility.Tenant{}, core.NewConflictError("a tenant with slug %q already exists", t.Slug)
		}
		return eligibility.Tenant{}, errors.Wrap(err, "inserting tenant")
	}
	return t, nil
}

func (repo *tenantRepository) GetTenant(ctx context.Context, id string) (eligibility.Tenant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return eligibility.Tenant{}, core.NewNotFoundError("tenant", id)
	}
	var row tenantRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+tenantColumns+` FROM tenant WHERE id = $1`, id); err != nil {
		return eligibility.Tenant{}, trapNoRowsErr(err, "tenant", id, "finding tenant by ID")
	}
	return row.tenant(), nil
}

func (repo *tenantRepository) QueryTenants(ctx context.Context, filter eligibility.QueryFilter, ordering []core.DBOrdering, page *core.Page) ([]eligibility.Tenant, int, error) {
	var w where
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		w.add("eligibility_status = ANY(?)", pq.Array(statuses))
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		w.add("(name ILIKE ? OR slug ILIKE ?)", val, val)
	}
	if !filter.DueAfter.IsZero() {
		w.add("eligibility_deadline >= ?", filter.DueAfter.UTC())
	}
	if !filter.DueBefore.IsZero() {
		w.add("eligibility_deadline < ?", filter.DueBefore.UTC())
	}

	q := `SELECT ` + tenantColumns + ` FROM tenant` + w.String() + orderBy(ordering, tenantOrderings, "id")
	args := w.args
	var total int
	if page != nil {
		if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM tenant`+w.String(), w.args...); err != nil {
			return nil, 0, errors.Wrap(err, "counting tenants")
		}
		q += ` LIMIT ` + w.next(1) + ` OFFSET ` + w.next(2)
		args = append(args, page.Limit, page.Offset())
	}

	var rows []tenantRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying tenants")
	}
	tenants := make([]eligibility.Tenant, 0, len(rows))
	for _, r := range rows {
		tenants = append(tenants, r.tenant())
	}
	if page == nil {
		total = len(tenants)
	}
	return tenants, total, nil
}

func (repo *tenantRepository) CountTenants(ctx context.Context, threshold int) (eligibility.Counts, error) {
	type group struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	counts := eligibility.Counts{
		ByStatus:  make(map[eligibility.Status]int),
		Documents: make(map[eligibility.DocumentStatus]int),
	}

	var tenants []group
	if err := repo.db.SelectContext(ctx, &tenants,
		`SELECT eligibility_status AS status, COUNT(*) AS count FROM tenant GROUP BY eligibility_status`); err != nil {
		return eligibility.Counts{}, errors.Wrap(err, "counting tenants by status")
	}
	for _, g := range tenants {
		counts.ByStatus[eligibility.Status(g.Status)] = g.Count
		counts.Total += g.Count
	}
	if err := repo.db.GetContext(ctx, &counts.AboveThreshold,
		`SELECT COUNT(*) FROM tenant WHERE student_count >= $1`, threshold); err != nil {
		return eligibility.Counts{}, errors.Wrap(err, "counting tenants above threshold")
	}

	var docs []group
	if err := repo.db.SelectContext(ctx, &docs,
		`SELECT status, COUNT(*) AS count FROM verification_document GROUP BY status`); err != nil {
		return eligibility.Counts{}, errors.Wrap(err, "counting documents by status")
	}
	for _, g := range docs {
		counts.Documents[eligibility.DocumentStatus(g.Status)] = g.Count
	}
	return counts, nil
}

func (repo *tenantRepository) CountActivity(ctx context.Context, since time.Time) (eligibility.Activity, error) {
	var row struct {
		Registered int     `db:"registered"`
		Approved   int     `db:"approved"`
		Rejected   int     `db:"rejected"`
		AvgDays    float64 `db:"avg_processing_days"`
	}
	q := `SELECT ` +
		`COUNT(*) FILTER (WHERE created_at >= $1) AS registered, ` +
		`COUNT(*) FILTER (WHERE eligibility_status = $2 AND verified_at >= $1) AS approved, ` +
		`COUNT(*) FILTER (WHERE eligibility_status = $3 AND updated_at >= $1) AS rejected, ` +
		`COALESCE(AVG(EXTRACT(EPOCH FROM verified_at - created_at)) FILTER (WHERE eligibility_status = $2 AND verified_at >= $1), 0) / 86400 ` +
		`AS avg_processing_days FROM tenant`
	err := repo.db.GetContext(ctx, &row, q, since.UTC(), string(eligibility.StatusEligible), string(eligibility.StatusRejected))
	if err != nil {
		return eligibility.Activity{}, errors.Wrap(err, "counting tenant activity")
	}
	return eligibility.Activity{
		Registered:        row.Registered,
		Approved:          row.Approved,
		Rejected:          row.Rejected,
		AvgProcessingDays: row.AvgDays,
	}, nil
}

func (repo *tenantRepository) ApplyTransition(ctx context.Context, tr eligibility.Transition) (eligibility.Tenant, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return eligibility.Tenant{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	t := tr.Tenant
	res, err := tx.ExecContext(ctx,
		`UPDATE tenant SET eligibility_status = $1, eligibility_deadline = $2, verified_at = $3, updated_at = $4, version = $5 `+
			`WHERE id = $6 AND eligibility_status = $7 AND version = $8`,
		string(t.Status), nullTime(t.Deadline), nullTime(t.VerifiedAt), t.UpdatedAt.UTC(), t.Version,
		t.ID, string(tr.From), t.Version-1,
	)
	if err != nil {
		return eligibility.Tenant{}, errors.Wrap(err, "updating tenant")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eligibility.Tenant{}, errors.Wrap(err, "updating tenant")
	}
	if n == 0 {
		var current string
		if err = tx.GetContext(ctx, &current, `SELECT eligibility_status FROM tenant WHERE id = $1`, t.ID); err != nil {
			return eligibility.Tenant{}, trapNoRowsErr(err, "tenant", t.ID, "checking tenant")
		}
		return eligibility.Tenant{}, core.NewConflictError("tenant was modified concurrently, it is now %s", current)
	}

	if tr.Review != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE verification_document SET status = $1, reviewed_by = $2, reviewed_at = $3, review_notes = $4 `+
				`WHERE tenant_id = $5 AND status = $6`,
			string(tr.Review.Status), tr.Review.ReviewedBy, tr.Review.ReviewedAt.UTC(),
			null.NewString(tr.Review.Notes, tr.Review.Notes != ""),
			t.ID, string(eligibility.DocPending),
		)
		if err != nil {
			return eligibility.Tenant{}, errors.Wrap(err, "reviewing documents")
		}
	}

	if err = tx.Commit(); err != nil {
		return eligibility.Tenant{}, errors.Wrap(err, "committing transition")
	}
	t.Documents = nil
	return t, nil
}

func (repo *tenantRepository) CreateDocument(ctx context.Context, d eligibility.Document) (eligibility.Document, error) {
	d.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO verification_document (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.TenantID, string(d.Type), d.FileName, d.FileURL, d.FileSize, d.MimeType, string(d.Status),
		null.NewString(d.ReviewedBy, d.ReviewedBy != ""), nullTime(d.ReviewedAt),
		null.NewString(d.ReviewNotes, d.ReviewNotes != ""), d.CreatedAt.UTC(),
	)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return eligibility.Document{}, core.NewNotFoundError("tenant", d.TenantID)
		}
		return eligibility.Document{}, errors.Wrap(err, "inserting document")
	}
	return d, nil
}

// QueryDocuments returns the documents of the given tenants, oldest first.
func (repo *tenantRepository) QueryDocuments(ctx context.Context, tenantIDs ...string) ([]eligibility.Document, error) {
	if len(tenantIDs) == 0 {
		return []eligibility.Document{}, nil
	}
	var rows []documentRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+documentColumns+` FROM verification_document WHERE tenant_id = ANY($1) ORDER BY created_at, id`,
		pq.Array(tenantIDs))
	if err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	docs := make([]eligibility.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.document())
	}
	return docs, nil
}
