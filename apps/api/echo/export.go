package echoapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/masomo-eligibility/core/eligibility"
)

type exportFormat string

const (
	formatCSV  exportFormat = "csv"
	formatJSON exportFormat = "json"
	formatXLSX exportFormat = "xlsx"

	exportSheet = "Tenants"
	xlsxMIME    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (f exportFormat) valid() bool {
	return f == formatCSV || f == formatJSON || f == formatXLSX
}

var exportHeader = []string{
	"id", "name", "slug", "contact_email", "student_count", "eligibility_status",
	"eligibility_deadline", "verified_at", "documents", "created_at",
}

func exportRow(t eligibility.Tenant) []string {
	return []string{
		t.ID,
		t.Name,
		t.Slug,
		t.ContactEmail,
		strconv.Itoa(t.StudentCount),
		string(t.Status),
		formatTime(t.Deadline),
		formatTime(t.VerifiedAt),
		strconv.Itoa(len(t.Documents)),
		t.CreatedAt.Format(time.RFC3339),
	}
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.Format(time.RFC3339)
}

func writeExport(ctx echo.Context, format exportFormat, tenants []eligibility.Tenant) error {
	filename := fmt.Sprintf("eligibility-%s.%s", time.Now().UTC().Format("20060102-150405"), format)

	switch format {
	case formatJSON:
		if tenants == nil {
			tenants = []eligibility.Tenant{}
		}
		return ctx.JSON(http.StatusOK, tenants)
	case formatXLSX:
		ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
		ctx.Response().Header().Set(echo.HeaderContentType, xlsxMIME)
		ctx.Response().WriteHeader(http.StatusOK)
		return writeXLSX(ctx.Response(), tenants)
	default:
		ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
		ctx.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
		ctx.Response().WriteHeader(http.StatusOK)

		w := csv.NewWriter(ctx.Response())
		if err := w.Write(exportHeader); err != nil {
			return errors.Wrap(err, "writing csv header")
		}
		for _, t := range tenants {
			if err := w.Write(exportRow(t)); err != nil {
				return errors.Wrap(err, "writing csv row")
			}
		}
		w.Flush()
		return errors.Wrap(w.Error(), "flushing csv")
	}
}

func writeXLSX(w http.ResponseWriter, tenants []eligibility.Tenant) error {
	f := excelize.NewFile()
	defer f.Close() // nolint

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return errors.Wrap(err, "naming sheet")
	}
	row := func(n int, vals []string) error {
		cell, err := excelize.CoordinatesToCellName(1, n)
		if err != nil {
			return err
		}
		cells := make([]interface{}, len(vals))
		for i, v := range vals {
			cells[i] = v
		}
		return f.SetSheetRow(exportSheet, cell, &cells)
	}

	if err := row(1, exportHeader); err != nil {
		return errors.Wrap(err, "writing xlsx header")
	}
	for i, t := range tenants {
		if err := row(i+2, exportRow(t)); err != nil {
			return errors.Wrap(err, "writing xlsx row")
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "writing xlsx")
	}
	return nil
}
