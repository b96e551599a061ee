package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core"
)

const dateLayout = "2006-01-02"

func invalidParam(name, msg string) error {
	return core.NewValidationError(nil, core.FieldError{Field: name, Error: msg})
}

// bindPage reads `page` and `limit`; absent values are left for core.Page.Clean.
func bindPage(ctx echo.Context) (core.Page, error) {
	var page core.Page
	for name, dst := range map[string]*int{"page": &page.Number, "limit": &page.Limit} {
		val := ctx.QueryParam(name)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return core.Page{}, invalidParam(name, "must be an integer")
		}
		*dst = n
	}
	return page, nil
}

// bindList reads a query param given either repeated (?s=a&s=b) or comma separated (?s=a,b).
// Values are upper-cased: statuses travel in any case.
func bindList(ctx echo.Context, name string) []string {
	var vals []string
	for _, raw := range ctx.QueryParams()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				vals = append(vals, strings.ToUpper(v))
			}
		}
	}
	return vals
}

// bindTime reads an RFC 3339 timestamp or a plain date. A plain date used as an upper bound
// covers the whole day.
func bindTime(ctx echo.Context, name string, upper bool) (time.Time, error) {
	val := strings.TrimSpace(ctx.QueryParam(name))
	if val == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, val); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse(dateLayout, val)
	if err != nil {
		return time.Time{}, invalidParam(name, "must be an RFC 3339 timestamp or a YYYY-MM-DD date")
	}
	if upper {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return day, nil
}

func bindBody(ctx echo.Context, dst interface{}, name string) error {
	if err := ctx.Bind(dst); err != nil {
		if herr, ok := err.(*echo.HTTPError); ok && herr.Code < 500 {
			return core.NewValidationError(errors.Errorf("malformed request body: %v", herr.Message))
		}
		return errors.Wrap(err, "binding to "+name)
	}
	return nil
}

func contextActor(ctx echo.Context) core.Actor {
	actor, _ := ctx.Get(actorKey).(core.Actor)
	return actor
}

type listResponse struct {
	Data       interface{}     `json:"data"`
	Pagination core.Pagination `json:"pagination"`
}
