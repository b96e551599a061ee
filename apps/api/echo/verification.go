package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
)

type verificationApi struct {
	svc   *eligibility.Service
	audit audit.Store
}

func registerVerificationAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	jwtConf middleware.JWTConfig,
	svc *eligibility.Service,
	auditStore audit.Store,
) {
	api := verificationApi{svc: svc, audit: auditStore}

	vg := g.Group("/verification", jwt, adminMiddleware(jwtConf))
	vg.GET("/queue", api.queue)
	vg.POST("/bulk", api.bulk)
	vg.GET("/export", api.export)
	vg.GET("/audit", api.auditTrail)
	vg.GET("/analytics", api.analytics)
	vg.GET("/reminders", api.previewReminders)
	vg.POST("/reminders", api.sendReminders)
	vg.PATCH("/:tenantId/decision", api.decide)
}

// Handlers

func (api *verificationApi) queue(ctx echo.Context) error {
	page, err := bindPage(ctx)
	if err != nil {
		return err
	}
	status := eligibility.StatusUnderReview
	if statuses := bindList(ctx, "status"); len(statuses) > 0 {
		status = eligibility.Status(statuses[0])
	}

	tenants, pagination, err := api.svc.Queue(ctx.Request().Context(), status, page)
	if err != nil {
		return errors.Wrap(err, "querying verification queue")
	}
	if tenants == nil {
		tenants = []eligibility.Tenant{}
	}
	return ctx.JSON(http.StatusOK, listResponse{Data: tenants, Pagination: pagination})
}

func (api *verificationApi) decide(ctx echo.Context) error {
	var data eligibility.Decision
	if err := bindBody(ctx, &data, "Decision"); err != nil {
		return err
	}

	t, err := api.svc.Decide(ctx.Request().Context(), ctx.Param("tenantId"), data, contextActor(ctx))
	if err != nil {
		// an unknown tenant is a bad decision request, not a missing resource
		if core.IsNotFound(err) {
			return core.NewValidationError(errors.Cause(err))
		}
		return errors.Wrap(err, "deciding verification")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *verificationApi) bulk(ctx echo.Context) error {
	var data eligibility.BulkDecision
	if err := bindBody(ctx, &data, "BulkDecision"); err != nil {
		return err
	}

	res, err := api.svc.Bulk(ctx.Request().Context(), data, contextActor(ctx))
	if err != nil {
		return errors.Wrap(err, "applying bulk decision")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *verificationApi) analytics(ctx echo.Context) error {
	res, err := api.svc.Analytics(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing verification analytics")
	}
	return ctx.JSON(http.StatusOK, res)
}

// previewReminders lists who `POST /reminders` would notify. `days` defaults to 7.
func (api *verificationApi) previewReminders(ctx echo.Context) error {
	rm := eligibility.Reminder{Days: 7, DryRun: true}
	if val := ctx.QueryParam("days"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return invalidParam("days", "must be an integer")
		}
		rm.Days = n
	}
	return api.remind(ctx, rm)
}

func (api *verificationApi) sendReminders(ctx echo.Context) error {
	var data eligibility.Reminder
	if err := bindBody(ctx, &data, "Reminder"); err != nil {
		return err
	}
	return api.remind(ctx, data)
}

func (api *verificationApi) remind(ctx echo.Context, rm eligibility.Reminder) error {
	rep, err := api.svc.Remind(ctx.Request().Context(), rm, contextActor(ctx))
	if err != nil {
		return errors.Wrap(err, "sending deadline reminders")
	}
	if rep.Tenants == nil {
		rep.Tenants = []eligibility.Tenant{}
	}
	return ctx.JSON(http.StatusOK, rep)
}

func (api *verificationApi) export(ctx echo.Context) error {
	filter := eligibility.QueryFilter{Search: ctx.QueryParam("search")}
	for _, st := range bindList(ctx, "status") {
		filter.Statuses = append(filter.Statuses, eligibility.Status(st))
	}
	format := exportFormat(ctx.QueryParam("format"))
	if format == "" {
		format = formatCSV
	}
	if !format.valid() {
		return invalidParam("format", "must be one of csv, json or xlsx")
	}

	tenants, err := api.svc.Export(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "exporting tenants")
	}
	return writeExport(ctx, format, tenants)
}

func (api *verificationApi) auditTrail(ctx echo.Context) error {
	page, err := bindPage(ctx)
	if err != nil {
		return err
	}
	page.Clean()

	filter := audit.Filter{
		TenantID: ctx.QueryParam("tenant_id"),
		Action:   audit.Action(core.CleanString(ctx.QueryParam("action"))),
	}
	if filter.From, err = bindTime(ctx, "from", false); err != nil {
		return err
	}
	if filter.To, err = bindTime(ctx, "to", true); err != nil {
		return err
	}

	entries, total, err := api.audit.Query(ctx.Request().Context(), filter, page)
	if err != nil {
		return errors.Wrap(err, "querying audit trail")
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return ctx.JSON(http.StatusOK, listResponse{Data: entries, Pagination: core.NewPagination(page, total)})
}
