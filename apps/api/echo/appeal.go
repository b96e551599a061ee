package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core/appeal"
)

type appealApi struct {
	svc *appeal.Service
}

func registerAppealAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	jwtConf middleware.JWTConfig,
	svc *appeal.Service,
	rateLimit int,
) {
	api := appealApi{svc: svc}

	// tenant endpoints
	tg := g.Group("/tenants/:tenantId/appeal", jwt, tenantScopeMiddleware(jwtConf))
	tg.GET("", api.forTenant)
	tg.POST("", api.submit, rateLimitMiddleware(rateLimit))

	// admin endpoints
	ag := g.Group("/appeals", jwt, adminMiddleware(jwtConf))
	ag.GET("", api.query)
	ag.GET("/stats", api.stats)
	ag.GET("/:appealId", api.retrieve)
	ag.PATCH("/:appealId/decision", api.review)
}

// Handlers

func (api *appealApi) forTenant(ctx echo.Context) error {
	appeals, err := api.svc.ForTenant(ctx.Request().Context(), ctx.Param("tenantId"))
	if err != nil {
		return errors.Wrap(err, "querying tenant appeals")
	}
	if appeals == nil {
		appeals = []appeal.Appeal{}
	}
	return ctx.JSON(http.StatusOK, appeals)
}

func (api *appealApi) submit(ctx echo.Context) error {
	var data appeal.NewAppeal
	if err := bindBody(ctx, &data, "NewAppeal"); err != nil {
		return err
	}

	a, err := api.svc.Submit(ctx.Request().Context(), ctx.Param("tenantId"), data, contextActor(ctx))
	if err != nil {
		return errors.Wrap(err, "submitting appeal")
	}
	return ctx.JSON(http.StatusCreated, a)
}

// query lists the open appeals unless ?status= names others.
func (api *appealApi) query(ctx echo.Context) error {
	page, err := bindPage(ctx)
	if err != nil {
		return err
	}
	statuses := appeal.OpenStatuses
	if vals := bindList(ctx, "status"); len(vals) > 0 {
		statuses = make([]appeal.Status, 0, len(vals))
		for _, v := range vals {
			statuses = append(statuses, appeal.Status(v))
		}
	}

	appeals, pagination, err := api.svc.Query(ctx.Request().Context(), statuses, page)
	if err != nil {
		return errors.Wrap(err, "querying appeals")
	}
	if appeals == nil {
		appeals = []appeal.Appeal{}
	}
	return ctx.JSON(http.StatusOK, listResponse{Data: appeals, Pagination: pagination})
}

func (api *appealApi) retrieve(ctx echo.Context) error {
	a, err := api.svc.Get(ctx.Request().Context(), ctx.Param("appealId"))
	if err != nil {
		return errors.Wrap(err, "retrieving appeal")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *appealApi) review(ctx echo.Context) error {
	var data appeal.Review
	if err := bindBody(ctx, &data, "Review"); err != nil {
		return err
	}

	a, err := api.svc.Review(ctx.Request().Context(), ctx.Param("appealId"), data, contextActor(ctx))
	if err != nil {
		return errors.Wrap(err, "reviewing appeal")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *appealApi) stats(ctx echo.Context) error {
	stats, err := api.svc.Stats(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing appeal stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}
