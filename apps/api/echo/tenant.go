package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/feature"
)

type tenantApi struct {
	svc      *eligibility.Service
	features *feature.Checker
}

func registerTenantAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	jwtConf middleware.JWTConfig,
	svc *eligibility.Service,
	features *feature.Checker,
) {
	api := tenantApi{svc: svc, features: features}

	g.GET("/document-types", api.documentTypes, jwt)

	tg := g.Group("/tenants", jwt)
	tg.POST("", api.register, adminMiddleware(jwtConf))

	// detail endpoints
	dg := tg.Group("/:tenantId", tenantScopeMiddleware(jwtConf))
	dg.GET("", api.retrieve)
	dg.GET("/documents", api.documents)
	dg.POST("/documents", api.uploadDocument)
	dg.GET("/eligibility", api.eligibility)
	dg.GET("/features/:feature", api.featureAccess)
}

// Handlers

func (api *tenantApi) register(ctx echo.Context) error {
	var data eligibility.NewTenant
	if err := bindBody(ctx, &data, "NewTenant"); err != nil {
		return err
	}

	t, err := api.svc.Register(ctx.Request().Context(), data, contextActor(ctx))
	if err != nil {
		return errors.Wrap(err, "registering tenant")
	}
	return ctx.JSON(http.StatusCreated, t)
}

func (api *tenantApi) retrieve(ctx echo.Context) error {
	t, err := api.svc.Get(ctx.Request().Context(), ctx.Param("tenantId"))
	if err != nil {
		return errors.Wrap(err, "retrieving tenant")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *tenantApi) documents(ctx echo.Context) error {
	docs, err := api.svc.Documents(ctx.Request().Context(), ctx.Param("tenantId"))
	if err != nil {
		return errors.Wrap(err, "querying documents")
	}
	if docs == nil {
		docs = []eligibility.Document{}
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *tenantApi) uploadDocument(ctx echo.Context) error {
	var data eligibility.NewDocument
	if err := bindBody(ctx, &data, "NewDocument"); err != nil {
		return err
	}

	doc, err := api.svc.UploadDocument(ctx.Request().Context(), ctx.Param("tenantId"), data, contextActor(ctx))
	if err != nil {
		return errors.Wrap(err, "uploading document")
	}
	return ctx.JSON(http.StatusCreated, doc)
}

func (api *tenantApi) eligibility(ctx echo.Context) error {
	summary, err := api.features.Summary(ctx.Request().Context(), ctx.Param("tenantId"))
	if err != nil {
		return errors.Wrap(err, "summarizing eligibility")
	}
	return ctx.JSON(http.StatusOK, summary)
}

func (api *tenantApi) featureAccess(ctx echo.Context) error {
	access, err := api.features.Access(ctx.Request().Context(), ctx.Param("tenantId"), feature.Feature(ctx.Param("feature")))
	if err != nil {
		return errors.Wrap(err, "checking feature access")
	}
	return ctx.JSON(http.StatusOK, access)
}

func (api *tenantApi) documentTypes(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, eligibility.DocumentTypes)
}
