package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/ledger"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/metrics"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/template"
	"github.com/purser-io/purser/pkg/types"
)

// Server exposes the document surfaces over HTTP: task requests,
// placements, resources and composite templates.
type Server struct {
	engine   *taskengine.Engine
	store    storage.Store
	ledger   *ledger.Ledger
	validate *validator.Validate
	echo     *echo.Echo
}

// NewServer wires the routes and middleware
func NewServer(engine *taskengine.Engine, store storage.Store, l *ledger.Ledger) *Server {
	s := &Server{
		engine:   engine,
		store:    store,
		ledger:   l,
		validate: validator.New(),
		echo:     echo.New(),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.observe)

	e.POST("/requests/:kind", s.createRequest)
	e.GET("/requests/:kind/:id", s.getRequest)
	e.PATCH("/requests/:kind/:id", s.patchRequest)
	e.DELETE("/requests/:kind/:id", s.deleteRequest)
	e.POST("/requests/:kind/:id/cancel", s.cancelRequest)

	e.GET("/placements/:pool", s.getPlacement)
	e.PUT("/placements/:pool/quota", s.setQuota)

	e.GET("/resources", s.listResources)
	e.GET("/resources/:id", s.getResource)

	e.POST("/templates", s.importTemplate)

	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return s
}

// Start serves HTTP on addr until Shutdown
func (s *Server) Start(addr string) error {
	log.WithComponent("api").Info().Str("addr", addr).Msg("API server listening")
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// observe records one API metric sample per request
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
		}
		metrics.APIRequestsTotal.WithLabelValues(c.Request().Method, strconv.Itoa(status)).Inc()
		return err
	}
}

// CreateRequestBody is the POST /requests/:kind payload
type CreateRequestBody struct {
	Operation               string              `json:"operation" validate:"required,oneof=PROVISION_RESOURCE REMOVE_RESOURCE"`
	ResourceType            string              `json:"resourceType" validate:"required"`
	ResourceDescriptionLink string              `json:"resourceDescriptionLink,omitempty"`
	ResourceCount           int64               `json:"resourceCount,omitempty" validate:"gte=0"`
	ResourceLinks           []string            `json:"resourceLinks,omitempty"`
	ResourcePoolLink        string              `json:"resourcePoolLink,omitempty"`
	ContextID               string              `json:"contextId,omitempty"`
	TenantLink              string              `json:"tenantLink,omitempty"`
	CustomProperties        map[string]string   `json:"customProperties,omitempty"`
	Callback                *types.TaskCallback `json:"serviceTaskCallback,omitempty"`
}

func (s *Server) createRequest(c echo.Context) error {
	var body CreateRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := s.validate.Struct(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	task := &types.TaskDocument{
		Kind:                    c.Param("kind"),
		Stage:                   types.TaskStageCreated,
		Operation:               types.RequestOperation(body.Operation),
		ResourceType:            types.ResourceType(body.ResourceType),
		ResourceDescriptionLink: body.ResourceDescriptionLink,
		ResourceCount:           body.ResourceCount,
		ResourceLinks:           body.ResourceLinks,
		ResourcePoolLink:        body.ResourcePoolLink,
		ContextID:               body.ContextID,
		TenantLink:              body.TenantLink,
		CustomProperties:        body.CustomProperties,
	}
	if body.Callback != nil {
		task.Callback = *body.Callback
	}

	ctx := c.Request().Context()
	if err := s.engine.Create(ctx, task); err != nil {
		return httpError(err)
	}
	if err := s.engine.Start(ctx, task); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, task)
}

func (s *Server) getRequest(c echo.Context) error {
	task, err := s.engine.Get(c.Request().Context(), requestLink(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, task)
}

// PatchRequestBody is the PATCH /requests/:kind/:id payload
type PatchRequestBody struct {
	Stage                string            `json:"taskStage,omitempty"`
	SubStage             string            `json:"taskSubStage,omitempty"`
	DocumentVersion      int64             `json:"documentVersion" validate:"required,gt=0"`
	ResourceLinks        []string          `json:"resourceLinks,omitempty"`
	Failure              string            `json:"failure,omitempty"`
	CustomProperties     map[string]string `json:"customProperties,omitempty"`
	CompletionsRemaining *int64            `json:"completionsRemaining,omitempty"`
}

func (s *Server) patchRequest(c echo.Context) error {
	var body PatchRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := s.validate.Struct(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	link := requestLink(c)
	err := s.engine.Apply(c.Request().Context(), link, &taskengine.Patch{
		Stage:                types.TaskStage(body.Stage),
		SubStage:             types.SubStage(body.SubStage),
		DocumentVersion:      body.DocumentVersion,
		ResourceLinks:        body.ResourceLinks,
		Failure:              body.Failure,
		CustomProperties:     body.CustomProperties,
		CompletionsRemaining: body.CompletionsRemaining,
	})
	if err != nil {
		return httpError(err)
	}
	task, err := s.engine.Get(c.Request().Context(), link)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) deleteRequest(c echo.Context) error {
	var expiration int64
	if v := c.QueryParam("expirationTimeMicros"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed expirationTimeMicros")
		}
		expiration = parsed
	}
	if err := s.engine.Stop(c.Request().Context(), requestLink(c), expiration); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) cancelRequest(c echo.Context) error {
	if err := s.engine.Cancel(c.Request().Context(), requestLink(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) getPlacement(c echo.Context) error {
	placement, err := s.ledger.Get(c.Param("pool"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, placement)
}

// QuotaBody is the PUT /placements/:pool/quota payload
type QuotaBody struct {
	MaxInstances int64 `json:"maxNumberInstances" validate:"gte=0"`
}

func (s *Server) setQuota(c echo.Context) error {
	var body QuotaBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := s.validate.Struct(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	placement, err := s.ledger.SetQuota(c.Param("pool"), body.MaxInstances)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, placement)
}

func (s *Server) listResources(c echo.Context) error {
	if descriptionLink := c.QueryParam("descriptionLink"); descriptionLink != "" {
		resources, err := s.store.ListResourcesByDescription(descriptionLink)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, resources)
	}
	resources, err := s.store.ListResources()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resources)
}

func (s *Server) getResource(c echo.Context) error {
	resource, err := s.store.GetResource("/resources/" + c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resource)
}

func (s *Server) importTemplate(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}
	composite, err := template.Import(s.store, data)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, composite)
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func requestLink(c echo.Context) string {
	return taskengine.RequestsPrefix + c.Param("kind") + "/" + c.Param("id")
}

// httpError maps the typed error kinds onto HTTP statuses
func httpError(err error) error {
	switch {
	case errdefs.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errdefs.IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errdefs.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errdefs.IsAdapter(err):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
