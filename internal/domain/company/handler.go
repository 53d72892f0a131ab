package company

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/womenshealth/planner/internal/platform/auth"
	"github.com/womenshealth/planner/internal/platform/openapi"
	"github.com/womenshealth/planner/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	super := api.Group("", auth.RequireRole(auth.RoleSuperAdmin))
	super.POST("/companies", h.CreateCompany)
	super.GET("/companies", h.ListCompanies)
	super.PUT("/companies/:id", h.UpdateCompany)
	super.POST("/companies/:id/usage/reset", h.ResetUsage)

	read := api.Group("", auth.RequireRole(auth.RoleAdmin))
	read.GET("/companies/:id", h.GetCompany)
	read.GET("/companies/:id/usage", h.GetUsage)
}

// Operations documents the routes added by RegisterRoutes.
func (h *Handler) Operations() []openapi.Operation {
	const tag = "companies"
	return []openapi.Operation{
		{Method: http.MethodPost, Path: "/companies", Summary: "Create a company", Tag: tag, Request: "CompanyInput",
			Responses: map[int]string{201: "Company", 400: "Error", 409: "Error"}},
		{Method: http.MethodGet, Path: "/companies", Summary: "List companies", Tag: tag,
			Responses: map[int]string{200: "CompanyList"}},
		{Method: http.MethodGet, Path: "/companies/:id", Summary: "Get a company", Tag: tag,
			Responses: map[int]string{200: "Company", 404: "Error"}},
		{Method: http.MethodPut, Path: "/companies/:id", Summary: "Update a company", Tag: tag, Request: "CompanyInput",
			Responses: map[int]string{200: "Company", 400: "Error", 404: "Error", 409: "Error"}},
		{Method: http.MethodGet, Path: "/companies/:id/usage", Summary: "Get token usage", Tag: tag,
			Responses: map[int]string{200: "Usage", 404: "Error"}},
		{Method: http.MethodPost, Path: "/companies/:id/usage/reset", Summary: "Reset token usage", Tag: tag,
			Responses: map[int]string{200: "Usage", 404: "Error"}},
	}
}

// companyRequest uses a pointer for active so an omitted field keeps the
// default instead of deactivating the company.
type companyRequest struct {
	Name       string `json:"name"`
	Active     *bool  `json:"active"`
	TokenLimit *int64 `json:"token_limit"`
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNameTaken):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// httpError keeps repository failures out of the response body.
func httpError(err error) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}

// companyParam parses :id and rejects access to another company unless the
// caller is a superadmin.
func companyParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if !auth.HasRole(c, auth.RoleSuperAdmin) && auth.CompanyIDFromContext(c.Request().Context()) != id {
		return uuid.Nil, echo.NewHTTPError(http.StatusNotFound, "company not found")
	}
	return id, nil
}

func (h *Handler) CreateCompany(c echo.Context) error {
	var req companyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	co := &Company{Name: req.Name, Active: true, TokenLimit: DefaultTokenLimit}
	if req.Active != nil {
		co.Active = *req.Active
	}
	if req.TokenLimit != nil {
		co.TokenLimit = *req.TokenLimit
	}
	if err := h.svc.CreateCompany(c.Request().Context(), co); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, co)
}

func (h *Handler) GetCompany(c echo.Context) error {
	id, err := companyParam(c)
	if err != nil {
		return err
	}
	co, err := h.svc.GetCompany(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, co)
}

func (h *Handler) ListCompanies(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCompanies(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateCompany(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	co, err := h.svc.GetCompany(ctx, id)
	if err != nil {
		return httpError(err)
	}
	var req companyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name != "" {
		co.Name = req.Name
	}
	if req.Active != nil {
		co.Active = *req.Active
	}
	if req.TokenLimit != nil {
		co.TokenLimit = *req.TokenLimit
	}
	if err := h.svc.UpdateCompany(ctx, co); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, co)
}

func (h *Handler) GetUsage(c echo.Context) error {
	id, err := companyParam(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUsage(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ResetUsage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.ResetUsage(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}
