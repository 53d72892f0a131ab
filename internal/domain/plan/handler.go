package plan

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/womenshealth/planner/internal/domain/company"
	"github.com/womenshealth/planner/internal/platform/auth"
	"github.com/womenshealth/planner/internal/platform/blobstore"
	"github.com/womenshealth/planner/internal/platform/lock"
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
	g := api.Group("/plans", auth.RequireRole(auth.RoleUser, auth.RoleAdmin))
	g.POST("", h.CreatePlan)
	g.GET("", h.ListPlans)
	g.GET("/:id", h.GetPlan)
	g.PUT("/:id", h.UpdatePlan)
	g.DELETE("/:id", h.DeletePlan)
	g.POST("/:id/generate", h.GeneratePlan)
	g.GET("/:id/pdf", h.DownloadPDF)
	g.POST("/:id/exams/:index/file", h.UploadExamFile)
	g.GET("/:id/exams/:index/file", h.GetExamFileURL)
}

// Operations documents the routes added by RegisterRoutes.
func (h *Handler) Operations() []openapi.Operation {
	const tag = "plans"
	return []openapi.Operation{
		{Method: http.MethodPost, Path: "/plans", Summary: "Create a draft plan", Tag: tag, Request: "PlanInput",
			Responses: map[int]string{201: "Plan", 400: "Error"}},
		{Method: http.MethodGet, Path: "/plans", Summary: "List the company's plans", Tag: tag,
			Responses: map[int]string{200: "PlanList"}},
		{Method: http.MethodGet, Path: "/plans/:id", Summary: "Get a plan", Tag: tag,
			Responses: map[int]string{200: "Plan", 404: "Error"}},
		{Method: http.MethodPut, Path: "/plans/:id", Summary: "Update a draft or failed plan", Tag: tag, Request: "PlanInput",
			Responses: map[int]string{200: "Plan", 404: "Error", 409: "Error"}},
		{Method: http.MethodDelete, Path: "/plans/:id", Summary: "Delete a plan", Tag: tag,
			Responses: map[int]string{204: "", 404: "Error", 409: "Error"}},
		{Method: http.MethodPost, Path: "/plans/:id/generate", Summary: "Generate the final plan", Tag: tag,
			Responses: map[int]string{200: "Plan", 402: "Error", 403: "Error", 404: "Error", 409: "Error"}},
		{Method: http.MethodGet, Path: "/plans/:id/pdf", Summary: "Download the completed plan as PDF", Tag: tag,
			Responses: map[int]string{200: "pdf", 404: "Error", 409: "Error"}},
		{Method: http.MethodPost, Path: "/plans/:id/exams/:index/file", Summary: "Attach a file to an exam", Tag: tag, Request: "multipart",
			Responses: map[int]string{200: "Plan", 404: "Error", 409: "Error", 413: "Error", 415: "Error"}},
		{Method: http.MethodGet, Path: "/plans/:id/exams/:index/file", Summary: "Get a download URL for an exam file", Tag: tag,
			Responses: map[int]string{200: "FileURL", 404: "Error"}},
	}
}

// planRequest carries the client-writable fields of a plan.
type planRequest struct {
	Title            string           `json:"title"`
	Patient          Patient          `json:"patient"`
	MenstrualHistory MenstrualHistory `json:"menstrual_history"`
	Symptoms         []Symptom        `json:"symptoms"`
	HealthHistory    HealthHistory    `json:"health_history"`
	Lifestyle        Lifestyle        `json:"lifestyle"`
	Exams            []Exam           `json:"exams"`
	TCMObservations  TCMObservations  `json:"tcm_observations"`
	Timeline         []TimelineEvent  `json:"timeline"`
	IFMMatrix        IFMMatrix        `json:"ifm_matrix"`
}

func (r *planRequest) toPlan() *Plan {
	return &Plan{
		Title:            r.Title,
		Patient:          r.Patient,
		MenstrualHistory: r.MenstrualHistory,
		Symptoms:         r.Symptoms,
		HealthHistory:    r.HealthHistory,
		Lifestyle:        r.Lifestyle,
		Exams:            r.Exams,
		TCMObservations:  r.TCMObservations,
		Timeline:         r.Timeline,
		IFMMatrix:        r.IFMMatrix,
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrExamNotFound), errors.Is(err, ErrNoExamFile),
		errors.Is(err, blobstore.ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrNoCompany), errors.Is(err, ErrUnknownCompany),
		errors.Is(err, blobstore.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, ErrPlanCompleted), errors.Is(err, ErrGenerationInProgress),
		errors.Is(err, ErrStateConflict), errors.Is(err, ErrNotCompleted), errors.Is(err, lock.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, company.ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, company.ErrCompanyInactive):
		return http.StatusForbidden
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func httpError(err error) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}

func idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func indexParam(c echo.Context) (int, error) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil || i < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid exam index")
	}
	return i, nil
}

func companyOf(c echo.Context) uuid.UUID {
	return auth.CompanyIDFromContext(c.Request().Context())
}

func (h *Handler) CreatePlan(c echo.Context) error {
	var req planRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := req.toPlan()
	ctx := c.Request().Context()
	p.CreatedBy = auth.UserIDFromContext(ctx)
	p.CompanyID = auth.CompanyIDFromContext(ctx)
	if err := h.svc.CreatePlan(ctx, p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPlan(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPlan(c.Request().Context(), companyOf(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// ListPlans supports ?status=, ?q= (title search) and ?mine=true.
func (h *Handler) ListPlans(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := SearchParams{
		Status: c.QueryParam("status"),
		Title:  c.QueryParam("q"),
	}
	if c.QueryParam("mine") == "true" {
		params.CreatedBy = auth.UserIDFromContext(c.Request().Context())
	}
	items, total, err := h.svc.ListPlans(c.Request().Context(), companyOf(c), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Plan{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePlan(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req planRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdatePlan(c.Request().Context(), companyOf(c), id, req.toPlan())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePlan(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePlan(c.Request().Context(), companyOf(c), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GeneratePlan answers 200 with the stored plan for both completed and failed
// runs; the plan's status and generation_error describe the outcome.
func (h *Handler) GeneratePlan(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GeneratePlan(c.Request().Context(), companyOf(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DownloadPDF(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	out, p, err := h.svc.RenderPDF(c.Request().Context(), companyOf(c), id)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="plano-%s.pdf"`, p.ID))
	return c.Blob(http.StatusOK, "application/pdf", out)
}

func (h *Handler) UploadExamFile(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	index, err := indexParam(c)
	if err != nil {
		return err
	}
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	p, err := h.svc.AttachExamFile(c.Request().Context(), companyOf(c), id, index, file.Header.Get(echo.HeaderContentType), src)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type fileURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

func (h *Handler) GetExamFileURL(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	index, err := indexParam(c)
	if err != nil {
		return err
	}
	u, err := h.svc.ExamFileURL(c.Request().Context(), companyOf(c), id, index)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, fileURLResponse{URL: u, ExpiresIn: int(h.svc.PresignTTL().Seconds())})
}
