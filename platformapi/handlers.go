// Package platformapi wires the ingestion and workflow execution platform's
// HTTP surface: runs, assets, bulk upload reconciliation, scheduled tasks,
// and the queue submission tick. Handlers are thin, delegating to the domain
// stores/orchestrators and translating apperr.Error into the JSON error body
// every route shares, the same separation this codebase's other
// echo.HandlerFunc-based services keep between handler bodies and the
// service layer underneath them.
package platformapi

import (
	"net/http"
	"strconv"

	"flowcore.dev/apperr"
	"flowcore.dev/asset"
	"flowcore.dev/extractqueue"
	"flowcore.dev/middleware"
	"flowcore.dev/runs"
	"flowcore.dev/scheduler"
	"github.com/labstack/echo/v4"
)

// Handlers bundles every collaborator a route needs. All fields are
// required; the composition root builds one instance at startup.
type Handlers struct {
	Runs       *runs.Store
	Assets     *asset.Store
	Queue      *extractqueue.Queue
	Tasks      *scheduler.Store
	Dispatcher *scheduler.Dispatcher
	Bulk       *BulkReconciler
}

// SetupRoutes registers every endpoint behind middleware.Tenant(), mirroring
// api.SetupRoutes's grouping convention.
func SetupRoutes(e *echo.Echo, h *Handlers) {
	g := e.Group("", middleware.Tenant())

	g.GET("/runs", h.ListRuns)
	g.GET("/runs/stats", h.RunStats)
	g.GET("/runs/:id", h.GetRun)

	g.GET("/assets", h.ListAssets)
	g.GET("/assets/health", h.AssetHealth)
	g.GET("/assets/:id", h.GetAsset)
	g.GET("/assets/:id/extraction", h.GetAssetExtraction)
	g.GET("/assets/:id/versions", h.ListAssetVersions)
	g.GET("/assets/:id/versions/:n", h.GetAssetVersion)
	g.POST("/assets/:id/reextract", h.ReextractAsset)

	g.POST("/bulk-upload/analyze", h.BulkAnalyze)
	g.POST("/bulk-upload/apply", h.BulkApply)

	g.GET("/scheduled-tasks", h.ListScheduledTasks)
	g.POST("/scheduled-tasks", h.CreateScheduledTask)
	g.PUT("/scheduled-tasks/:id", h.UpdateScheduledTask)
	g.POST("/scheduled-tasks/:id/trigger-now", h.TriggerScheduledTaskNow)
	g.POST("/scheduled-tasks/:id/enable", h.EnableScheduledTask)
	g.POST("/scheduled-tasks/:id/disable", h.DisableScheduledTask)

	g.POST("/queue/submit-tick", h.SubmitTick)
}

// jsonError renders an apperr.Error with its mapped status code, falling
// back to 500 for anything else (the same unwrap-or-default api handlers use).
func jsonError(c echo.Context, err error) error {
	if ae, ok := err.(*apperr.Error); ok {
		return c.JSON(ae.StatusCode(), map[string]interface{}{
			"error":   string(ae.Kind),
			"message": ae.Message,
			"details": ae.Details,
		})
	}
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": "internal", "message": err.Error()})
}

func principalOrg(c echo.Context) (string, error) {
	p := middleware.PrincipalFrom(c)
	if p == nil || p.OrganizationID == "" {
		return "", apperr.InvalidInput("missing organization context")
	}
	return p.OrganizationID, nil
}

func pagination(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	return
}

func (h *Handlers) ListRuns(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	limit, offset := pagination(c)
	f := runs.ListFilters{
		RunType: runs.RunType(c.QueryParam("run_type")),
		Status:  runs.Status(c.QueryParam("status")),
		Origin:  runs.Origin(c.QueryParam("origin")),
	}
	out, err := h.Runs.List(c.Request().Context(), org, f, limit, offset)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handlers) RunStats(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	stats, err := h.Runs.Stats(c.Request().Context(), org)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handlers) GetRun(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	r, err := h.Runs.GetScoped(c.Request().Context(), c.Param("id"), org)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handlers) ListAssets(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	limit, offset := pagination(c)
	f := asset.ListFilters{
		SourceType: asset.SourceType(c.QueryParam("source_type")),
		Status:     asset.Status(c.QueryParam("status")),
	}
	out, err := h.Assets.List(c.Request().Context(), org, f, limit, offset)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handlers) AssetHealth(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	stats, err := h.Assets.HealthStats(c.Request().Context(), org)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handlers) GetAsset(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	a, err := h.Assets.GetScoped(c.Request().Context(), c.Param("id"), org)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handlers) GetAssetExtraction(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	if _, err := h.Assets.GetScoped(c.Request().Context(), c.Param("id"), org); err != nil {
		return jsonError(c, err)
	}
	er, err := h.Assets.LatestExtraction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, er)
}

func (h *Handlers) ListAssetVersions(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	if _, err := h.Assets.GetScoped(c.Request().Context(), c.Param("id"), org); err != nil {
		return jsonError(c, err)
	}
	out, err := h.Assets.Versions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetAssetVersion(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	if _, err := h.Assets.GetScoped(c.Request().Context(), c.Param("id"), org); err != nil {
		return jsonError(c, err)
	}
	n, convErr := strconv.Atoi(c.Param("n"))
	if convErr != nil {
		return jsonError(c, apperr.InvalidInput("version number must be an integer"))
	}
	v, err := h.Assets.Version(c.Request().Context(), c.Param("id"), n)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// ReextractAsset implements POST /assets/{id}/reextract: a user-origin,
// priority re-extraction that cancels any in-flight extraction for the
// asset.
func (h *Handlers) ReextractAsset(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	p := middleware.PrincipalFrom(c)
	a, err := h.Assets.GetScoped(c.Request().Context(), c.Param("id"), org)
	if err != nil {
		return jsonError(c, err)
	}
	run, _, status, err := h.Queue.QueueExtraction(c.Request().Context(), a, runs.OriginUser, 1, p.UserID, c.QueryParam("extractor_version"), true)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"run": run, "queue_status": status})
}

func (h *Handlers) SubmitTick(c echo.Context) error {
	n, err := h.Queue.SubmitDue(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"submitted": n})
}
