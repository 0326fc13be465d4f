package handler

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mentor-scoring-api/internal/dto"
	"github.com/noah-isme/mentor-scoring-api/internal/middleware"
	"github.com/noah-isme/mentor-scoring-api/internal/models"
	"github.com/noah-isme/mentor-scoring-api/internal/scoring"
	"github.com/noah-isme/mentor-scoring-api/internal/service"
	appErrors "github.com/noah-isme/mentor-scoring-api/pkg/errors"
	"github.com/noah-isme/mentor-scoring-api/pkg/response"
)

type scoringService interface {
	GetPolicy(ctx context.Context, projectID string) models.ScoringPolicy
	UpdatePolicy(ctx context.Context, projectID string, req dto.UpdatePolicyRequest) (models.ScoringSnapshot, error)
	Load(ctx context.Context, projectID string) scoring.LoadOutcome
	Refresh(ctx context.Context, projectID string, hierarchy models.StageTaskHierarchy) (models.ScoringSnapshot, error)
	Recompute(ctx context.Context, projectID string) models.ScoringSnapshot
	StudentRanking(ctx context.Context, projectID string) []models.ScoredStudent
	GroupRanking(ctx context.Context, projectID string) []models.ScoredGroup
	GroupContributions(ctx context.Context, projectID, groupID string) ([]models.GroupContribution, error)
	Snapshot(ctx context.Context, projectID string) models.ScoringSnapshot
	Publish(ctx context.Context, projectID string) (dto.PublishResponse, error)
	PublishedSnapshot(ctx context.Context, projectID string) (models.ScoringSnapshot, bool, error)
}

type rankingExporter interface {
	Export(ctx context.Context, projectID string, query dto.ExportQuery) (*service.ExportResult, error)
}

// ScoringHandler exposes project scoring sessions over HTTP.
type ScoringHandler struct {
	scoring scoringService
	exports rankingExporter
}

// NewScoringHandler constructs the handler.
func NewScoringHandler(scoring scoringService, exports rankingExporter) *ScoringHandler {
	return &ScoringHandler{scoring: scoring, exports: exports}
}

// RegisterRoutes mounts the scoring routes on an authenticated group. Staff roles manage sessions;
// students may only read a published ranking.
func (h *ScoringHandler) RegisterRoutes(rg *gin.RouterGroup) {
	staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleMentor)
	everyone := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleMentor, models.RoleStudent)

	project := rg.Group("/projects/:projectId")
	project.GET("/scoring/policy", staff, h.GetPolicy)
	project.PUT("/scoring/policy", staff, h.UpdatePolicy)
	project.POST("/scoring/load", staff, h.Load)
	project.POST("/scoring/refresh", staff, h.Refresh)
	project.POST("/scoring/recompute", staff, h.Recompute)
	project.POST("/scoring/publish", staff, h.Publish)
	project.GET("/scoring/status", staff, h.Status)
	project.GET("/rankings/students", staff, h.StudentRanking)
	project.GET("/rankings/groups", staff, h.GroupRanking)
	project.GET("/rankings/export", staff, h.Export)
	project.GET("/rankings/published", everyone, h.Published)
	project.GET("/groups/:groupId/contributions", staff, h.GroupContributions)
}

// GetPolicy godoc
// @Summary Current scoring policy
// @Tags Scoring
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /projects/{projectId}/scoring/policy [get]
func (h *ScoringHandler) GetPolicy(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	response.OK(c, h.scoring.GetPolicy(c.Request.Context(), projectID))
}

// UpdatePolicy godoc
// @Summary Replace the scoring policy and recompute
// @Tags Scoring
// @Accept json
// @Produce json
// @Param projectId path string true "Project ID"
// @Param payload body dto.UpdatePolicyRequest true "Scoring policy"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /projects/{projectId}/scoring/policy [put]
func (h *ScoringHandler) UpdatePolicy(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	var req dto.UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid scoring policy payload"))
		return
	}
	snapshot, err := h.scoring.UpdatePolicy(c.Request.Context(), projectID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "updated_by", actorID(c))
	respondWithMeta(c, snapshot)
}

// Load godoc
// @Summary Load raw scores for a project
// @Description Always succeeds; a degraded load empties the rankings and reports meta.warning.
// @Tags Scoring
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /projects/{projectId}/scoring/load [post]
func (h *ScoringHandler) Load(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	outcome := h.scoring.Load(c.Request.Context(), projectID)
	if outcome.Warning != "" {
		middleware.SetMeta(c, "warning", outcome.Warning)
	}
	respondWithMeta(c, outcome)
}

// Refresh godoc
// @Summary Re-aggregate group contributions
// @Description Uses the stage hierarchy in the body when given, otherwise loads it from storage.
// @Tags Scoring
// @Accept json
// @Produce json
// @Param projectId path string true "Project ID"
// @Param payload body dto.RefreshRequest false "Inline stage hierarchy"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /projects/{projectId}/scoring/refresh [post]
func (h *ScoringHandler) Refresh(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid stage hierarchy payload"))
		return
	}
	snapshot, err := h.scoring.Refresh(c.Request.Context(), projectID, req.Stages)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondWithMeta(c, snapshot)
}

// Recompute godoc
// @Summary Recompute rankings
// @Tags Scoring
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /projects/{projectId}/scoring/recompute [post]
func (h *ScoringHandler) Recompute(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	response.OK(c, h.scoring.Recompute(c.Request.Context(), projectID))
}

// StudentRanking godoc
// @Summary Ranked students
// @Tags Rankings
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /projects/{projectId}/rankings/students [get]
func (h *ScoringHandler) StudentRanking(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	ranking := h.scoring.StudentRanking(c.Request.Context(), projectID)
	middleware.SetMeta(c, "total", len(ranking))
	respondWithMeta(c, ranking)
}

// GroupRanking godoc
// @Summary Ranked groups
// @Tags Rankings
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /projects/{projectId}/rankings/groups [get]
func (h *ScoringHandler) GroupRanking(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	ranking := h.scoring.GroupRanking(c.Request.Context(), projectID)
	middleware.SetMeta(c, "total", len(ranking))
	respondWithMeta(c, ranking)
}

// GroupContributions godoc
// @Summary Itemised task points of a group
// @Tags Rankings
// @Produce json
// @Param projectId path string true "Project ID"
// @Param groupId path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /projects/{projectId}/groups/{groupId}/contributions [get]
func (h *ScoringHandler) GroupContributions(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	details, err := h.scoring.GroupContributions(c.Request.Context(), projectID, c.Param("groupId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, details)
}

// Publish godoc
// @Summary Publish the ranking
// @Description Idempotent; the first call notifies stakeholders and freezes the ranking.
// @Tags Scoring
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /projects/{projectId}/scoring/publish [post]
func (h *ScoringHandler) Publish(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	result, err := h.scoring.Publish(c.Request.Context(), projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "already_published", result.AlreadyPublished)
	respondWithMeta(c, result)
}

// Status godoc
// @Summary Scoring session summary
// @Tags Scoring
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /projects/{projectId}/scoring/status [get]
func (h *ScoringHandler) Status(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	response.OK(c, statusResponse(h.scoring.Snapshot(c.Request.Context(), projectID)))
}

// Export godoc
// @Summary Download a ranking table
// @Tags Rankings
// @Produce text/csv
// @Produce application/pdf
// @Param projectId path string true "Project ID"
// @Param type query string true "students or groups"
// @Param format query string true "csv or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /projects/{projectId}/rankings/export [get]
func (h *ScoringHandler) Export(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	if h.exports == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var query dto.ExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid export query"))
		return
	}
	result, err := h.exports.Export(c.Request.Context(), projectID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Cached {
		c.Header("X-Cache", "HIT")
	}
	response.File(c, result.Filename, result.ContentType, result.Payload)
}

// Published godoc
// @Summary Published ranking
// @Tags Rankings
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /projects/{projectId}/rankings/published [get]
func (h *ScoringHandler) Published(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}
	snapshot, cacheHit, err := h.scoring.PublishedSnapshot(c.Request.Context(), projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	respondWithMeta(c, snapshot)
}

func statusResponse(snapshot models.ScoringSnapshot) dto.ScoringStatusResponse {
	status := dto.ScoringStatusResponse{
		ProjectID: snapshot.ProjectID,
		Mode:      snapshot.Policy.Mode,
		State:     snapshot.State,
		Students:  len(snapshot.Students),
		Groups:    len(snapshot.Groups),
		Warning:   snapshot.Warning,
	}
	if !snapshot.ComputedAt.IsZero() {
		status.ComputedAt = snapshot.ComputedAt.UTC().Format(time.RFC3339)
	}
	if snapshot.PublishedAt != nil {
		published := snapshot.PublishedAt.UTC().Format(time.RFC3339)
		status.PublishedAt = &published
	}
	return status
}
