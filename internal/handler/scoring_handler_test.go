package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mentor-scoring-api/internal/dto"
	"github.com/noah-isme/mentor-scoring-api/internal/middleware"
	"github.com/noah-isme/mentor-scoring-api/internal/models"
	"github.com/noah-isme/mentor-scoring-api/internal/scoring"
	"github.com/noah-isme/mentor-scoring-api/internal/service"
	appErrors "github.com/noah-isme/mentor-scoring-api/pkg/errors"
)

type fakeScoringSrv struct {
	policy        models.ScoringPolicy
	snapshot      models.ScoringSnapshot
	outcome       scoring.LoadOutcome
	students      []models.ScoredStudent
	groups        []models.ScoredGroup
	details       []models.GroupContribution
	publish       dto.PublishResponse
	published     models.ScoringSnapshot
	publishedHit  bool
	err           error
	lastProject   string
	lastPolicy    dto.UpdatePolicyRequest
	lastHierarchy models.StageTaskHierarchy
	refreshCalls  int
	lastGroupID   string
}

func (f *fakeScoringSrv) GetPolicy(_ context.Context, projectID string) models.ScoringPolicy {
	f.lastProject = projectID
	return f.policy
}

func (f *fakeScoringSrv) UpdatePolicy(_ context.Context, projectID string, req dto.UpdatePolicyRequest) (models.ScoringSnapshot, error) {
	f.lastProject = projectID
	f.lastPolicy = req
	return f.snapshot, f.err
}

func (f *fakeScoringSrv) Load(_ context.Context, projectID string) scoring.LoadOutcome {
	f.lastProject = projectID
	return f.outcome
}

func (f *fakeScoringSrv) Refresh(_ context.Context, projectID string, hierarchy models.StageTaskHierarchy) (models.ScoringSnapshot, error) {
	f.lastProject = projectID
	f.lastHierarchy = hierarchy
	f.refreshCalls++
	return f.snapshot, f.err
}

func (f *fakeScoringSrv) Recompute(_ context.Context, projectID string) models.ScoringSnapshot {
	f.lastProject = projectID
	return f.snapshot
}

func (f *fakeScoringSrv) StudentRanking(context.Context, string) []models.ScoredStudent {
	return f.students
}

func (f *fakeScoringSrv) GroupRanking(context.Context, string) []models.ScoredGroup {
	return f.groups
}

func (f *fakeScoringSrv) GroupContributions(_ context.Context, _ string, groupID string) ([]models.GroupContribution, error) {
	f.lastGroupID = groupID
	return f.details, f.err
}

func (f *fakeScoringSrv) Snapshot(context.Context, string) models.ScoringSnapshot {
	return f.snapshot
}

func (f *fakeScoringSrv) Publish(context.Context, string) (dto.PublishResponse, error) {
	return f.publish, f.err
}

func (f *fakeScoringSrv) PublishedSnapshot(context.Context, string) (models.ScoringSnapshot, bool, error) {
	return f.published, f.publishedHit, f.err
}

type fakeExporter struct {
	result    *service.ExportResult
	err       error
	lastQuery dto.ExportQuery
}

func (f *fakeExporter) Export(_ context.Context, _ string, query dto.ExportQuery) (*service.ExportResult, error) {
	f.lastQuery = query
	return f.result, f.err
}

type tokenStub struct {
	claims map[string]*models.JWTClaims
}

func (s tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s.claims[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error map[string]interface{} `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func newScoringRouter(srv *fakeScoringSrv, exports *fakeExporter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.WithResponseMeta())
	validator := tokenStub{claims: map[string]*models.JWTClaims{
		"admin":   {UserID: "u-admin", Role: models.RoleAdmin},
		"mentor":  {UserID: "u-mentor", Role: models.RoleMentor},
		"student": {UserID: "u-student", Role: models.RoleStudent},
	}}
	api := r.Group("/api/v1", middleware.JWT(validator))
	NewScoringHandler(srv, exports).RegisterRoutes(api)
	return r
}

func perform(r *gin.Engine, method, path, token, body string) (*httptest.ResponseRecorder, envelope) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestScoringRoutesRequireToken(t *testing.T) {
	r := newScoringRouter(&fakeScoringSrv{}, nil)

	rec, _ := perform(r, http.MethodGet, "/api/v1/projects/p1/scoring/policy", "", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScoringRoutesStudentReadsOnlyPublished(t *testing.T) {
	srv := &fakeScoringSrv{published: models.ScoringSnapshot{ProjectID: "p1", State: models.PublicationPublished}, publishedHit: true}
	r := newScoringRouter(srv, nil)

	rec, _ := perform(r, http.MethodGet, "/api/v1/projects/p1/rankings/students", "student", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = perform(r, http.MethodPost, "/api/v1/projects/p1/scoring/publish", "student", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := perform(r, http.MethodGet, "/api/v1/projects/p1/rankings/published", "student", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, env.Meta["cache_hit"])
}

func TestScoringHandlerPublishedNotFound(t *testing.T) {
	r := newScoringRouter(&fakeScoringSrv{err: appErrors.ErrNotPublished}, nil)

	rec, env := perform(r, http.MethodGet, "/api/v1/projects/p1/rankings/published", "mentor", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_PUBLISHED", env.Error["code"])
}

func TestScoringHandlerUpdatePolicy(t *testing.T) {
	srv := &fakeScoringSrv{snapshot: models.ScoringSnapshot{ProjectID: "p1"}}
	r := newScoringRouter(srv, nil)

	body := `{"mode":"COMBINED","individual_categories":[{"id":"exam","label":"Exam","enabled":true,"weight":40}],"combined_weights":{"individual_pct":60,"group_pct":40}}`
	rec, env := perform(r, http.MethodPut, "/api/v1/projects/p1/scoring/policy", "admin", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", srv.lastProject)
	assert.Equal(t, "COMBINED", srv.lastPolicy.Mode)
	require.Len(t, srv.lastPolicy.IndividualCategories, 1)
	assert.Equal(t, 40.0, srv.lastPolicy.IndividualCategories[0].Weight)
	assert.Equal(t, "u-admin", env.Meta["updated_by"])
}

func TestScoringHandlerUpdatePolicyMalformed(t *testing.T) {
	srv := &fakeScoringSrv{}
	r := newScoringRouter(srv, nil)

	rec, _ := perform(r, http.MethodPut, "/api/v1/projects/p1/scoring/policy", "admin", `{"mode":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, srv.lastProject)
}

func TestScoringHandlerUpdatePolicyServiceError(t *testing.T) {
	srv := &fakeScoringSrv{err: appErrors.Clone(appErrors.ErrInvalidWeights, "combined weights must sum to 100")}
	r := newScoringRouter(srv, nil)

	rec, env := perform(r, http.MethodPut, "/api/v1/projects/p1/scoring/policy", "admin", `{"mode":"COMBINED"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_WEIGHTS", env.Error["code"])
}

func TestScoringHandlerLoadReportsWarning(t *testing.T) {
	srv := &fakeScoringSrv{outcome: scoring.LoadOutcome{Warning: "score data unavailable: connection refused"}}
	r := newScoringRouter(srv, nil)

	rec, env := perform(r, http.MethodPost, "/api/v1/projects/p1/scoring/load", "mentor", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "score data unavailable: connection refused", env.Meta["warning"])
}

func TestScoringHandlerRefreshWithoutBodyUsesRepository(t *testing.T) {
	srv := &fakeScoringSrv{}
	r := newScoringRouter(srv, nil)

	rec, _ := perform(r, http.MethodPost, "/api/v1/projects/p1/scoring/refresh", "admin", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, srv.refreshCalls)
	assert.Nil(t, srv.lastHierarchy)
}

func TestScoringHandlerRefreshInlineHierarchy(t *testing.T) {
	srv := &fakeScoringSrv{}
	r := newScoringRouter(srv, nil)

	body := `{"stages":[{"id":"st1","name":"Kickoff","tasks":[{"id":"T1","name":"Build","type":"homework","config":{"isCooperation":true,"groupScores":{"g1":80}}}]}]}`
	rec, _ := perform(r, http.MethodPost, "/api/v1/projects/p1/scoring/refresh", "admin", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, srv.lastHierarchy, 1)
	task := srv.lastHierarchy[0].Tasks[0]
	require.NotNil(t, task.Config)
	assert.True(t, task.Config.IsCooperation)
	assert.Equal(t, 80.0, task.Config.GroupScores["g1"])
}

func TestScoringHandlerRefreshUnavailable(t *testing.T) {
	srv := &fakeScoringSrv{err: appErrors.Clone(appErrors.ErrDataUnavailable, "stage hierarchy unavailable")}
	r := newScoringRouter(srv, nil)

	rec, _ := perform(r, http.MethodPost, "/api/v1/projects/p1/scoring/refresh", "admin", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestScoringHandlerRankings(t *testing.T) {
	srv := &fakeScoringSrv{
		students: []models.ScoredStudent{
			{StudentRawRecord: models.StudentRawRecord{StudentID: "s2"}, Composite: 0.85, Rank: 1},
			{StudentRawRecord: models.StudentRawRecord{StudentID: "s1"}, Composite: 0.78, Rank: 2},
		},
		groups: []models.ScoredGroup{{GroupID: "g1", AggregateScore: 90, Rank: 1}},
	}
	r := newScoringRouter(srv, nil)

	rec, env := perform(r, http.MethodGet, "/api/v1/projects/p1/rankings/students", "mentor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var students []models.ScoredStudent
	require.NoError(t, json.Unmarshal(env.Data, &students))
	assert.Equal(t, "s2", students[0].StudentID)
	assert.Equal(t, 2, students[1].Rank)
	assert.Equal(t, float64(2), env.Meta["total"])

	rec, env = perform(r, http.MethodGet, "/api/v1/projects/p1/rankings/groups", "mentor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var groups []models.ScoredGroup
	require.NoError(t, json.Unmarshal(env.Data, &groups))
	assert.Equal(t, 90.0, groups[0].AggregateScore)
}

func TestScoringHandlerGroupContributions(t *testing.T) {
	srv := &fakeScoringSrv{details: []models.GroupContribution{{GroupID: "g1", TaskID: "T1", Score: 80}}}
	r := newScoringRouter(srv, nil)

	rec, _ := perform(r, http.MethodGet, "/api/v1/projects/p1/groups/g1/contributions", "mentor", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "g1", srv.lastGroupID)

	srv.err = appErrors.Clone(appErrors.ErrNotFound, "group missing has no contributions")
	rec, _ = perform(r, http.MethodGet, "/api/v1/projects/p1/groups/missing/contributions", "mentor", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScoringHandlerPublish(t *testing.T) {
	srv := &fakeScoringSrv{publish: dto.PublishResponse{State: models.PublicationPublished, AlreadyPublished: true}}
	r := newScoringRouter(srv, nil)

	rec, env := perform(r, http.MethodPost, "/api/v1/projects/p1/scoring/publish", "admin", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, env.Meta["already_published"])
}

func TestScoringHandlerPublishNotifyFailure(t *testing.T) {
	srv := &fakeScoringSrv{err: appErrors.Wrap(errors.New("queue full"), appErrors.ErrNotifyFailed.Code, appErrors.ErrNotifyFailed.Status, "failed to notify stakeholders")}
	r := newScoringRouter(srv, nil)

	rec, env := perform(r, http.MethodPost, "/api/v1/projects/p1/scoring/publish", "admin", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "NOTIFY_FAILED", env.Error["code"])
}

func TestScoringHandlerStatus(t *testing.T) {
	computed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	published := computed.Add(time.Hour)
	srv := &fakeScoringSrv{snapshot: models.ScoringSnapshot{
		ProjectID:   "p1",
		Policy:      models.ScoringPolicy{Mode: models.ScoringModeGroup},
		Students:    make([]models.ScoredStudent, 3),
		Groups:      make([]models.ScoredGroup, 2),
		State:       models.PublicationPublished,
		ComputedAt:  computed,
		PublishedAt: &published,
	}}
	r := newScoringRouter(srv, nil)

	rec, env := perform(r, http.MethodGet, "/api/v1/projects/p1/scoring/status", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status dto.ScoringStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, models.ScoringModeGroup, status.Mode)
	assert.Equal(t, 3, status.Students)
	assert.Equal(t, 2, status.Groups)
	assert.Equal(t, "2026-03-01T09:30:00Z", status.ComputedAt)
	require.NotNil(t, status.PublishedAt)
	assert.Equal(t, "2026-03-01T10:30:00Z", *status.PublishedAt)
}

func TestScoringHandlerExport(t *testing.T) {
	exports := &fakeExporter{result: &service.ExportResult{Filename: "p1_groups.csv", ContentType: "text/csv", Payload: []byte("Rank\n1\n"), Cached: true}}
	r := newScoringRouter(&fakeScoringSrv{}, exports)

	rec, _ := perform(r, http.MethodGet, "/api/v1/projects/p1/rankings/export?type=groups&format=csv", "mentor", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.ExportQuery{Type: "groups", Format: "csv"}, exports.lastQuery)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "p1_groups.csv")
	assert.Equal(t, "Rank\n1\n", rec.Body.String())
}

func TestScoringHandlerExportInvalidQuery(t *testing.T) {
	exports := &fakeExporter{err: appErrors.Clone(appErrors.ErrValidation, "invalid export query")}
	r := newScoringRouter(&fakeScoringSrv{}, exports)

	rec, _ := perform(r, http.MethodGet, "/api/v1/projects/p1/rankings/export?type=mentors&format=csv", "mentor", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
