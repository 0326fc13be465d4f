package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/mentor-scoring-api/internal/dto"
	"github.com/noah-isme/mentor-scoring-api/internal/models"
	"github.com/noah-isme/mentor-scoring-api/internal/scoring"
	appErrors "github.com/noah-isme/mentor-scoring-api/pkg/errors"
)

type hierarchyProvider interface {
	GetHierarchy(ctx context.Context, projectID string) (models.StageTaskHierarchy, error)
}

// ScoringConfig tunes scoring sessions.
type ScoringConfig struct {
	DefaultMode     models.ScoringMode
	StrictWeights   bool
	ProviderTimeout time.Duration
	PublishedTTL    time.Duration
}

// ScoringService owns one scoring engine per project and layers validation, caching, metrics and
// tracing over the engine operations.
type ScoringService struct {
	scores    scoring.ScoreDataProvider
	stages    hierarchyProvider
	notifier  scoring.Notifier
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	tracer    trace.Tracer
	logger    *zap.Logger
	cfg       ScoringConfig

	mu      sync.Mutex
	engines map[string]*scoring.Engine
}

// NewScoringService constructs the service. cache, metrics and notifier may be nil.
func NewScoringService(scores scoring.ScoreDataProvider, stages hierarchyProvider, notifier scoring.Notifier, cache *CacheService, metrics *MetricsService, validate *validator.Validate, cfg ScoringConfig, logger *zap.Logger) *ScoringService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if !cfg.DefaultMode.Valid() {
		cfg.DefaultMode = models.ScoringModeIndividual
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	return &ScoringService{
		scores:    scores,
		stages:    stages,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		tracer:    otel.Tracer("github.com/noah-isme/mentor-scoring-api/internal/service/scoring"),
		logger:    logger,
		cfg:       cfg,
		engines:   make(map[string]*scoring.Engine),
	}
}

// Engine returns the project's scoring session, creating it with the default policy on first use.
func (s *ScoringService) Engine(projectID string) *scoring.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if engine, ok := s.engines[projectID]; ok {
		return engine
	}
	cfg := scoring.EngineConfig{
		ProjectID: projectID,
		Policy:    scoring.DefaultPolicy(s.cfg.DefaultMode),
		Provider:  s.scores,
		Notifier:  s.notifier,
		Logger:    s.logger,
	}
	if s.metrics != nil {
		cfg.Observer = s.metrics
	}
	engine := scoring.NewEngine(cfg)
	s.engines[projectID] = engine
	s.metrics.SetActiveSessions(len(s.engines))
	return engine
}

// GetPolicy returns the project's active policy.
func (s *ScoringService) GetPolicy(ctx context.Context, projectID string) models.ScoringPolicy {
	return s.Engine(projectID).Policy()
}

// UpdatePolicy validates, sanitises and applies a new policy, then recomputes.
func (s *ScoringService) UpdatePolicy(ctx context.Context, projectID string, req dto.UpdatePolicyRequest) (models.ScoringSnapshot, error) {
	ctx, span := s.start(ctx, "ScoringService.UpdatePolicy", projectID)
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return models.ScoringSnapshot{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scoring policy payload")
	}
	policy := req.ToPolicy(s.sanitizer.Sanitize)
	if err := validateCategoryIDs(policy); err != nil {
		span.SetStatus(codes.Error, "duplicate category")
		return models.ScoringSnapshot{}, err
	}
	if s.cfg.StrictWeights {
		if err := scoring.ValidateCombinedWeights(policy); err != nil {
			span.SetStatus(codes.Error, "invalid weights")
			return models.ScoringSnapshot{}, err
		}
	}

	engine := s.Engine(projectID)
	engine.SetPolicy(policy)
	s.invalidateExports(ctx, projectID)
	s.logger.Info("scoring policy updated", zap.String("project_id", projectID), zap.String("mode", string(policy.Mode)))
	return engine.Snapshot(), nil
}

// Load fetches raw scores for the project. A provider failure is reported through the outcome's
// warning, never as an error.
func (s *ScoringService) Load(ctx context.Context, projectID string) scoring.LoadOutcome {
	ctx, span := s.start(ctx, "ScoringService.Load", projectID)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	outcome := s.Engine(projectID).LoadScores(ctx, projectID)
	span.SetAttributes(attribute.Int("scoring.students", outcome.Students), attribute.Int("scoring.groups", outcome.Groups))
	if outcome.Warning != "" {
		span.SetStatus(codes.Error, outcome.Warning)
	}
	s.invalidateExports(ctx, projectID)
	return outcome
}

// Refresh re-aggregates group contributions from the supplied hierarchy or, when nil, from the
// stage repository. A repository failure leaves the session unchanged.
func (s *ScoringService) Refresh(ctx context.Context, projectID string, hierarchy models.StageTaskHierarchy) (models.ScoringSnapshot, error) {
	ctx, span := s.start(ctx, "ScoringService.Refresh", projectID)
	defer span.End()

	if hierarchy == nil {
		if s.stages == nil {
			return models.ScoringSnapshot{}, appErrors.Clone(appErrors.ErrDataUnavailable, "stage hierarchy source not configured")
		}
		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		loaded, err := s.stages.GetHierarchy(fetchCtx, projectID)
		cancel()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "hierarchy unavailable")
			s.logger.Warn("stage hierarchy load failed", zap.String("project_id", projectID), zap.Error(err))
			return models.ScoringSnapshot{}, appErrors.Wrap(err, appErrors.ErrDataUnavailable.Code, appErrors.ErrDataUnavailable.Status, "stage hierarchy unavailable")
		}
		hierarchy = loaded
	}

	engine := s.Engine(projectID)
	engine.RefreshGroupContributions(hierarchy)
	s.invalidateExports(ctx, projectID)
	return engine.Snapshot(), nil
}

// Recompute runs a full recompute over the current session data.
func (s *ScoringService) Recompute(ctx context.Context, projectID string) models.ScoringSnapshot {
	ctx, span := s.start(ctx, "ScoringService.Recompute", projectID)
	defer span.End()

	engine := s.Engine(projectID)
	engine.Recompute()
	s.invalidateExports(ctx, projectID)
	return engine.Snapshot()
}

// StudentRanking returns the ranked students.
func (s *ScoringService) StudentRanking(ctx context.Context, projectID string) []models.ScoredStudent {
	return s.Engine(projectID).StudentRanking()
}

// GroupRanking returns the ranked groups.
func (s *ScoringService) GroupRanking(ctx context.Context, projectID string) []models.ScoredGroup {
	return s.Engine(projectID).GroupRanking()
}

// GroupContributions returns the itemised point grants of one group.
func (s *ScoringService) GroupContributions(ctx context.Context, projectID, groupID string) ([]models.GroupContribution, error) {
	details, ok := s.Engine(projectID).GroupTaskDetails(groupID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("group %s has no contributions", groupID))
	}
	return details, nil
}

// Snapshot returns a consistent read of the session.
func (s *ScoringService) Snapshot(ctx context.Context, projectID string) models.ScoringSnapshot {
	return s.Engine(projectID).Snapshot()
}

// Publish freezes the project's ranking. The call that performs the transition stores the frozen
// snapshot in the shared cache so every node can serve it.
func (s *ScoringService) Publish(ctx context.Context, projectID string) (dto.PublishResponse, error) {
	ctx, span := s.start(ctx, "ScoringService.Publish", projectID)
	defer span.End()

	outcome, err := s.Engine(projectID).Publish(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "notify failed")
		s.metrics.RecordPublication(publicationOutcomeFailed)
		return dto.PublishResponse{State: outcome.State}, err
	}
	if !outcome.Transitioned {
		s.metrics.RecordPublication(publicationOutcomeAlready)
		return dto.PublishResponse{State: outcome.State, AlreadyPublished: true, Snapshot: outcome.Published}, nil
	}

	s.metrics.RecordPublication(publicationOutcomePublished)
	if err := s.cache.Set(ctx, PublishedRankingKey(projectID), outcome.Published, s.cfg.PublishedTTL); err != nil {
		span.RecordError(err)
	}
	return dto.PublishResponse{State: outcome.State, Snapshot: outcome.Published}, nil
}

// PublishedSnapshot returns the frozen ranking, preferring the shared cache. The boolean reports a
// cache hit. On a miss the engine's frozen copy is served and re-cached, never the live rankings.
func (s *ScoringService) PublishedSnapshot(ctx context.Context, projectID string) (models.ScoringSnapshot, bool, error) {
	ctx, span := s.start(ctx, "ScoringService.PublishedSnapshot", projectID)
	defer span.End()

	var cached models.ScoringSnapshot
	if hit, err := s.cache.Get(ctx, PublishedRankingKey(projectID), &cached); err == nil && hit {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, true, nil
	}

	s.mu.Lock()
	engine, ok := s.engines[projectID]
	s.mu.Unlock()
	if !ok {
		return models.ScoringSnapshot{}, false, appErrors.ErrNotPublished
	}
	published, ok := engine.Published()
	if !ok {
		return models.ScoringSnapshot{}, false, appErrors.ErrNotPublished
	}
	_ = s.cache.Set(ctx, PublishedRankingKey(projectID), published, s.cfg.PublishedTTL)
	return published, false, nil
}

func (s *ScoringService) invalidateExports(ctx context.Context, projectID string) {
	_ = s.cache.Invalidate(ctx, ExportKeyPattern(projectID))
}

func (s *ScoringService) start(ctx context.Context, name, projectID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("project.id", projectID)))
}

func validateCategoryIDs(policy models.ScoringPolicy) error {
	seen := make(map[string]struct{}, len(policy.IndividualCategories))
	for _, cat := range policy.IndividualCategories {
		if _, dup := seen[cat.ID]; dup {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate individual category %q", cat.ID))
		}
		seen[cat.ID] = struct{}{}
	}
	seen = make(map[string]struct{}, len(policy.GroupCategories))
	for _, cat := range policy.GroupCategories {
		if _, dup := seen[cat.ID]; dup {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate group category %q", cat.ID))
		}
		seen[cat.ID] = struct{}{}
	}
	return nil
}
