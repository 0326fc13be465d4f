package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/mentor-scoring-api/internal/models"
	appErrors "github.com/noah-isme/mentor-scoring-api/pkg/errors"
)

// ScoreDataProvider supplies raw per-student records and, optionally, pre-aggregated group totals.
type ScoreDataProvider interface {
	GetProjectScores(ctx context.Context, projectID string) (*models.ProjectScores, error)
}

// Notifier receives the one-time "ranking published" signal.
type Notifier interface {
	NotifyPublished(ctx context.Context, event models.RankingPublishedEvent) error
}

// Observer is told about recompute passes and degraded loads.
type Observer interface {
	ObserveRecompute(projectID string, duration time.Duration)
	RecordLoadFailure(projectID string)
}

// LoadOutcome summarises a LoadScores call. Warning is set when the load degraded to empty.
type LoadOutcome struct {
	Students int    `json:"students"`
	Groups   int    `json:"groups"`
	Seeded   bool   `json:"seeded"`
	Warning  string `json:"warning,omitempty"`
}

// PublishOutcome reports a Publish call. Transitioned is set only on the call that moved the
// session from DRAFT to PUBLISHED; Published holds the frozen ranking once there is one.
type PublishOutcome struct {
	State        models.PublicationState
	Transitioned bool
	Published    models.ScoringSnapshot
}

// EngineConfig wires an Engine's collaborators.
type EngineConfig struct {
	ProjectID string
	Policy    models.ScoringPolicy
	Provider  ScoreDataProvider
	Notifier  Notifier
	Observer  Observer
	Logger    *zap.Logger
	Now       func() time.Time
}

// Engine is a single project's scoring session. Policy, raw records, group contributions,
// derived rankings and publication state change together under one lock, so readers never
// see rankings computed against different policies.
type Engine struct {
	projectID string
	provider  ScoreDataProvider
	notifier  Notifier
	observer  Observer
	logger    *zap.Logger
	now       func() time.Time

	publishMu sync.Mutex

	mu            sync.RWMutex
	policy        models.ScoringPolicy
	records       []models.StudentRawRecord
	hierarchy     models.StageTaskHierarchy
	contributions GroupContributions
	students      []models.ScoredStudent
	groups        []models.ScoredGroup
	computedAt    time.Time
	warning       string
	state         models.PublicationState
	published     *models.ScoringSnapshot
}

// NewEngine builds an engine in DRAFT state with empty raw data.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	policy := cfg.Policy
	if !policy.Mode.Valid() {
		policy = DefaultPolicy(policy.Mode)
	}
	e := &Engine{
		projectID: cfg.ProjectID,
		provider:  cfg.Provider,
		notifier:  cfg.Notifier,
		observer:  cfg.Observer,
		logger:    logger.With(zap.String("project_id", cfg.ProjectID)),
		now:       now,
		policy:    policy.Clone(),
		state:     models.PublicationDraft,
	}
	e.contributions = NewGroupContributions(nil)
	e.recomputeLocked()
	return e
}

// ProjectID returns the project the session belongs to.
func (e *Engine) ProjectID() string {
	return e.projectID
}

// SetPolicy replaces the policy and recomputes.
func (e *Engine) SetPolicy(policy models.ScoringPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = policy.Clone()
	e.recomputeLocked()
}

// Policy returns a copy of the active policy.
func (e *Engine) Policy() models.ScoringPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.Clone()
}

// LoadScores fetches raw records from the provider and recomputes. Provider failures never
// surface as errors: the raw set and derived state are emptied and a warning is recorded. A stage
// hierarchy from an earlier refresh survives the failure and applies again on the next good load.
func (e *Engine) LoadScores(ctx context.Context, projectID string) LoadOutcome {
	if projectID == "" {
		projectID = e.projectID
	}
	var (
		payload *models.ProjectScores
		err     error
	)
	if e.provider == nil {
		err = fmt.Errorf("score data provider not configured")
	} else {
		payload, err = e.provider.GetProjectScores(ctx, projectID)
		if err == nil && payload == nil {
			err = fmt.Errorf("score data provider returned no payload")
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.records = nil
		if e.hierarchy == nil {
			e.contributions = NewGroupContributions(nil)
		}
		e.warning = appErrors.Wrap(err, appErrors.ErrDataUnavailable.Code, appErrors.ErrDataUnavailable.Status, "score data unavailable").Error()
		e.recomputeLocked()
		e.logger.Warn("score load degraded to empty ranking", zap.String("requested_project_id", projectID), zap.Error(err))
		if e.observer != nil {
			e.observer.RecordLoadFailure(e.projectID)
		}
		return LoadOutcome{Warning: e.warning}
	}

	e.records = cloneRecords(payload.Students)
	e.warning = ""
	known := KnownGroups(e.records)
	seeded := payload.GroupScores != nil || payload.GroupTaskDetails != nil
	if seeded {
		e.hierarchy = nil
		e.contributions = SeededContributions(payload.GroupScores, payload.GroupTaskDetails, known)
	} else if e.hierarchy == nil {
		e.contributions = NewGroupContributions(known)
	}
	e.recomputeLocked()
	return LoadOutcome{Students: len(e.records), Groups: len(known), Seeded: seeded}
}

// RefreshGroupContributions re-aggregates group totals from the hierarchy, then recomputes
// composites and rankings. Seeded provider totals are discarded.
func (e *Engine) RefreshGroupContributions(hierarchy models.StageTaskHierarchy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hierarchy = cloneHierarchy(hierarchy)
	e.recomputeLocked()
}

// Recompute runs a full pass over the current snapshot.
func (e *Engine) Recompute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recomputeLocked()
}

// StudentRanking returns a copy of the ranked students.
func (e *Engine) StudentRanking() []models.ScoredStudent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneStudents(e.students)
}

// GroupRanking returns a copy of the ranked groups.
func (e *Engine) GroupRanking() []models.ScoredGroup {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.ScoredGroup{}, e.groups...)
}

// GroupScores returns a copy of the current per-group totals.
func (e *Engine) GroupScores() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.contributions.Clone().Scores
}

// GroupTaskDetails returns the itemised contributions of one group.
func (e *Engine) GroupTaskDetails(groupID string) ([]models.GroupContribution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	details, ok := e.contributions.Details[groupID]
	if !ok {
		return nil, false
	}
	return append([]models.GroupContribution{}, details...), true
}

// Warning returns the warning recorded by the last degraded load, if any.
func (e *Engine) Warning() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.warning
}

// State returns the publication state.
func (e *Engine) State() models.PublicationState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Snapshot returns policy, rankings and publication state read together.
func (e *Engine) Snapshot() models.ScoringSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

// Published returns the ranking frozen at publication time. Later policy changes or reloads do
// not affect it.
func (e *Engine) Published() (models.ScoringSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.published == nil {
		return models.ScoringSnapshot{}, false
	}
	return cloneSnapshot(*e.published), true
}

// Publish freezes the ranking. The first call recomputes and notifies; the state flips only
// when the notifier accepts the event. Later calls are no-ops that report PUBLISHED.
// Publish calls are serialised among themselves, and readers are not blocked while the
// notifier runs.
func (e *Engine) Publish(ctx context.Context) (PublishOutcome, error) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	e.mu.Lock()
	if e.published != nil {
		frozen := cloneSnapshot(*e.published)
		e.mu.Unlock()
		return PublishOutcome{State: models.PublicationPublished, Published: frozen}, nil
	}
	e.recomputeLocked()
	frozen := e.snapshotLocked()
	e.mu.Unlock()

	publishedAt := e.now().UTC()
	frozen.State = models.PublicationPublished
	frozen.PublishedAt = &publishedAt
	event := models.RankingPublishedEvent{
		ID:          uuid.NewString(),
		ProjectID:   e.projectID,
		Mode:        frozen.Policy.Mode,
		Students:    cloneStudents(frozen.Students),
		Groups:      append([]models.ScoredGroup{}, frozen.Groups...),
		PublishedAt: publishedAt,
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyPublished(ctx, event); err != nil {
			e.logger.Warn("ranking publication notify failed", zap.Error(err))
			return PublishOutcome{State: models.PublicationDraft}, appErrors.Wrap(err, appErrors.ErrNotifyFailed.Code, appErrors.ErrNotifyFailed.Status, "failed to notify stakeholders")
		}
	}

	e.mu.Lock()
	e.state = models.PublicationPublished
	e.published = &frozen
	e.mu.Unlock()

	e.logger.Info("ranking published", zap.String("event_id", event.ID), zap.Int("students", len(event.Students)), zap.Int("groups", len(event.Groups)))
	return PublishOutcome{State: models.PublicationPublished, Transitioned: true, Published: cloneSnapshot(frozen)}, nil
}

func (e *Engine) snapshotLocked() models.ScoringSnapshot {
	snap := models.ScoringSnapshot{
		ProjectID:  e.projectID,
		Policy:     e.policy.Clone(),
		Students:   cloneStudents(e.students),
		Groups:     append([]models.ScoredGroup{}, e.groups...),
		State:      e.state,
		Warning:    e.warning,
		ComputedAt: e.computedAt,
	}
	if e.published != nil && e.published.PublishedAt != nil {
		at := *e.published.PublishedAt
		snap.PublishedAt = &at
	}
	return snap
}

func (e *Engine) recomputeLocked() {
	start := time.Now()
	known := KnownGroups(e.records)
	if e.hierarchy != nil {
		e.contributions = AggregateGroupContributions(e.hierarchy, e.policy, known)
	}

	students := make([]models.ScoredStudent, 0, len(e.records))
	for _, record := range e.records {
		groupScore := 0.0
		if record.GroupID != "" {
			groupScore = e.contributions.Scores[record.GroupID]
		}
		students = append(students, models.ScoredStudent{
			StudentRawRecord: record,
			Composite:        Composite(record, e.policy, groupScore),
		})
	}
	for i := range known {
		known[i].AggregateScore = e.contributions.Scores[known[i].GroupID]
	}

	e.students = RankStudents(students)
	e.groups = RankGroups(known)
	e.computedAt = e.now().UTC()
	if e.observer != nil {
		e.observer.ObserveRecompute(e.projectID, time.Since(start))
	}
}

func cloneRecords(records []models.StudentRawRecord) []models.StudentRawRecord {
	cloned := make([]models.StudentRawRecord, len(records))
	for i, record := range records {
		achievement := make(map[string]float64, len(record.Achievement))
		for k, v := range record.Achievement {
			achievement[k] = v
		}
		record.Achievement = achievement
		cloned[i] = record
	}
	return cloned
}

func cloneStudents(students []models.ScoredStudent) []models.ScoredStudent {
	cloned := make([]models.ScoredStudent, len(students))
	for i, student := range students {
		achievement := make(map[string]float64, len(student.Achievement))
		for k, v := range student.Achievement {
			achievement[k] = v
		}
		student.Achievement = achievement
		cloned[i] = student
	}
	return cloned
}

func cloneSnapshot(snap models.ScoringSnapshot) models.ScoringSnapshot {
	snap.Policy = snap.Policy.Clone()
	snap.Students = cloneStudents(snap.Students)
	snap.Groups = append([]models.ScoredGroup{}, snap.Groups...)
	if snap.PublishedAt != nil {
		at := *snap.PublishedAt
		snap.PublishedAt = &at
	}
	return snap
}

func cloneHierarchy(hierarchy models.StageTaskHierarchy) models.StageTaskHierarchy {
	if hierarchy == nil {
		return models.StageTaskHierarchy{}
	}
	cloned := make(models.StageTaskHierarchy, len(hierarchy))
	for i, stage := range hierarchy {
		tasks := make([]models.Task, len(stage.Tasks))
		for j, task := range stage.Tasks {
			if task.Config != nil {
				cfg := *task.Config
				if cfg.GroupScores != nil {
					scores := make(map[string]float64, len(cfg.GroupScores))
					for k, v := range cfg.GroupScores {
						scores[k] = v
					}
					cfg.GroupScores = scores
				}
				task.Config = &cfg
			}
			tasks[j] = task
		}
		stage.Tasks = tasks
		cloned[i] = stage
	}
	return cloned
}
