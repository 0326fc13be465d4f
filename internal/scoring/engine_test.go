package scoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/mentor-scoring-api/internal/models"
)

type providerStub struct {
	payload *models.ProjectScores
	err     error
	calls   int
}

func (p *providerStub) GetProjectScores(ctx context.Context, projectID string) (*models.ProjectScores, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.payload, nil
}

type notifierStub struct {
	mu     sync.Mutex
	events []models.RankingPublishedEvent
	err    error
}

func (n *notifierStub) NotifyPublished(ctx context.Context, event models.RankingPublishedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

type notifierFunc func(ctx context.Context, event models.RankingPublishedEvent) error

func (f notifierFunc) NotifyPublished(ctx context.Context, event models.RankingPublishedEvent) error {
	return f(ctx, event)
}

type observerStub struct {
	recomputes int
	failures   int
}

func (o *observerStub) ObserveRecompute(projectID string, duration time.Duration) { o.recomputes++ }
func (o *observerStub) RecordLoadFailure(projectID string)                          { o.failures++ }

func individualPolicy() models.ScoringPolicy {
	return models.ScoringPolicy{
		Mode:                 models.ScoringModeIndividual,
		IndividualCategories: examHomeworkCategories(),
		GroupCategories:      teamCategories(),
		CombinedWeights:      models.CombinedWeights{IndividualPct: 70, GroupPct: 30},
	}
}

func sampleRecords() []models.StudentRawRecord {
	return []models.StudentRawRecord{
		{StudentID: "s1", Name: "Ana", GroupID: "g1", GroupName: "Alpha", Achievement: map[string]float64{"exam": 0.9, "homework": 0.7}},
		{StudentID: "s2", Name: "Budi", GroupID: "g2", GroupName: "Beta", Achievement: map[string]float64{"exam": 0.85, "homework": 0.85}},
		{StudentID: "s3", Name: "Citra", GroupID: "g1", GroupName: "Alpha", Achievement: map[string]float64{"exam": 0.9, "homework": 0.7}},
	}
}

func newTestEngine(provider ScoreDataProvider, notifier Notifier) *Engine {
	return NewEngine(EngineConfig{
		ProjectID: "p1",
		Policy:    individualPolicy(),
		Provider:  provider,
		Notifier:  notifier,
		Logger:    zap.NewNop(),
		Now:       func() time.Time { return time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC) },
	})
}

func TestEngineLoadScoresRanksStudents(t *testing.T) {
	provider := &providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}
	engine := newTestEngine(provider, nil)

	outcome := engine.LoadScores(context.Background(), "p1")

	assert.Equal(t, LoadOutcome{Students: 3, Groups: 2}, outcome)
	ranking := engine.StudentRanking()
	require.Len(t, ranking, 3)
	assert.Equal(t, "s2", ranking[0].StudentID)
	assert.InDelta(t, 0.85, ranking[0].Composite, 1e-9)
	assert.Equal(t, "s1", ranking[1].StudentID)
	assert.Equal(t, 2, ranking[1].Rank)
	assert.Equal(t, "s3", ranking[2].StudentID)
	assert.Equal(t, 3, ranking[2].Rank)

	groups := engine.GroupRanking()
	require.Len(t, groups, 2)
	assert.Equal(t, 0.0, groups[0].AggregateScore)
}

func TestEngineLoadScoresFailureDegradesToEmpty(t *testing.T) {
	provider := &providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}
	observer := &observerStub{}
	engine := NewEngine(EngineConfig{ProjectID: "p1", Policy: individualPolicy(), Provider: provider, Observer: observer})
	engine.LoadScores(context.Background(), "p1")
	engine.RefreshGroupContributions(sampleHierarchy())
	require.Len(t, engine.StudentRanking(), 3)

	provider.err = errors.New("connection refused")
	outcome := engine.LoadScores(context.Background(), "p1")

	assert.NotEmpty(t, outcome.Warning)
	assert.Equal(t, outcome.Warning, engine.Warning())
	assert.Empty(t, engine.StudentRanking())
	assert.Empty(t, engine.GroupRanking())
	assert.Equal(t, 1, observer.failures)

	provider.err = nil
	outcome = engine.LoadScores(context.Background(), "p1")
	assert.Empty(t, outcome.Warning)
	assert.Empty(t, engine.Warning())
	assert.Len(t, engine.StudentRanking(), 3)
}

func TestEngineLoadRecoveryKeepsRefreshedHierarchy(t *testing.T) {
	provider := &providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}
	engine := newTestEngine(provider, nil)
	policy := engine.Policy()
	policy.Mode = models.ScoringModeCombined
	engine.SetPolicy(policy)

	engine.LoadScores(context.Background(), "p1")
	engine.RefreshGroupContributions(sampleHierarchy())
	before := engine.StudentRanking()

	provider.err = errors.New("connection reset")
	require.NotEmpty(t, engine.LoadScores(context.Background(), "p1").Warning)

	provider.err = nil
	outcome := engine.LoadScores(context.Background(), "p1")
	require.Empty(t, outcome.Warning)

	assert.Equal(t, map[string]float64{"g1": 90, "g2": 80}, engine.GroupScores())
	groups := engine.GroupRanking()
	require.Len(t, groups, 2)
	assert.Equal(t, "g1", groups[0].GroupID)
	assert.Equal(t, 90.0, groups[0].AggregateScore)
	assert.Equal(t, before, engine.StudentRanking())
}

func TestEngineLoadFailureDropsSeededTotals(t *testing.T) {
	provider := &providerStub{payload: &models.ProjectScores{Students: sampleRecords(), GroupScores: map[string]float64{"g1": 12}}}
	engine := newTestEngine(provider, nil)
	engine.LoadScores(context.Background(), "p1")
	require.Equal(t, 12.0, engine.GroupScores()["g1"])

	provider.err = errors.New("timeout")
	engine.LoadScores(context.Background(), "p1")

	assert.Empty(t, engine.GroupScores())
}

func TestEngineLoadScoresWithoutProvider(t *testing.T) {
	engine := newTestEngine(nil, nil)

	outcome := engine.LoadScores(context.Background(), "p1")

	assert.NotEmpty(t, outcome.Warning)
	assert.Empty(t, engine.StudentRanking())
}

func TestEngineSeededGroupScoresUntilRefresh(t *testing.T) {
	provider := &providerStub{payload: &models.ProjectScores{
		Students:    sampleRecords(),
		GroupScores: map[string]float64{"g2": 42},
		GroupTaskDetails: map[string][]models.GroupContribution{
			"g2": {{GroupID: "g2", TaskID: "legacy", TaskName: "Legacy", Score: 42}},
		},
	}}
	engine := newTestEngine(provider, nil)

	outcome := engine.LoadScores(context.Background(), "p1")
	require.True(t, outcome.Seeded)
	groups := engine.GroupRanking()
	assert.Equal(t, "g2", groups[0].GroupID)
	assert.Equal(t, 42.0, groups[0].AggregateScore)
	assert.Equal(t, 0.0, groups[1].AggregateScore)
	details, ok := engine.GroupTaskDetails("g2")
	require.True(t, ok)
	assert.Equal(t, "legacy", details[0].TaskID)

	engine.RefreshGroupContributions(sampleHierarchy())
	assert.Equal(t, map[string]float64{"g1": 90, "g2": 80}, engine.GroupScores())
	groups = engine.GroupRanking()
	assert.Equal(t, "g1", groups[0].GroupID)
	assert.Equal(t, 1, groups[0].Rank)
	assert.Equal(t, "g2", groups[1].GroupID)
	assert.Equal(t, 2, groups[1].Rank)
}

func TestEngineRefreshIdempotent(t *testing.T) {
	engine := newTestEngine(&providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}, nil)
	engine.LoadScores(context.Background(), "p1")

	engine.RefreshGroupContributions(sampleHierarchy())
	firstScores := engine.GroupScores()
	firstDetails, ok := engine.GroupTaskDetails("g1")
	require.True(t, ok)
	engine.RefreshGroupContributions(sampleHierarchy())

	assert.Equal(t, firstScores, engine.GroupScores())
	details, _ := engine.GroupTaskDetails("g1")
	assert.Equal(t, firstDetails, details)
}

func TestEngineExclusionViaPolicyChange(t *testing.T) {
	engine := newTestEngine(&providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}, nil)
	engine.LoadScores(context.Background(), "p1")
	engine.RefreshGroupContributions(sampleHierarchy())

	policy := engine.Policy()
	policy.GroupCategories[1].ExcludedTaskIDs = []string{"T2"}
	engine.SetPolicy(policy)

	assert.Equal(t, map[string]float64{"g1": 80, "g2": 60}, engine.GroupScores())
}

func TestEngineGroupModeZeroesStudents(t *testing.T) {
	engine := newTestEngine(&providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}, nil)
	engine.LoadScores(context.Background(), "p1")
	engine.RefreshGroupContributions(sampleHierarchy())

	policy := engine.Policy()
	policy.Mode = models.ScoringModeGroup
	engine.SetPolicy(policy)

	ranking := engine.StudentRanking()
	require.Len(t, ranking, 3)
	for i, student := range ranking {
		assert.Equal(t, 0.0, student.Composite)
		assert.Equal(t, i+1, student.Rank)
	}
	// equal composites keep input order
	assert.Equal(t, []string{"s1", "s2", "s3"}, []string{ranking[0].StudentID, ranking[1].StudentID, ranking[2].StudentID})
	assert.Equal(t, 90.0, engine.GroupRanking()[0].AggregateScore)
}

func TestEngineCombinedModeUsesRawGroupTotal(t *testing.T) {
	engine := newTestEngine(&providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}, nil)
	engine.LoadScores(context.Background(), "p1")
	engine.RefreshGroupContributions(sampleHierarchy())

	policy := engine.Policy()
	policy.Mode = models.ScoringModeCombined
	engine.SetPolicy(policy)

	ranking := engine.StudentRanking()
	assert.Equal(t, "s1", ranking[0].StudentID)
	assert.InDelta(t, 0.78*0.7+90*0.3, ranking[0].Composite, 1e-9)
	assert.Equal(t, "s2", ranking[2].StudentID)
	assert.InDelta(t, 0.85*0.7+80*0.3, ranking[2].Composite, 1e-9)
}

func TestEngineStudentsWithoutGroup(t *testing.T) {
	solo := []models.StudentRawRecord{{StudentID: "solo", Achievement: map[string]float64{"exam": 1}}}
	engine := newTestEngine(&providerStub{payload: &models.ProjectScores{Students: solo}}, nil)
	engine.LoadScores(context.Background(), "p1")
	engine.RefreshGroupContributions(sampleHierarchy())

	assert.Len(t, engine.StudentRanking(), 1)
	assert.Empty(t, engine.GroupRanking())
}

func TestEnginePublishIdempotent(t *testing.T) {
	notifier := &notifierStub{}
	engine := newTestEngine(&providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}, notifier)
	engine.LoadScores(context.Background(), "p1")

	outcome, err := engine.Publish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PublicationPublished, outcome.State)
	assert.True(t, outcome.Transitioned)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, "p1", notifier.events[0].ProjectID)
	assert.Len(t, notifier.events[0].Students, 3)

	outcome, err = engine.Publish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PublicationPublished, outcome.State)
	assert.False(t, outcome.Transitioned)
	assert.Len(t, outcome.Published.Students, 3)
	assert.Len(t, notifier.events, 1)

	snap := engine.Snapshot()
	require.NotNil(t, snap.PublishedAt)
	assert.Equal(t, models.PublicationPublished, snap.State)
}

func TestEnginePublishNotifyFailureKeepsDraft(t *testing.T) {
	notifier := &notifierStub{err: errors.New("queue full")}
	engine := newTestEngine(nil, notifier)

	outcome, err := engine.Publish(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.PublicationDraft, outcome.State)
	assert.False(t, outcome.Transitioned)
	assert.Equal(t, models.PublicationDraft, engine.State())
	assert.Nil(t, engine.Snapshot().PublishedAt)
	_, ok := engine.Published()
	assert.False(t, ok)

	notifier.err = nil
	outcome, err = engine.Publish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PublicationPublished, outcome.State)
	assert.True(t, outcome.Transitioned)
}

func TestEnginePublishedRankingIsFrozen(t *testing.T) {
	notifier := &notifierStub{}
	engine := newTestEngine(&providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}, notifier)
	engine.LoadScores(context.Background(), "p1")
	_, err := engine.Publish(context.Background())
	require.NoError(t, err)

	policy := engine.Policy()
	policy.Mode = models.ScoringModeGroup
	engine.SetPolicy(policy)
	engine.RefreshGroupContributions(sampleHierarchy())

	published, ok := engine.Published()
	require.True(t, ok)
	assert.Equal(t, models.ScoringModeIndividual, published.Policy.Mode)
	assert.Equal(t, models.PublicationPublished, published.State)
	require.NotNil(t, published.PublishedAt)
	require.Len(t, published.Students, 3)
	assert.InDelta(t, 0.85, published.Students[0].Composite, 1e-9)
	assert.Equal(t, notifier.events[0].Students, published.Students)
	assert.Equal(t, 0.0, engine.StudentRanking()[0].Composite)

	published.Students[0].Composite = 42
	again, _ := engine.Published()
	assert.InDelta(t, 0.85, again.Students[0].Composite, 1e-9)
}

func TestEngineConcurrentPublishTransitionsOnce(t *testing.T) {
	notifier := &notifierStub{}
	engine := newTestEngine(&providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}, notifier)
	engine.LoadScores(context.Background(), "p1")

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		transitioned int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := engine.Publish(context.Background())
			assert.NoError(t, err)
			if outcome.Transitioned {
				mu.Lock()
				transitioned++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transitioned)
	assert.Len(t, notifier.events, 1)
}

func TestEnginePublishDoesNotBlockReadersWhileNotifying(t *testing.T) {
	var engine *Engine
	var seen models.PublicationState
	engine = newTestEngine(&providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}, notifierFunc(func(ctx context.Context, event models.RankingPublishedEvent) error {
		seen = engine.Snapshot().State
		return nil
	}))
	engine.LoadScores(context.Background(), "p1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.Publish(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on its own readers")
	}

	assert.Equal(t, models.PublicationDraft, seen)
	assert.Equal(t, models.PublicationPublished, engine.State())
}

func TestEngineRecomputeAllowedAfterPublish(t *testing.T) {
	engine := newTestEngine(&providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}, nil)
	_, err := engine.Publish(context.Background())
	require.NoError(t, err)

	engine.LoadScores(context.Background(), "p1")

	assert.Len(t, engine.StudentRanking(), 3)
	assert.Equal(t, models.PublicationPublished, engine.State())
}

func TestEngineReadersGetCopies(t *testing.T) {
	engine := newTestEngine(&providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}, nil)
	engine.LoadScores(context.Background(), "p1")

	ranking := engine.StudentRanking()
	ranking[0].Composite = 99
	ranking[0].Achievement["exam"] = 0

	fresh := engine.StudentRanking()
	assert.InDelta(t, 0.85, fresh[0].Composite, 1e-9)
	assert.Equal(t, 0.85, fresh[0].Achievement["exam"])
}

func TestEngineSnapshotConsistentUnderConcurrentPolicyChanges(t *testing.T) {
	engine := newTestEngine(&providerStub{payload: &models.ProjectScores{Students: sampleRecords()}}, nil)
	engine.LoadScores(context.Background(), "p1")
	engine.RefreshGroupContributions(sampleHierarchy())

	group := individualPolicy()
	group.Mode = models.ScoringModeGroup
	individual := individualPolicy()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				engine.SetPolicy(group)
			} else {
				engine.SetPolicy(individual)
			}
		}(i)
		go func() {
			defer wg.Done()
			snap := engine.Snapshot()
			for _, student := range snap.Students {
				if snap.Policy.Mode == models.ScoringModeGroup {
					assert.Equal(t, 0.0, student.Composite)
				} else {
					assert.Greater(t, student.Composite, 0.0)
				}
			}
		}()
	}
	wg.Wait()
}
