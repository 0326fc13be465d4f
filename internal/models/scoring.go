package models

import "time"

// ScoringMode selects which composite is produced for each student.
type ScoringMode string

const (
	// ScoringModeIndividual ranks students by their weighted individual achievement.
	ScoringModeIndividual ScoringMode = "INDIVIDUAL"
	// ScoringModeGroup suppresses the individual table; only group totals are meaningful.
	ScoringModeGroup ScoringMode = "GROUP"
	// ScoringModeCombined blends individual composite with the student's group total.
	ScoringModeCombined ScoringMode = "COMBINED"
)

// Valid reports whether the mode is one of the supported values.
func (m ScoringMode) Valid() bool {
	switch m {
	case ScoringModeIndividual, ScoringModeGroup, ScoringModeCombined:
		return true
	default:
		return false
	}
}

// Fixed category identifiers.
const (
	CategoryExam        = "exam"
	CategoryHomework    = "homework"
	CategoryAttendance  = "attendance"
	CategoryCooperation = "cooperation"
	CategoryDiscussion  = "discussion"
)

// CategoryConfig is a weighted scoring dimension. Weight is relative, not a ceiling.
type CategoryConfig struct {
	ID      string  `json:"id"`
	Label   string  `json:"label"`
	Enabled bool    `json:"enabled"`
	Weight  float64 `json:"weight"`
}

// GroupCategoryConfig describes a team-scored category with manually excluded tasks.
type GroupCategoryConfig struct {
	CategoryConfig
	ExcludedTaskIDs []string `json:"excluded_task_ids"`
}

// Excludes reports whether taskID was manually removed from scoring.
func (c GroupCategoryConfig) Excludes(taskID string) bool {
	for _, id := range c.ExcludedTaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// CombinedWeights splits the COMBINED composite between individual and group parts.
type CombinedWeights struct {
	IndividualPct float64 `json:"individual_pct"`
	GroupPct      float64 `json:"group_pct"`
}

// ScoringPolicy is the administrator-defined weighting configuration.
type ScoringPolicy struct {
	Mode                 ScoringMode           `json:"mode"`
	IndividualCategories []CategoryConfig      `json:"individual_categories"`
	GroupCategories      []GroupCategoryConfig `json:"group_categories"`
	CombinedWeights      CombinedWeights       `json:"combined_weights"`
}

// Clone returns a deep copy so callers cannot mutate a policy held by an engine.
func (p ScoringPolicy) Clone() ScoringPolicy {
	clone := p
	clone.IndividualCategories = append([]CategoryConfig(nil), p.IndividualCategories...)
	clone.GroupCategories = make([]GroupCategoryConfig, len(p.GroupCategories))
	for i, cat := range p.GroupCategories {
		cat.ExcludedTaskIDs = append([]string(nil), cat.ExcludedTaskIDs...)
		clone.GroupCategories[i] = cat
	}
	return clone
}

// GroupCategory returns the group category with the given id.
func (p ScoringPolicy) GroupCategory(id string) (GroupCategoryConfig, bool) {
	for _, cat := range p.GroupCategories {
		if cat.ID == id {
			return cat, true
		}
	}
	return GroupCategoryConfig{}, false
}

// StudentRawRecord carries a student's collected achievement ratios keyed by category id.
type StudentRawRecord struct {
	StudentID   string             `db:"student_id" json:"student_id"`
	Name        string             `db:"name" json:"name"`
	GroupID     string             `db:"group_id" json:"group_id"`
	GroupName   string             `db:"group_name" json:"group_name"`
	Achievement map[string]float64 `db:"-" json:"achievement"`
}

// TaskType classifies stage tasks.
type TaskType string

const (
	TaskTypeHomework   TaskType = "homework"
	TaskTypeDiscussion TaskType = "discussion"
)

// TaskConfig is the loosely structured per-task configuration.
type TaskConfig struct {
	IsCooperation bool               `json:"isCooperation"`
	GroupScores   map[string]float64 `json:"groupScores,omitempty"`
}

// Task is a unit of work inside a stage. Config is nil when absent or malformed.
type Task struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Type   TaskType    `json:"type"`
	Config *TaskConfig `json:"config,omitempty"`
}

// Stage groups ordered tasks.
type Stage struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Tasks []Task `json:"tasks"`
}

// StageTaskHierarchy is the ordered stage list consumed by the contribution aggregator.
type StageTaskHierarchy []Stage

// GroupContribution is one (group, qualifying task) point grant.
type GroupContribution struct {
	GroupID  string  `db:"group_id" json:"group_id"`
	TaskID   string  `db:"task_id" json:"task_id"`
	TaskName string  `db:"task_name" json:"task_name"`
	Score    float64 `db:"score" json:"score"`
}

// ProjectScores is the payload returned by the score data provider.
type ProjectScores struct {
	Students         []StudentRawRecord             `json:"students"`
	GroupScores      map[string]float64             `json:"group_scores,omitempty"`
	GroupTaskDetails map[string][]GroupContribution `json:"group_task_details,omitempty"`
}

// ScoredStudent is a ranked student row derived from a recompute.
type ScoredStudent struct {
	StudentRawRecord
	Composite float64 `json:"composite"`
	Rank      int     `json:"rank"`
}

// ScoredGroup is a ranked group row derived from a recompute.
type ScoredGroup struct {
	GroupID        string  `json:"group_id"`
	GroupName      string  `json:"group_name"`
	AggregateScore float64 `json:"aggregate_score"`
	Rank           int     `json:"rank"`
}

// PublicationState tracks the one-way publication gate.
type PublicationState string

const (
	PublicationDraft     PublicationState = "DRAFT"
	PublicationPublished PublicationState = "PUBLISHED"
)

// RankingPublishedEvent is broadcast once when a project's ranking is first published.
type RankingPublishedEvent struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Mode        ScoringMode     `json:"mode"`
	Students    []ScoredStudent `json:"students"`
	Groups      []ScoredGroup   `json:"groups"`
	PublishedAt time.Time       `json:"published_at"`
}

// ScoringSnapshot is a coherent read of an engine's derived state.
type ScoringSnapshot struct {
	ProjectID   string           `json:"project_id"`
	Policy      ScoringPolicy    `json:"policy"`
	Students    []ScoredStudent  `json:"students"`
	Groups      []ScoredGroup    `json:"groups"`
	State       PublicationState `json:"state"`
	Warning     string           `json:"warning,omitempty"`
	ComputedAt  time.Time        `json:"computed_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
}
