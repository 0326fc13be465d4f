package dto

import "github.com/noah-isme/mentor-scoring-api/internal/models"

// CategoryRequest describes one weighted category in a policy update.
type CategoryRequest struct {
	ID      string  `json:"id" validate:"required,max=64"`
	Label   string  `json:"label" validate:"max=120"`
	Enabled bool    `json:"enabled"`
	Weight  float64 `json:"weight" validate:"gte=0"`
}

// GroupCategoryRequest adds manually excluded task ids to a team category.
type GroupCategoryRequest struct {
	CategoryRequest
	ExcludedTaskIDs []string `json:"excluded_task_ids" validate:"omitempty,dive,required"`
}

// CombinedWeightsRequest splits the COMBINED composite.
type CombinedWeightsRequest struct {
	IndividualPct float64 `json:"individual_pct" validate:"gte=0,lte=100"`
	GroupPct      float64 `json:"group_pct" validate:"gte=0,lte=100"`
}

// UpdatePolicyRequest replaces a project's scoring policy.
type UpdatePolicyRequest struct {
	Mode                 string                 `json:"mode" validate:"required,oneof=INDIVIDUAL GROUP COMBINED"`
	IndividualCategories []CategoryRequest      `json:"individual_categories" validate:"dive"`
	GroupCategories      []GroupCategoryRequest `json:"group_categories" validate:"dive"`
	CombinedWeights      CombinedWeightsRequest `json:"combined_weights"`
}

// ToPolicy converts the request, passing labels through sanitize.
func (r UpdatePolicyRequest) ToPolicy(sanitize func(string) string) models.ScoringPolicy {
	if sanitize == nil {
		sanitize = func(s string) string { return s }
	}
	policy := models.ScoringPolicy{
		Mode:                 models.ScoringMode(r.Mode),
		IndividualCategories: make([]models.CategoryConfig, 0, len(r.IndividualCategories)),
		GroupCategories:      make([]models.GroupCategoryConfig, 0, len(r.GroupCategories)),
		CombinedWeights: models.CombinedWeights{
			IndividualPct: r.CombinedWeights.IndividualPct,
			GroupPct:      r.CombinedWeights.GroupPct,
		},
	}
	for _, cat := range r.IndividualCategories {
		policy.IndividualCategories = append(policy.IndividualCategories, cat.toConfig(sanitize))
	}
	for _, cat := range r.GroupCategories {
		policy.GroupCategories = append(policy.GroupCategories, models.GroupCategoryConfig{
			CategoryConfig:  cat.toConfig(sanitize),
			ExcludedTaskIDs: append([]string(nil), cat.ExcludedTaskIDs...),
		})
	}
	return policy
}

func (c CategoryRequest) toConfig(sanitize func(string) string) models.CategoryConfig {
	return models.CategoryConfig{ID: c.ID, Label: sanitize(c.Label), Enabled: c.Enabled, Weight: c.Weight}
}

// RefreshRequest optionally supplies the stage/task hierarchy inline instead of loading it.
type RefreshRequest struct {
	Stages models.StageTaskHierarchy `json:"stages"`
}

// PublishResponse reports the publication state after a publish call.
type PublishResponse struct {
	State            models.PublicationState `json:"state"`
	AlreadyPublished bool                    `json:"already_published"`
	Snapshot         models.ScoringSnapshot  `json:"snapshot"`
}

// ScoringStatusResponse summarises a project's scoring session.
type ScoringStatusResponse struct {
	ProjectID   string                  `json:"project_id"`
	Mode        models.ScoringMode      `json:"mode"`
	State       models.PublicationState `json:"state"`
	Students    int                     `json:"students"`
	Groups      int                     `json:"groups"`
	Warning     string                  `json:"warning,omitempty"`
	ComputedAt  string                  `json:"computed_at"`
	PublishedAt *string                 `json:"published_at,omitempty"`
}

// ExportQuery selects the ranking table and file format for an export.
type ExportQuery struct {
	Type   string `form:"type" validate:"required,oneof=students groups"`
	Format string `form:"format" validate:"required,oneof=csv pdf"`
}
