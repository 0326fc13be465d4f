package scoring

import "github.com/noah-isme/mentor-scoring-api/internal/models"

// GroupContributions holds per-group point totals and the itemised grants behind them.
type GroupContributions struct {
	Scores  map[string]float64
	Details map[string][]models.GroupContribution
}

// NewGroupContributions returns contributions initialised to zero for every known group.
func NewGroupContributions(groups []models.ScoredGroup) GroupContributions {
	c := GroupContributions{
		Scores:  make(map[string]float64, len(groups)),
		Details: make(map[string][]models.GroupContribution, len(groups)),
	}
	for _, group := range groups {
		c.Scores[group.GroupID] = 0
		c.Details[group.GroupID] = []models.GroupContribution{}
	}
	return c
}

// Clone deep-copies the contributions.
func (c GroupContributions) Clone() GroupContributions {
	clone := GroupContributions{
		Scores:  make(map[string]float64, len(c.Scores)),
		Details: make(map[string][]models.GroupContribution, len(c.Details)),
	}
	for id, score := range c.Scores {
		clone.Scores[id] = score
	}
	for id, details := range c.Details {
		clone.Details[id] = append([]models.GroupContribution{}, details...)
	}
	return clone
}

// classifyTask maps a task onto the team category it scores for, if any.
func classifyTask(task models.Task) (string, bool) {
	switch task.Type {
	case models.TaskTypeHomework:
		if task.Config != nil && task.Config.IsCooperation {
			return models.CategoryCooperation, true
		}
		return "", false
	case models.TaskTypeDiscussion:
		return models.CategoryDiscussion, true
	default:
		return "", false
	}
}

// AggregateGroupContributions walks stages then tasks in order and sums the point grants of
// every qualifying task. The result replaces any previous contributions.
func AggregateGroupContributions(hierarchy models.StageTaskHierarchy, policy models.ScoringPolicy, groups []models.ScoredGroup) GroupContributions {
	result := NewGroupContributions(groups)
	for _, stage := range hierarchy {
		for _, task := range stage.Tasks {
			categoryID, ok := classifyTask(task)
			if !ok {
				continue
			}
			category, ok := policy.GroupCategory(categoryID)
			if !ok || !category.Enabled || category.Excludes(task.ID) {
				continue
			}
			if task.Config == nil {
				continue
			}
			for groupID, points := range task.Config.GroupScores {
				result.Details[groupID] = append(result.Details[groupID], models.GroupContribution{
					GroupID:  groupID,
					TaskID:   task.ID,
					TaskName: task.Name,
					Score:    points,
				})
				result.Scores[groupID] += points
			}
		}
	}
	return result
}

// SeededContributions adopts provider-supplied totals, filling in missing known groups with zero.
// When only itemised details are supplied the totals are summed from them.
func SeededContributions(scores map[string]float64, details map[string][]models.GroupContribution, groups []models.ScoredGroup) GroupContributions {
	result := NewGroupContributions(groups)
	for id, items := range details {
		result.Details[id] = append([]models.GroupContribution{}, items...)
		if scores == nil {
			for _, item := range items {
				result.Scores[id] += item.Score
			}
		}
	}
	for id, score := range scores {
		result.Scores[id] = score
	}
	return result
}
