// Package scoring implements the composite scoring and ranking engine: the group contribution
// aggregator, composite calculator, stable ranker and the publication gate guarding a project's
// ranking session.
package scoring

import (
	"fmt"
	"math"

	"github.com/noah-isme/mentor-scoring-api/internal/models"
	appErrors "github.com/noah-isme/mentor-scoring-api/pkg/errors"
)

const combinedWeightTolerance = 0.001

// DefaultPolicy returns the policy a new session starts with.
func DefaultPolicy(mode models.ScoringMode) models.ScoringPolicy {
	if !mode.Valid() {
		mode = models.ScoringModeIndividual
	}
	return models.ScoringPolicy{
		Mode: mode,
		IndividualCategories: []models.CategoryConfig{
			{ID: models.CategoryExam, Label: "Exam", Enabled: true, Weight: 40},
			{ID: models.CategoryHomework, Label: "Homework", Enabled: true, Weight: 40},
			{ID: models.CategoryAttendance, Label: "Attendance", Enabled: true, Weight: 20},
		},
		GroupCategories: []models.GroupCategoryConfig{
			{CategoryConfig: models.CategoryConfig{ID: models.CategoryCooperation, Label: "Cooperation", Enabled: true, Weight: 50}},
			{CategoryConfig: models.CategoryConfig{ID: models.CategoryDiscussion, Label: "Discussion", Enabled: true, Weight: 50}},
		},
		CombinedWeights: models.CombinedWeights{IndividualPct: 70, GroupPct: 30},
	}
}

// ValidateCombinedWeights is an opt-in check that the combined split sums to 100.
// The engine never calls it; unbalanced weights otherwise flow into composites unchanged.
func ValidateCombinedWeights(policy models.ScoringPolicy) error {
	total := policy.CombinedWeights.IndividualPct + policy.CombinedWeights.GroupPct
	if math.Abs(total-100) > combinedWeightTolerance {
		return appErrors.Clone(appErrors.ErrInvalidWeights, fmt.Sprintf("combined weights must sum to 100, got %.3f", total))
	}
	return nil
}

// KnownGroups derives the group registry from the students referencing it, in first-seen order.
func KnownGroups(records []models.StudentRawRecord) []models.ScoredGroup {
	seen := make(map[string]struct{}, len(records))
	groups := make([]models.ScoredGroup, 0)
	for _, record := range records {
		if record.GroupID == "" {
			continue
		}
		if _, ok := seen[record.GroupID]; ok {
			continue
		}
		seen[record.GroupID] = struct{}{}
		groups = append(groups, models.ScoredGroup{GroupID: record.GroupID, GroupName: record.GroupName})
	}
	return groups
}
