package scoring

import "github.com/noah-isme/mentor-scoring-api/internal/models"

// IndividualComposite blends the enabled categories present in the record by weight.
// A record with no weighted data, or a policy with zero enabled weight, yields 0.
func IndividualComposite(record models.StudentRawRecord, categories []models.CategoryConfig) float64 {
	totalWeighted := 0.0
	totalWeight := 0.0
	for _, cat := range categories {
		if !cat.Enabled {
			continue
		}
		ratio, ok := record.Achievement[cat.ID]
		if !ok {
			continue
		}
		totalWeighted += ratio * cat.Weight
		totalWeight += cat.Weight
	}
	if totalWeight <= 0 {
		return 0
	}
	return totalWeighted / totalWeight
}

// Composite computes a student's score under the policy's mode. groupScore is the raw,
// unnormalised total of the student's group and is only read in COMBINED mode.
func Composite(record models.StudentRawRecord, policy models.ScoringPolicy, groupScore float64) float64 {
	switch policy.Mode {
	case models.ScoringModeGroup:
		return 0
	case models.ScoringModeCombined:
		individual := IndividualComposite(record, policy.IndividualCategories)
		return individual*(policy.CombinedWeights.IndividualPct/100) + groupScore*(policy.CombinedWeights.GroupPct/100)
	default:
		return IndividualComposite(record, policy.IndividualCategories)
	}
}
