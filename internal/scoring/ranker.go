package scoring

import (
	"sort"

	"github.com/noah-isme/mentor-scoring-api/internal/models"
)

// RankStudents orders students by composite descending and assigns 1-based ranks.
// Equal composites keep their input order.
func RankStudents(students []models.ScoredStudent) []models.ScoredStudent {
	ranked := append(make([]models.ScoredStudent, 0, len(students)), students...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Composite > ranked[j].Composite
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// RankGroups orders groups by aggregate score descending with the same rank assignment.
func RankGroups(groups []models.ScoredGroup) []models.ScoredGroup {
	ranked := append(make([]models.ScoredGroup, 0, len(groups)), groups...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].AggregateScore > ranked[j].AggregateScore
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
