package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mentor-scoring-api/internal/models"
)

// QueryObserver receives database timings.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

const (
	selectProjectStudents = `
SELECT
	ps.student_id AS student_id,
	s.full_name AS name,
	COALESCE(ps.group_id, '') AS group_id,
	COALESCE(g.name, '') AS group_name
FROM project_students ps
JOIN students s ON s.id = ps.student_id
LEFT JOIN project_groups g ON g.id = ps.group_id
WHERE ps.project_id = $1
ORDER BY ps.joined_at ASC, ps.student_id ASC`

	selectStudentAchievements = `
SELECT student_id, category_id, ratio
FROM student_achievements
WHERE project_id = $1`

	selectGroupTaskScores = `
SELECT group_id, task_id, task_name, score
FROM group_task_scores
WHERE project_id = $1
ORDER BY group_id ASC, position ASC`
)

type achievementRow struct {
	StudentID  string  `db:"student_id"`
	CategoryID string  `db:"category_id"`
	Ratio      float64 `db:"ratio"`
}

// ScoreRepository loads raw per-student achievement data for a project.
type ScoreRepository struct {
	db       *sqlx.DB
	observer QueryObserver
}

// NewScoreRepository constructs the repository. observer may be nil.
func NewScoreRepository(db *sqlx.DB, observer QueryObserver) *ScoreRepository {
	return &ScoreRepository{db: db, observer: observer}
}

// GetProjectScores returns the project's students with their achievement ratios in enrolment order.
// Pre-aggregated group totals are included only when the project has seeded group_task_scores rows.
func (r *ScoreRepository) GetProjectScores(ctx context.Context, projectID string) (*models.ProjectScores, error) {
	var students []models.StudentRawRecord
	if err := r.timed("project_students", func() error {
		return r.db.SelectContext(ctx, &students, selectProjectStudents, projectID)
	}); err != nil {
		return nil, fmt.Errorf("list project students: %w", err)
	}

	var achievements []achievementRow
	if err := r.timed("student_achievements", func() error {
		return r.db.SelectContext(ctx, &achievements, selectStudentAchievements, projectID)
	}); err != nil {
		return nil, fmt.Errorf("list student achievements: %w", err)
	}

	index := make(map[string]int, len(students))
	for i := range students {
		students[i].Achievement = map[string]float64{}
		index[students[i].StudentID] = i
	}
	for _, row := range achievements {
		if i, ok := index[row.StudentID]; ok {
			students[i].Achievement[row.CategoryID] = row.Ratio
		}
	}

	var seeded []models.GroupContribution
	if err := r.timed("group_task_scores", func() error {
		return r.db.SelectContext(ctx, &seeded, selectGroupTaskScores, projectID)
	}); err != nil {
		return nil, fmt.Errorf("list group task scores: %w", err)
	}

	result := &models.ProjectScores{Students: students}
	if result.Students == nil {
		result.Students = []models.StudentRawRecord{}
	}
	if len(seeded) > 0 {
		result.GroupScores = make(map[string]float64)
		result.GroupTaskDetails = make(map[string][]models.GroupContribution)
		for _, item := range seeded {
			result.GroupScores[item.GroupID] += item.Score
			result.GroupTaskDetails[item.GroupID] = append(result.GroupTaskDetails[item.GroupID], item)
		}
	}
	return result, nil
}

func (r *ScoreRepository) timed(label string, fn func() error) error {
	return timedQuery(r.observer, label, fn)
}

func timedQuery(observer QueryObserver, label string, fn func() error) error {
	start := time.Now()
	err := fn()
	if observer != nil {
		observer.ObserveDBQuery(label, time.Since(start))
	}
	return err
}
