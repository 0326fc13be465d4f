package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/mentor-scoring-api/internal/models"
)

const taskConfigSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"isCooperation": {"type": "boolean"},
		"groupScores": {
			"type": "object",
			"additionalProperties": {"type": "number"}
		}
	}
}`

const selectStageTasks = `
SELECT
	st.id AS stage_id,
	st.name AS stage_name,
	t.id AS task_id,
	t.name AS task_name,
	t.type AS task_type,
	t.config AS config
FROM stages st
LEFT JOIN tasks t ON t.stage_id = st.id
WHERE st.project_id = $1
ORDER BY st.position ASC, st.id ASC, t.position ASC, t.id ASC`

type stageTaskRow struct {
	StageID   string         `db:"stage_id"`
	StageName string         `db:"stage_name"`
	TaskID    sql.NullString `db:"task_id"`
	TaskName  sql.NullString `db:"task_name"`
	TaskType  sql.NullString `db:"task_type"`
	Config    []byte         `db:"config"`
}

// StageRepository loads a project's ordered stage/task hierarchy.
type StageRepository struct {
	db       *sqlx.DB
	observer QueryObserver
	schema   *jsonschema.Schema
	logger   *zap.Logger
}

// NewStageRepository constructs the repository and compiles the task config schema.
func NewStageRepository(db *sqlx.DB, observer QueryObserver, logger *zap.Logger) (*StageRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("task_config.json", strings.NewReader(taskConfigSchema)); err != nil {
		return nil, fmt.Errorf("add task config schema: %w", err)
	}
	schema, err := compiler.Compile("task_config.json")
	if err != nil {
		return nil, fmt.Errorf("compile task config schema: %w", err)
	}
	return &StageRepository{db: db, observer: observer, schema: schema, logger: logger}, nil
}

// GetHierarchy returns stages in position order with their tasks. Tasks whose config is absent or
// does not match the schema are returned with a nil config.
func (r *StageRepository) GetHierarchy(ctx context.Context, projectID string) (models.StageTaskHierarchy, error) {
	var rows []stageTaskRow
	err := timedQuery(r.observer, "stage_tasks", func() error {
		return r.db.SelectContext(ctx, &rows, selectStageTasks, projectID)
	})
	if err != nil {
		return nil, fmt.Errorf("list stage tasks: %w", err)
	}

	hierarchy := models.StageTaskHierarchy{}
	positions := make(map[string]int)
	for _, row := range rows {
		idx, ok := positions[row.StageID]
		if !ok {
			idx = len(hierarchy)
			positions[row.StageID] = idx
			hierarchy = append(hierarchy, models.Stage{ID: row.StageID, Name: row.StageName, Tasks: []models.Task{}})
		}
		if !row.TaskID.Valid {
			continue
		}
		task := models.Task{
			ID:     row.TaskID.String,
			Name:   row.TaskName.String,
			Type:   models.TaskType(row.TaskType.String),
			Config: r.parseConfig(row.TaskID.String, row.Config),
		}
		hierarchy[idx].Tasks = append(hierarchy[idx].Tasks, task)
	}
	return hierarchy, nil
}

func (r *StageRepository) parseConfig(taskID string, raw []byte) *models.TaskConfig {
	if len(raw) == 0 {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		r.logger.Debug("task config is not valid json", zap.String("task_id", taskID), zap.Error(err))
		return nil
	}
	if doc == nil {
		return nil
	}
	if err := r.schema.Validate(doc); err != nil {
		r.logger.Debug("task config rejected by schema", zap.String("task_id", taskID), zap.Error(err))
		return nil
	}
	var cfg models.TaskConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil
	}
	return &cfg
}
