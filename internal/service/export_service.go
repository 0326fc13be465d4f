package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/mentor-scoring-api/internal/dto"
	"github.com/noah-isme/mentor-scoring-api/internal/models"
	appErrors "github.com/noah-isme/mentor-scoring-api/pkg/errors"
	"github.com/noah-isme/mentor-scoring-api/pkg/export"
)

const (
	exportTypeStudents = "students"
	exportTypeGroups   = "groups"
	exportFormatCSV    = "csv"
	exportFormatPDF    = "pdf"
)

type snapshotSource interface {
	Snapshot(ctx context.Context, projectID string) models.ScoringSnapshot
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title, subtitle string) ([]byte, error)
}

// ExportResult is a rendered ranking file.
type ExportResult struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Payload     []byte `json:"payload"`
	Cached      bool   `json:"-"`
}

// ExportService renders ranking tables to CSV or PDF. Rendered files are cached per recompute.
type ExportService struct {
	source    snapshotSource
	cache     *CacheService
	csv       csvRenderer
	pdf       pdfRenderer
	validator *validator.Validate
	logger    *zap.Logger
}

// NewExportService constructs an ExportService. Nil renderers default to the pkg/export ones.
func NewExportService(source snapshotSource, cache *CacheService, validate *validator.Validate, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{source: source, cache: cache, csv: csv, pdf: pdf, validator: validate, logger: logger}
}

// Export renders the requested ranking of the project's current session.
func (s *ExportService) Export(ctx context.Context, projectID string, query dto.ExportQuery) (*ExportResult, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export query")
	}
	snapshot := s.source.Snapshot(ctx, projectID)
	key := ExportKey(projectID, snapshot.ComputedAt, query.Type, query.Format)

	var cached ExportResult
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		cached.Cached = true
		return &cached, nil
	}

	dataset, title := buildRankingDataset(snapshot, query.Type)
	var (
		payload     []byte
		contentType string
		err         error
	)
	switch query.Format {
	case exportFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	case exportFormatPDF:
		subtitle := fmt.Sprintf("Project %s | mode %s | %s | computed %s", projectID, snapshot.Policy.Mode, snapshot.State, formatReportTime(snapshot.ComputedAt))
		payload, err = s.pdf.Render(dataset, title, subtitle)
		contentType = "application/pdf"
	}
	if err != nil {
		s.logger.Error("ranking export failed", zap.String("project_id", projectID), zap.String("format", query.Format), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	result := &ExportResult{
		Filename:    buildFilename(projectID, query.Type, snapshot, query.Format),
		ContentType: contentType,
		Payload:     payload,
	}
	_ = s.cache.Set(ctx, key, result, 0)
	return result, nil
}

func buildRankingDataset(snapshot models.ScoringSnapshot, kind string) (export.Dataset, string) {
	if kind == exportTypeGroups {
		rows := make([]map[string]string, 0, len(snapshot.Groups))
		for _, group := range snapshot.Groups {
			rows = append(rows, map[string]string{
				"Rank":      fmt.Sprintf("%d", group.Rank),
				"Group ID":  group.GroupID,
				"Group":     group.GroupName,
				"Aggregate": fmt.Sprintf("%.2f", group.AggregateScore),
			})
		}
		return export.Dataset{
			Headers: []string{"Rank", "Group ID", "Group", "Aggregate"},
			Rows:    rows,
			Numeric: map[string]bool{"Rank": true, "Aggregate": true},
		}, "Group Ranking"
	}

	headers := []string{"Rank", "Student ID", "Name", "Group"}
	numeric := map[string]bool{"Rank": true, "Composite": true}
	var categories []models.CategoryConfig
	for _, cat := range snapshot.Policy.IndividualCategories {
		if !cat.Enabled {
			continue
		}
		categories = append(categories, cat)
		header := categoryHeader(cat)
		headers = append(headers, header)
		numeric[header] = true
	}
	headers = append(headers, "Composite")

	rows := make([]map[string]string, 0, len(snapshot.Students))
	for _, student := range snapshot.Students {
		row := map[string]string{
			"Rank":       fmt.Sprintf("%d", student.Rank),
			"Student ID": student.StudentID,
			"Name":       student.Name,
			"Group":      student.GroupName,
			"Composite":  fmt.Sprintf("%.4f", student.Composite),
		}
		for _, cat := range categories {
			if ratio, ok := student.Achievement[cat.ID]; ok {
				row[categoryHeader(cat)] = fmt.Sprintf("%.4f", ratio)
			}
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows, Numeric: numeric}, "Student Ranking"
}

func categoryHeader(cat models.CategoryConfig) string {
	if cat.Label != "" {
		return cat.Label
	}
	return cat.ID
}

func buildFilename(projectID, kind string, snapshot models.ScoringSnapshot, format string) string {
	timestamp := snapshot.ComputedAt.UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_ranking_%s.%s", sanitizeFilename(projectID), kind, timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_", "\"", "")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func formatReportTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
