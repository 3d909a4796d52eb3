package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kapu/guest-research-go/internal/domain"
	"go.uber.org/zap"
)

// RunRepository stores research run history.
type RunRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRunRepository(postgres *PostgresService, logger *zap.Logger) *RunRepository {
	return &RunRepository{
		db:     postgres.GetDB(),
		logger: logger,
	}
}

func (r *RunRepository) StartRun(ctx context.Context, run domain.RunRecord) error {
	query := `
		INSERT INTO research_runs (id, user_id, subject_name, mode, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.UserID, run.SubjectName, string(run.Mode), string(domain.RunStatusRunning), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun records the outcome. report is nil for failed runs.
func (r *RunRepository) FinishRun(ctx context.Context, runID string, report *domain.ResearchReport, runErr string) error {
	status := domain.RunStatusCompleted
	if report == nil {
		status = domain.RunStatusFailed
	}

	var (
		reportJSON []byte
		found      int
		analyzed   int
	)
	if report != nil {
		var err error
		reportJSON, err = json.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		found = report.TotalVideosFound
		analyzed = report.VideosAnalyzedCount
	}

	query := `
		UPDATE research_runs
		SET status = $2, total_videos_found = $3, videos_analyzed_count = $4,
		    error_message = $5, report = $6, finished_at = $7
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, runID, string(status), found, analyzed, runErr, nullableJSON(reportJSON), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	r.logger.Debug("Run finished", zap.String("run_id", runID), zap.String("status", string(status)))
	return nil
}

// GetRun returns the run if it belongs to userID, or nil.
func (r *RunRepository) GetRun(ctx context.Context, userID, runID string) (*domain.RunRecord, error) {
	query := `
		SELECT id, user_id, subject_name, mode, status, total_videos_found,
		       videos_analyzed_count, error_message, report, started_at, finished_at
		FROM research_runs
		WHERE id = $1 AND user_id = $2
	`
	rows, err := r.db.QueryContext(ctx, query, runID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows, true)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// ListRuns returns the user's most recent runs without their reports.
func (r *RunRepository) ListRuns(ctx context.Context, userID string, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, user_id, subject_name, mode, status, total_videos_found,
		       videos_analyzed_count, error_message, NULL, started_at, finished_at
		FROM research_runs
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows, false)
}

func scanRuns(rows *sql.Rows, withReport bool) ([]domain.RunRecord, error) {
	runs := make([]domain.RunRecord, 0)
	for rows.Next() {
		var (
			run        domain.RunRecord
			mode       string
			status     string
			reportJSON []byte
			finishedAt sql.NullTime
		)
		if err := rows.Scan(
			&run.ID, &run.UserID, &run.SubjectName, &mode, &status, &run.TotalVideosFound,
			&run.VideosAnalyzedCount, &run.ErrorMessage, &reportJSON, &run.StartedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Mode = domain.Mode(mode)
		run.Status = domain.RunStatus(status)
		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}
		if withReport && len(reportJSON) > 0 {
			var report domain.ResearchReport
			if err := json.Unmarshal(reportJSON, &report); err != nil {
				return nil, fmt.Errorf("failed to unmarshal report: %w", err)
			}
			run.Report = &report
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
