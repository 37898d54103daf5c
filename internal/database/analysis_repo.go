package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ndemidov/roomsight/internal/models"
)

type AnalysisRepository struct {
	db *DB
}

func NewAnalysisRepository(db *DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) CreateResult(ctx context.Context, result *models.AnalysisResult) error {
	items, err := json.Marshal(result.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}
	missing, err := json.Marshal(result.MissingItems)
	if err != nil {
		return fmt.Errorf("failed to marshal missing items: %w", err)
	}

	query := `INSERT INTO analysis_results (id, room_id, video_url, items, missing_items, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.conn.ExecContext(ctx, query,
		result.ID, result.RoomID, result.VideoURL, string(items), string(missing),
		string(result.Status), result.Message, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert analysis result: %w", err)
	}
	return nil
}

func (r *AnalysisRepository) GetResult(ctx context.Context, id string) (*models.AnalysisResult, error) {
	query := `SELECT id, room_id, video_url, items, missing_items, status, message, created_at
		FROM analysis_results WHERE id = ?`

	row := r.db.conn.QueryRowContext(ctx, query, id)
	result, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis result: %w", err)
	}
	return result, nil
}

func (r *AnalysisRepository) ListResultsByRoom(ctx context.Context, roomID string) ([]*models.AnalysisResult, error) {
	query := `SELECT id, room_id, video_url, items, missing_items, status, message, created_at
		FROM analysis_results WHERE room_id = ? ORDER BY created_at, id`

	rows, err := r.db.conn.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis results: %w", err)
	}
	defer rows.Close()

	var results []*models.AnalysisResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// HasCompletedResult reports whether a completed analysis already exists for
// this room and video URL. Used by the skip-completed run policy.
func (r *AnalysisRepository) HasCompletedResult(ctx context.Context, roomID, videoURL string) (bool, error) {
	query := `SELECT COUNT(1) FROM analysis_results WHERE room_id = ? AND video_url = ? AND status = ?`

	var count int
	err := r.db.conn.QueryRowContext(ctx, query, roomID, videoURL, string(models.StatusCompleted)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check completed results: %w", err)
	}
	return count > 0, nil
}

func (r *AnalysisRepository) CreateBatchResult(ctx context.Context, result *models.BatchAnalysisResult) error {
	urls, err := json.Marshal(result.VideoURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal video URLs: %w", err)
	}
	items, err := json.Marshal(result.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}

	query := `INSERT INTO batch_analysis_results (id, room_id, video_urls, items, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.conn.ExecContext(ctx, query,
		result.ID, result.RoomID, string(urls), string(items),
		string(result.Status), result.Message, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch result: %w", err)
	}
	return nil
}

func (r *AnalysisRepository) GetBatchResult(ctx context.Context, id string) (*models.BatchAnalysisResult, error) {
	query := `SELECT id, room_id, video_urls, items, status, message, created_at
		FROM batch_analysis_results WHERE id = ?`

	result := &models.BatchAnalysisResult{}
	var urlsJSON, itemsJSON, status string
	err := r.db.conn.QueryRowContext(ctx, query, id).Scan(
		&result.ID, &result.RoomID, &urlsJSON, &itemsJSON, &status, &result.Message, &result.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch result: %w", err)
	}

	result.Status = models.ResultStatus(status)
	if err := json.Unmarshal([]byte(urlsJSON), &result.VideoURLs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video URLs: %w", err)
	}
	if err := json.Unmarshal([]byte(itemsJSON), &result.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal items: %w", err)
	}
	return result, nil
}

func (r *AnalysisRepository) ListBatchResultsByRoom(ctx context.Context, roomID string) ([]*models.BatchAnalysisResult, error) {
	query := `SELECT id, room_id, video_urls, items, status, message, created_at
		FROM batch_analysis_results WHERE room_id = ? ORDER BY created_at, id`

	rows, err := r.db.conn.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch results: %w", err)
	}
	defer rows.Close()

	var results []*models.BatchAnalysisResult
	for rows.Next() {
		result := &models.BatchAnalysisResult{}
		var urlsJSON, itemsJSON, status string
		if err := rows.Scan(&result.ID, &result.RoomID, &urlsJSON, &itemsJSON, &status, &result.Message, &result.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch result: %w", err)
		}
		result.Status = models.ResultStatus(status)
		if err := json.Unmarshal([]byte(urlsJSON), &result.VideoURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal video URLs: %w", err)
		}
		if err := json.Unmarshal([]byte(itemsJSON), &result.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*models.AnalysisResult, error) {
	result := &models.AnalysisResult{}
	var itemsJSON, missingJSON, status string

	err := row.Scan(&result.ID, &result.RoomID, &result.VideoURL,
		&itemsJSON, &missingJSON, &status, &result.Message, &result.CreatedAt)
	if err != nil {
		return nil, err
	}

	result.Status = models.ResultStatus(status)
	if err := json.Unmarshal([]byte(itemsJSON), &result.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal items: %w", err)
	}
	if err := json.Unmarshal([]byte(missingJSON), &result.MissingItems); err != nil {
		return nil, fmt.Errorf("failed to unmarshal missing items: %w", err)
	}
	return result, nil
}
