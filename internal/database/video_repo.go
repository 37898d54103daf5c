package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ndemidov/roomsight/internal/models"
)

type VideoRepository struct {
	db *DB
}

func NewVideoRepository(db *DB) *VideoRepository {
	return &VideoRepository{db: db}
}

func (r *VideoRepository) Create(ctx context.Context, video *models.Video) error {
	query := `INSERT INTO videos (id, room_id, filename, content_type, size, remote_url, upload_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.conn.ExecContext(ctx, query,
		video.ID, video.RoomID, video.Filename, video.ContentType, video.Size, video.RemoteURL, video.UploadTime)
	if err != nil {
		return fmt.Errorf("failed to insert video: %w", err)
	}
	return nil
}

func (r *VideoRepository) GetByID(ctx context.Context, id string) (*models.Video, error) {
	query := `SELECT id, room_id, filename, content_type, size, remote_url, upload_time
		FROM videos WHERE id = ?`

	video := &models.Video{}
	err := r.db.conn.QueryRowContext(ctx, query, id).Scan(
		&video.ID, &video.RoomID, &video.Filename, &video.ContentType, &video.Size, &video.RemoteURL, &video.UploadTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return video, nil
}

func (r *VideoRepository) ListByRoom(ctx context.Context, roomID string) ([]*models.Video, error) {
	query := `SELECT id, room_id, filename, content_type, size, remote_url, upload_time
		FROM videos WHERE room_id = ? ORDER BY upload_time`

	rows, err := r.db.conn.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		video := &models.Video{}
		if err := rows.Scan(&video.ID, &video.RoomID, &video.Filename, &video.ContentType, &video.Size, &video.RemoteURL, &video.UploadTime); err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

// SetRemoteURL records the CDN URL for a video. The URL is set exactly once;
// a later call with a different URL leaves the first value in place.
func (r *VideoRepository) SetRemoteURL(ctx context.Context, id, remoteURL string) error {
	query := `UPDATE videos SET remote_url = ? WHERE id = ? AND remote_url = ''`

	_, err := r.db.conn.ExecContext(ctx, query, remoteURL, id)
	if err != nil {
		return fmt.Errorf("failed to set remote URL: %w", err)
	}
	return nil
}

func (r *VideoRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM videos WHERE id = ?`

	result, err := r.db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("video not found")
	}
	return nil
}
