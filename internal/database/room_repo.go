package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ndemidov/roomsight/internal/models"
)

type RoomRepository struct {
	db *DB
}

func NewRoomRepository(db *DB) *RoomRepository {
	return &RoomRepository{db: db}
}

func (r *RoomRepository) Create(ctx context.Context, room *models.Room) error {
	query := `INSERT INTO rooms (id, home_id, name, icon, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.conn.ExecContext(ctx, query,
		room.ID, room.HomeID, room.Name, room.Icon, room.Description, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*models.Room, error) {
	query := `SELECT id, home_id, name, icon, description, created_at
		FROM rooms WHERE id = ? AND deleted_at IS NULL`

	room := &models.Room{}
	err := r.db.conn.QueryRowContext(ctx, query, id).Scan(
		&room.ID, &room.HomeID, &room.Name, &room.Icon, &room.Description, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) ListByHome(ctx context.Context, homeID string) ([]*models.Room, error) {
	query := `SELECT id, home_id, name, icon, description, created_at
		FROM rooms WHERE home_id = ? AND deleted_at IS NULL ORDER BY created_at`

	rows, err := r.db.conn.QueryContext(ctx, query, homeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room := &models.Room{}
		if err := rows.Scan(&room.ID, &room.HomeID, &room.Name, &room.Icon, &room.Description, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *RoomRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE rooms SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`

	result, err := r.db.conn.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("room not found")
	}
	return nil
}

// AppendEntry adds one video entry to a room. Entries live in their own
// append-only table, so concurrent individual and batch persists never race
// on a shared room row.
func (r *RoomRepository) AppendEntry(ctx context.Context, entry *models.VideoEntry) error {
	query := `INSERT INTO room_video_entries (id, room_id, kind, ref, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.conn.ExecContext(ctx, query,
		entry.ID, entry.RoomID, string(entry.Kind), entry.Ref, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append video entry: %w", err)
	}
	return nil
}

func (r *RoomRepository) ListEntries(ctx context.Context, roomID string) ([]*models.VideoEntry, error) {
	query := `SELECT id, room_id, kind, ref, created_at
		FROM room_video_entries WHERE room_id = ? ORDER BY created_at, id`

	rows, err := r.db.conn.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list video entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.VideoEntry
	for rows.Next() {
		entry := &models.VideoEntry{}
		var kind string
		if err := rows.Scan(&entry.ID, &entry.RoomID, &kind, &entry.Ref, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan video entry: %w", err)
		}
		entry.Kind = models.EntryKind(kind)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
