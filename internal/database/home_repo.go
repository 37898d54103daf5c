package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ndemidov/roomsight/internal/models"
)

type HomeRepository struct {
	db *DB
}

func NewHomeRepository(db *DB) *HomeRepository {
	return &HomeRepository{db: db}
}

func (r *HomeRepository) Create(ctx context.Context, home *models.Home) error {
	query := `INSERT INTO homes (id, name, created_at) VALUES (?, ?, ?)`

	_, err := r.db.conn.ExecContext(ctx, query, home.ID, home.Name, home.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert home: %w", err)
	}
	return nil
}

func (r *HomeRepository) GetByID(ctx context.Context, id string) (*models.Home, error) {
	query := `SELECT id, name, created_at FROM homes WHERE id = ? AND deleted_at IS NULL`

	home := &models.Home{}
	err := r.db.conn.QueryRowContext(ctx, query, id).Scan(&home.ID, &home.Name, &home.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get home: %w", err)
	}
	return home, nil
}

func (r *HomeRepository) List(ctx context.Context) ([]*models.Home, error) {
	query := `SELECT id, name, created_at FROM homes WHERE deleted_at IS NULL ORDER BY created_at DESC`

	rows, err := r.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list homes: %w", err)
	}
	defer rows.Close()

	var homes []*models.Home
	for rows.Next() {
		home := &models.Home{}
		if err := rows.Scan(&home.ID, &home.Name, &home.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan home: %w", err)
		}
		homes = append(homes, home)
	}
	return homes, rows.Err()
}

func (r *HomeRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE homes SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`

	result, err := r.db.conn.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete home: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("home not found")
	}
	return nil
}
