// Package database is the analysis store: SQLite-backed repositories for
// homes, rooms, staged videos, room video entries, and analysis results.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

type Config struct {
	Path string
}

func NewDB(config Config) (*DB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	conn, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

func (db *DB) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS homes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		deleted_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		home_id TEXT NOT NULL,
		name TEXT NOT NULL,
		icon TEXT,
		description TEXT,
		created_at DATETIME NOT NULL,
		deleted_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS room_video_entries (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		ref TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		remote_url TEXT NOT NULL DEFAULT '',
		upload_time DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS analysis_results (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		video_url TEXT NOT NULL,
		items TEXT NOT NULL,
		missing_items TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS batch_analysis_results (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		video_urls TEXT NOT NULL,
		items TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_home ON rooms(home_id);
	CREATE INDEX IF NOT EXISTS idx_entries_room ON room_video_entries(room_id);
	CREATE INDEX IF NOT EXISTS idx_videos_room ON videos(room_id);
	CREATE INDEX IF NOT EXISTS idx_results_room ON analysis_results(room_id);
	CREATE INDEX IF NOT EXISTS idx_batch_results_room ON batch_analysis_results(room_id);
	`

	_, err := db.conn.Exec(query)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}
