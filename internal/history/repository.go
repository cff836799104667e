package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Add(ctx context.Context, e *Entry) error
	List(ctx context.Context, limit int) ([]*Entry, error)
	Get(ctx context.Context, id string) (*Entry, error)
	Count(ctx context.Context) (int, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	DeviceID(ctx context.Context) (string, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Add stores an entry. Entries are never evicted; a repeated id replaces the
// earlier entry.
func (r *SQLiteRepository) Add(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		return errors.New("history: entry id required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history (id, storage_key, timestamp_ms, photo_data_url, device_type, frame_id, strip_url, video_url, share_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp_ms = excluded.timestamp_ms,
			photo_data_url = excluded.photo_data_url,
			device_type = excluded.device_type,
			frame_id = excluded.frame_id,
			strip_url = excluded.strip_url,
			video_url = excluded.video_url,
			share_url = excluded.share_url
	`, e.ID, StorageKey, e.Timestamp.UnixMilli(), e.PhotoDataURL, e.DeviceType, e.FrameID, e.StripURL, e.VideoURL, e.ShareURL)
	if err != nil {
		return fmt.Errorf("insert history %s: %w", e.ID, err)
	}
	return nil
}

const selectEntry = `
	SELECT id, timestamp_ms, photo_data_url, device_type, frame_id, strip_url, video_url, share_url
	FROM history`

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, selectEntry+`
		WHERE storage_key = ?
		ORDER BY timestamp_ms DESC, created_at DESC
		LIMIT ?
	`, StorageKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history WHERE storage_key = ?", StorageKey).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var ts int64
	if err := s.Scan(&e.ID, &ts, &e.PhotoDataURL, &e.DeviceType, &e.FrameID, &e.StripURL, &e.VideoURL, &e.ShareURL); err != nil {
		return nil, err
	}
	e.Timestamp = time.UnixMilli(ts)
	return &e, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// DeviceID returns the persistent id of this booth, creating it on first use.
func (r *SQLiteRepository) DeviceID(ctx context.Context) (string, error) {
	id, err := r.GetConfig(ctx, configDeviceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := r.SetConfig(ctx, configDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}
