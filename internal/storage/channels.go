package storage

import (
	"context"
	"fmt"
	"time"
)

// Channel is a monitored Telegram channel.
type Channel struct {
	ID        string
	Handle    string
	Title     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveChannels returns all channels enabled for ingestion.
func (db *DB) ActiveChannels(ctx context.Context) ([]Channel, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, handle, title, is_active, created_at, updated_at
		FROM channels
		WHERE is_active = TRUE
		ORDER BY handle
	`)
	if err != nil {
		return nil, fmt.Errorf("query active channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel

	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.Handle, &ch.Title, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}

		channels = append(channels, ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel rows: %w", err)
	}

	return channels, nil
}

// ChannelByHandle looks up a channel by its unique handle.
func (db *DB) ChannelByHandle(ctx context.Context, handle string) (Channel, error) {
	var ch Channel

	err := db.Pool.QueryRow(ctx, `
		SELECT id, handle, title, is_active, created_at, updated_at
		FROM channels
		WHERE handle = $1
	`, handle).Scan(&ch.ID, &ch.Handle, &ch.Title, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return Channel{}, fmt.Errorf("query channel %q: %w", handle, err)
	}

	return ch, nil
}

// ChannelByID looks up a channel by its identifier.
func (db *DB) ChannelByID(ctx context.Context, id string) (Channel, error) {
	var ch Channel

	err := db.Pool.QueryRow(ctx, `
		SELECT id, handle, title, is_active, created_at, updated_at
		FROM channels
		WHERE id = $1
	`, toUUID(id)).Scan(&ch.ID, &ch.Handle, &ch.Title, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return Channel{}, fmt.Errorf("query channel %s: %w", id, err)
	}

	return ch, nil
}

// UpsertChannel creates a channel or refreshes its title and active flag.
// An empty title keeps whatever is already stored.
func (db *DB) UpsertChannel(ctx context.Context, handle, title string, active bool) (string, error) {
	var id string

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO channels (handle, title, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (handle) DO UPDATE SET
			title = COALESCE(NULLIF(EXCLUDED.title, ''), channels.title),
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id
	`, handle, title, active).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert channel %q: %w", handle, err)
	}

	return id, nil
}

// TouchChannel records ingestion activity on a channel.
func (db *DB) TouchChannel(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE channels SET updated_at = NOW() WHERE id = $1
	`, toUUID(id))
	if err != nil {
		return fmt.Errorf("touch channel %s: %w", id, err)
	}

	return nil
}
