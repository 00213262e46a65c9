package storage

import (
	"context"
	"fmt"
	"time"
)

// DigestRecord is a generated summary row.
type DigestRecord struct {
	ID          string
	WindowStart time.Time
	WindowEnd   time.Time
	Language    string
	SummaryMD   string
	PostCount   int
}

// InsertDigest persists a freshly generated digest and returns its id.
func (db *DB) InsertDigest(ctx context.Context, d DigestRecord) (string, error) {
	var id string

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO digests (window_start, window_end, language, summary_md, post_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, d.WindowStart, d.WindowEnd, d.Language, d.SummaryMD, d.PostCount).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert digest: %w", err)
	}

	return id, nil
}

// MarkDigestSent stamps the delivery time on a digest.
func (db *DB) MarkDigestSent(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE digests SET sent_at = NOW() WHERE id = $1
	`, toUUID(id))
	if err != nil {
		return fmt.Errorf("mark digest %s sent: %w", id, err)
	}

	return nil
}

// DeleteDigestsBefore removes digests created before the cutoff and
// returns how many were deleted.
func (db *DB) DeleteDigestsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM digests WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete digests before %s: %w", cutoff, err)
	}

	return tag.RowsAffected(), nil
}
