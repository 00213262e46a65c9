package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Post is one ingested channel message.
type Post struct {
	ID        string
	ChannelID string
	MessageID int64
	Title     string
	Content   string
	URL       string
	Language  string
	PostedAt  time.Time
	CreatedAt time.Time
}

// NewPost is the insert payload for a fetched message.
type NewPost struct {
	ChannelID string
	MessageID int64
	Title     string
	Content   string
	URL       string
	Language  string
	PostedAt  time.Time
}

// MaxMessageID returns the ingestion cursor for a channel: the highest
// message_id already stored, zero when the channel has no posts.
func (db *DB) MaxMessageID(ctx context.Context, channelID string) (int64, error) {
	var maxID int64

	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(message_id), 0)
		FROM posts
		WHERE channel_id = $1
	`, toUUID(channelID)).Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("query max message id for channel %s: %w", channelID, err)
	}

	return maxID, nil
}

// InsertPostsIgnoringDuplicates inserts posts, silently skipping rows
// that collide on (channel_id, message_id), and returns only the posts
// actually inserted. This is the sole dedup mechanism: overlapping
// concurrent ingestion of the same range is a safe no-op.
func (db *DB) InsertPostsIgnoringDuplicates(ctx context.Context, posts []NewPost) ([]Post, error) {
	inserted := make([]Post, 0, len(posts))

	for _, p := range posts {
		var (
			row Post
			url pgtype.Text
		)

		err := db.Pool.QueryRow(ctx, `
			INSERT INTO posts (channel_id, message_id, title, content, url, language, posted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (channel_id, message_id) DO NOTHING
			RETURNING id, channel_id, message_id, title, content, url, language, posted_at, created_at
		`, toUUID(p.ChannelID), p.MessageID, p.Title, p.Content, toText(p.URL), p.Language, p.PostedAt).
			Scan(&row.ID, &row.ChannelID, &row.MessageID, &row.Title, &row.Content, &url, &row.Language, &row.PostedAt, &row.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict: the post is already stored.
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("insert post %d for channel %s: %w", p.MessageID, p.ChannelID, err)
		}

		row.URL = fromText(url)
		inserted = append(inserted, row)
	}

	return inserted, nil
}

// PostByID loads one post.
func (db *DB) PostByID(ctx context.Context, id string) (Post, error) {
	var (
		p   Post
		url pgtype.Text
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT id, channel_id, message_id, title, content, url, language, posted_at, created_at
		FROM posts
		WHERE id = $1
	`, toUUID(id)).Scan(&p.ID, &p.ChannelID, &p.MessageID, &p.Title, &p.Content, &url, &p.Language, &p.PostedAt, &p.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("query post %s: %w", id, err)
	}

	p.URL = fromText(url)

	return p, nil
}

// DigestPost is a post joined with its channel name for digest building.
type DigestPost struct {
	Post
	ChannelHandle string
	ChannelTitle  string
}

// RecentPosts returns posts from active channels created within the
// trailing window, newest first, capped at limit.
func (db *DB) RecentPosts(ctx context.Context, since time.Time, limit int) ([]DigestPost, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT p.id, p.channel_id, p.message_id, p.title, p.content, p.url, p.language, p.posted_at, p.created_at,
		       c.handle, c.title
		FROM posts p
		JOIN channels c ON c.id = p.channel_id
		WHERE p.created_at >= $1 AND c.is_active = TRUE
		ORDER BY p.created_at DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent posts: %w", err)
	}
	defer rows.Close()

	var posts []DigestPost

	for rows.Next() {
		var (
			p   DigestPost
			url pgtype.Text
		)

		if err := rows.Scan(&p.ID, &p.ChannelID, &p.MessageID, &p.Title, &p.Content, &url, &p.Language,
			&p.PostedAt, &p.CreatedAt, &p.ChannelHandle, &p.ChannelTitle); err != nil {
			return nil, fmt.Errorf("scan recent post row: %w", err)
		}

		p.URL = fromText(url)
		posts = append(posts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent post rows: %w", err)
	}

	return posts, nil
}
