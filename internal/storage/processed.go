package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// UpsertProcessed records the filtering decision for a post.
func (db *DB) UpsertProcessed(ctx context.Context, postID string, blocked bool) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO processed (post_id, blocked)
		VALUES ($1, $2)
		ON CONFLICT (post_id) DO UPDATE SET
			blocked = EXCLUDED.blocked,
			updated_at = NOW()
	`, toUUID(postID), blocked)
	if err != nil {
		return fmt.Errorf("upsert processed for post %s: %w", postID, err)
	}

	return nil
}

// SetMatchedAlerts records which alert rules fired for a post.
func (db *DB) SetMatchedAlerts(ctx context.Context, postID string, ruleNames []string) error {
	if ruleNames == nil {
		ruleNames = []string{}
	}

	payload, err := json.Marshal(ruleNames)
	if err != nil {
		return fmt.Errorf("marshal matched alerts: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO processed (post_id, matched_alerts)
		VALUES ($1, $2)
		ON CONFLICT (post_id) DO UPDATE SET
			matched_alerts = EXCLUDED.matched_alerts,
			updated_at = NOW()
	`, toUUID(postID), payload)
	if err != nil {
		return fmt.Errorf("set matched alerts for post %s: %w", postID, err)
	}

	return nil
}
