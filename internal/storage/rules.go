package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// StoredRule is a filter or alert rule row. Recipients is only set for
// alert rules.
type StoredRule struct {
	ID         string
	Name       string
	Kind       string
	Pattern    string
	Language   string
	ChannelID  string
	Recipients string
	Enabled    bool
}

// ActiveFilterRules returns enabled filter rules scoped to the channel
// or global (no channel).
func (db *DB) ActiveFilterRules(ctx context.Context, channelID string) ([]StoredRule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, kind, pattern, language, channel_id, enabled
		FROM filter_rules
		WHERE enabled = TRUE AND (channel_id IS NULL OR channel_id = $1)
		ORDER BY created_at
	`, toUUID(channelID))
	if err != nil {
		return nil, fmt.Errorf("query filter rules for channel %s: %w", channelID, err)
	}
	defer rows.Close()

	return scanRules(rows, false)
}

// ActiveAlertRules returns enabled alert rules scoped to the channel or
// global (no channel).
func (db *DB) ActiveAlertRules(ctx context.Context, channelID string) ([]StoredRule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, kind, pattern, language, channel_id, recipients, enabled
		FROM alert_rules
		WHERE enabled = TRUE AND (channel_id IS NULL OR channel_id = $1)
		ORDER BY created_at
	`, toUUID(channelID))
	if err != nil {
		return nil, fmt.Errorf("query alert rules for channel %s: %w", channelID, err)
	}
	defer rows.Close()

	return scanRules(rows, true)
}

type ruleRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRules(rows ruleRows, withRecipients bool) ([]StoredRule, error) {
	var rules []StoredRule

	for rows.Next() {
		var (
			r         StoredRule
			language  pgtype.Text
			channelID pgtype.UUID
		)

		dest := []any{&r.ID, &r.Name, &r.Kind, &r.Pattern, &language, &channelID}
		if withRecipients {
			dest = append(dest, &r.Recipients)
		}

		dest = append(dest, &r.Enabled)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}

		r.Language = fromText(language)
		r.ChannelID = fromUUID(channelID)
		rules = append(rules, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule rows: %w", err)
	}

	return rules, nil
}
