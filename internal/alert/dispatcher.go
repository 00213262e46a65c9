// Package alert evaluates alert rules against new posts and sends
// notifications for matches.
package alert

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/eliseevk/tgsentry/internal/config"
	"github.com/eliseevk/tgsentry/internal/notify"
	"github.com/eliseevk/tgsentry/internal/observability"
	"github.com/eliseevk/tgsentry/internal/rules"
	"github.com/eliseevk/tgsentry/internal/storage"
)

const maxExcerptRunes = 1000

// Store is the persistence surface the dispatcher needs.
type Store interface {
	PostByID(ctx context.Context, id string) (storage.Post, error)
	ChannelByID(ctx context.Context, id string) (storage.Channel, error)
	ActiveAlertRules(ctx context.Context, channelID string) ([]storage.StoredRule, error)
	SetMatchedAlerts(ctx context.Context, postID string, ruleNames []string) error
}

// RuleCompiler turns stored rule rows into evaluable rules.
type RuleCompiler func([]storage.StoredRule) []rules.Rule

// Dispatcher checks posts against alert rules and notifies on match.
type Dispatcher struct {
	store      Store
	matcher    *rules.Matcher
	classifier *rules.Classifier
	notifier   notify.Notifier
	compile    RuleCompiler
	logger     *zerolog.Logger
}

// NewDispatcher creates a Dispatcher. classifier may be nil to disable
// the semantic backstop.
func NewDispatcher(store Store, classifier *rules.Classifier, notifier notify.Notifier, compile RuleCompiler, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		matcher:    rules.NewMatcher(logger),
		classifier: classifier,
		notifier:   notifier,
		compile:    compile,
		logger:     logger,
	}
}

// CheckPost evaluates all alert rules scoped to the post's channel and
// sends one notification per matched rule. It returns the number of
// alerts triggered.
func (d *Dispatcher) CheckPost(ctx context.Context, postID string) (int, error) {
	post, err := d.store.PostByID(ctx, postID)
	if err != nil {
		return 0, fmt.Errorf("load post: %w", err)
	}

	channel, err := d.store.ChannelByID(ctx, post.ChannelID)
	if err != nil {
		return 0, fmt.Errorf("load channel: %w", err)
	}

	stored, err := d.store.ActiveAlertRules(ctx, post.ChannelID)
	if err != nil {
		return 0, fmt.Errorf("load alert rules: %w", err)
	}

	if len(stored) == 0 {
		return 0, nil
	}

	matched := d.evaluate(ctx, post, d.compile(stored))
	if len(matched) == 0 {
		return 0, nil
	}

	names := make([]string, 0, len(matched))
	triggered := 0

	for _, rule := range matched {
		names = append(names, rule.Name)

		if err := d.notifyRule(ctx, rule, post, channel); err != nil {
			// A single rule's delivery failure does not stop the rest.
			d.logger.Error().Err(err).Str("rule", rule.Name).Str("post_id", post.ID).Msg("alert notification failed")

			continue
		}

		observability.AlertsFired.WithLabelValues(rule.Name).Inc()
		triggered++
	}

	if err := d.store.SetMatchedAlerts(ctx, post.ID, names); err != nil {
		d.logger.Warn().Err(err).Str("post_id", post.ID).Msg("failed to record matched alerts")
	}

	return triggered, nil
}

// evaluate applies every rule, falling back to the semantic classifier
// for ambiguous patterns that did not match deterministically.
func (d *Dispatcher) evaluate(ctx context.Context, post storage.Post, ruleSet []rules.Rule) []rules.Rule {
	matched := d.matcher.MatchAll(post.Content, post.Language, ruleSet)

	if d.classifier == nil {
		return matched
	}

	matchedIDs := make(map[string]bool, len(matched))
	for _, rule := range matched {
		matchedIDs[rule.ID] = true
	}

	for _, rule := range ruleSet {
		if matchedIDs[rule.ID] || !rules.ShouldUseSemantic(rule) {
			continue
		}

		if verdict := d.classifier.Classify(ctx, post.Content, rule.PatternSrc); verdict != nil && verdict.Matched {
			d.logger.Info().
				Str("rule", rule.Name).
				Str("post_id", post.ID).
				Str("reason", verdict.Reason).
				Msg("semantic classifier matched post")
			matched = append(matched, rule)
		}
	}

	return matched
}

func (d *Dispatcher) notifyRule(ctx context.Context, rule rules.Rule, post storage.Post, channel storage.Channel) error {
	recipients := config.SplitRecipients(rule.Recipients)

	sent, err := d.notifier.SendAlert(ctx, notify.Alert{
		RuleNames:   []string{rule.Name},
		ChannelName: channelDisplayName(channel),
		Title:       post.Title,
		Excerpt:     excerpt(post.Content),
		PostURL:     postURL(post, channel),
		Recipients:  recipients,
	})
	if err != nil {
		return err
	}

	if !sent {
		d.logger.Debug().Str("rule", rule.Name).Msg("alert rule has no recipients configured")
	}

	return nil
}

func channelDisplayName(ch storage.Channel) string {
	if ch.Title != "" {
		return ch.Title
	}

	return ch.Handle
}

// postURL prefers the URL extracted from the post body and falls back
// to the public t.me link for the message.
func postURL(post storage.Post, channel storage.Channel) string {
	if post.URL != "" {
		return post.URL
	}

	return fmt.Sprintf("https://t.me/%s/%d", channel.Handle, post.MessageID)
}

func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= maxExcerptRunes {
		return content
	}

	return string(runes[:maxExcerptRunes]) + "..."
}
