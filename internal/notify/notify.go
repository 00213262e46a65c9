// Package notify delivers alert and digest emails.
package notify

import (
	"context"
	"time"
)

// Alert is the payload for a single alert notification.
type Alert struct {
	RuleNames   []string
	ChannelName string
	Title       string
	Excerpt     string
	PostURL     string
	Recipients  []string
}

// Digest is the payload for a digest notification.
type Digest struct {
	Summary     string
	PostCount   int
	Language    string
	WindowStart time.Time
	WindowEnd   time.Time
	Recipients  []string
}

// Notifier sends notifications. Implementations return (false, nil) when
// no recipients are configured, a send is not attempted in that case.
type Notifier interface {
	SendAlert(ctx context.Context, alert Alert) (bool, error)
	SendDigest(ctx context.Context, digest Digest) (bool, error)
}
