// Package telegram fetches channel history over MTProto.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"github.com/eliseevk/tgsentry/internal/config"
)

// ErrChannelInaccessible indicates the handle does not resolve to a
// readable channel.
var ErrChannelInaccessible = errors.New("channel inaccessible")

// ErrNotConnected indicates FetchSince was called outside Run.
var ErrNotConnected = errors.New("telegram client is not connected")

// RateLimitedError carries the wait imposed by a FLOOD_WAIT response.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Message is one fetched channel post.
type Message struct {
	ID       int64
	PostedAt time.Time
	Text     string
}

type cachedPeer struct {
	channelID  int64
	accessHash int64
	title      string
}

// Reader wraps a gotd client and exposes history fetching for the
// ingestion pipeline.
type Reader struct {
	cfg    *config.Config
	logger *zerolog.Logger

	api *tg.Client

	mu    sync.Mutex
	peers map[string]cachedPeer
}

// NewReader creates a Reader. The client connects inside Run.
func NewReader(cfg *config.Config, logger *zerolog.Logger) *Reader {
	return &Reader{
		cfg:    cfg,
		logger: logger,
		peers:  make(map[string]cachedPeer),
	}
}

// Run connects, authenticates, and invokes fn while the connection is
// alive. FetchSince is only valid inside fn.
func (r *Reader) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	client := telegram.NewClient(r.cfg.TGAPIID, r.cfg.TGAPIHash, telegram.Options{
		SessionStorage: &telegram.FileSessionStorage{
			Path: r.cfg.TGSessionPath,
		},
	})

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, r.authFlow()); err != nil {
			return fmt.Errorf("telegram auth: %w", err)
		}

		r.logger.Info().Msg("Successfully authenticated as user")

		r.api = tg.NewClient(client)
		defer func() { r.api = nil }()

		return fn(ctx)
	})
}

// ChannelTitle returns the resolved display title for a handle, empty
// when the peer has not been resolved yet.
func (r *Reader) ChannelTitle(handle string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.peers[handle].title
}

// FetchSince returns text messages with IDs strictly greater than
// afterID, oldest first, at most limit of them. Service and empty
// messages are skipped.
func (r *Reader) FetchSince(ctx context.Context, handle string, afterID int64, limit int) ([]Message, error) {
	if r.api == nil {
		return nil, ErrNotConnected
	}

	peer, err := r.resolvePeer(ctx, handle)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req := &tg.MessagesGetHistoryRequest{
		Peer: &tg.InputPeerChannel{
			ChannelID:  peer.channelID,
			AccessHash: peer.accessHash,
		},
		Limit: limit,
	}

	if afterID > 0 {
		// Page forward from the cursor instead of from the newest message.
		req.OffsetID = int(afterID)
		req.AddOffset = -limit
	}

	history, err := r.api.MessagesGetHistory(reqCtx, req)
	if err != nil {
		if floodErr, ok := tgerr.As(err); ok && floodErr.Type == "FLOOD_WAIT" {
			return nil, &RateLimitedError{RetryAfter: time.Duration(floodErr.Argument) * time.Second}
		}

		if tgerr.Is(err, "CHANNEL_PRIVATE", "CHANNEL_INVALID") {
			return nil, fmt.Errorf("%w: %s", ErrChannelInaccessible, handle)
		}

		return nil, fmt.Errorf("get history for %s: %w", handle, err)
	}

	var raw []tg.MessageClass

	switch h := history.(type) {
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessagesNotModified:
		return nil, nil
	}

	messages := make([]Message, 0, len(raw))

	for _, m := range raw {
		msg, ok := m.(*tg.Message)
		if !ok {
			// Service messages carry no text.
			continue
		}

		if int64(msg.ID) <= afterID || msg.Message == "" {
			continue
		}

		messages = append(messages, Message{
			ID:       int64(msg.ID),
			PostedAt: time.Unix(int64(msg.Date), 0),
			Text:     msg.Message,
		})
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })

	if len(messages) > limit {
		messages = messages[:limit]
	}

	return messages, nil
}

// resolvePeer resolves a handle to channel id and access hash, caching
// the result for later fetches.
func (r *Reader) resolvePeer(ctx context.Context, handle string) (cachedPeer, error) {
	r.mu.Lock()
	if peer, ok := r.peers[handle]; ok {
		r.mu.Unlock()

		return peer, nil
	}
	r.mu.Unlock()

	resolved, err := r.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: handle})
	if err != nil {
		if floodErr, ok := tgerr.As(err); ok && floodErr.Type == "FLOOD_WAIT" {
			return cachedPeer{}, &RateLimitedError{RetryAfter: time.Duration(floodErr.Argument) * time.Second}
		}

		return cachedPeer{}, fmt.Errorf("%w: resolve %s: %v", ErrChannelInaccessible, handle, err)
	}

	if len(resolved.Chats) == 0 {
		return cachedPeer{}, fmt.Errorf("%w: %s not found", ErrChannelInaccessible, handle)
	}

	channel, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		return cachedPeer{}, fmt.Errorf("%w: %s is not a channel", ErrChannelInaccessible, handle)
	}

	peer := cachedPeer{channelID: channel.ID, accessHash: channel.AccessHash, title: channel.Title}

	r.mu.Lock()
	r.peers[handle] = peer
	r.mu.Unlock()

	r.logger.Info().Str("handle", handle).Int64("peer_id", channel.ID).Str("title", channel.Title).Msg("Caching channel info")

	return peer, nil
}
