// Package subscription manages channel subscriptions and the periodic
// "find missing videos" rescan feeding the download queue.
package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/bbilly1/tubearchivist/internal/archive"
	"github.com/bbilly1/tubearchivist/internal/constants"
	"github.com/bbilly1/tubearchivist/internal/logger"
	"github.com/bbilly1/tubearchivist/internal/progress"
	"github.com/bbilly1/tubearchivist/internal/queue"
	"github.com/bbilly1/tubearchivist/internal/resolver"
	"github.com/bbilly1/tubearchivist/internal/store"
)

const channelURLTemplate = "https://www.youtube.com/channel/%s/videos"

// ErrValidation is returned for malformed subscribe requests before any
// mutation happens.
var ErrValidation = errors.New("validation failed")

// Channel is one known channel, subscribed or not.
type Channel struct {
	ChannelID         string `json:"channel_id"`
	ChannelName       string `json:"channel_name"`
	ChannelSubscribed bool   `json:"channel_subscribed"`
	ChannelThumbURL   string `json:"channel_thumb_url"`
}

// RecentLister serves a channel's newest uploads from a cheap source, the
// RSS feed in production. Optional fast path for limited rescans.
type RecentLister interface {
	Recent(ctx context.Context, channelID string) ([]resolver.Member, error)
}

// Options tunes rescan behavior.
type Options struct {
	// ChannelSize caps how many recent videos a limited rescan considers
	// per channel.
	ChannelSize int
	// UseFeed prefers the RSS fast path for limited rescans.
	UseFeed bool
}

// Manager owns the channels collection.
type Manager struct {
	store    store.Store
	resolver resolver.Resolver
	recent   RecentLister
	queue    *queue.Pending
	archive  *archive.Index
	sink     progress.Sink
	opts     Options
	log      *logger.Logger
}

func NewManager(st store.Store, res resolver.Resolver, recent RecentLister, q *queue.Pending, idx *archive.Index, sink progress.Sink, opts Options, log *logger.Logger) *Manager {
	return &Manager{
		store:    st,
		resolver: res,
		recent:   recent,
		queue:    q,
		archive:  idx,
		sink:     sink,
		opts:     opts,
		log:      log.WithComponent("subscription"),
	}
}

// ParseSubscribeFlag validates the decoded request value is an actual
// boolean. The API accepts raw JSON here, so anything else is a client bug
// that must be rejected before touching the store.
func ParseSubscribeFlag(value any) (bool, error) {
	flag, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: subscribe flag must be a boolean, got %T", ErrValidation, value)
	}
	return flag, nil
}

// GetChannels lists known channels in name order, optionally only the
// subscribed ones.
func (m *Manager) GetChannels(ctx context.Context, subscribedOnly bool) ([]Channel, error) {
	cursor := &store.Cursor{
		Store:      m.store,
		Collection: constants.ChannelIndex,
		Sort:       store.Sort{Field: "channel_name"},
		Size:       constants.ChannelPageSize,
	}
	if subscribedOnly {
		cursor.Filter = &store.Filter{Field: "channel_subscribed", Value: true}
	}

	var channels []Channel
	err := cursor.Each(ctx, func(doc store.Document) error {
		var channel Channel
		if err := doc.Decode(&channel); err != nil {
			return err
		}
		channels = append(channels, channel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return channels, nil
}

// GetLastVideos lists a channel's uploads, newest first. A limited listing
// is truncated provider-side to the configured channel size, and prefers the
// RSS fast path when enabled, falling back to the resolver on feed error.
func (m *Manager) GetLastVideos(ctx context.Context, channelID string, limited bool) ([]resolver.Member, error) {
	if limited && m.opts.UseFeed && m.recent != nil {
		members, err := m.recent.Recent(ctx, channelID)
		if err == nil {
			return members, nil
		}
		m.log.WithChannel(channelID).Warn("feed listing failed, falling back to resolver", "error", err)
	}

	limit := 0
	if limited {
		limit = m.opts.ChannelSize
	}
	return m.resolver.ListMembers(ctx, fmt.Sprintf(channelURLTemplate, channelID), limit)
}

// FindMissing scans all subscribed channels and returns the video ids that
// are neither queued, ignored, nor archived. The known-ids union is computed
// once up front so every channel is compared against the same snapshot.
// Per-channel listing failures are logged and skipped.
func (m *Manager) FindMissing(ctx context.Context) ([]string, error) {
	pending, ignored, err := m.queue.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	archived, err := m.archive.All()
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	known := make(map[string]struct{}, len(pending)+len(ignored)+len(archived))
	for _, entry := range pending {
		known[entry.YoutubeID] = struct{}{}
	}
	for _, id := range ignored {
		known[id] = struct{}{}
	}
	for id := range archived {
		known[id] = struct{}{}
	}

	channels, err := m.GetChannels(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed channels: %w", err)
	}

	var missing []string
	for i, channel := range channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.sink.Publish(constants.ProgressChannelDownload, progress.Message{
			Status:  "message:rescan",
			Level:   progress.LevelInfo,
			Title:   "Rescanning channels",
			Message: fmt.Sprintf("scanning channel %d of %d", i+1, len(channels)),
		})

		members, err := m.GetLastVideos(ctx, channel.ChannelID, true)
		if err != nil {
			m.log.WithChannel(channel.ChannelID).Error("channel listing failed, skipping", "error", err)
			continue
		}
		for _, member := range members {
			if _, ok := known[member.ID]; ok {
				continue
			}
			known[member.ID] = struct{}{}
			missing = append(missing, member.ID)
		}
	}
	return missing, nil
}

// ChangeSubscribe flips the subscription state of a channel, creating the
// channel record on first contact, then resyncs the metadata of the
// channel's already-archived videos. The resync is best effort and never
// rolls back the subscription change.
func (m *Manager) ChangeSubscribe(ctx context.Context, channelID string, subscribed bool) error {
	if channelID == "" {
		return fmt.Errorf("%w: empty channel id", ErrValidation)
	}

	var existing Channel
	err := m.store.GetByID(ctx, constants.ChannelIndex, channelID, &existing)
	switch {
	case err == nil:
		err = m.store.BulkUpdate(ctx, constants.ChannelIndex, []store.BulkDoc{
			{ID: channelID, Doc: map[string]any{"channel_subscribed": subscribed}},
		})
		if err != nil {
			return fmt.Errorf("failed to update channel %s: %w", channelID, err)
		}
	case errors.Is(err, store.ErrNotFound):
		channel := m.discoverChannel(ctx, channelID)
		channel.ChannelSubscribed = subscribed
		if err := m.store.CreateIfAbsent(ctx, constants.ChannelIndex, channelID, channel); err != nil && !errors.Is(err, store.ErrExists) {
			return fmt.Errorf("failed to create channel %s: %w", channelID, err)
		}
	default:
		return fmt.Errorf("failed to load channel %s: %w", channelID, err)
	}

	if err := m.resyncArchived(ctx, channelID); err != nil {
		m.log.WithChannel(channelID).Warn("metadata resync failed", "error", err)
	}
	return nil
}

// discoverChannel fills metadata for a channel not seen before by resolving
// its most recent upload. Any failure degrades to a bare record.
func (m *Manager) discoverChannel(ctx context.Context, channelID string) Channel {
	channel := Channel{ChannelID: channelID}

	members, err := m.resolver.ListMembers(ctx, fmt.Sprintf(channelURLTemplate, channelID), 1)
	if err != nil || len(members) == 0 {
		m.log.WithChannel(channelID).Warn("could not discover channel metadata", "error", err)
		return channel
	}
	video, err := m.resolver.Resolve(ctx, members[0].ID)
	if err != nil {
		m.log.WithChannel(channelID).Warn("could not resolve channel metadata", "error", err)
		return channel
	}
	channel.ChannelName = video.ChannelName
	return channel
}

// resyncArchived refreshes the indexed metadata of a channel's videos.
// A channel with no indexed videos is a no-op.
func (m *Manager) resyncArchived(ctx context.Context, channelID string) error {
	cursor := &store.Cursor{
		Store:      m.store,
		Collection: constants.VideoIndex,
		Filter:     &store.Filter{Field: "channel_id", Value: channelID},
		Sort:       store.Sort{Field: "published"},
		Size:       constants.VideoPageSize,
	}
	var ids []string
	err := cursor.Each(ctx, func(doc store.Document) error {
		ids = append(ids, doc.ID)
		return nil
	})
	if err != nil {
		return err
	}

	var docs []store.BulkDoc
	for _, id := range ids {
		video, err := m.resolver.Resolve(ctx, id)
		if err != nil {
			m.log.WithVideo(id).Warn("resync lookup failed, skipping", "error", err)
			continue
		}
		docs = append(docs, store.BulkDoc{ID: id, Doc: map[string]any{
			"title":         video.Title,
			"vid_thumb_url": video.ThumbURL,
			"duration_sec":  video.DurationSec,
			"channel_name":  video.ChannelName,
		}})
	}
	if len(docs) == 0 {
		return nil
	}
	return m.store.BulkUpdate(ctx, constants.VideoIndex, docs)
}
