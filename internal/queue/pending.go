// Package queue maintains the durable, deduplicated download queue. The
// archive always wins over the queue, and an existing queue entry always wins
// over a re-added one.
package queue

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/bbilly1/tubearchivist/internal/archive"
	"github.com/bbilly1/tubearchivist/internal/constants"
	"github.com/bbilly1/tubearchivist/internal/logger"
	"github.com/bbilly1/tubearchivist/internal/progress"
	"github.com/bbilly1/tubearchivist/internal/resolver"
	"github.com/bbilly1/tubearchivist/internal/store"
)

// Entry is one item of the download queue, keyed by its video id.
type Entry struct {
	YoutubeID      string `json:"youtube_id"`
	ChannelID      string `json:"channel_id"`
	ChannelName    string `json:"channel_name"`
	ChannelIndexed bool   `json:"channel_indexed"`
	Title          string `json:"title"`
	VidThumbURL    string `json:"vid_thumb_url"`
	Duration       string `json:"duration"`
	DurationSec    int    `json:"duration_sec"`
	Published      string `json:"published"`
	Timestamp      int64  `json:"timestamp"`
	Status         Status `json:"status"`
}

// Kind classifies what a submitted reference points at.
type Kind string

const (
	KindVideo    Kind = "video"
	KindChannel  Kind = "channel"
	KindPlaylist Kind = "playlist"
)

// Candidate is one user-submitted reference to expand into video ids.
type Candidate struct {
	URL  string `json:"url"`
	Kind Kind   `json:"kind"`
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Pending manages the queue collection.
type Pending struct {
	store    store.Store
	resolver resolver.Resolver
	archive  *archive.Index
	sink     progress.Sink
	log      *logger.Logger
	now      func() time.Time
}

func NewPending(st store.Store, res resolver.Resolver, idx *archive.Index, sink progress.Sink, log *logger.Logger) *Pending {
	return &Pending{
		store:    st,
		resolver: res,
		archive:  idx,
		sink:     sink,
		log:      log.WithComponent("queue"),
		now:      time.Now,
	}
}

// ParseCandidates expands candidates into a flat list of video ids, input
// order preserved. Channels and playlists expand through the resolver; videos
// pass through. No dedup happens here. An unknown kind fails the whole batch
// before any expansion work starts.
func (p *Pending) ParseCandidates(ctx context.Context, refs []Candidate) ([]string, error) {
	for _, ref := range refs {
		switch ref.Kind {
		case KindVideo, KindChannel, KindPlaylist:
		default:
			return nil, fmt.Errorf("unknown candidate kind %q for %s", ref.Kind, ref.URL)
		}
	}

	var ids []string
	for _, ref := range refs {
		switch ref.Kind {
		case KindVideo:
			id, err := extractVideoID(ref.URL)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		case KindChannel, KindPlaylist:
			members, err := p.resolver.ListMembers(ctx, ref.URL, 0)
			if err != nil {
				return nil, fmt.Errorf("failed to expand %s: %w", ref.URL, err)
			}
			for _, member := range members {
				ids = append(ids, member.ID)
			}
		}
	}
	return ids, nil
}

// AddToPending resolves metadata for each id and persists the batch with
// create semantics. Already-archived ids are dropped, resolver failures are
// logged and skipped, and ids already in the queue are left untouched by the
// store. Returns the number of newly created entries.
func (p *Pending) AddToPending(ctx context.Context, ids []string) (int, error) {
	archived, err := p.archive.All()
	if err != nil {
		return 0, fmt.Errorf("failed to read archive: %w", err)
	}
	indexed, err := p.knownChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read channel index: %w", err)
	}

	var docs []store.BulkDoc
	for i, id := range ids {
		if _, ok := archived[id]; ok {
			p.log.Info("already archived, skipping", "youtube_id", id)
			continue
		}

		video, err := p.resolver.Resolve(ctx, id)
		if err != nil {
			p.log.Error("failed to resolve, skipping", "youtube_id", id, "error", err)
			p.sink.Publish(constants.ProgressChannelDownload, progress.Message{
				Status:  "message:add",
				Level:   progress.LevelError,
				Title:   "Adding to download queue",
				Message: fmt.Sprintf("failed to process %s", id),
			})
			continue
		}

		entry := p.entryFromVideo(video, indexed)
		docs = append(docs, store.BulkDoc{ID: entry.YoutubeID, Doc: entry})

		p.sink.Publish(constants.ProgressChannelDownload, progress.Message{
			Status:  "message:add",
			Level:   progress.LevelInfo,
			Title:   "Adding to download queue",
			Message: fmt.Sprintf("processing %d of %d", i+1, len(ids)),
		})
	}

	if len(docs) == 0 {
		return 0, nil
	}
	skipped, err := p.store.BulkCreate(ctx, constants.DownloadIndex, docs)
	if err != nil {
		return 0, fmt.Errorf("failed to persist queue entries: %w", err)
	}
	return len(docs) - skipped, nil
}

// All returns the queue in one consistent pass, newest first, split into
// pending entries and the ids currently ignored.
func (p *Pending) All(ctx context.Context) ([]Entry, []string, error) {
	cursor := &store.Cursor{
		Store:      p.store,
		Collection: constants.DownloadIndex,
		Sort:       store.Sort{Field: "timestamp", Desc: true},
		Size:       constants.DownloadPageSize,
	}

	var pending []Entry
	var ignored []string
	err := cursor.Each(ctx, func(doc store.Document) error {
		var entry Entry
		if err := doc.Decode(&entry); err != nil {
			return err
		}
		switch entry.Status {
		case StatusPending:
			pending = append(pending, entry)
		case StatusIgnore:
			ignored = append(ignored, entry.YoutubeID)
		default:
			p.log.Warn("queue entry with unknown status", "youtube_id", entry.YoutubeID, "status", entry.Status)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return pending, ignored, nil
}

// Get returns a single queue entry.
func (p *Pending) Get(ctx context.Context, youtubeID string) (*Entry, error) {
	var entry Entry
	if err := p.store.GetByID(ctx, constants.DownloadIndex, youtubeID, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Delete removes an entry. Deleting an absent id is not an error.
func (p *Pending) Delete(ctx context.Context, youtubeID string) error {
	err := p.store.Delete(ctx, constants.DownloadIndex, youtubeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Ignore moves pending entries out of the way without forgetting them.
func (p *Pending) Ignore(ctx context.Context, ids []string) error {
	return p.setStatus(ctx, ids, StatusIgnore)
}

// ForgetIgnore returns ignored entries to the pending queue.
func (p *Pending) ForgetIgnore(ctx context.Context, ids []string) error {
	return p.setStatus(ctx, ids, StatusPending)
}

func (p *Pending) setStatus(ctx context.Context, ids []string, to Status) error {
	var docs []store.BulkDoc
	for _, id := range ids {
		entry, err := p.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", id, err)
		}
		if err := ValidateTransition(entry.Status, to); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		docs = append(docs, store.BulkDoc{ID: id, Doc: map[string]any{
			"status":    to,
			"timestamp": p.now().Unix(),
		}})
	}
	if len(docs) == 0 {
		return nil
	}
	return p.store.BulkUpdate(ctx, constants.DownloadIndex, docs)
}

func (p *Pending) entryFromVideo(video *resolver.Video, indexed map[string]struct{}) Entry {
	_, channelIndexed := indexed[video.ChannelID]
	return Entry{
		YoutubeID:      video.ID,
		ChannelID:      video.ChannelID,
		ChannelName:    video.ChannelName,
		ChannelIndexed: channelIndexed,
		Title:          video.Title,
		VidThumbURL:    video.ThumbURL,
		Duration:       formatDuration(video.DurationSec),
		DurationSec:    video.DurationSec,
		Published:      formatPublished(video.UploadDate),
		Timestamp:      p.now().Unix(),
		Status:         StatusPending,
	}
}

func (p *Pending) knownChannels(ctx context.Context) (map[string]struct{}, error) {
	cursor := &store.Cursor{
		Store:      p.store,
		Collection: constants.ChannelIndex,
		Sort:       store.Sort{Field: "channel_id"},
		Size:       constants.ChannelPageSize,
	}
	known := make(map[string]struct{})
	err := cursor.Each(ctx, func(doc store.Document) error {
		known[doc.ID] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return known, nil
}

func formatDuration(seconds int) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

func formatPublished(uploadDate string) string {
	parsed, err := time.Parse("20060102", uploadDate)
	if err != nil {
		return uploadDate
	}
	return parsed.Format("2006-01-02")
}

// extractVideoID accepts a bare video id or any of the common video URL
// shapes and returns the id.
func extractVideoID(ref string) (string, error) {
	if videoIDPattern.MatchString(ref) {
		return ref, nil
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid video reference %q: %w", ref, err)
	}

	var id string
	switch {
	case parsed.Query().Get("v") != "":
		id = parsed.Query().Get("v")
	case strings.HasSuffix(parsed.Host, "youtu.be"):
		id = strings.Trim(parsed.Path, "/")
	case strings.Contains(parsed.Path, "/shorts/"):
		id = strings.Trim(strings.TrimPrefix(parsed.Path, "/shorts/"), "/")
	case strings.Contains(parsed.Path, "/embed/"):
		id = strings.Trim(strings.TrimPrefix(parsed.Path, "/embed/"), "/")
	}
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("could not extract video id from %q", ref)
	}
	return id, nil
}
