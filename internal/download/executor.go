// Package download runs the pending queue: one item at a time, resuming
// partial files from the cache, retrying once, and moving finished artifacts
// into the archive before the queue entry is released.
package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/bbilly1/tubearchivist/internal/config"
	"github.com/bbilly1/tubearchivist/internal/constants"
	"github.com/bbilly1/tubearchivist/internal/filesystem"
	"github.com/bbilly1/tubearchivist/internal/logger"
	"github.com/bbilly1/tubearchivist/internal/progress"
	"github.com/bbilly1/tubearchivist/internal/queue"
	"github.com/bbilly1/tubearchivist/internal/resolver"
	"github.com/bbilly1/tubearchivist/internal/store"
)

// ErrFatalDownload marks a download that failed its attempt and the single
// automatic retry. The caller skips to the next queue item.
var ErrFatalDownload = errors.New("download failed after retry")

// ErrArchival marks a finished artifact that could not be placed into the
// archive. The queue entry stays in place so the run can be repeated.
var ErrArchival = errors.New("failed to archive artifact")

// ErrAlreadyRunning is returned when another executor holds the queue.
var ErrAlreadyRunning = errors.New("download run already in progress")

// Tagger embeds metadata into finished audio artifacts. Implementations must
// treat failures as non-fatal.
type Tagger interface {
	Tag(path string, video *resolver.Video) error
}

// Executor drains the pending queue sequentially.
type Executor struct {
	resolver resolver.Resolver
	store    store.Store
	queue    *queue.Pending
	tagger   Tagger
	sink     progress.Sink
	log      *logger.Logger

	videosDir string
	cacheDir  string
	hostUID   int
	hostGID   int
	downloads config.Downloads

	mu           sync.Mutex
	retryBackoff time.Duration
}

// NewExecutor wires the executor. tagger may be nil to skip audio tagging.
func NewExecutor(res resolver.Resolver, st store.Store, q *queue.Pending, tagger Tagger, sink progress.Sink, cfg *config.Config, log *logger.Logger) *Executor {
	return &Executor{
		resolver:     res,
		store:        st,
		queue:        q,
		tagger:       tagger,
		sink:         sink,
		log:          log.WithComponent("download"),
		videosDir:    cfg.Application.VideosDir,
		cacheDir:     cfg.Application.CacheDir,
		hostUID:      cfg.Application.HostUID,
		hostGID:      cfg.Application.HostGID,
		downloads:    cfg.Downloads,
		retryBackoff: constants.DownloadRetryBackoff,
	}
}

func (e *Executor) stagingDir() string {
	return filepath.Join(e.cacheDir, constants.DownloadSubdir)
}

// RunQueue downloads the given queue entries in order. Only one run may be
// active at a time, enforced in-process and across processes via a lock file
// in the cache dir. A failed item is logged and skipped; cancellation is
// honored between items, never mid-download, so partial files stay resumable.
func (e *Executor) RunQueue(ctx context.Context, ids []string) error {
	if !e.mu.TryLock() {
		return ErrAlreadyRunning
	}
	defer e.mu.Unlock()

	lock := flock.New(filepath.Join(e.cacheDir, constants.LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire download lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer lock.Unlock()

	if e.downloads.LimitCount > 0 && len(ids) > e.downloads.LimitCount {
		e.log.Info("limiting queue run", "requested", len(ids), "limit", e.downloads.LimitCount)
		ids = ids[:e.downloads.LimitCount]
	}

	if err := filesystem.EnsureDir(e.stagingDir()); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := e.log.WithVideo(id)
		e.publish(progress.LevelInfo, fmt.Sprintf("downloading %d of %d", i+1, len(ids)))

		if err := e.processItem(ctx, id); err != nil {
			log.Error("queue item failed, skipping", "error", err)
			e.publish(progress.LevelError, fmt.Sprintf("failed to download %s", id))
			continue
		}
		log.Info("queue item archived")

		if e.downloads.SleepInterval > 0 && i < len(ids)-1 {
			select {
			case <-time.After(time.Duration(e.downloads.SleepInterval) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	e.publish(progress.LevelInfo, "download queue done")
	return nil
}

// processItem downloads, tags, archives and indexes one video, then drops
// its queue entry. The entry is only ever deleted after the artifact sits in
// the archive.
func (e *Executor) processItem(ctx context.Context, id string) error {
	if _, err := e.downloadSingle(ctx, id); err != nil {
		return err
	}

	video, err := e.finalMetadata(ctx, id)
	if err != nil {
		return err
	}

	staged, err := filesystem.FindByID(e.stagingDir(), id)
	if err != nil {
		return fmt.Errorf("failed to scan staging dir: %w", err)
	}
	if staged != "" && e.tagger != nil && isAudio(staged) {
		if err := e.tagger.Tag(filepath.Join(e.stagingDir(), staged), video); err != nil {
			e.log.WithVideo(id).Warn("tagging failed, archiving untagged", "error", err)
		}
	}

	mediaPath, err := e.MoveToArchive(id, video)
	if err != nil {
		return err
	}
	e.indexVideo(ctx, video, mediaPath)

	if err := e.queue.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to remove queue entry %s: %w", id, err)
	}
	return nil
}

// downloadSingle fetches one video into the staging area, resuming any
// partial file left from an earlier run. On failure it waits the fixed
// backoff and retries exactly once.
func (e *Executor) downloadSingle(ctx context.Context, id string) (string, error) {
	opts := resolver.DownloadOptions{
		Format:         e.downloads.Format,
		RateLimitBytes: int64(e.downloads.LimitSpeedKB) * 1024,
		OutputDir:      e.stagingDir(),
		Retries:        constants.ResolverRetries,
		OnProgress:     e.progressCallback(id),
	}

	partial, err := filesystem.FindByID(e.stagingDir(), id)
	if err != nil {
		return "", fmt.Errorf("failed to scan staging dir: %w", err)
	}
	if partial != "" {
		opts.ResumePath = filepath.Join(e.stagingDir(), partial)
		e.log.WithVideo(id).Info("resuming partial download", "file", partial)
	}

	path, err := e.resolver.Download(ctx, id, opts)
	if err == nil {
		return path, nil
	}
	e.log.WithVideo(id).Warn("download failed, retrying once", "backoff", e.retryBackoff, "error", err)

	select {
	case <-time.After(e.retryBackoff):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	path, err = e.resolver.Download(ctx, id, opts)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFatalDownload, id, err)
	}
	return path, nil
}

// MoveToArchive moves the staged artifact for id into the archive under the
// sanitized channel folder. The rename must be atomic: staging and archive
// share a filesystem, and any failure here leaves the queue entry in place.
func (e *Executor) MoveToArchive(id string, video *resolver.Video) (string, error) {
	folder := filesystem.Sanitize(video.ChannelName)
	if folder == "" {
		folder = video.ChannelID
	}
	destDir := filepath.Join(e.videosDir, folder)
	if err := filesystem.EnsureDir(destDir); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrArchival, destDir, err)
	}

	staged, err := filesystem.FindByID(e.stagingDir(), id)
	if err != nil {
		return "", fmt.Errorf("%w: scan staging dir: %v", ErrArchival, err)
	}
	if staged == "" {
		return "", fmt.Errorf("%w: no staged artifact for %s", ErrArchival, id)
	}

	dst := filepath.Join(destDir, staged)
	if err := filesystem.MoveFile(filepath.Join(e.stagingDir(), staged), dst); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchival, err)
	}
	if err := filesystem.Chown(dst, e.hostUID, e.hostGID); err != nil {
		e.log.WithVideo(id).Warn("failed to set archive file ownership", "error", err)
	}
	return filepath.Join(folder, staged), nil
}

// finalMetadata resolves fresh metadata for the finished download, falling
// back to the queue entry when the platform stops answering.
func (e *Executor) finalMetadata(ctx context.Context, id string) (*resolver.Video, error) {
	video, err := e.resolver.Resolve(ctx, id)
	if err == nil {
		return video, nil
	}
	e.log.WithVideo(id).Warn("final metadata lookup failed, using queue entry", "error", err)

	entry, entryErr := e.queue.Get(ctx, id)
	if entryErr != nil {
		return nil, fmt.Errorf("no metadata available for %s: %w", id, err)
	}
	return &resolver.Video{
		ID:          entry.YoutubeID,
		Title:       entry.Title,
		ChannelID:   entry.ChannelID,
		ChannelName: entry.ChannelName,
		ThumbURL:    entry.VidThumbURL,
		DurationSec: entry.DurationSec,
	}, nil
}

// indexVideo records the archived video in the video collection. Best
// effort: the artifact is already safe on disk.
func (e *Executor) indexVideo(ctx context.Context, video *resolver.Video, mediaPath string) {
	doc := map[string]any{
		"youtube_id":    video.ID,
		"title":         video.Title,
		"channel_id":    video.ChannelID,
		"channel_name":  video.ChannelName,
		"vid_thumb_url": video.ThumbURL,
		"duration_sec":  video.DurationSec,
		"published":     publishedDate(video.UploadDate),
		"media_url":     mediaPath,
	}
	err := e.store.CreateIfAbsent(ctx, constants.VideoIndex, video.ID, doc)
	if err != nil && !errors.Is(err, store.ErrExists) {
		e.log.WithVideo(video.ID).Warn("failed to index video", "error", err)
	}
}

func (e *Executor) progressCallback(id string) func(resolver.Progress) {
	return func(p resolver.Progress) {
		e.publish(progress.LevelInfo, fmt.Sprintf("%s: %.1f%% of %s at %s/s",
			id, p.Fraction*100, humanBytes(p.TotalBytes), humanBytes(int64(p.Rate))))
	}
}

func (e *Executor) publish(level, message string) {
	e.sink.Publish(constants.ProgressChannelDownload, progress.Message{
		Status:  "message:download",
		Level:   level,
		Title:   "Downloading queue",
		Message: message,
	})
}

func isAudio(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case constants.ExtMP3, constants.ExtFLAC:
		return true
	}
	return false
}

func publishedDate(uploadDate string) string {
	parsed, err := time.Parse("20060102", uploadDate)
	if err != nil {
		return uploadDate
	}
	return parsed.Format("2006-01-02")
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
