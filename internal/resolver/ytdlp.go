package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/bbilly1/tubearchivist/internal/constants"
	"github.com/bbilly1/tubearchivist/internal/logger"
)

const watchURLTemplate = "https://www.youtube.com/watch?v=%s"

// YTDLP resolves and downloads through the yt-dlp binary.
type YTDLP struct {
	log *logger.Logger
}

func NewYTDLP(log *logger.Logger) *YTDLP {
	return &YTDLP{log: log.WithComponent("ytdlp")}
}

func (y *YTDLP) Resolve(ctx context.Context, youtubeID string) (*Video, error) {
	dl := ytdlp.New().
		SkipDownload().
		DumpSingleJSON()

	result, err := dl.Run(ctx, fmt.Sprintf(watchURLTemplate, youtubeID))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", youtubeID, err)
	}
	info, err := result.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata for %s: %w", youtubeID, err)
	}
	if len(info) == 0 {
		return nil, fmt.Errorf("no metadata returned for %s", youtubeID)
	}
	return videoFromInfo(info[0]), nil
}

func (y *YTDLP) ListMembers(ctx context.Context, url string, limit int) ([]Member, error) {
	dl := ytdlp.New().
		SkipDownload().
		FlatPlaylist().
		DumpSingleJSON()
	if limit > 0 {
		dl = dl.PlaylistEnd(limit)
	}

	result, err := dl.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", url, err)
	}
	info, err := result.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing for %s: %w", url, err)
	}

	var members []Member
	for _, item := range info {
		for _, entry := range item.Entries {
			member := Member{ID: entry.ID}
			if entry.Title != nil {
				member.Title = *entry.Title
			}
			members = append(members, member)
		}
	}
	return members, nil
}

func (y *YTDLP) Download(ctx context.Context, youtubeID string, opts DownloadOptions) (string, error) {
	dl := ytdlp.New().
		Continue().
		RestrictFilenames()

	if opts.ResumePath != "" {
		// Continue into the exact partial file from an earlier run.
		dl = dl.Output(opts.ResumePath)
	} else {
		dl = dl.Output(filepath.Join(opts.OutputDir, constants.OutputTemplate))
	}
	if opts.Format != "" {
		dl = dl.Format(opts.Format)
	}
	if opts.RateLimitBytes > 0 {
		dl = dl.LimitRate(strconv.FormatInt(opts.RateLimitBytes, 10))
	}
	if opts.Retries > 0 {
		dl = dl.Retries(strconv.Itoa(opts.Retries))
	}

	if opts.OnProgress != nil {
		dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
			opts.OnProgress(progressFromUpdate(update))
		})
	}

	result, err := dl.Run(ctx, fmt.Sprintf(watchURLTemplate, youtubeID))
	if err != nil {
		return "", fmt.Errorf("download of %s failed: %w", youtubeID, err)
	}
	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 || info[0].Filename == nil {
		y.log.Warn("no filename in download result, falling back to resume path", "youtube_id", youtubeID)
		if opts.ResumePath != "" {
			return opts.ResumePath, nil
		}
		return "", fmt.Errorf("download of %s returned no artifact path", youtubeID)
	}
	return *info[0].Filename, nil
}

func videoFromInfo(info *ytdlp.ExtractedInfo) *Video {
	video := &Video{ID: info.ID}
	if info.Title != nil {
		video.Title = *info.Title
	}
	if info.ChannelID != nil {
		video.ChannelID = *info.ChannelID
	}
	if info.Channel != nil {
		video.ChannelName = *info.Channel
	}
	if info.Thumbnail != nil {
		video.ThumbURL = *info.Thumbnail
	}
	if info.Duration != nil {
		video.DurationSec = int(*info.Duration)
	}
	if info.UploadDate != nil {
		video.UploadDate = *info.UploadDate
	}
	return video
}

func progressFromUpdate(update ytdlp.ProgressUpdate) Progress {
	p := Progress{TotalBytes: int64(update.TotalBytes)}
	if update.TotalBytes > 0 {
		p.Fraction = float64(update.DownloadedBytes) / float64(update.TotalBytes)
	}
	if !update.Started.IsZero() {
		elapsed := time.Since(update.Started)
		if elapsed > 0 {
			p.Rate = float64(update.DownloadedBytes) / elapsed.Seconds()
		}
	}
	if p.Rate > 0 && update.TotalBytes > 0 {
		remaining := float64(update.TotalBytes - update.DownloadedBytes)
		p.ETA = time.Duration(remaining/p.Rate) * time.Second
	}
	return p
}
