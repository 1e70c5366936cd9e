// Package resolver abstracts the media platform: metadata lookup, channel and
// playlist expansion, and the actual download. Everything above it talks to
// the Resolver interface so tests can swap in a mock.
package resolver

import (
	"context"
	"time"
)

// Video is the metadata needed to queue, download and archive one item.
type Video struct {
	ID          string
	Title       string
	ChannelID   string
	ChannelName string
	ThumbURL    string
	DurationSec int
	UploadDate  string // YYYYMMDD
}

// Member is one entry of an expanded channel or playlist listing.
type Member struct {
	ID    string
	Title string
}

// Progress is a snapshot of a running download.
type Progress struct {
	Fraction   float64
	TotalBytes int64
	Rate       float64 // bytes per second
	ETA        time.Duration
}

// DownloadOptions tunes a single download run.
type DownloadOptions struct {
	// Format is the platform format selector, empty for the default.
	Format string
	// RateLimitBytes caps throughput, 0 for unlimited.
	RateLimitBytes int64
	// ResumePath, when set, is an existing partial file the download must
	// continue into instead of starting a fresh artifact.
	ResumePath string
	// OutputDir receives the finished artifact when ResumePath is unset.
	OutputDir string
	// Retries is the backend-internal retry count per fragment.
	Retries int
	// OnProgress is invoked with throttled progress snapshots. May be nil.
	OnProgress func(Progress)
}

// Resolver is the platform contract.
type Resolver interface {
	// Resolve fetches metadata for a single video id.
	Resolve(ctx context.Context, youtubeID string) (*Video, error)

	// ListMembers expands a channel or playlist URL into its entries,
	// newest first. limit 0 means unbounded.
	ListMembers(ctx context.Context, url string, limit int) ([]Member, error)

	// Download fetches the video and returns the path of the finished
	// artifact.
	Download(ctx context.Context, youtubeID string, opts DownloadOptions) (string, error)
}
