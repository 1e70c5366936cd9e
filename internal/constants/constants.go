// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort        = "8000"
	DefaultESURL       = "http://localhost:9200"
	DefaultVideosDir   = "/youtube"
	DefaultCacheDir    = "/cache"
	DefaultDBPath      = "tubearchivist.db"
	DefaultChannelSize = 50
	DefaultHTTPTimeout = 30 * time.Second
	ImageHTTPTimeout   = 30 * time.Second
	DefaultRetryCount  = 3
	DefaultRetryBase   = 1 * time.Second
)

// Document store collections
const (
	DownloadIndex = "ta_download"
	VideoIndex    = "ta_video"
	ChannelIndex  = "ta_channel"
)

// Pagination
const (
	DownloadPageSize = 50
	VideoPageSize    = 500
	ChannelPageSize  = 50
	PITKeepAlive     = time.Minute
)

// Download executor
const (
	// DownloadRetryBackoff is the fixed wait before the single automatic
	// retry of a failed download.
	DownloadRetryBackoff = 10 * time.Second
	// ResolverRetries is handed to yt-dlp as its internal retry count.
	ResolverRetries = 3
	// OutputTemplate is the yt-dlp output template used for fresh downloads
	// into the cache. The leading fields feed the archive filename grammar.
	OutputTemplate = "%(upload_date)s_%(id)s_%(title)s.%(ext)s"
)

// DownloadSubdir is the staging area below the cache dir.
const DownloadSubdir = "download"

// LockFileName guards the staging area against a second executor instance.
const LockFileName = "download.lock"

// Progress channels
const (
	ProgressChannelDownload = "progress:download"
)

// File Extensions
const (
	ExtMP4  = ".mp4"
	ExtMKV  = ".mkv"
	ExtWebM = ".webm"
	ExtMP3  = ".mp3"
	ExtFLAC = ".flac"
	ExtM4A  = ".m4a"
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// Characters to sanitize from filesystem paths
const InvalidPathChars = "<>:\"/\\|?*"
