// Package archive answers "which video ids already exist in the permanent
// archive" by scanning its on-disk layout. It keeps no database of its own:
// the filesystem is the source of truth, one sanitized channel folder per
// channel, one media file per video.
package archive

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/bbilly1/tubearchivist/internal/logger"
)

// filenameGrammar is the contract archive filenames follow:
//
//	<upload date, 8 digits>_<video id, 11 chars>_<title>.<ext>
//
// The video id alphabet is the YouTube one (base64url). Files that do not
// match are skipped with a warning instead of guessing at an id.
var filenameGrammar = regexp.MustCompile(`^\d{8}_([A-Za-z0-9_-]{11})_.+\.[A-Za-z0-9]+$`)

// ParseID recovers the video id from an archive filename. ok is false when
// the name does not follow the grammar.
func ParseID(name string) (string, bool) {
	match := filenameGrammar.FindStringSubmatch(name)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// Index is a read-only view over the archive directory.
type Index struct {
	videosDir string
	log       *logger.Logger
}

// NewIndex creates an index over videosDir.
func NewIndex(videosDir string, log *logger.Logger) *Index {
	return &Index{
		videosDir: videosDir,
		log:       log.WithComponent("archive"),
	}
}

// All scans every channel folder and returns the set of archived video ids.
// A missing archive directory means an empty archive, not an error.
func (i *Index) All() (map[string]struct{}, error) {
	ids := make(map[string]struct{})

	channels, err := os.ReadDir(i.videosDir)
	if err != nil {
		if os.IsNotExist(err) {
			return ids, nil
		}
		return nil, err
	}

	for _, channel := range channels {
		if !channel.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(i.videosDir, channel.Name()))
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			id, ok := ParseID(file.Name())
			if !ok {
				i.log.Warn("archive file does not match the filename grammar",
					"channel", channel.Name(), "file", file.Name())
				continue
			}
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// Contains reports whether a single video id is archived.
func (i *Index) Contains(youtubeID string) (bool, error) {
	ids, err := i.All()
	if err != nil {
		return false, err
	}
	_, ok := ids[youtubeID]
	return ok, nil
}
