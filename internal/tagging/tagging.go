// Package tagging embeds metadata into audio-only downloads before they move
// into the archive. Everything here is best effort: the caller archives the
// artifact untagged when tagging fails.
package tagging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"github.com/bbilly1/tubearchivist/internal/constants"
	"github.com/bbilly1/tubearchivist/internal/httpclient"
	"github.com/bbilly1/tubearchivist/internal/logger"
	"github.com/bbilly1/tubearchivist/internal/resolver"
)

// Tagger writes title, channel, date and cover art into audio files.
type Tagger struct {
	client *httpclient.Client
	log    *logger.Logger
}

func New(client *httpclient.Client, log *logger.Logger) *Tagger {
	return &Tagger{
		client: client,
		log:    log.WithComponent("tagging"),
	}
}

// Tag writes metadata for video into the file at path. The format is picked
// by extension.
func (t *Tagger) Tag(path string, video *resolver.Video) error {
	art := t.fetchArt(video.ThumbURL)

	switch strings.ToLower(filepath.Ext(path)) {
	case constants.ExtMP3:
		return tagMP3(path, video, art)
	case constants.ExtFLAC:
		return tagFLAC(path, video, art)
	default:
		return fmt.Errorf("unsupported audio format: %s", filepath.Ext(path))
	}
}

// fetchArt downloads the thumbnail. Any failure degrades to no cover art.
func (t *Tagger) fetchArt(url string) []byte {
	if url == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.ImageHTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.log.Warn("invalid thumbnail url", "url", url, "error", err)
		return nil
	}
	resp, err := t.client.Do(ctx, req)
	if err != nil {
		t.log.Warn("failed to fetch thumbnail", "url", url, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.log.Warn("thumbnail fetch returned error", "url", url, "status", resp.StatusCode)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.log.Warn("failed to read thumbnail", "url", url, "error", err)
		return nil
	}
	return data
}

func tagMP3(path string, video *resolver.Video, art []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open mp3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetTitle(video.Title)
	tag.SetArtist(video.ChannelName)
	if len(video.UploadDate) >= 4 {
		tag.SetYear(video.UploadDate[:4])
	}

	if len(art) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    detectMime(art),
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     art,
		})
	}
	return tag.Save()
}

func tagFLAC(path string, video *resolver.Video, art []byte) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to parse flac file: %w", err)
	}

	comment := flacvorbis.New()
	if err := comment.Add(flacvorbis.FIELD_TITLE, video.Title); err != nil {
		return fmt.Errorf("failed to add title comment: %w", err)
	}
	if err := comment.Add(flacvorbis.FIELD_ARTIST, video.ChannelName); err != nil {
		return fmt.Errorf("failed to add artist comment: %w", err)
	}
	if video.UploadDate != "" {
		if err := comment.Add(flacvorbis.FIELD_DATE, video.UploadDate); err != nil {
			return fmt.Errorf("failed to add date comment: %w", err)
		}
	}
	commentBlock := comment.Marshal()
	f.Meta = append(f.Meta, &commentBlock)

	if len(art) > 0 {
		picture, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Front Cover", art, detectMime(art))
		if err != nil {
			return fmt.Errorf("failed to build picture block: %w", err)
		}
		pictureBlock := picture.Marshal()
		f.Meta = append(f.Meta, &pictureBlock)
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("failed to save flac file: %w", err)
	}
	return nil
}

// detectMime sniffs the image type so PNG covers are not labelled jpeg.
func detectMime(data []byte) string {
	mime := http.DetectContentType(data)
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}
