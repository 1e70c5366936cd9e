package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/bbilly1/tubearchivist/internal/logger"
)

const channelFeedURL = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// Feed lists a channel's most recent uploads from its RSS feed. Much cheaper
// than a full listing but capped at the feed size the platform serves
// (currently 15 entries), so it only suits the limited rescan path.
type Feed struct {
	parser  *gofeed.Parser
	baseURL string
	log     *logger.Logger
}

func NewFeed(log *logger.Logger) *Feed {
	return &Feed{
		parser:  gofeed.NewParser(),
		baseURL: channelFeedURL,
		log:     log.WithComponent("feed"),
	}
}

// Recent returns the channel's newest uploads, newest first.
func (f *Feed) Recent(ctx context.Context, channelID string) ([]Member, error) {
	feed, err := f.parser.ParseURLWithContext(fmt.Sprintf(f.baseURL, channelID), ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed for channel %s: %w", channelID, err)
	}

	var members []Member
	for _, item := range feed.Items {
		id := feedVideoID(item)
		if id == "" {
			f.log.Warn("feed entry without video id", "channel_id", channelID, "title", item.Title)
			continue
		}
		members = append(members, Member{ID: id, Title: item.Title})
	}
	return members, nil
}

func feedVideoID(item *gofeed.Item) string {
	if ext, ok := item.Extensions["yt"]; ok {
		if ids, ok := ext["videoId"]; ok && len(ids) > 0 {
			return ids[0].Value
		}
	}
	// GUIDs look like "yt:video:<id>"
	if id, ok := strings.CutPrefix(item.GUID, "yt:video:"); ok {
		return id
	}
	return ""
}
