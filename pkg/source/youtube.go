package source

import (
	"context"
	"net/url"
	"strings"

	"github.com/phuslu/log"

	"github.com/elonfeng/marketnews/internal/config"
)

const youtubeFeedBase = "https://www.youtube.com/feeds/videos.xml"

// YouTube collects recent uploads from channel Atom feeds. No API key is
// needed.
type YouTube struct {
	rss      *RSS
	channels []config.FeedItem
	feedBase string
}

// NewYouTube creates a new YouTube channel collector. Each channel's URL
// field holds its channel id.
func NewYouTube(channels []config.FeedItem, logger *log.Logger) *YouTube {
	return &YouTube{
		rss:      NewRSS(nil, logger),
		channels: channels,
		feedBase: youtubeFeedBase,
	}
}

func (y *YouTube) Name() string { return "youtube" }

func (y *YouTube) Fetch(ctx context.Context) ([]Article, error) {
	var all []Article
	for _, ch := range y.channels {
		items, err := y.rss.fetchFeed(ctx, ch.Name, y.feedURL(ch.URL), KindVideo)
		if err != nil {
			y.rss.logger.Warn().Str("channel", ch.Name).Err(err).Msg("youtube feed")
			continue
		}
		all = append(all, items...)
	}
	return all, nil
}

func (y *YouTube) feedURL(channelID string) string {
	return y.feedBase + "?channel_id=" + url.QueryEscape(strings.TrimSpace(channelID))
}
