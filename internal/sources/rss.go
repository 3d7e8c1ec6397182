package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"gazeta/internal/artifacts"
	"gazeta/internal/cache"
	"gazeta/internal/types"
)

const rssKeyPrefix = "rss_"

// RSSSource treats a feed as a newsletter source. Item keys are
// "rss_" plus the sanitized entry guid, so keys stay stable across
// feed refreshes.
type RSSSource struct {
	name      string
	feedURL   string
	parser    *gofeed.Parser
	artifacts *artifacts.Store
	index     *cache.Cache[string, *gofeed.Item]
	timeout   time.Duration
	logger    *slog.Logger
}

func NewRSSSource(name, feedURL string, timeout time.Duration, store *artifacts.Store, logger *slog.Logger) (*RSSSource, error) {
	if feedURL == "" {
		return nil, fmt.Errorf("rss source %s: feed url is required", name)
	}

	return &RSSSource{
		name:      name,
		feedURL:   feedURL,
		parser:    gofeed.NewParser(),
		artifacts: store,
		index: cache.NewCache[string, *gofeed.Item](
			cache.CacheConfig{TTL: 2 * time.Hour},
			func(key string) string { return key },
		),
		timeout: timeout,
		logger:  logger.With("source", name),
	}, nil
}

func (s *RSSSource) Name() string {
	return s.name
}

// Discover parses the feed and returns entries newer than notBefore in
// feed order. The address argument is unused; the feed URL is fixed at
// construction.
func (s *RSSSource) Discover(ctx context.Context, _ string, notBefore *time.Time, max int) ([]types.Candidate, error) {
	feed, err := s.parser.ParseURLWithContext(s.feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", s.feedURL, err)
	}

	var candidates []types.Candidate
	for _, item := range feed.Items {
		if len(candidates) >= max {
			break
		}

		published := time.Now().UTC()
		if item.PublishedParsed != nil {
			published = item.PublishedParsed.UTC()
		}
		if notBefore != nil && !published.After(*notBefore) {
			continue
		}

		key := rssKeyPrefix + sanitizeGUID(itemGUID(item))
		s.index.Set(key, item)
		candidates = append(candidates, types.Candidate{
			ItemKey:    key,
			ReceivedAt: published,
		})
	}

	s.logger.Debug("discovered feed entries", "feed", s.feedURL, "count", len(candidates))

	return candidates, nil
}

// Fetch downloads the full article behind a feed entry, falling back
// to the entry's own content when the article is unreachable.
func (s *RSSSource) Fetch(ctx context.Context, itemKey string) (*types.RawContent, error) {
	item, ok := s.index.Get(itemKey)
	if !ok {
		if err := s.refreshIndex(ctx); err != nil {
			return nil, err
		}
		if item, ok = s.index.Get(itemKey); !ok {
			return nil, fmt.Errorf("item %s no longer present in feed %s", itemKey, s.feedURL)
		}
	}

	body := itemContent(item)
	if item.Link != "" {
		if article, err := readability.FromURL(item.Link, s.timeout); err == nil && article.Content != "" {
			body = article.Content
		} else if err != nil {
			s.logger.Warn("failed to fetch article, using feed content", "link", item.Link, "error", err)
		}
	}

	published := time.Now().UTC()
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC()
	}

	data := encodeMessage(item.Title, feedSender(s.feedURL), item.Link, published, body)

	ref, err := s.artifacts.SaveRaw(itemKey, data)
	if err != nil {
		return nil, err
	}

	raw, err := parseRawMessage(data)
	if err != nil {
		return nil, err
	}
	raw.ItemKey = itemKey
	raw.Ref = ref

	return raw, nil
}

func (s *RSSSource) Load(ctx context.Context, ref string) (*types.RawContent, error) {
	data, err := s.artifacts.LoadRaw(ref)
	if err != nil {
		return nil, err
	}

	raw, err := parseRawMessage(data)
	if err != nil {
		return nil, err
	}
	raw.Ref = ref

	return raw, nil
}

// MarkConsumed is a no-op; there is nothing to flag at a feed.
func (s *RSSSource) MarkConsumed(ctx context.Context, itemKey string) error {
	return nil
}

func (s *RSSSource) refreshIndex(ctx context.Context) error {
	feed, err := s.parser.ParseURLWithContext(s.feedURL, ctx)
	if err != nil {
		return fmt.Errorf("failed to parse feed %s: %w", s.feedURL, err)
	}
	for _, item := range feed.Items {
		s.index.Set(rssKeyPrefix+sanitizeGUID(itemGUID(item)), item)
	}
	return nil
}

func itemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

func itemContent(item *gofeed.Item) string {
	if item.Content != "" {
		return item.Content
	}
	return item.Description
}

func sanitizeGUID(guid string) string {
	replacer := strings.NewReplacer("://", "_", "/", "_", "?", "_", "&", "_", "=", "_", "#", "_", ":", "_")
	return replacer.Replace(guid)
}

func feedSender(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return "feed@unknown"
	}
	return "feed@" + u.Host
}
