package publish

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/feeds"

	"gazeta/internal/config"
	"gazeta/internal/types"
)

// FeedDestination maintains an Atom file of recent publications so the
// pipeline's output is itself subscribable.
type FeedDestination struct {
	name  string
	path  string
	title string
	link  string
	size  int

	mu    sync.Mutex
	items []*feeds.Item
}

func NewFeedDestination(name string, cfg config.FeedDestinationConfig) (*FeedDestination, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("feed destination %s: path is required", name)
	}

	title := cfg.Title
	if title == "" {
		title = "gazeta digest"
	}
	size := cfg.Size
	if size <= 0 {
		size = 50
	}

	return &FeedDestination{
		name:  name,
		path:  cfg.Path,
		title: title,
		link:  cfg.Link,
		size:  size,
	}, nil
}

func (d *FeedDestination) Name() string {
	return d.name
}

func (d *FeedDestination) Initialize(ctx context.Context) error {
	return nil
}

func (d *FeedDestination) Publish(ctx context.Context, pub *types.Publication) (string, error) {
	item := &feeds.Item{
		Id:          pub.ItemKey,
		Title:       pub.Subject,
		Link:        &feeds.Link{Href: pub.Link},
		Description: pub.Result.ExecutiveSummary,
		Author:      &feeds.Author{Name: pub.SourceName},
		Created:     pub.ReceivedAt,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.items = append([]*feeds.Item{item}, d.items...)
	if len(d.items) > d.size {
		d.items = d.items[:d.size]
	}

	if err := d.write(); err != nil {
		return "", err
	}

	return pub.ItemKey, nil
}

func (d *FeedDestination) Shutdown(ctx context.Context) error {
	return nil
}

func (d *FeedDestination) write() error {
	feed := &feeds.Feed{
		Title:   d.title,
		Link:    &feeds.Link{Href: d.link},
		Updated: time.Now().UTC(),
		Items:   d.items,
	}

	atom, err := feed.ToAtom()
	if err != nil {
		return fmt.Errorf("failed to render feed: %w", err)
	}

	if err := os.WriteFile(d.path, []byte(atom), 0o644); err != nil {
		return fmt.Errorf("failed to write feed file %s: %w", d.path, err)
	}

	return nil
}
