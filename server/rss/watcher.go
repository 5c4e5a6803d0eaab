package rss

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// Item is our internal, minimalist representation of a blog post
type Item struct {
	ID        string
	Title     string
	Published time.Time
	Updated   time.Time
	Content   string
	URL       string
}

// key identifies an item across fetches, by link when there is one
func (i Item) key() string {
	if i.URL != "" {
		return i.URL
	}
	return i.ID
}

// ItemHandler is an interface that defines what to do when new RSS items are discovered
type ItemHandler interface {
	StatusCode(code int)                    // called after any fetch, normally either 200 (OK) or 304 (NotModified)
	NewItem(ctx context.Context, item Item) // a new feed item is discovered
}

// FeedWatcher implements a small service to watch an RSS feed and discover new activity
type FeedWatcher struct {
	URL     string
	Client  http.Client
	Handler ItemHandler

	parser       ItemParser
	etag         string
	lastModified string
	seen         map[string]time.Time // item keys already reported, with their update time
}

type ItemParser interface {
	Parse(r io.Reader) ([]Item, error)
}

type gofeedParser struct {
	parser *gofeed.Parser // helper to parse rss, atom, json
}

// Parse an HTTP body as an RSS feed (or Atom or JSON, it turns out)
func (p gofeedParser) Parse(reader io.Reader) ([]Item, error) {
	feed, err := p.parser.Parse(reader)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		items = append(items, toItem(entry, time.Now().UTC()))
	}
	return items, nil
}

// toItem converts a parsed feed entry. Entries without a parsable date are
// stamped with now.
func toItem(entry *gofeed.Item, now time.Time) Item {
	item := Item{
		ID:        entry.GUID,
		Title:     entry.Title,
		Content:   entry.Content,
		URL:       entry.Link,
		Published: now,
	}
	if item.ID == "" {
		item.ID = entry.Link
	}
	if item.Content == "" {
		item.Content = entry.Description
	}
	if entry.PublishedParsed != nil {
		item.Published = *entry.PublishedParsed
	}
	item.Updated = item.Published
	if entry.UpdatedParsed != nil {
		item.Updated = *entry.UpdatedParsed
	}
	return item
}

// Check remote RSS feed for changes
func (c *FeedWatcher) Check(ctx context.Context) error {
	r, err := http.NewRequestWithContext(ctx, "GET", c.URL, nil)
	if err != nil {
		return err
	}
	if c.lastModified != "" {
		r.Header.Set("If-Modified-Since", c.lastModified)
	}
	if c.etag != "" {
		r.Header.Set("If-None-Match", c.etag)
	}

	resp, err := c.Client.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.Handler.StatusCode(resp.StatusCode)
	if resp.StatusCode == http.StatusNotModified {
		// Feed not modified, nothing to do
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("response code %d", resp.StatusCode)
	}

	newItems, err := c.parseItems(resp.Body)
	if err != nil {
		return err
	}

	for _, item := range newItems {
		c.Handler.NewItem(ctx, item)
	}

	c.etag = resp.Header.Get("ETag")
	c.lastModified = resp.Header.Get("Last-Modified")
	return nil
}

// AddKnown marks an item as already seen so it is never reported as new
func (c *FeedWatcher) AddKnown(item Item) {
	c.seen[item.key()] = item.Updated
}

// parseItems returns the items of body not seen before, oldest first.
func (c *FeedWatcher) parseItems(body io.Reader) ([]Item, error) {
	all, err := c.parser.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", c.URL, err)
	}

	var fresh []Item
	for _, item := range all {
		if _, ok := c.seen[item.key()]; ok {
			continue
		}
		c.seen[item.key()] = item.Updated
		fresh = append(fresh, item)
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Published.Before(fresh[j].Published)
	})
	return fresh, nil
}

// Watch checks the feed every period until ctx ends.
func (c *FeedWatcher) Watch(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		if err := c.Check(ctx); err != nil && ctx.Err() == nil {
			telemetry.Error(err, "checking feed %s", c.URL)
		}
		select {
		case <-ctx.Done():
			telemetry.Trace("stopped watching %s: %v", c.URL, ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

func NewFeedWatcher(url string, handler ItemHandler) FeedWatcher {
	return FeedWatcher{
		URL:     url,
		Client:  http.Client{Timeout: 30 * time.Second},
		Handler: handler,
		parser:  gofeedParser{parser: gofeed.NewParser()},
		seen:    make(map[string]time.Time),
	}
}
