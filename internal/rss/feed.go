// Package rss watches collection feeds for new items and drives the periodic
// sync of the watch list.
package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bryan-buckman/chanmirror/internal/fetch"
	"github.com/bryan-buckman/chanmirror/internal/remote"
	"github.com/mmcdole/gofeed"
)

// FeedReader reads a collection's RSS feed to learn its newest item ids without
// paging through the contents endpoint.
type FeedReader struct {
	fetcher *fetch.Fetcher
	parser  *gofeed.Parser
	feedURL func(slug string) string
	header  http.Header
}

// NewFeedReader creates a reader that fetches feeds through the shared fetcher.
func NewFeedReader(fetcher *fetch.Fetcher, client *remote.Client) *FeedReader {
	header := client.Header()
	header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.1")
	return &FeedReader{
		fetcher: fetcher,
		parser:  gofeed.NewParser(),
		feedURL: client.FeedURL,
		header:  header,
	}
}

// Latest returns the item ids of the feed, newest first.
func (r *FeedReader) Latest(ctx context.Context, slug string) ([]int64, error) {
	u := r.feedURL(slug)
	res, err := r.fetcher.Get(ctx, u, r.header.Clone(), fetch.Options{})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &remote.HTTPError{StatusCode: res.StatusCode, Status: res.Status, URL: u}
	}

	parsed, err := r.parser.Parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", u, err)
	}
	ids := make([]int64, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if id, ok := ItemID(item); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ItemID extracts the remote item id from a feed entry. Entries link to the
// item page, whose last path segment is the id; the GUID is tried first.
func ItemID(item *gofeed.Item) (int64, bool) {
	for _, candidate := range []string{item.GUID, item.Link} {
		if id, ok := trailingID(candidate); ok {
			return id, true
		}
	}
	return 0, false
}

func trailingID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if u, err := url.Parse(s); err == nil && u.Path != "" {
		s = u.Path
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
