// Package remote talks to the content-curation API: endpoint URLs, payload
// shapes, normalization of raw payloads and translation of error statuses.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bryan-buckman/chanmirror/internal/fetch"
)

var (
	// ErrAuthRequired is returned for HTTP 401.
	ErrAuthRequired = errors.New("authentication required")
	// ErrNotFound is returned for HTTP 404 on actor lookups.
	ErrNotFound = errors.New("not found")
)

// HTTPError is any other non-2xx response that survived the fetcher's retries.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch failed: %s (%s)", e.Status, e.URL)
}

// Client issues typed requests against the remote API through the shared fetcher.
type Client struct {
	baseURL string
	token   string
	fetcher *fetch.Fetcher
}

// NewClient creates a client. token may be empty for anonymous access.
func NewClient(baseURL, token string, fetcher *fetch.Fetcher) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		fetcher: fetcher,
	}
}

// BaseURL returns the API root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func pageQuery(page, per int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per", strconv.Itoa(per))
	return q
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	if len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(query.Encode())
	}
	return b.String()
}

// Header returns the request headers, including the bearer token when set.
func (c *Client) Header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// get fetches u and decodes a 2xx JSON body into out. notFound, when non-nil,
// is the error returned for 404.
func (c *Client) get(ctx context.Context, u string, opts fetch.Options, notFound error, out any) error {
	res, err := c.fetcher.Get(ctx, u, c.Header(), opts)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 200 && res.StatusCode <= 299:
	case res.StatusCode == http.StatusUnauthorized:
		return ErrAuthRequired
	case res.StatusCode == http.StatusNotFound && notFound != nil:
		return notFound
	default:
		io.Copy(io.Discard, res.Body)
		return &HTTPError{StatusCode: res.StatusCode, Status: res.Status, URL: u}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}

// Collection fetches the metadata of a collection.
func (c *Client) Collection(ctx context.Context, slug string) (RawCollection, error) {
	var out RawCollection
	err := c.get(ctx, c.endpoint(nil, "collections", slug), fetch.Options{}, nil, &out)
	return out, err
}

// Contents fetches one page of a collection's items, newest position first.
func (c *Client) Contents(ctx context.Context, slug string, page, per int) (ContentsPage, error) {
	q := pageQuery(page, per)
	q.Set("sort", "position")
	q.Set("direction", "desc")
	var out ContentsPage
	err := c.get(ctx, c.endpoint(q, "collections", slug, "contents"), fetch.Options{}, nil, &out)
	return out, err
}

// Connections fetches one page of collections related to a collection.
func (c *Client) Connections(ctx context.Context, idOrSlug string, page, per int) (CollectionsPage, error) {
	var out CollectionsPage
	err := c.get(ctx, c.endpoint(pageQuery(page, per), "collections", idOrSlug, "connections"), fetch.Options{}, nil, &out)
	return out, err
}

// ItemCollections fetches one page of collections that contain an item. It is
// an interactive lookup and bypasses pacing.
func (c *Client) ItemCollections(ctx context.Context, itemID int64, page, per int) (CollectionsPage, error) {
	var out CollectionsPage
	u := c.endpoint(pageQuery(page, per), "items", strconv.FormatInt(itemID, 10), "collections")
	err := c.get(ctx, u, fetch.Options{Immediate: true}, nil, &out)
	return out, err
}

// Actor fetches an actor profile.
func (c *Client) Actor(ctx context.Context, idOrSlug string) (RawUser, error) {
	var out RawUser
	notFound := fmt.Errorf("actor %s: %w", idOrSlug, ErrNotFound)
	err := c.get(ctx, c.endpoint(nil, "actors", idOrSlug), fetch.Options{}, notFound, &out)
	return out, err
}

// ActorCollections fetches one page of an actor's owned collections.
func (c *Client) ActorCollections(ctx context.Context, idOrSlug string, page, per int) (CollectionsPage, error) {
	var out CollectionsPage
	notFound := fmt.Errorf("actor %s: %w", idOrSlug, ErrNotFound)
	err := c.get(ctx, c.endpoint(pageQuery(page, per), "actors", idOrSlug, "collections"), fetch.Options{}, notFound, &out)
	return out, err
}

// FeedURL is the RSS feed of a collection.
func (c *Client) FeedURL(slug string) string {
	return c.endpoint(nil, "collections", slug, "feed")
}
