package rss

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Feed is a fetched feed reduced to what refresh needs.
type Feed struct {
	Title string
	Items []FeedItem
}

// FeedItem is one entry of a fetched feed.
type FeedItem struct {
	GUID        string
	Link        string
	Title       string
	Description string
	Published   string
}

// Key is the de-duplication key: the guid, or the link without one.
func (i FeedItem) Key() string {
	if i.GUID != "" {
		return i.GUID
	}
	return i.Link
}

// Fetcher retrieves and parses a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Feed, error)
}

// DefaultTimeout bounds one feed request.
const DefaultTimeout = 20 * time.Second

// DefaultUserAgent is sent with feed requests.
const DefaultUserAgent = "notesync/1.0"

// HTTPFetcher fetches RSS, Atom and JSON feeds over HTTP.
type HTTPFetcher struct {
	Timeout   time.Duration
	UserAgent string
	// Client defaults to an http.Client with Timeout.
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher with the given timeout and user agent;
// zero values use the defaults.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPFetcher{
		Timeout:   timeout,
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: timeout},
	}
}

// Fetch downloads and parses url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Feed, error) {
	parser := gofeed.NewParser()
	parser.Client = f.Client
	if parser.Client == nil {
		parser.Client = &http.Client{Timeout: f.Timeout}
	}
	parser.UserAgent = f.UserAgent

	parsed, err := parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", url, err)
	}
	return convert(parsed), nil
}

// ParseString parses feed text without fetching it.
func ParseString(text string) (*Feed, error) {
	parsed, err := gofeed.NewParser().ParseString(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return convert(parsed), nil
}

func convert(parsed *gofeed.Feed) *Feed {
	feed := &Feed{Title: strings.TrimSpace(parsed.Title)}
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		published := item.Published
		if item.PublishedParsed != nil {
			published = item.PublishedParsed.UTC().Format(time.RFC3339)
		} else if published == "" && item.UpdatedParsed != nil {
			published = item.UpdatedParsed.UTC().Format(time.RFC3339)
		}
		description := item.Description
		if description == "" {
			description = item.Content
		}
		feed.Items = append(feed.Items, FeedItem{
			GUID:        strings.TrimSpace(item.GUID),
			Link:        strings.TrimSpace(item.Link),
			Title:       strings.TrimSpace(item.Title),
			Description: strings.TrimSpace(description),
			Published:   published,
		})
	}
	return feed
}
