// Package rss turns feed subscriptions into folders of notes.
//
// A subscribed folder carries an .rss.json sidecar with the feed URL and
// the keys of every item already imported. Refresh fetches the feed and
// writes one note per unseen item. Items are keyed by guid, falling back
// to link, so an item is imported at most once even if its note is later
// renamed or deleted.
//
// All writes of one refresh happen inside Store.RunBulk: the watcher is
// paused and the store rescans once at the end.
package rss

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/notesync/internal/workspace/frontmatter"
	"github.com/steveyegge/notesync/internal/workspace/identity"
	"github.com/steveyegge/notesync/internal/workspace/schema"
	"github.com/steveyegge/notesync/internal/workspace/sidecar"
	"github.com/steveyegge/notesync/internal/workspace/store"
)

// ErrNotSubscribed is returned when refreshing a folder without a usable
// subscription.
var ErrNotSubscribed = errors.New("folder is not an rss subscription")

// nameAttempts bounds retries when an item's file name is taken between
// allocation and creation.
const nameAttempts = 3

// Result reports one refresh.
type Result struct {
	FolderID   string
	AddedCount int
	// Items are the newly imported items in feed order.
	Items []sidecar.Item
}

// Config configures a Service.
type Config struct {
	// Fetcher defaults to an HTTPFetcher with default timeout.
	Fetcher Fetcher

	// Now stamps lastFetched; defaults to time.Now.
	Now func() time.Time

	// Logger for rss activity
	Logger *log.Logger
}

// Service subscribes folders to feeds and refreshes them.
type Service struct {
	store   *store.Store
	fetcher Fetcher
	now     func() time.Time
	logger  *log.Logger
}

// New returns a Service writing into st.
func New(st *store.Store, config *Config) *Service {
	if config == nil {
		config = &Config{}
	}
	svc := &Service{
		store:   st,
		fetcher: config.Fetcher,
		now:     config.Now,
		logger:  config.Logger,
	}
	if svc.fetcher == nil {
		svc.fetcher = NewHTTPFetcher(0, "")
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.logger == nil {
		svc.logger = log.New(os.Stderr, "[rss] ", log.LstdFlags)
	}
	return svc
}

// Subscribe creates a folder for feedURL and imports its current items.
// folderName defaults to the feed title, then to the feed host.
func (s *Service) Subscribe(ctx context.Context, feedURL, folderName string) (schema.Folder, Result, error) {
	feedURL = strings.TrimSpace(feedURL)
	if _, err := url.ParseRequestURI(feedURL); err != nil {
		return schema.Folder{}, Result{}, fmt.Errorf("invalid feed url %q: %w", feedURL, err)
	}

	feed, err := s.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return schema.Folder{}, Result{}, err
	}

	name := strings.TrimSpace(folderName)
	if name == "" {
		name = feed.Title
	}
	if name == "" {
		if u, err := url.Parse(feedURL); err == nil {
			name = u.Hostname()
		}
	}

	folder, err := s.store.CreateFolder(name)
	if err != nil {
		return schema.Folder{}, Result{}, err
	}
	sub := &sidecar.Subscription{URL: feedURL, Title: feed.Title}
	if err := s.store.Sidecar().UpsertSubscription(folder.Path, sub); err != nil {
		return folder, Result{}, err
	}
	s.logger.Printf("Subscribed %s to %s", folder.ID, feedURL)

	res, err := s.apply(ctx, folder, sub, feed)
	if err != nil {
		return folder, res, err
	}
	folder, err = s.store.Folder(folder.ID)
	return folder, res, err
}

// Refresh fetches the feed of folderID and imports unseen items.
func (s *Service) Refresh(ctx context.Context, folderID string) (Result, error) {
	folder, err := s.store.Folder(folderID)
	if err != nil {
		return Result{}, err
	}
	sub := s.store.Sidecar().LoadSubscription(folder.Path)
	if sub == nil || sub.URL == "" {
		return Result{}, fmt.Errorf("%s: %w", folderID, ErrNotSubscribed)
	}

	feed, err := s.fetcher.Fetch(ctx, sub.URL)
	if err != nil {
		return Result{FolderID: folderID}, err
	}
	return s.apply(ctx, folder, sub, feed)
}

// RefreshAll refreshes every RSS folder. Failures of individual folders
// are joined; results of the others are still returned.
func (s *Service) RefreshAll(ctx context.Context) ([]Result, error) {
	var ids []string
	for _, f := range s.store.Folders() {
		if f.IsRss {
			ids = append(ids, f.ID)
		}
	}
	sort.Strings(ids)

	var results []Result
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.Refresh(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", id, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// apply writes notes for the unseen items of feed into folder and records
// them in the sidecar.
func (s *Service) apply(ctx context.Context, folder schema.Folder, sub *sidecar.Subscription, feed *Feed) (Result, error) {
	res := Result{FolderID: folder.ID}

	err := s.store.RunBulk(ctx, "rss refresh "+folder.ID, func(ctx context.Context) error {
		seen := sub.Seen()
		var reserved []string
		for _, item := range feed.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := item.Key()
			if key == "" || seen[key] {
				continue
			}
			name, err := s.writeItem(folder.Path, sub.URL, item, reserved)
			if err != nil {
				return err
			}
			reserved = append(reserved, name)
			seen[key] = true

			recorded := sidecar.Item{
				GUID:      item.GUID,
				Link:      item.Link,
				Published: item.Published,
				Title:     item.Title,
			}
			sub.Items = append(sub.Items, recorded)
			res.Items = append(res.Items, recorded)
			res.AddedCount++
		}

		sub.LastFetched = s.now().UTC()
		if sub.Title == "" {
			sub.Title = feed.Title
		}
		return s.store.Sidecar().UpsertSubscription(folder.Path, sub)
	})

	s.logger.Printf("Refreshed %s: %d new of %d items", folder.ID, res.AddedCount, len(feed.Items))
	return res, err
}

// writeItem creates the note file of item in dir and returns its name.
func (s *Service) writeItem(dir, source string, item FeedItem, reserved []string) (string, error) {
	text, err := RenderItem(item, source)
	if err != nil {
		return "", err
	}
	title := item.Title
	if title == "" {
		title = item.Link
	}
	base := identity.SanitizeName(title)

	codec := s.store.Codec()
	for attempt := 0; ; attempt++ {
		name, err := codec.NextAvailableName(dir, base, identity.DefaultExtension, reserved...)
		if err != nil {
			return "", err
		}
		if _, err := s.store.FS().CreateExclusive(filepath.Join(dir, name), text); err != nil {
			if errors.Is(err, schema.ErrNameConflict) && attempt+1 < nameAttempts {
				reserved = append(reserved, name)
				continue
			}
			return "", err
		}
		return name, nil
	}
}

// RenderItem returns the file text of an item note: a hidden metadata
// block followed by a title heading, the link and the description.
func RenderItem(item FeedItem, source string) (string, error) {
	header, err := frontmatter.Encode(frontmatter.Meta{
		Hidden:    true,
		Title:     item.Title,
		Link:      item.Link,
		GUID:      item.GUID,
		Published: item.Published,
		Source:    source,
	})
	if err != nil {
		return "", err
	}

	var body strings.Builder
	if item.Title != "" {
		fmt.Fprintf(&body, "# %s\n\n", item.Title)
	}
	if item.Link != "" {
		fmt.Fprintf(&body, "%s\n\n", item.Link)
	}
	if item.Description != "" {
		body.WriteString(item.Description)
		body.WriteString("\n")
	}
	return frontmatter.Compose(header, body.String()), nil
}
