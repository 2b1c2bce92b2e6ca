package rss

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/notesync/internal/workspace/frontmatter"
	"github.com/steveyegge/notesync/internal/workspace/sidecar"
	"github.com/steveyegge/notesync/internal/workspace/store"
)

// fakeFetcher serves a fixed feed per URL.
type fakeFetcher struct {
	mu    sync.Mutex
	feeds map[string]*Feed
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	feed, ok := f.feeds[url]
	if !ok {
		return nil, errors.New("404 not found")
	}
	copied := *feed
	copied.Items = append([]FeedItem(nil), feed.Items...)
	return &copied, nil
}

func (f *fakeFetcher) set(url string, feed *Feed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds[url] = feed
}

const feedURL = "https://example.com/feed.xml"

func newTestService(t *testing.T) (*Service, *store.Store, *fakeFetcher) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st, err := store.Open(context.Background(), t.TempDir(), store.Options{
		Debounce: time.Hour,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fetcher := &fakeFetcher{feeds: map[string]*Feed{
		feedURL: {
			Title: "Example Feed",
			Items: []FeedItem{
				{GUID: "post-1", Link: "https://example.com/1", Title: "First post", Description: "one"},
				{GUID: "post-2", Link: "https://example.com/2", Title: "Second post", Description: "two"},
			},
		},
	}}
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := New(st, &Config{
		Fetcher: fetcher,
		Now:     func() time.Time { return fixed },
		Logger:  logger,
	})
	return svc, st, fetcher
}

func TestSubscribe_CreatesFolderAndNotes(t *testing.T) {
	svc, st, _ := newTestService(t)

	folder, res, err := svc.Subscribe(context.Background(), feedURL, "")
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	if folder.ID != "Example Feed" {
		t.Errorf("folder = %q, want Example Feed", folder.ID)
	}
	if !folder.IsRss {
		t.Error("folder should be marked as rss")
	}
	if res.AddedCount != 2 || folder.NoteCount != 2 {
		t.Errorf("added = %d, NoteCount = %d, want 2, 2", res.AddedCount, folder.NoteCount)
	}

	n, err := st.Note("Example Feed/First post.md")
	if err != nil {
		t.Fatalf("Note() failed: %v", err)
	}
	if n.Title != "First post" {
		t.Errorf("title = %q, want First post", n.Title)
	}
	if !strings.HasPrefix(n.Content, "# First post\n\nhttps://example.com/1\n\none") {
		t.Errorf("content = %q", n.Content)
	}

	sub := st.Sidecar().LoadSubscription(folder.Path)
	if sub == nil || sub.URL != feedURL || len(sub.Items) != 2 {
		t.Fatalf("subscription = %+v", sub)
	}
	if !sub.LastFetched.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("lastFetched = %v", sub.LastFetched)
	}
}

func TestSubscribe_InvalidURL(t *testing.T) {
	svc, _, fetcher := newTestService(t)
	if _, _, err := svc.Subscribe(context.Background(), "not a url", ""); err == nil {
		t.Fatal("Subscribe() with an invalid url should fail")
	}
	if fetcher.calls != 0 {
		t.Errorf("fetch calls = %d, want 0", fetcher.calls)
	}
}

func TestRefresh_Dedup(t *testing.T) {
	svc, st, fetcher := newTestService(t)
	folder, _, err := svc.Subscribe(context.Background(), feedURL, "News")
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	res, err := svc.Refresh(context.Background(), folder.ID)
	if err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if res.AddedCount != 0 {
		t.Errorf("AddedCount = %d, want 0 for known guids", res.AddedCount)
	}

	fetcher.set(feedURL, &Feed{
		Title: "Example Feed",
		Items: []FeedItem{
			{GUID: "post-3", Link: "https://example.com/3", Title: "Third post"},
			{GUID: "post-1", Link: "https://example.com/1", Title: "First post"},
		},
	})
	res, err = svc.Refresh(context.Background(), folder.ID)
	if err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if res.AddedCount != 1 || res.Items[0].GUID != "post-3" {
		t.Errorf("result = %+v, want post-3 only", res)
	}
	sub := st.Sidecar().LoadSubscription(folder.Path)
	if len(sub.Items) != 3 {
		t.Errorf("sidecar items = %d, want 3", len(sub.Items))
	}
	if f, _ := st.Folder(folder.ID); f.NoteCount != 3 {
		t.Errorf("NoteCount = %d, want 3", f.NoteCount)
	}
}

func TestRefresh_LinkFallbackAndDeletedItem(t *testing.T) {
	svc, st, fetcher := newTestService(t)
	fetcher.set(feedURL, &Feed{
		Title: "Links",
		Items: []FeedItem{{Link: "https://example.com/only-link", Title: "Linked"}},
	})
	folder, res, err := svc.Subscribe(context.Background(), feedURL, "")
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	if res.AddedCount != 1 {
		t.Fatalf("AddedCount = %d, want 1", res.AddedCount)
	}

	// A deleted item note is not imported again.
	if err := st.DeleteNote("Links/Linked.md"); err != nil {
		t.Fatalf("DeleteNote() failed: %v", err)
	}
	res, err = svc.Refresh(context.Background(), folder.ID)
	if err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if res.AddedCount != 0 {
		t.Errorf("AddedCount = %d, want 0", res.AddedCount)
	}
}

func TestRefresh_SameTitleGetsSuffix(t *testing.T) {
	svc, st, fetcher := newTestService(t)
	fetcher.set(feedURL, &Feed{
		Title: "Dupes",
		Items: []FeedItem{
			{GUID: "a", Title: "Weekly"},
			{GUID: "b", Title: "Weekly"},
		},
	})
	if _, _, err := svc.Subscribe(context.Background(), feedURL, ""); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	for _, id := range []string{"Dupes/Weekly.md", "Dupes/Weekly-2.md"} {
		if _, err := st.Note(id); err != nil {
			t.Errorf("Note(%s) failed: %v", id, err)
		}
	}
}

func TestRefresh_NotSubscribed(t *testing.T) {
	svc, st, _ := newTestService(t)
	folder, err := st.CreateFolder("Plain")
	if err != nil {
		t.Fatalf("CreateFolder() failed: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), folder.ID); !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("Refresh() error = %v, want ErrNotSubscribed", err)
	}
}

func TestRefreshAll_CollectsErrors(t *testing.T) {
	svc, st, _ := newTestService(t)
	if _, _, err := svc.Subscribe(context.Background(), feedURL, "Good"); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	bad, err := st.CreateFolder("Bad")
	if err != nil {
		t.Fatalf("CreateFolder() failed: %v", err)
	}
	if err := st.Sidecar().UpsertSubscription(bad.Path, &sidecar.Subscription{URL: "https://example.com/gone.xml"}); err != nil {
		t.Fatalf("UpsertSubscription() failed: %v", err)
	}
	if err := st.Rescan(context.Background()); err != nil {
		t.Fatalf("Rescan() failed: %v", err)
	}

	results, err := svc.RefreshAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "refresh Bad") {
		t.Errorf("RefreshAll() error = %v, want failure for Bad", err)
	}
	if len(results) != 1 || results[0].FolderID != "Good" {
		t.Errorf("results = %+v, want Good only", results)
	}
}

func TestRenderItem(t *testing.T) {
	item := FeedItem{
		GUID:        "post-17",
		Link:        "https://example.com/post",
		Title:       "Release notes",
		Description: "Details.",
		Published:   "2024-03-01T10:00:00Z",
	}
	text, err := RenderItem(item, feedURL)
	if err != nil {
		t.Fatalf("RenderItem() failed: %v", err)
	}
	doc := frontmatter.Parse(text)
	want := frontmatter.Meta{
		Hidden:    true,
		Title:     "Release notes",
		Link:      "https://example.com/post",
		GUID:      "post-17",
		Published: "2024-03-01T10:00:00Z",
		Source:    feedURL,
	}
	if doc.Meta != want {
		t.Errorf("meta = %+v, want %+v", doc.Meta, want)
	}
	if got := doc.Content(); got != "# Release notes\n\nhttps://example.com/post\n\nDetails.\n" {
		t.Errorf("content = %q", got)
	}
}

func TestParseString(t *testing.T) {
	const text = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Sample</title>
<item><title>One</title><link>https://example.com/1</link><guid>g1</guid>
<pubDate>Fri, 01 Mar 2024 10:00:00 +0000</pubDate><description>first</description></item>
<item><title>Two</title><link>https://example.com/2</link></item>
</channel></rss>`

	feed, err := ParseString(text)
	if err != nil {
		t.Fatalf("ParseString() failed: %v", err)
	}
	if feed.Title != "Sample" || len(feed.Items) != 2 {
		t.Fatalf("feed = %+v", feed)
	}
	if feed.Items[0].Key() != "g1" || feed.Items[0].Published != "2024-03-01T10:00:00Z" {
		t.Errorf("item 0 = %+v", feed.Items[0])
	}
	if feed.Items[1].Key() != "https://example.com/2" {
		t.Errorf("item 1 key = %q, want link", feed.Items[1].Key())
	}
}

func TestHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(0, "")
	if f.Timeout != DefaultTimeout || f.UserAgent != DefaultUserAgent || f.Client == nil {
		t.Errorf("fetcher = %+v", f)
	}
}

func TestSubscribe_SidecarOnDisk(t *testing.T) {
	svc, _, _ := newTestService(t)
	folder, _, err := svc.Subscribe(context.Background(), feedURL, "")
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(folder.Path, sidecar.RSSFile))
	if err != nil {
		t.Fatalf("read sidecar failed: %v", err)
	}
	for _, want := range []string{`"type": "rss"`, `"url": "` + feedURL + `"`, `"guid": "post-1"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("sidecar missing %s:\n%s", want, data)
		}
	}
}
