package crawl

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/xmarre/Copperminer/pkg/cache"
	"github.com/xmarre/Copperminer/pkg/models"
)

// sitefetcher serves a scripted coppermine site out of memory
type siteFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	etags map[string]string
	gets  map[string]int
	heads map[string]int
}

func newSiteFetcher() *siteFetcher {
	return &siteFetcher{
		pages: map[string]string{},
		etags: map[string]string{},
		gets:  map[string]int{},
		heads: map[string]int{},
	}
}

func (f *siteFetcher) set(url, body, etag string) {
	f.pages[url] = body
	f.etags[url] = etag
}

func (f *siteFetcher) Head(ctx context.Context, url string, headers map[string]string) (int, http.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads[url]++

	etag, ok := f.etags[url]
	if !ok {
		return http.StatusNotFound, nil, nil
	}
	if headers["If-None-Match"] == etag {
		return http.StatusNotModified, nil, nil
	}
	h := http.Header{}
	h.Set("ETag", etag)
	return http.StatusOK, h, nil
}

func (f *siteFetcher) GetText(ctx context.Context, url string, headers map[string]string) (string, http.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets[url]++

	body, ok := f.pages[url]
	if !ok {
		return "", nil, fmt.Errorf("no such page: %s", url)
	}
	h := http.Header{}
	h.Set("ETag", f.etags[url])
	return body, h, nil
}

const (
	rootURL   = "http://g.example/index.php?cat=0"
	eventsURL = "http://g.example/index.php?cat=2"
	albumURL  = "http://g.example/thumbnails.php?album=7"
)

func scriptSite(f *siteFetcher) {
	f.set(rootURL, `<html><head><title>Fan Gallery</title></head><body>
		<a href="index.php?cat=2">Events</a>
		<a href="thumbnails.php?album=5">Portraits</a>
		</body></html>`, `"root-v1"`)
	f.set(eventsURL, `<html><head><title>Events</title></head><body>
		<a href="thumbnails.php?album=7">Premiere Night</a>
		</body></html>`, `"events-v1"`)
	f.set(albumURL, `<html><body>
		<a href="displayimage.php?album=7&pid=1">pic</a>
		</body></html>`, `"album-v1"`)
	f.set("http://g.example/displayimage.php?album=7&pid=1", `<html><body>
		<a class="fancybox" href="albums/pic_001.jpg">x</a>
		</body></html>`, `"detail-v1"`)
}

func TestDiscoverBuildsTree(t *testing.T) {
	f := newSiteFetcher()
	scriptSite(f)

	cr := New(rootURL, cache.New(f, nil), nil)
	tree, err := cr.Discover(context.Background(), rootURL)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if tree.Name != "Fan Gallery" {
		t.Errorf("root name = %q", tree.Name)
	}
	if len(tree.Albums) != 1 || tree.Albums[0].Name != "Portraits" {
		t.Errorf("root albums = %+v", tree.Albums)
	}
	if len(tree.Children) != 1 {
		t.Fatalf("root children = %+v", tree.Children)
	}
	events := tree.Children[0]
	if events.Name != "Events" || len(events.Albums) != 1 {
		t.Errorf("events node = %+v", events)
	}
	if tree.ChildHash == "" || events.ChildHash == "" {
		t.Error("child hashes not recorded")
	}
}

func TestDiscoverReusesUnchangedSubtree(t *testing.T) {
	f := newSiteFetcher()
	scriptSite(f)

	pc := cache.New(f, nil)
	cr := New(rootURL, pc, nil)
	first, err := cr.Discover(context.Background(), rootURL)
	if err != nil {
		t.Fatal(err)
	}

	// Second discovery on the same cache, seeded with the first tree:
	// every page probes 304, so no page is refetched and the subtree is
	// reused wholesale
	getsBefore := f.gets[eventsURL]
	cr2 := New(rootURL, pc, nil)
	cr2.UseCachedTree(first)
	second, err := cr2.Discover(context.Background(), rootURL)
	if err != nil {
		t.Fatal(err)
	}
	if f.gets[eventsURL] != getsBefore {
		t.Error("unchanged subcategory page was refetched")
	}
	if second.Children[0] != first.Children[0] {
		t.Error("unchanged subtree was rebuilt instead of reused")
	}
}

func TestDiscoverRecrawlsChangedSubtree(t *testing.T) {
	f := newSiteFetcher()
	scriptSite(f)

	pc := cache.New(f, nil)
	cr := New(rootURL, pc, nil)
	first, err := cr.Discover(context.Background(), rootURL)
	if err != nil {
		t.Fatal(err)
	}

	// A new album appears directly under the root; Events is untouched
	f.set(rootURL, `<html><head><title>Fan Gallery</title></head><body>
		<a href="index.php?cat=2">Events</a>
		<a href="thumbnails.php?album=5">Portraits</a>
		<a href="thumbnails.php?album=9">Afterparty</a>
		</body></html>`, `"root-v2"`)

	cr2 := New(rootURL, pc, nil)
	cr2.UseCachedTree(first)
	second, err := cr2.Discover(context.Background(), rootURL)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Albums) != 2 {
		t.Errorf("changed root not re-crawled: %+v", second.Albums)
	}
	// The untouched Events subtree is still reused, not rebuilt
	if second.Children[0] != first.Children[0] {
		t.Error("unchanged subtree was rebuilt during a partial re-crawl")
	}
}

func TestAlbumImagesCachedAcrossScans(t *testing.T) {
	f := newSiteFetcher()
	scriptSite(f)

	pc := cache.New(f, nil)
	cr := New(rootURL, pc, nil)

	entries, err := cr.AlbumImages(context.Background(), albumURL)
	if err != nil {
		t.Fatalf("AlbumImages failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "pic_001.jpg" {
		t.Fatalf("entries = %+v", entries)
	}

	// Unchanged album page: the stored list is served, the detail page
	// is not refetched
	detailGets := f.gets["http://g.example/displayimage.php?album=7&pid=1"]
	again, err := cr.AlbumImages(context.Background(), albumURL)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 1 {
		t.Fatalf("cached entries = %+v", again)
	}
	if f.gets["http://g.example/displayimage.php?album=7&pid=1"] != detailGets {
		t.Error("cached image list should avoid refetching detail pages")
	}
}

func TestAlbumTasksCarryPathSegments(t *testing.T) {
	f := newSiteFetcher()
	scriptSite(f)

	cr := New(rootURL, cache.New(f, nil), nil)
	album := models.Album{Type: "album", Name: "Premiere Night", URL: albumURL}

	tasks, err := cr.AlbumTasks(context.Background(), album, []string{"Fan Gallery", "Events"})
	if err != nil {
		t.Fatalf("AlbumTasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %+v", tasks)
	}
	want := []string{"Fan Gallery", "Events", "Premiere Night"}
	if len(tasks[0].PathSegments) != len(want) {
		t.Fatalf("segments = %v", tasks[0].PathSegments)
	}
	for i := range want {
		if tasks[0].PathSegments[i] != want[i] {
			t.Errorf("segment %d = %q, want %q", i, tasks[0].PathSegments[i], want[i])
		}
	}
	if tasks[0].AlbumLabel != "Premiere Night" || tasks[0].Name != "pic_001.jpg" {
		t.Errorf("task = %+v", tasks[0])
	}
}

func TestForceRefreshRefetchesEveryPage(t *testing.T) {
	dir := t.TempDir()
	f := newSiteFetcher()
	scriptSite(f)

	s := Open(rootURL, dir, f, nil)
	if _, err := s.Discover(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Save()

	// A new album appears under Events while the root page is untouched,
	// so a quick scan would reuse the whole cached subtree and miss it
	f.set(eventsURL, `<html><head><title>Events</title></head><body>
		<a href="thumbnails.php?album=7">Premiere Night</a>
		<a href="thumbnails.php?album=9">Afterparty</a>
		</body></html>`, `"events-v2"`)

	reopened := Open(rootURL, dir, f, nil)
	reopened.ForceRefresh()

	rootGets, eventsGets := f.gets[rootURL], f.gets[eventsURL]
	tree, err := reopened.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.gets[rootURL] != rootGets+1 || f.gets[eventsURL] != eventsGets+1 {
		t.Errorf("full rescan must refetch every page, gets = root %d events %d",
			f.gets[rootURL]-rootGets, f.gets[eventsURL]-eventsGets)
	}
	if len(tree.Children) != 1 || len(tree.Children[0].Albums) != 2 {
		t.Errorf("deep change not picked up: %+v", tree.Children)
	}
}

func TestSessionSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	f := newSiteFetcher()
	scriptSite(f)

	s := Open(rootURL, dir, f, nil)
	if s.Tree != nil {
		t.Fatal("expected no cached tree on first open")
	}
	if _, err := s.Discover(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Save()

	reopened := Open(rootURL, dir, f, nil)
	if reopened.Tree == nil {
		t.Fatal("expected the persisted tree on reopen")
	}
	if reopened.Tree.Name != "Fan Gallery" {
		t.Errorf("reloaded tree name = %q", reopened.Tree.Name)
	}
}
