package cache

import (
	"context"
	"testing"
	"time"

	"github.com/xmarre/Copperminer/pkg/models"
)

func TestSiteCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	root := "http://g.example/"

	f := &scriptedFetcher{body: "<html>root</html>"}
	pc := New(f, nil)
	if _, _, err := pc.FetchCached(context.Background(), root, true); err != nil {
		t.Fatal(err)
	}
	pc.SetChildHash(root, "abc123")

	tree := &models.GalleryNode{
		Type:      "category",
		Name:      "My Gallery",
		URL:       root,
		ChildHash: "abc123",
		Albums: []models.Album{
			{Type: "album", Name: "Premiere", URL: root + "thumbnails.php?album=7"},
		},
	}
	SaveSite(dir, root, tree, pc, nil)

	reloadedPC, reloadedTree := LoadSite(dir, root, f, nil)
	if reloadedTree == nil {
		t.Fatal("tree not restored")
	}
	if reloadedTree.Name != "My Gallery" || len(reloadedTree.Albums) != 1 {
		t.Errorf("tree content lost: %+v", reloadedTree)
	}
	entry, ok := reloadedPC.Get(root)
	if !ok {
		t.Fatal("page entry not restored")
	}
	if entry.Body != "<html>root</html>" || entry.ChildHash != "abc123" {
		t.Errorf("entry content lost: %+v", entry)
	}
}

func TestLoadSiteMissingFile(t *testing.T) {
	pc, tree := LoadSite(t.TempDir(), "http://never-crawled.example/", &scriptedFetcher{}, nil)
	if tree != nil {
		t.Error("expected nil tree for an uncached site")
	}
	if pc.Len() != 0 {
		t.Error("expected an empty page cache for an uncached site")
	}
}

func TestListCached(t *testing.T) {
	dir := t.TempDir()
	f := &scriptedFetcher{body: "<html></html>"}

	for _, root := range []string{"http://a.example/", "http://b.example/"} {
		pc := New(f, nil)
		if _, _, err := pc.FetchCached(context.Background(), root, true); err != nil {
			t.Fatal(err)
		}
		SaveSite(dir, root, &models.GalleryNode{Name: "Gallery " + root, URL: root}, pc, nil)
		time.Sleep(5 * time.Millisecond)
	}

	galleries := ListCached(dir)
	if len(galleries) != 2 {
		t.Fatalf("listed %d galleries, want 2", len(galleries))
	}
	// Newest first: b.example was saved last
	if galleries[0].RootURL != "http://b.example/" {
		t.Errorf("expected newest gallery first, got %q", galleries[0].RootURL)
	}
}

func TestSitePathDistinctPerRoot(t *testing.T) {
	a := SitePath("cache", "http://a.example/")
	b := SitePath("cache", "http://b.example/")
	if a == b {
		t.Error("different roots must map to different cache files")
	}
}
