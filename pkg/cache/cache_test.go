package cache

import (
	"context"
	"net/http"
	"testing"

	errs "github.com/xmarre/Copperminer/pkg/errors"
	"github.com/xmarre/Copperminer/pkg/models"
)

// scriptedFetcher serves canned responses and counts calls
type scriptedFetcher struct {
	headStatus  int
	headHeaders http.Header
	headErr     error
	body        string
	getHeaders  http.Header
	getErr      error

	headCalls int
	getCalls  int
	lastHead  map[string]string
}

func (f *scriptedFetcher) Head(ctx context.Context, url string, headers map[string]string) (int, http.Header, error) {
	f.headCalls++
	f.lastHead = headers
	return f.headStatus, f.headHeaders, f.headErr
}

func (f *scriptedFetcher) GetText(ctx context.Context, url string, headers map[string]string) (string, http.Header, error) {
	f.getCalls++
	return f.body, f.getHeaders, f.getErr
}

func TestFetchCachedFirstFetch(t *testing.T) {
	f := &scriptedFetcher{
		body:       "<html>page</html>",
		getHeaders: http.Header{"Etag": []string{`"v1"`}},
	}
	pc := New(f, nil)

	body, changed, err := pc.FetchCached(context.Background(), "http://g.example/", true)
	if err != nil {
		t.Fatalf("FetchCached failed: %v", err)
	}
	if !changed {
		t.Error("first fetch must report changed")
	}
	if body != "<html>page</html>" {
		t.Errorf("unexpected body %q", body)
	}
	entry, ok := pc.Get("http://g.example/")
	if !ok || entry.ETag != `"v1"` {
		t.Error("validators not stored on the entry")
	}
	if f.headCalls != 0 {
		t.Error("no probe expected on a cold fetch")
	}
}

func TestFetchCachedQuickScan304(t *testing.T) {
	f := &scriptedFetcher{
		body:       "<html>page</html>",
		getHeaders: http.Header{"Etag": []string{`"v1"`}},
	}
	pc := New(f, nil)
	if _, _, err := pc.FetchCached(context.Background(), "http://g.example/", true); err != nil {
		t.Fatal(err)
	}

	f.headStatus = http.StatusNotModified
	body, changed, err := pc.FetchCached(context.Background(), "http://g.example/", true)
	if err != nil {
		t.Fatalf("FetchCached failed: %v", err)
	}
	if changed {
		t.Error("304 probe must report unchanged")
	}
	if body != "<html>page</html>" {
		t.Errorf("unexpected body %q", body)
	}
	if f.getCalls != 1 {
		t.Errorf("expected no second GET, got %d", f.getCalls)
	}
	if f.lastHead["If-None-Match"] != `"v1"` {
		t.Errorf("conditional header missing, got %v", f.lastHead)
	}
}

func TestFetchCachedQuickScanMatchingValidators(t *testing.T) {
	f := &scriptedFetcher{
		body:       "<html>page</html>",
		getHeaders: http.Header{"Last-Modified": []string{"Mon, 01 Jan 2024 00:00:00 GMT"}},
	}
	pc := New(f, nil)
	if _, _, err := pc.FetchCached(context.Background(), "http://g.example/", true); err != nil {
		t.Fatal(err)
	}

	// Host ignores conditionals but echoes the same Last-Modified
	f.headStatus = http.StatusOK
	f.headHeaders = http.Header{"Last-Modified": []string{"Mon, 01 Jan 2024 00:00:00 GMT"}}

	_, changed, err := pc.FetchCached(context.Background(), "http://g.example/", true)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("matching validators must report unchanged")
	}
	if f.getCalls != 1 {
		t.Errorf("expected no second GET, got %d", f.getCalls)
	}
}

func TestFetchCachedQuickScanChangedPage(t *testing.T) {
	f := &scriptedFetcher{
		body:       "<html>v1</html>",
		getHeaders: http.Header{"Etag": []string{`"v1"`}},
	}
	pc := New(f, nil)
	if _, _, err := pc.FetchCached(context.Background(), "http://g.example/", true); err != nil {
		t.Fatal(err)
	}

	f.headStatus = http.StatusOK
	f.headHeaders = http.Header{"Etag": []string{`"v2"`}}
	f.body = "<html>v2</html>"
	f.getHeaders = http.Header{"Etag": []string{`"v2"`}}

	body, changed, err := pc.FetchCached(context.Background(), "http://g.example/", true)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("new validators must trigger a full refetch")
	}
	if body != "<html>v2</html>" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestFetchCachedProbeFailureDegradesToCache(t *testing.T) {
	f := &scriptedFetcher{body: "<html>page</html>"}
	pc := New(f, nil)
	if _, _, err := pc.FetchCached(context.Background(), "http://g.example/", true); err != nil {
		t.Fatal(err)
	}

	f.headErr = errs.New(errs.ErrorTypeNetwork, 0, "probe failed")
	body, changed, err := pc.FetchCached(context.Background(), "http://g.example/", true)
	if err != nil {
		t.Fatalf("probe failure must not surface: %v", err)
	}
	if changed || body != "<html>page</html>" {
		t.Error("expected the cached copy on probe failure")
	}
}

func TestFetchCachedRefreshFailureServesStale(t *testing.T) {
	f := &scriptedFetcher{body: "<html>page</html>"}
	pc := New(f, nil)
	if _, _, err := pc.FetchCached(context.Background(), "http://g.example/", true); err != nil {
		t.Fatal(err)
	}

	// Probe says the page moved on, but the refresh itself dies
	f.headStatus = http.StatusOK
	f.headHeaders = http.Header{"Etag": []string{`"v2"`}}
	f.getErr = errs.New(errs.ErrorTypeNetwork, 0, "connection reset")

	body, changed, err := pc.FetchCached(context.Background(), "http://g.example/", true)
	if err != nil {
		t.Fatalf("stale degrade must not surface an error: %v", err)
	}
	if changed || body != "<html>page</html>" {
		t.Error("expected the stale copy when the refresh fails")
	}
}

func TestFetchCachedNoQuickScanSkipsProbe(t *testing.T) {
	f := &scriptedFetcher{body: "<html>page</html>"}
	pc := New(f, nil)
	if _, _, err := pc.FetchCached(context.Background(), "http://g.example/", false); err != nil {
		t.Fatal(err)
	}

	_, changed, err := pc.FetchCached(context.Background(), "http://g.example/", false)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("cached entry without quick scan must be served as-is")
	}
	if f.headCalls != 0 {
		t.Errorf("expected no probes, got %d", f.headCalls)
	}
}

func TestSetImagesStoresHash(t *testing.T) {
	f := &scriptedFetcher{body: "<html>album</html>"}
	pc := New(f, nil)
	if _, _, err := pc.FetchCached(context.Background(), "http://g.example/album", true); err != nil {
		t.Fatal(err)
	}

	images := []models.ImageEntry{
		{Name: "a.jpg", Candidates: []string{"http://g.example/a.jpg", "http://g.example/normal_a.jpg"}},
		{Name: "b.jpg", Candidates: []string{"http://g.example/b.jpg"}},
	}
	pc.SetImages("http://g.example/album", images)

	entry, ok := pc.Get("http://g.example/album")
	if !ok {
		t.Fatal("entry missing")
	}
	if len(entry.Images) != 2 {
		t.Errorf("stored %d images, want 2", len(entry.Images))
	}
	want := HashStrings([]string{
		"http://g.example/a.jpg", "http://g.example/normal_a.jpg", "http://g.example/b.jpg",
	})
	if entry.ImageHash != want {
		t.Error("image hash differs from the candidate list hash")
	}
}
