// Package adapter turns site-specific gallery pages into the neutral
// shapes the crawl and download pipeline consumes: sub-category links,
// albums, and per-image candidate URL groups. New site support is a new
// Adapter implementation, not a core change.
package adapter

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/xmarre/Copperminer/pkg/models"
)

// PageGetter fetches a page body, normally through the crawl session's
// page cache
type PageGetter func(ctx context.Context, pageURL string) (string, error)

// PageLinks is everything an adapter extracts from a category page
type PageLinks struct {
	Title   string
	SubCats []models.Link
	Albums  []models.Album
}

// Adapter parses one family of gallery sites
type Adapter interface {
	Name() string
	// Match reports whether this adapter handles the given root URL
	Match(rawURL string) bool
	// ParseTree extracts sub-category links and albums from a category page
	ParseTree(pageURL, html string) PageLinks
	// AlbumImages resolves every logical image in an album to its
	// ordered candidate URLs, following pagination via get
	AlbumImages(ctx context.Context, albumURL string, get PageGetter) ([]models.ImageEntry, error)
}

// ForURL returns the adapter responsible for a root URL: the universal
// rule-driven adapter when a rule set matches the domain, the
// coppermine adapter otherwise.
func ForURL(rawURL string) Adapter {
	if rules := rulesFor(rawURL); rules != nil {
		return &Universal{rules: rules}
	}
	return &Coppermine{}
}

var imageExtRe = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp|bmp|tiff)$`)

// resolve joins href against base, returning "" when either is
// unparseable
func resolve(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	h, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(h).String()
}

// fileName returns the path base of a URL with any query stripped
func fileName(rawURL string) string {
	trimmed := rawURL
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return trimmed
}

// uiImageNames are exact file names of theme/icon assets that show up
// inside album pages
var uiImageNames = map[string]bool{
	"rate_empty.png":     true,
	"rate_full.png":      true,
	"rate_highlight.png": true,
	"folder.gif":         true,
	"thumbs.db":          true,
	"spacer.gif":         true,
}

var uiPathPatterns = []string{"/themes/", "/images/", "/icons/", "/button_", "/star", "/rating"}

// isUIImage reports whether a candidate looks like a UI/icon asset
// rather than gallery content
func isUIImage(rawURL, name string) bool {
	if uiImageNames[strings.ToLower(name)] {
		return true
	}
	for _, p := range uiPathPatterns {
		if strings.Contains(rawURL, p) {
			return true
		}
	}
	return false
}

// filterEntries drops UI/icon assets from an extracted image list
func filterEntries(entries []models.ImageEntry) []models.ImageEntry {
	var kept []models.ImageEntry
	for _, e := range entries {
		if len(e.Candidates) == 0 {
			continue
		}
		if isUIImage(e.Candidates[0], fileName(e.Candidates[0])) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}
