package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xmarre/Copperminer/pkg/logger"
	"github.com/xmarre/Copperminer/pkg/models"
)

// SiteCache is the persisted crawl state for one root URL: the
// discovered tree plus the full page cache behind it
type SiteCache struct {
	Timestamp    time.Time           `json:"timestamp"`
	RootURL      string              `json:"root_url"`
	GalleryTitle string              `json:"gallery_title"`
	Tree         *models.GalleryNode `json:"tree"`
	Pages        map[string]*Entry   `json:"pages"`
}

// SitePath returns the cache file path for a root URL, keyed by a hash
// of the URL
func SitePath(dir, rootURL string) string {
	sum := sha1.Sum([]byte(rootURL))
	return filepath.Join(dir, hex.EncodeToString(sum[:])+".json")
}

// LoadSite reads the persisted crawl state for rootURL. Missing or
// corrupt files yield an empty cache and nil tree, never an error.
func LoadSite(dir, rootURL string, fetcher Fetcher, log logger.Logger) (*PageCache, *models.GalleryNode) {
	if log == nil {
		log = logger.GetLogger()
	}
	pc := New(fetcher, log)

	data, err := os.ReadFile(SitePath(dir, rootURL))
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warn("site cache unreadable, starting fresh")
		}
		return pc, nil
	}

	var site SiteCache
	if err := json.Unmarshal(data, &site); err != nil {
		log.WithError(err).Warn("site cache corrupt, starting fresh")
		return pc, nil
	}

	if site.Pages != nil {
		pc.entries = site.Pages
	}
	return pc, site.Tree
}

// SaveSite writes the crawl state for rootURL atomically. Failures are
// logged and swallowed.
func SaveSite(dir, rootURL string, tree *models.GalleryNode, pc *PageCache, log logger.Logger) {
	if log == nil {
		log = logger.GetLogger()
	}

	title := rootURL
	if tree != nil && tree.Name != "" {
		title = tree.Name
	}

	site := SiteCache{
		Timestamp:    time.Now(),
		RootURL:      rootURL,
		GalleryTitle: title,
		Tree:         tree,
		Pages:        pc.entries,
	}

	data, err := json.MarshalIndent(site, "", "  ")
	if err != nil {
		log.WithError(err).Warn("failed to encode site cache")
		return
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		log.WithError(err).Warn("failed to create cache directory")
		return
	}

	path := SitePath(dir, rootURL)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		log.WithError(err).Warn("failed to write site cache")
		return
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		log.WithError(err).Warn("failed to replace site cache")
	}
}

// CachedGallery identifies one previously crawled site
type CachedGallery struct {
	RootURL string
	Title   string
}

// ListCached returns the cached galleries, newest first, one entry per
// root URL
func ListCached(dir string) []CachedGallery {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil
	}

	type stamped struct {
		at    time.Time
		entry CachedGallery
	}
	var all []stamped
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var site SiteCache
		if err := json.Unmarshal(data, &site); err != nil || site.RootURL == "" {
			continue
		}
		all = append(all, stamped{at: site.Timestamp, entry: CachedGallery{
			RootURL: site.RootURL,
			Title:   site.GalleryTitle,
		}})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].at.After(all[j].at) })

	seen := make(map[string]bool)
	var ordered []CachedGallery
	for _, s := range all {
		if seen[s.entry.RootURL] {
			continue
		}
		seen[s.entry.RootURL] = true
		ordered = append(ordered, s.entry)
	}
	return ordered
}
