package cache

import (
	"context"
	"net/http"
	"time"

	"github.com/xmarre/Copperminer/pkg/logger"
	"github.com/xmarre/Copperminer/pkg/models"
)

// Fetcher is the subset of the fetch client the cache depends on
type Fetcher interface {
	Head(ctx context.Context, url string, headers map[string]string) (int, http.Header, error)
	GetText(ctx context.Context, url string, headers map[string]string) (string, http.Header, error)
}

// Entry is the cached state of one page
type Entry struct {
	URL          string               `json:"url"`
	Body         string               `json:"body"`
	ETag         string               `json:"etag,omitempty"`
	LastModified string               `json:"last_modified,omitempty"`
	FetchedAt    time.Time            `json:"fetched_at"`
	ChildHash    string               `json:"child_hash,omitempty"`
	Images       []models.ImageEntry  `json:"images,omitempty"`
	ImageHash    string               `json:"image_hash,omitempty"`
}

// PageCache stores pages by URL with the conditional-request metadata
// needed to refresh them cheaply. It is owned by a single crawl session
// and mutated only during the discovery phase, so per-key access
// discipline suffices.
type PageCache struct {
	fetcher Fetcher
	logger  logger.Logger
	entries map[string]*Entry
}

// New creates a page cache backed by the given fetcher
func New(fetcher Fetcher, log logger.Logger) *PageCache {
	if log == nil {
		log = logger.GetLogger()
	}
	return &PageCache{
		fetcher: fetcher,
		logger:  log,
		entries: make(map[string]*Entry),
	}
}

// Get returns the cached entry for a URL, if any
func (c *PageCache) Get(url string) (*Entry, bool) {
	e, ok := c.entries[url]
	return e, ok
}

// Len returns the number of cached pages
func (c *PageCache) Len() int {
	return len(c.entries)
}

// Clear drops every cached page, forcing the next FetchCached of any
// URL to refetch it
func (c *PageCache) Clear() {
	c.entries = make(map[string]*Entry)
}

// FetchCached returns the page body for url, using the cache when
// possible. With quickScan, a cached entry is first probed with a
// conditional HEAD; a 304 or a 200 whose validators match means the
// page is unchanged and the cached body is returned without
// re-downloading it. Without quickScan a present entry is always
// considered fresh. changed reports whether a full GET happened.
func (c *PageCache) FetchCached(ctx context.Context, url string, quickScan bool) (string, bool, error) {
	entry, ok := c.entries[url]

	if ok && !quickScan {
		c.logger.DebugWithFields("using cached page", map[string]interface{}{"url": url})
		return entry.Body, false, nil
	}

	if ok && quickScan {
		headers := map[string]string{}
		if entry.ETag != "" {
			headers["If-None-Match"] = entry.ETag
		}
		if entry.LastModified != "" {
			headers["If-Modified-Since"] = entry.LastModified
		}

		status, respHeaders, err := c.fetcher.Head(ctx, url, headers)
		if err != nil {
			// Probe failure is not worth a re-download
			c.logger.DebugWithFields("conditional probe failed, using cached page", map[string]interface{}{
				"url": url, "error": err.Error(),
			})
			return entry.Body, false, nil
		}
		if status == http.StatusNotModified {
			entry.FetchedAt = time.Now()
			c.logger.DebugWithFields("using cached page (304)", map[string]interface{}{"url": url})
			return entry.Body, false, nil
		}
		if status == http.StatusOK {
			et := respHeaders.Get("ETag")
			lm := respHeaders.Get("Last-Modified")
			if (et != "" && et == entry.ETag) || (lm != "" && lm == entry.LastModified) {
				entry.FetchedAt = time.Now()
				c.logger.DebugWithFields("using cached page (validators match)", map[string]interface{}{"url": url})
				return entry.Body, false, nil
			}
		}
	}

	body, respHeaders, err := c.fetcher.GetText(ctx, url, nil)
	if err != nil {
		if ok {
			// Degrade to the stale copy rather than failing the crawl
			c.logger.WarnWithFields("refresh failed, using stale cached page", map[string]interface{}{
				"url": url, "error": err.Error(),
			})
			return entry.Body, false, nil
		}
		return "", false, err
	}

	c.entries[url] = &Entry{
		URL:          url,
		Body:         body,
		ETag:         respHeaders.Get("ETag"),
		LastModified: respHeaders.Get("Last-Modified"),
		FetchedAt:    time.Now(),
	}
	c.logger.DebugWithFields("fetched page", map[string]interface{}{"url": url})
	return body, true, nil
}

// SetChildHash stores the structural hash on a page's entry
func (c *PageCache) SetChildHash(url, hash string) {
	if e, ok := c.entries[url]; ok {
		e.ChildHash = hash
	}
}

// SetImages stores the resolved image list and its hash on a page's
// entry so a later quick scan can reuse it
func (c *PageCache) SetImages(url string, images []models.ImageEntry) {
	e, ok := c.entries[url]
	if !ok {
		return
	}
	var urls []string
	for _, img := range images {
		urls = append(urls, img.Candidates...)
	}
	e.Images = images
	e.ImageHash = HashStrings(urls)
}
