// Package crawl walks a gallery site into a category/album tree and
// resolves albums into download tasks, reusing cached pages and cached
// subtrees whenever the structural hash shows nothing changed.
package crawl

import (
	"context"
	"time"

	"github.com/xmarre/Copperminer/pkg/adapter"
	"github.com/xmarre/Copperminer/pkg/cache"
	"github.com/xmarre/Copperminer/pkg/logger"
	"github.com/xmarre/Copperminer/pkg/models"
)

// Crawler discovers one site with one adapter and one page cache
type Crawler struct {
	adapter adapter.Adapter
	cache   *cache.PageCache
	logger  logger.Logger

	// QuickScan enables conditional revalidation of cached pages and
	// subtree reuse keyed on child hashes
	QuickScan bool

	cachedNodes map[string]*models.GalleryNode
}

// New builds a crawler for rootURL, picking the adapter by URL
func New(rootURL string, pc *cache.PageCache, log logger.Logger) *Crawler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Crawler{
		adapter:     adapter.ForURL(rootURL),
		cache:       pc,
		logger:      log.WithField("adapter", adapter.ForURL(rootURL).Name()),
		QuickScan:   true,
		cachedNodes: map[string]*models.GalleryNode{},
	}
}

// UseCachedTree seeds the crawler with a previously discovered tree so
// unchanged subtrees can be reused without refetching their pages
func (c *Crawler) UseCachedTree(tree *models.GalleryNode) {
	if tree != nil {
		c.cachedNodes = tree.URLMap()
	}
}

// Adapter exposes the adapter chosen for the root URL
func (c *Crawler) Adapter() adapter.Adapter { return c.adapter }

// get adapts the page cache to the adapter's PageGetter shape
func (c *Crawler) get(ctx context.Context, pageURL string) (string, error) {
	body, _, err := c.cache.FetchCached(ctx, pageURL, c.QuickScan)
	return body, err
}

// Discover walks the site from rootURL and returns the full category
// tree. With QuickScan on, a category page whose content and child hash
// are unchanged keeps its cached subtree instead of being re-crawled.
func (c *Crawler) Discover(ctx context.Context, rootURL string) (*models.GalleryNode, error) {
	visited := map[string]bool{}
	return c.discoverNode(ctx, rootURL, "", visited)
}

func (c *Crawler) discoverNode(ctx context.Context, pageURL, name string, visited map[string]bool) (*models.GalleryNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if visited[pageURL] {
		return nil, nil
	}
	visited[pageURL] = true

	body, changed, err := c.cache.FetchCached(ctx, pageURL, c.QuickScan)
	if err != nil {
		return nil, err
	}

	links := c.adapter.ParseTree(pageURL, body)
	if name == "" {
		name = links.Title
		if name == "" {
			name = pageURL
		}
	}
	childHash := cache.ChildHash(links.SubCats, links.Albums)
	c.cache.SetChildHash(pageURL, childHash)

	if !changed {
		if cached, ok := c.cachedNodes[pageURL]; ok && cached.ChildHash == childHash {
			c.logger.DebugWithFields("Reusing cached subtree",
				map[string]interface{}{"url": pageURL, "child_hash": childHash})
			// Mark the whole subtree visited so siblings cannot
			// re-enter it
			cached.Walk(func(n *models.GalleryNode) { visited[n.URL] = true })
			return cached, nil
		}
	}

	node := &models.GalleryNode{
		Type:      "category",
		Name:      name,
		URL:       pageURL,
		ChildHash: childHash,
		Albums:    links.Albums,
	}
	for _, sub := range links.SubCats {
		child, err := c.discoverNode(ctx, sub.URL, sub.Name, visited)
		if err != nil {
			c.logger.WithError(err).WarnWithFields("Skipping unreachable category",
				map[string]interface{}{"url": sub.URL})
			continue
		}
		if child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node, nil
}

// AlbumImages resolves an album to its image entries, serving the
// cached list when the album page is unchanged
func (c *Crawler) AlbumImages(ctx context.Context, albumURL string) ([]models.ImageEntry, error) {
	_, changed, err := c.cache.FetchCached(ctx, albumURL, c.QuickScan)
	if err != nil {
		return nil, err
	}
	if !changed {
		if entry, ok := c.cache.Get(albumURL); ok && entry.Images != nil {
			c.logger.DebugWithFields("Reusing cached image list",
				map[string]interface{}{"url": albumURL, "images": len(entry.Images)})
			return entry.Images, nil
		}
	}

	entries, err := c.adapter.AlbumImages(ctx, albumURL, c.get)
	if err != nil {
		return nil, err
	}
	c.cache.SetImages(albumURL, entries)
	return entries, nil
}

// AlbumTasks turns an album into per-image download tasks under the
// given directory segments
func (c *Crawler) AlbumTasks(ctx context.Context, album models.Album, segments []string) ([]models.DownloadTask, error) {
	entries, err := c.AlbumImages(ctx, album.URL)
	if err != nil {
		return nil, err
	}
	tasks := make([]models.DownloadTask, 0, len(entries))
	for _, e := range entries {
		tasks = append(tasks, models.DownloadTask{
			AlbumLabel:   album.Name,
			PathSegments: append(append([]string(nil), segments...), album.Name),
			Name:         e.Name,
			Candidates:   e.Candidates,
			Referer:      e.Referer,
		})
	}
	return tasks, nil
}

// Session ties a crawler to its persisted site cache on disk
type Session struct {
	RootURL  string
	CacheDir string
	Crawler  *Crawler
	Tree     *models.GalleryNode

	pc  *cache.PageCache
	log logger.Logger
}

// Open loads any persisted cache for rootURL and returns a session
// ready to discover
func Open(rootURL, cacheDir string, fetcher cache.Fetcher, log logger.Logger) *Session {
	if log == nil {
		log = logger.GetLogger()
	}
	pc, tree := cache.LoadSite(cacheDir, rootURL, fetcher, log)
	cr := New(rootURL, pc, log)
	cr.UseCachedTree(tree)
	return &Session{
		RootURL:  rootURL,
		CacheDir: cacheDir,
		Crawler:  cr,
		Tree:     tree,
		pc:       pc,
		log:      log,
	}
}

// ForceRefresh discards the loaded page cache so the next Discover
// refetches every page from the live site. The previously discovered
// tree is kept for naming, but no subtree can be reused because every
// page comes back changed.
func (s *Session) ForceRefresh() {
	s.pc.Clear()
}

// Discover refreshes the session's tree from the live site
func (s *Session) Discover(ctx context.Context) (*models.GalleryNode, error) {
	started := time.Now()
	tree, err := s.Crawler.Discover(ctx, s.RootURL)
	if err != nil {
		return nil, err
	}
	s.Tree = tree
	s.log.InfoWithFields("Discovery complete", map[string]interface{}{
		"root":     s.RootURL,
		"duration": time.Since(started).String(),
	})
	return tree, nil
}

// Save persists the session's tree and page cache
func (s *Session) Save() {
	cache.SaveSite(s.CacheDir, s.RootURL, s.Tree, s.pc, s.log)
}
