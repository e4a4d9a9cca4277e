package models

// Link is a named URL discovered on a page
type Link struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Album is a downloadable collection of images
type Album struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	ImageCount int    `json:"image_count,omitempty"`
}

// GalleryNode is one node of the discovered category tree
type GalleryNode struct {
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	URL       string         `json:"url"`
	ChildHash string         `json:"child_hash,omitempty"`
	Children  []*GalleryNode `json:"children,omitempty"`
	Albums    []Album        `json:"albums,omitempty"`
}

// Walk calls fn for the node and every descendant
func (n *GalleryNode) Walk(fn func(*GalleryNode)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// URLMap returns a mapping from URL to node for the node and all its
// descendants, used for quick-scan subtree reuse
func (n *GalleryNode) URLMap() map[string]*GalleryNode {
	mapping := make(map[string]*GalleryNode)
	n.Walk(func(node *GalleryNode) {
		mapping[node.URL] = node
	})
	return mapping
}

// ImageEntry is one logical image extracted from an album page:
// several plausible direct-media URLs tried in order, plus the page
// they came from (some hosts require it as the Referer).
type ImageEntry struct {
	Name       string   `json:"name"`
	Candidates []string `json:"candidates"`
	Referer    string   `json:"referer"`
}

// DownloadTask is one unit of download work. Ownership transfers from
// the crawl producer to the orchestrator queue to exactly one worker.
type DownloadTask struct {
	AlbumLabel   string
	PathSegments []string
	Name         string
	Candidates   []string
	Referer      string
}
