package adapter

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xmarre/Copperminer/pkg/models"
)

// Coppermine parses stock Coppermine Photo Gallery installs: category
// trees under index.php?cat=, albums under thumbnails.php?album=, and
// per-image detail pages under displayimage.php.
type Coppermine struct{}

func (c *Coppermine) Name() string { return "coppermine" }

func (c *Coppermine) Match(rawURL string) bool {
	// Fallback adapter, so any URL is acceptable
	return true
}

var (
	catParamRe   = regexp.MustCompile(`[?&]cat=(\d+)`)
	albumParamRe = regexp.MustCompile(`[?&]album=([^&]+)`)
	pidParamRe   = regexp.MustCompile(`[?&]pid=(\d+)`)
	pageParamRe  = regexp.MustCompile(`[?&]page=(\d+)`)
)

// specialAlbums are the virtual meta-albums Coppermine generates; they
// duplicate content that real albums already carry
var specialAlbums = map[string]bool{
	"lastup":   true,
	"lastcom":  true,
	"topn":     true,
	"toprated": true,
	"favpics":  true,
	"random":   true,
	"date":     true,
	"search":   true,
}

func (c *Coppermine) ParseTree(pageURL, html string) PageLinks {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageLinks{}
	}

	out := PageLinks{Title: strings.TrimSpace(doc.Find("title").First().Text())}
	currentCat := ""
	if m := catParamRe.FindStringSubmatch(pageURL); m != nil {
		currentCat = m[1]
	}

	seen := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs := resolve(pageURL, href)
		if abs == "" || seen[abs] {
			return
		}

		switch {
		case strings.Contains(href, "index.php") && catParamRe.MatchString(href):
			m := catParamRe.FindStringSubmatch(href)
			if m[1] == currentCat || m[1] == "0" {
				return
			}
			name := linkText(a)
			if name == "" {
				return
			}
			seen[abs] = true
			out.SubCats = append(out.SubCats, models.Link{Name: name, URL: abs})

		case strings.Contains(href, "thumbnails.php") && albumParamRe.MatchString(href):
			m := albumParamRe.FindStringSubmatch(href)
			if specialAlbums[strings.ToLower(m[1])] {
				return
			}
			if pageParamRe.MatchString(href) {
				return
			}
			name := linkText(a)
			if name == "" {
				name = "Album " + m[1]
			}
			seen[abs] = true
			out.Albums = append(out.Albums, models.Album{
				Type: "album",
				Name: name,
				URL:  abs,
			})
		}
	})
	return out
}

func (c *Coppermine) AlbumImages(ctx context.Context, albumURL string, get PageGetter) ([]models.ImageEntry, error) {
	visited := map[string]bool{}
	detailURLs, err := c.collectDetailPages(ctx, albumURL, get, visited)
	if err != nil {
		return nil, err
	}

	var entries []models.ImageEntry
	for i, detail := range detailURLs {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		html, err := get(ctx, detail)
		if err != nil {
			continue
		}
		candidates := extractDetailCandidates(detail, html)
		if len(candidates) == 0 {
			continue
		}
		name := fileName(candidates[0])
		if name == "" {
			name = fmt.Sprintf("image_%04d", i+1)
		}
		entries = append(entries, models.ImageEntry{
			Name:       name,
			Candidates: candidates,
			Referer:    detail,
		})
	}
	return filterEntries(entries), nil
}

// collectDetailPages walks an album's thumbnail pages, following
// numeric pagination, and returns displayimage detail URLs in page
// order
func (c *Coppermine) collectDetailPages(ctx context.Context, pageURL string, get PageGetter, visited map[string]bool) ([]string, error) {
	if visited[pageURL] {
		return nil, nil
	}
	visited[pageURL] = true

	html, err := get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var details []string
	seenPid := map[string]bool{}
	doc.Find("a[href*='displayimage.php']").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := pidParamRe.FindStringSubmatch(href)
		if m == nil || seenPid[m[1]] {
			return
		}
		if abs := resolve(pageURL, href); abs != "" {
			seenPid[m[1]] = true
			details = append(details, abs)
		}
	})

	var nextPages []string
	doc.Find("a[href*='thumbnails.php']").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !pageParamRe.MatchString(href) {
			return
		}
		if abs := resolve(pageURL, href); abs != "" && !visited[abs] {
			nextPages = append(nextPages, abs)
		}
	})
	for _, next := range nextPages {
		more, err := c.collectDetailPages(ctx, next, get, visited)
		if err != nil {
			return details, err
		}
		details = append(details, more...)
	}
	return details, nil
}

// extractDetailCandidates pulls every plausible full-size image URL
// from a displayimage page and orders them most-original first.
// Coppermine stores the upload as-is, an intermediate as normal_<name>,
// and the grid preview as thumb_<name>, so names scoring lower come
// first.
func extractDetailCandidates(detailURL, html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	type scored struct {
		url   string
		score int
		order int
	}
	var found []scored
	seen := map[string]bool{}
	add := func(raw string) {
		abs := resolve(detailURL, raw)
		if abs == "" || seen[abs] || !imageExtRe.MatchString(fileName(abs)) {
			return
		}
		seen[abs] = true
		name := strings.ToLower(fileName(abs))
		score := 0
		if strings.Contains(name, "thumb") {
			score += 2
		}
		if strings.HasPrefix(name, "normal_") {
			score++
		}
		found = append(found, scored{url: abs, score: score, order: len(found)})
	}

	// Fancybox/lightbox anchors point straight at the original file
	doc.Find("a.fancybox[href], a[rel='lightbox'][href], a[data-fancybox][href]").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			add(href)
		}
	})
	doc.Find("img.image[src]").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok {
			add(src)
		}
	})
	// Largest dimensioned img on the page is usually the display copy
	best, bestArea := "", 0
	doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		area := attrInt(img, "width") * attrInt(img, "height")
		if area > bestArea {
			best, bestArea = src, area
		}
	})
	if best != "" {
		add(best)
	}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if imageExtRe.MatchString(fileName(href)) {
			add(href)
		}
	})

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].score != found[j].score {
			return found[i].score < found[j].score
		}
		return found[i].order < found[j].order
	})
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.url
	}
	return out
}

func attrInt(s *goquery.Selection, name string) int {
	v, ok := s.Attr(name)
	if !ok {
		return 0
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// linkText returns the best human label for an anchor: text content,
// then title, then the alt of a nested image
func linkText(a *goquery.Selection) string {
	if t := strings.TrimSpace(a.Text()); t != "" {
		return t
	}
	if t, ok := a.Attr("title"); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	if alt, ok := a.Find("img").First().Attr("alt"); ok {
		return strings.TrimSpace(alt)
	}
	return ""
}
