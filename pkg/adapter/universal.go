package adapter

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xmarre/Copperminer/pkg/models"
)

// Rules describes one family of non-Coppermine gallery sites entirely
// through CSS selectors, so new sites can be supported without code.
type Rules struct {
	Name                string
	Domains             []string
	RootAlbumSelector   string
	PaginationSelector  string
	ThumbSelector       string
	DetailImageSelector string
}

// builtinRules cover the rule-driven sites supported out of the box
var builtinRules = []*Rules{
	{
		Name:                "theplace2",
		Domains:             []string{"theplace2.ru", "theplace2.com"},
		RootAlbumSelector:   "a[href^='/photos/']:not([href$='.html'])",
		PaginationSelector:  ".pagination a[href]",
		ThumbSelector:       "a[href^='pic-']",
		DetailImageSelector: ".big-photo-wrapper a[href]",
	},
	{
		Name:                "theplace-2com",
		Domains:             []string{"theplace-2.com"},
		RootAlbumSelector:   "a[href^='/photos/'][href*='-pictures-'][href$='.htm']",
		PaginationSelector:  "nav[aria-label*='pagination'] a.page-link[href]",
		ThumbSelector:       ".pic-card a.link[href*='pic-']",
		DetailImageSelector: ".big-photo-wrapper a[href]",
	},
	{
		Name:                "livejournal",
		Domains:             []string{"livejournal.com"},
		RootAlbumSelector:   "a[href*='/photo/album/']",
		PaginationSelector:  "a[href*='page=']",
		ThumbSelector:       "a[href*='/photo/item/']",
		DetailImageSelector: "img[src]",
	},
}

// rulesFor returns the built-in rule set whose domain matches rawURL,
// or nil when no rule-driven site applies
func rulesFor(rawURL string) *Rules {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	for _, r := range builtinRules {
		for _, d := range r.Domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return r
			}
		}
	}
	return nil
}

// Universal drives discovery and extraction purely from a Rules set
type Universal struct {
	rules *Rules
}

func (u *Universal) Name() string { return u.rules.Name }

func (u *Universal) Match(rawURL string) bool {
	return rulesFor(rawURL) == u.rules
}

func (u *Universal) ParseTree(pageURL, html string) PageLinks {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageLinks{}
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	out := PageLinks{Title: title}

	// Rule-driven sites are flat: every match is an album, there is no
	// nested category level
	seen := map[string]bool{}
	doc.Find(u.rules.RootAlbumSelector).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs := resolve(pageURL, href)
		if abs == "" || seen[abs] {
			return
		}
		name := linkText(a)
		if name == "" {
			name = fileName(abs)
		}
		seen[abs] = true
		out.Albums = append(out.Albums, models.Album{Type: "album", Name: name, URL: abs})
	})
	return out
}

func (u *Universal) AlbumImages(ctx context.Context, albumURL string, get PageGetter) ([]models.ImageEntry, error) {
	pages, firstDoc, err := u.albumPages(ctx, albumURL, get)
	if err != nil {
		return nil, err
	}

	var entries []models.ImageEntry
	seen := map[string]bool{}
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		doc := firstDoc
		if i > 0 {
			html, err := get(ctx, page)
			if err != nil {
				continue
			}
			doc, err = goquery.NewDocumentFromReader(strings.NewReader(html))
			if err != nil {
				continue
			}
		}
		doc.Find(u.rules.ThumbSelector).Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			detail := resolve(page, href)
			if detail == "" {
				return
			}
			full := u.detailImage(ctx, detail, get)
			if full == "" || seen[full] {
				return
			}
			seen[full] = true
			name := fileName(full)
			if name == "" {
				name = fmt.Sprintf("image_%04d", len(entries)+1)
			}
			entries = append(entries, models.ImageEntry{
				Name:       name,
				Candidates: []string{full},
				Referer:    detail,
			})
		})
	}
	return filterEntries(entries), nil
}

// albumPages returns every pagination URL of an album in sorted order,
// plus the parsed first page. Sites usually show only a window of page
// links, so beyond collecting them the highest ?page=N seen is expanded
// into the full 1..N range.
func (u *Universal) albumPages(ctx context.Context, albumURL string, get PageGetter) ([]string, *goquery.Document, error) {
	html, err := get(ctx, albumURL)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, err
	}

	pages := map[string]bool{albumURL: true}
	maxPage := 1
	if sel := u.rules.PaginationSelector; sel != "" {
		doc.Find(sel).Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if abs := resolve(albumURL, href); abs != "" {
				pages[abs] = true
			}
			if i := strings.LastIndex(href, "page="); i >= 0 {
				if n, err := strconv.Atoi(href[i+len("page="):]); err == nil && n > maxPage {
					maxPage = n
				}
			}
		})
		for i := 1; i <= maxPage; i++ {
			pages[fmt.Sprintf("%s?page=%d", albumURL, i)] = true
		}
	}

	out := make([]string, 0, len(pages))
	for p := range pages {
		out = append(out, p)
	}
	sort.Strings(out)
	// The album URL itself stays first so firstDoc lines up
	for i, p := range out {
		if p == albumURL {
			out[0], out[i] = out[i], out[0]
			break
		}
	}
	return out, doc, nil
}

// detailImage loads a thumb's detail page and resolves the full-size
// image: a lightbox anchor first, then the rule's own selector, then
// the first img on the page
func (u *Universal) detailImage(ctx context.Context, detailURL string, get PageGetter) string {
	html, err := get(ctx, detailURL)
	if err != nil {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	if fancy := doc.Find("a.fancybox[href]").First(); fancy.Length() > 0 {
		href, _ := fancy.Attr("href")
		return resolve(detailURL, href)
	}
	if sel := u.rules.DetailImageSelector; sel != "" {
		if tag := doc.Find(sel).First(); tag.Length() > 0 {
			if src, ok := tag.Attr("src"); ok && goquery.NodeName(tag) == "img" {
				return resolve(detailURL, src)
			}
			if href, ok := tag.Attr("href"); ok {
				return resolve(detailURL, href)
			}
		}
	}
	if img := doc.Find("img[src]").First(); img.Length() > 0 {
		src, _ := img.Attr("src")
		return resolve(detailURL, src)
	}
	return ""
}
