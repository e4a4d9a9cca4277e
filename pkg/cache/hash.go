package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"

	"github.com/xmarre/Copperminer/pkg/models"
)

// ChildHash returns a stable digest over a page's discovered
// sub-categories and albums. The inputs are sorted first, so two crawls
// of an unchanged page produce an identical hash regardless of
// discovery order.
func ChildHash(subcats []models.Link, albums []models.Album) string {
	sortedSubcats := make([]models.Link, len(subcats))
	copy(sortedSubcats, subcats)
	sort.Slice(sortedSubcats, func(i, j int) bool {
		if sortedSubcats[i].Name != sortedSubcats[j].Name {
			return sortedSubcats[i].Name < sortedSubcats[j].Name
		}
		return sortedSubcats[i].URL < sortedSubcats[j].URL
	})

	sortedAlbums := make([]models.Album, len(albums))
	copy(sortedAlbums, albums)
	sort.Slice(sortedAlbums, func(i, j int) bool {
		return sortedAlbums[i].URL < sortedAlbums[j].URL
	})

	h := sha1.New()
	for _, sc := range sortedSubcats {
		h.Write([]byte(sc.Name))
		h.Write([]byte(sc.URL))
	}
	for _, alb := range sortedAlbums {
		h.Write([]byte(alb.Name))
		h.Write([]byte(alb.URL))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashStrings returns a stable digest for a set of strings, independent
// of their order
func HashStrings(items []string) string {
	sorted := make([]string, len(items))
	copy(sorted, items)
	sort.Strings(sorted)

	h := sha1.New()
	for _, it := range sorted {
		h.Write([]byte(it))
	}
	return hex.EncodeToString(h.Sum(nil))
}
