package adapter

import (
	"context"
	"fmt"
	"testing"
)

const categoryPage = `<html>
<head><title>Celebrity Gallery - Events</title></head>
<body>
<a href="index.php?cat=2">Events</a>
<a href="index.php?cat=3">Candids</a>
<a href="index.php?cat=1">Current</a>
<a href="index.php?cat=0">Home</a>
<a href="thumbnails.php?album=7">Premiere Night</a>
<a href="thumbnails.php?album=8"><img src="albums/thumb_cover.jpg" alt="Backstage"></a>
<a href="thumbnails.php?album=lastup">Last uploads</a>
<a href="thumbnails.php?album=toprated">Top rated</a>
<a href="thumbnails.php?album=7&page=2">2</a>
</body>
</html>`

func TestCoppermineParseTree(t *testing.T) {
	c := &Coppermine{}
	out := c.ParseTree("http://g.example/index.php?cat=1", categoryPage)

	if out.Title != "Celebrity Gallery - Events" {
		t.Errorf("title = %q", out.Title)
	}

	if len(out.SubCats) != 2 {
		t.Fatalf("got %d subcategories, want 2 (current and root filtered): %+v", len(out.SubCats), out.SubCats)
	}
	if out.SubCats[0].Name != "Events" || out.SubCats[1].Name != "Candids" {
		t.Errorf("unexpected subcategories: %+v", out.SubCats)
	}

	if len(out.Albums) != 2 {
		t.Fatalf("got %d albums, want 2 (specials and pagination filtered): %+v", len(out.Albums), out.Albums)
	}
	if out.Albums[0].Name != "Premiere Night" {
		t.Errorf("album name = %q", out.Albums[0].Name)
	}
	// Name falls back to the nested image's alt text
	if out.Albums[1].Name != "Backstage" {
		t.Errorf("album name from alt = %q", out.Albums[1].Name)
	}
	if out.Albums[0].URL != "http://g.example/thumbnails.php?album=7" {
		t.Errorf("album URL not resolved: %q", out.Albums[0].URL)
	}
}

const detailPage = `<html><body>
<a class="fancybox" href="albums/userpics/original.jpg"><img class="image" src="albums/userpics/normal_original.jpg" width="400" height="300"></a>
<img src="themes/classic/images/star.gif" width="16" height="16">
<a href="albums/userpics/thumb_original.jpg">thumb</a>
</body></html>`

func TestExtractDetailCandidatesOrdering(t *testing.T) {
	got := extractDetailCandidates("http://g.example/displayimage.php?album=7&pid=42", detailPage)

	if len(got) != 3 {
		t.Fatalf("got %d candidates: %v", len(got), got)
	}
	if got[0] != "http://g.example/albums/userpics/original.jpg" {
		t.Errorf("best candidate = %q, want the original", got[0])
	}
	if got[1] != "http://g.example/albums/userpics/normal_original.jpg" {
		t.Errorf("second candidate = %q, want the normal_ copy", got[1])
	}
	if got[2] != "http://g.example/albums/userpics/thumb_original.jpg" {
		t.Errorf("last candidate = %q, want the thumb", got[2])
	}
}

func TestCoppermineAlbumImages(t *testing.T) {
	pages := map[string]string{
		"http://g.example/thumbnails.php?album=7": `<html><body>
			<a href="displayimage.php?album=7&pid=1">one</a>
			<a href="displayimage.php?album=7&pid=2">two</a>
			<a href="displayimage.php?album=7&pid=1">one again</a>
			<a href="thumbnails.php?album=7&page=2">2</a>
			</body></html>`,
		"http://g.example/thumbnails.php?album=7&page=2": `<html><body>
			<a href="displayimage.php?album=7&pid=3">three</a>
			</body></html>`,
		"http://g.example/displayimage.php?album=7&pid=1": `<html><body>
			<a class="fancybox" href="albums/pic_001.jpg">x</a></body></html>`,
		"http://g.example/displayimage.php?album=7&pid=2": `<html><body>
			<a class="fancybox" href="albums/pic_002.jpg">x</a></body></html>`,
		"http://g.example/displayimage.php?album=7&pid=3": `<html><body>
			<a class="fancybox" href="albums/pic_003.jpg">x</a></body></html>`,
	}
	get := func(ctx context.Context, url string) (string, error) {
		html, ok := pages[url]
		if !ok {
			return "", fmt.Errorf("unexpected fetch of %s", url)
		}
		return html, nil
	}

	c := &Coppermine{}
	entries, err := c.AlbumImages(context.Background(), "http://g.example/thumbnails.php?album=7", get)
	if err != nil {
		t.Fatalf("AlbumImages failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(entries), entries)
	}
	if entries[0].Name != "pic_001.jpg" {
		t.Errorf("entry name = %q", entries[0].Name)
	}
	if entries[0].Referer != "http://g.example/displayimage.php?album=7&pid=1" {
		t.Errorf("referer = %q", entries[0].Referer)
	}
	if entries[2].Candidates[0] != "http://g.example/albums/pic_003.jpg" {
		t.Errorf("pagination not followed: %+v", entries[2])
	}
}

func TestIsUIImage(t *testing.T) {
	cases := []struct {
		url  string
		name string
		ui   bool
	}{
		{"http://g.example/themes/classic/star.gif", "star.gif", true},
		{"http://g.example/images/button_go.png", "button_go.png", true},
		{"http://g.example/albums/rate_full.png", "rate_full.png", true},
		{"http://g.example/albums/userpics/pic_001.jpg", "pic_001.jpg", false},
	}
	for _, c := range cases {
		if got := isUIImage(c.url, c.name); got != c.ui {
			t.Errorf("isUIImage(%q) = %v, want %v", c.url, got, c.ui)
		}
	}
}
