package playlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/moc-go/moc/internal/decoder"
)

func TestAddFindDeleteInvariants(t *testing.T) {
	p := New()
	i := p.Add("/music/a.mp3")
	if got := p.FindByPath("/music/a.mp3"); got != i {
		t.Fatalf("FindByPath = %d, want %d", got, i)
	}
	if dup := p.Add("/music/a.mp3"); dup != i {
		t.Fatalf("duplicate Add returned %d, want existing index %d", dup, i)
	}
	if p.Size() != 1 {
		t.Fatalf("Size = %d, want 1", p.Size())
	}

	p.Delete(i)
	if p.Size() != 1 {
		t.Fatalf("Size after delete = %d, want 1 (tombstone keeps size)", p.Size())
	}
	if p.NotDeleted() != 0 {
		t.Fatalf("NotDeleted after delete = %d, want 0", p.NotDeleted())
	}
}

func TestNextPrevSkipTombstones(t *testing.T) {
	p := New()
	a := p.Add("/a.mp3")
	b := p.Add("/b.mp3")
	c := p.Add("/c.mp3")
	p.Delete(b)

	if n := p.Next(a); n != c {
		t.Fatalf("Next(a) = %d, want %d (skip tombstoned b)", n, c)
	}
	if pv := p.Prev(c); pv != a {
		t.Fatalf("Prev(c) = %d, want %d", pv, a)
	}
}

func TestShuffleMovesPlayingToZero(t *testing.T) {
	p := New()
	for _, path := range []string{"/a.mp3", "/b.mp3", "/c.mp3", "/d.mp3"} {
		p.Add(path)
	}
	p.SetPlaying("/c.mp3")
	p.Shuffle()

	it, ok := p.Item(0)
	if !ok || it.Path != "/c.mp3" {
		t.Fatalf("after shuffle, index 0 = %+v, want /c.mp3", it)
	}
	if got := len(p.Paths()); got != 4 {
		t.Fatalf("shuffle changed item count: %d", got)
	}
}

func TestLoadM3UWithExtinf(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "list.m3u")
	content := "#EXTM3U\n#EXTINF:125,Artist - Song\nsong1.mp3\n#EXTINF:notanumber,Bad\n/bad.mp3\nsong2.mp3\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := New()
	if err := p.Load(file); err != nil {
		t.Fatalf("Load: %v", err)
	}
	paths := p.Paths()
	want := []string{filepath.Join(dir, "song1.mp3"), "/bad.mp3", filepath.Join(dir, "song2.mp3")}
	if len(paths) != len(want) {
		t.Fatalf("Paths = %v, want %v", paths, want)
	}

	i := p.FindByPath(filepath.Join(dir, "song1.mp3"))
	item, _ := p.Item(i)
	if item.Title() != "Artist - Song" {
		t.Fatalf("title = %q, want EXTINF title", item.Title())
	}
}

func TestLoadPLS(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "list.pls")
	content := "[playlist]\nNumberOfEntries=2\nFile1=one.flac\nTitle1=One\nLength1=120\nFile2=two.ogg\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := New()
	if err := p.Load(file); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.NotDeleted() != 2 {
		t.Fatalf("NotDeleted = %d, want 2", p.NotDeleted())
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	p := New()
	i := p.Add(filepath.Join(dir, "song.mp3"))
	p.SetTags(i, decoder.Tags{Title: "My Song", Duration: 42})

	out := filepath.Join(dir, "out.m3u")
	if err := p.Save(out, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	p2 := New()
	if err := p2.Load(out); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p2.NotDeleted() != 1 {
		t.Fatalf("NotDeleted = %d, want 1", p2.NotDeleted())
	}
	item, _ := p2.Item(0)
	if item.Title() != "My Song" {
		t.Fatalf("title = %q, want %q", item.Title(), "My Song")
	}
}

func TestFormatTitleExpansionsAndTernary(t *testing.T) {
	tags := decoder.Tags{Artist: "Artist", Title: "Song", TrackNo: -1}
	got := FormatTitle("%a - %t%(n: [#%n]:)", tags)
	want := "Artist - Song"
	if got != want {
		t.Fatalf("FormatTitle = %q, want %q", got, want)
	}

	tags.TrackNo = 3
	got = FormatTitle("%a - %t%(n: [#%n]:)", tags)
	want = "Artist - Song [#3]"
	if got != want {
		t.Fatalf("FormatTitle = %q, want %q", got, want)
	}
}

func TestFuzzySearchRanksMatches(t *testing.T) {
	p := New()
	p.Add("/music/Beatles - Hey Jude.mp3")
	p.Add("/music/Queen - Bohemian Rhapsody.mp3")

	results := p.FuzzySearch("bohemian")
	if len(results) == 0 {
		t.Fatalf("expected at least one match")
	}
	if results[0].Item.Path != "/music/Queen - Bohemian Rhapsody.mp3" {
		t.Fatalf("best match = %q, want Bohemian Rhapsody", results[0].Item.Path)
	}
}
