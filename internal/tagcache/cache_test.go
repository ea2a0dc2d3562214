package tagcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moc-go/moc/internal/decoder"
)

type fakeSource struct{ calls int }

func (f *fakeSource) Info(path string, which decoder.TagKind) (decoder.Tags, error) {
	f.calls++
	return decoder.Tags{Title: "Decoded Title", TrackNo: 1, Duration: 10, Filled: decoder.TagComments | decoder.TagTime}, nil
}

func TestVersionMismatchPurgesDirectory(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "moc_version_tag")
	if err := os.WriteFile(stale, []byte("stale old-format"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	junk := filepath.Join(dir, "junk.txt")
	os.WriteFile(junk, []byte("x"), 0o600)

	store, err := Open(dir, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := os.Stat(junk); err == nil {
		t.Fatalf("expected junk file to be purged on version mismatch")
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store after purge")
	}
}

func TestGetImmediateCachesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "song.mp3")
	os.WriteFile(file, []byte("x"), 0o600)

	store, err := Open(filepath.Join(dir, "cache"), 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	src := &fakeSource{}
	c := New(store, src)
	defer c.Close()

	tags, err := c.GetImmediate(file, decoder.TagComments|decoder.TagTime)
	if err != nil {
		t.Fatalf("GetImmediate: %v", err)
	}
	if tags.Title != "Decoded Title" {
		t.Fatalf("Title = %q", tags.Title)
	}
	if src.calls != 1 {
		t.Fatalf("expected 1 decoder call, got %d", src.calls)
	}

	tags2, err := c.GetImmediate(file, decoder.TagComments|decoder.TagTime)
	if err != nil {
		t.Fatalf("GetImmediate (2nd): %v", err)
	}
	if tags2.Title != "Decoded Title" {
		t.Fatalf("Title (2nd) = %q", tags2.Title)
	}
	if src.calls != 1 {
		t.Fatalf("expected cache hit to avoid a second decoder call, got %d calls", src.calls)
	}
}

func TestQueuedRequestDeliversResult(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "song.mp3")
	os.WriteFile(file, []byte("x"), 0o600)

	store, err := Open(filepath.Join(dir, "cache"), 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c := New(store, &fakeSource{})
	defer c.Close()

	results := c.RegisterClient(1)
	c.AddRequest(1, Request{Path: file, Which: decoder.TagComments})

	select {
	case r := <-results:
		if r.Path != file || r.Tags.Title != "Decoded Title" {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued result")
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	store.Put(Record{Path: "/a", ATime: 1})
	store.Put(Record{Path: "/b", ATime: 2})
	store.Put(Record{Path: "/c", ATime: 3}) // should evict /a (smallest atime)

	if _, ok := store.Get("/a"); ok {
		t.Fatalf("expected /a to be evicted")
	}
	if _, ok := store.Get("/c"); !ok {
		t.Fatalf("expected /c present")
	}
}
