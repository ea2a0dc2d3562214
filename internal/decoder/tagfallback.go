package decoder

import (
	"os"

	"github.com/dhowden/tag"
)

// fillCommentsFallback reads generic container metadata via dhowden/tag
// and fills any of t's comment fields a format-specific parser left
// empty. Used by FLAC/OGG/WAV, which each try their native comment
// block first; MP3 uses bogem/id3v2 directly (see readID3v2Comments)
// since dhowden/tag's ID3v2 support is a narrower subset.
func fillCommentsFallback(path string, t *Tags) {
	if t.Title != "" && t.Artist != "" && t.Album != "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	m, err := tag.ReadFrom(f)
	if err != nil {
		return
	}
	if t.Title == "" {
		t.Title = m.Title()
	}
	if t.Artist == "" {
		t.Artist = m.Artist()
	}
	if t.Album == "" {
		t.Album = m.Album()
	}
	if t.TrackNo <= 0 {
		if n, _ := m.Track(); n != 0 {
			t.TrackNo = n
		}
	}
}
