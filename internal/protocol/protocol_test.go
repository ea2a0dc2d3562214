package protocol

import (
	"net"
	"testing"

	"github.com/moc-go/moc/internal/decoder"
	"github.com/moc-go/moc/internal/playlist"
)

func TestStringRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	cw := NewConn(a)
	cr := NewConn(b)

	go func() {
		cw.WriteString("hello world")
		cw.Flush()
	}()

	got, err := cr.ReadString()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestStringTooLongRejected(t *testing.T) {
	a, _ := net.Pipe()
	defer a.Close()
	c := NewConn(a)
	big := make([]byte, MaxStringLen+1)
	if err := c.WriteString(string(big)); err == nil {
		t.Fatal("expected error for oversized string")
	}
}

func TestItemRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	cw := NewConn(a)
	cr := NewConn(b)

	pl := playlist.New()
	pl.Add("/music/song.mp3")
	pl.SetTags(0, decoder.Tags{Title: "Song", Artist: "Band", TrackNo: 3, Duration: 180})
	item, _ := pl.Item(0)
	wire := ItemToWire(item, "deadbeef")

	go func() {
		cw.WriteItem(wire)
		cw.WriteItem(EndOfPlaylist)
		cw.Flush()
	}()

	got, err := cr.ReadItem()
	if err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	if got.File != wire.File || got.Tags.Title != "Song" || got.Tags.Track != 3 {
		t.Fatalf("got %+v", got)
	}

	end, err := cr.ReadItem()
	if err != nil {
		t.Fatalf("ReadItem end: %v", err)
	}
	if end.File != "" {
		t.Fatalf("expected end-of-playlist marker, got %+v", end)
	}
}

func TestUnknownFieldsEncodeAsNegativeOne(t *testing.T) {
	tags := decoder.Tags{TrackNo: -1, Duration: decoder.UnknownDuration}
	w := ToWireTags(tags)
	if w.Track != -1 || w.Time != -1 {
		t.Fatalf("want -1/-1, got %+v", w)
	}
	back := w.ToTags()
	if back.TrackNo != -1 || back.Duration != decoder.UnknownDuration {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}
