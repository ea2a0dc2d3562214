package output

import (
	"testing"

	"github.com/moc-go/moc/internal/decoder"
	"github.com/moc-go/moc/internal/ring"
)

var _ ring.Device = (*NullDriver)(nil)

func TestNullDriverAccumulatesBytes(t *testing.T) {
	d := NewNullDriver()
	if err := d.Open(decoder.SoundParams{Format: decoder.FormatS16, Channels: 2, RateHz: 44100}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	n, err := d.Play(make([]byte, 128))
	if err != nil || n != 128 {
		t.Fatalf("Play = %d, %v", n, err)
	}
	if d.TotalBytes() != 128 {
		t.Fatalf("TotalBytes = %d", d.TotalBytes())
	}
	if bps := d.BytesPerSecond(); bps != 44100*2*2 {
		t.Fatalf("BytesPerSecond = %d", bps)
	}
}
