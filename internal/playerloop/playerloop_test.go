package playerloop

import (
	"io"
	"testing"
	"time"

	"github.com/moc-go/moc/internal/decoder"
	"github.com/moc-go/moc/internal/iostream"
	"github.com/moc-go/moc/internal/output"
	"github.com/moc-go/moc/internal/ring"
)

type fakeDecoder struct {
	chunks [][]byte
	sp     decoder.SoundParams
	pos    int

	// seekCh, if non-nil, receives the sec argument Seek was called with,
	// letting a test observe the exact value passed down from the loop.
	seekCh chan float64
}

func (d *fakeDecoder) Read(buf []byte) (int, decoder.SoundParams, error) {
	if d.pos >= len(d.chunks) {
		return 0, d.sp, io.EOF
	}
	n := copy(buf, d.chunks[d.pos])
	d.pos++
	return n, d.sp, nil
}

func (d *fakeDecoder) Seek(sec float64) (float64, bool) {
	if d.seekCh != nil {
		select {
		case d.seekCh <- sec:
		default:
		}
	}
	return sec, true
}
func (d *fakeDecoder) Close() error                     { return nil }
func (d *fakeDecoder) Bitrate() int                     { return 128000 }
func (d *fakeDecoder) AvgBitrate() int                  { return 128000 }
func (d *fakeDecoder) Duration() float64                { return 1 }

type fakePlugin struct{ dec *fakeDecoder }

func (p *fakePlugin) Name() string                                       { return "fake" }
func (p *fakePlugin) OurFormatExt(string) bool                           { return true }
func (p *fakePlugin) OurFormatMime(string) bool                          { return false }
func (p *fakePlugin) CanDecode([]byte) bool                              { return false }
func (p *fakePlugin) Open(string) (decoder.Decoder, error)               { return p.dec, nil }
func (p *fakePlugin) OpenStream(*iostream.Stream) (decoder.Decoder, error) {
	return nil, decoder.ErrNotSupported
}
func (p *fakePlugin) Info(string, decoder.TagKind) (decoder.Tags, error) { return decoder.Tags{}, nil }

func TestPlayTrackReachesEOF(t *testing.T) {
	sp := decoder.SoundParams{Format: decoder.FormatS16, Channels: 2, RateHz: 44100}
	dec := &fakeDecoder{chunks: [][]byte{make([]byte, 4096), make([]byte, 4096)}, sp: sp}

	registry := decoder.NewRegistry(false)
	if err := registry.Register(&fakePlugin{dec: dec}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	device := output.NewNullDriver()
	if err := device.Open(sp); err != nil {
		t.Fatalf("device.Open: %v", err)
	}
	buf := ring.New(1<<16, device)
	buf.Run()
	defer buf.Exit()

	loop := New(registry, buf, device, true)
	result := loop.PlayTrack("song.fake", false, Events{})
	if result.Outcome != OutcomeEOF {
		t.Fatalf("Outcome = %v, want OutcomeEOF; err=%v", result.Outcome, result.Err)
	}
}

func TestRequestStopEndsTrack(t *testing.T) {
	sp := decoder.SoundParams{Format: decoder.FormatS16, Channels: 2, RateHz: 44100}
	chunks := make([][]byte, 100)
	for i := range chunks {
		chunks[i] = make([]byte, 4096)
	}
	dec := &fakeDecoder{chunks: chunks, sp: sp}

	registry := decoder.NewRegistry(false)
	registry.Register(&fakePlugin{dec: dec})

	device := output.NewNullDriver()
	device.Open(sp)
	buf := ring.New(4096, device) // small ring so Put blocks quickly
	buf.Run()
	defer buf.Exit()

	loop := New(registry, buf, device, false)

	done := make(chan Result, 1)
	go func() { done <- loop.PlayTrack("song.fake", false, Events{}) }()
	loop.RequestStop()

	result := <-done
	if result.Outcome != OutcomeStopped {
		t.Fatalf("Outcome = %v, want OutcomeStopped", result.Outcome)
	}
}

// TestRequestSeekAddsCurrentPosition covers spec.md §4.7's "call decoder
// seek(current_time + delta)": a seek issued after some of the track has
// already played must reach the decoder as an absolute target, not as the
// bare requested delta.
func TestRequestSeekAddsCurrentPosition(t *testing.T) {
	sp := decoder.SoundParams{Format: decoder.FormatS16, Channels: 2, RateHz: 44100}
	chunks := make([][]byte, 200)
	for i := range chunks {
		chunks[i] = make([]byte, 4096)
	}
	dec := &fakeDecoder{chunks: chunks, sp: sp, seekCh: make(chan float64, 1)}

	registry := decoder.NewRegistry(false)
	registry.Register(&fakePlugin{dec: dec})

	device := output.NewNullDriver()
	device.Open(sp)
	buf := ring.New(1<<20, device) // large enough that Put never blocks mid-test
	buf.Run()
	defer buf.Exit()

	loop := New(registry, buf, device, false)

	done := make(chan Result, 1)
	go func() { done <- loop.PlayTrack("song.fake", false, Events{}) }()

	// Wait for a nonzero playback position before seeking, so the fix
	// (adding current_time to the delta) actually has something to add;
	// at t=0 a buggy "pass the delta straight through" implementation
	// would be indistinguishable from the correct one.
	deadline := time.Now().Add(2 * time.Second)
	for loop.CurrentTimeSeconds() <= 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for nonzero playback position")
		}
		time.Sleep(time.Millisecond)
	}
	posBeforeSeek := loop.CurrentTimeSeconds()

	const delta = 5.0
	loop.RequestSeek(delta)

	var gotArg float64
	select {
	case gotArg = <-dec.seekCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoder.Seek to be called")
	}

	loop.RequestStop()
	<-done

	if gotArg <= delta {
		t.Fatalf("dec.Seek called with %v, want current_time(>=%v) + delta(%v); "+
			"the loop is passing the raw delta through unchanged instead of current_time+delta",
			gotArg, posBeforeSeek, delta)
	}
}
