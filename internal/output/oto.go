// Package output implements the sound-card driver abstraction of
// spec.md C5: a ring.Device that actually writes PCM to the speakers.
// Grounded on the teacher's oto usage (internal/player/player.go),
// generalized from a single hardcoded stream into a reopenable device
// whose sample format can change at runtime (spec.md §4.2's
// open-on-first-audio / reopen-on-SoundParams-change policy).
package output

import (
	"bytes"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/moc-go/moc/internal/decoder"
	"github.com/moc-go/moc/internal/errs"
)

// OtoDriver adapts oto's pull-based player (it reads PCM from an
// io.Reader on its own goroutine) to the ring buffer's push-based
// Device.Play contract, by feeding bytes through an in-process pipe.
type OtoDriver struct {
	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
	pw     *io.PipeWriter
	pr     *io.PipeReader
	params decoder.SoundParams
	closed bool
}

func NewOtoDriver() *OtoDriver { return &OtoDriver{} }

// Open (re)configures the device for params, tearing down any existing
// player first. Matches spec.md §4.2: the player thread reopens the
// device only when SoundParams changes between tracks.
func (d *OtoDriver) Open(params decoder.SoundParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   params.RateHz,
			ChannelCount: params.Channels,
			Format:       otoFormat(params.Format),
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			return errs.New(errs.DeviceOpen, "output.new_context", err)
		}
		<-ready
		if err := ctx.Err(); err != nil {
			return errs.New(errs.DeviceOpen, "output.context_err", err)
		}
		d.ctx = ctx
		warmUp(ctx, params)
	}

	if d.player != nil {
		d.player.Pause()
		d.player.Close()
		d.pw.Close()
	}

	pr, pw := io.Pipe()
	d.pr, d.pw = pr, pw
	d.player = d.ctx.NewPlayer(pr)
	d.player.SetVolume(1)
	d.player.Play()
	d.params = params
	return nil
}

// Play implements ring.Device: it blocks until all of data has been
// handed to the underlying pipe (oto consumes it from its own
// goroutine), matching the teacher's blocking countingReader.Read loop
// but in the opposite (push) direction.
func (d *OtoDriver) Play(data []byte) (int, error) {
	d.mu.Lock()
	pw := d.pw
	d.mu.Unlock()
	if pw == nil {
		return 0, errs.New(errs.DeviceWrite, "output.play", fmt.Errorf("device not open"))
	}
	n, err := pw.Write(data)
	if err != nil {
		return n, errs.New(errs.DeviceWrite, "output.play", err)
	}
	return n, nil
}

func (d *OtoDriver) Reset() error {
	d.mu.Lock()
	if d.player == nil {
		d.mu.Unlock()
		return nil
	}
	params := d.params
	d.mu.Unlock()
	return d.Open(params)
}

func (d *OtoDriver) BufferFill() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return 0
	}
	return int(d.player.BufferedSize())
}

func (d *OtoDriver) BytesPerSecond() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params.RateHz * d.params.Channels * d.params.Format.BytesPerSample()
}

func (d *OtoDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.player != nil {
		d.player.Pause()
		d.player.Close()
	}
	if d.pw != nil {
		d.pw.Close()
	}
	return nil
}

func otoFormat(f decoder.SampleFormat) oto.Format {
	switch f {
	case decoder.FormatU8, decoder.FormatS8:
		return oto.FormatUnsignedInt8
	case decoder.FormatF32:
		return oto.FormatFloat32LE
	default:
		return oto.FormatSignedInt16LE
	}
}

// warmUp pre-buffers silence on Windows, matching the teacher's
// warmAudioOutput workaround for the platform's first-chunk latency.
func warmUp(ctx *oto.Context, params decoder.SoundParams) {
	if runtime.GOOS != "windows" {
		return
	}
	bps := params.RateHz * params.Channels * params.Format.BytesPerSample()
	const warmup = 500 * time.Millisecond
	n := bps * int(warmup) / int(time.Second)
	if n <= 0 {
		return
	}
	silence := make([]byte, n)
	p := ctx.NewPlayer(bytes.NewReader(silence))
	p.Play()
	time.Sleep(50 * time.Millisecond)
	p.Close()
}
