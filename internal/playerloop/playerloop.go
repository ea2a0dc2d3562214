package playerloop

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/moc-go/moc/internal/convert"
	"github.com/moc-go/moc/internal/decoder"
	"github.com/moc-go/moc/internal/errs"
	"github.com/moc-go/moc/internal/ring"
)

const playerChunkBytes = 32 * 1024

// Device is the output surface the player loop reopens on a sound
// parameter change, extending ring.Device with the Open call the
// internal/output drivers provide.
type Device interface {
	ring.Device
	Open(params decoder.SoundParams) error
}

// Outcome is how a PlayTrack call ended, driving internal/controller's
// go_to_another_file transition policy (spec.md §4.12).
type Outcome int

const (
	OutcomeEOF Outcome = iota
	OutcomeStopped
	OutcomeFatalError
)

// Result carries the outcome plus whatever error ended the track.
type Result struct {
	Outcome Outcome
	Err     error
}

// Events is the set of callbacks the player loop fires into, standing
// in for spec.md's "publish to sound_info / fire event" side effects
// without the loop depending on the protocol or controller packages.
type Events struct {
	OnBitrate    func(bps int)
	OnTags       func(tags decoder.Tags)
	OnStreamErr  func(err error)
	OnSoundOpen  func(params decoder.SoundParams)
}

// Loop is the player loop of spec.md §4.7. One Loop is reused across
// tracks; each track runs in its own PlayTrack call.
type Loop struct {
	registry *decoder.Registry
	ring     *ring.Buffer
	device   Device
	requests *requestBox
	precache *precacher

	showStreamErrors bool

	tagsMu    sync.Mutex
	curTags   decoder.Tags

	bitrateLimiter *rate.Limiter

	volumeMu sync.Mutex
	volume   func() float64 // 0.0-1.0 software volume, polled per chunk; nil means full volume
}

// New builds a Loop around an already-constructed ring buffer and device.
func New(registry *decoder.Registry, buf *ring.Buffer, device Device, showStreamErrors bool) *Loop {
	return &Loop{
		registry:         registry,
		ring:             buf,
		device:           device,
		requests:         newRequestBox(),
		precache:         newPrecacher(registry),
		showStreamErrors: showStreamErrors,
		bitrateLimiter:   rate.NewLimiter(rate.Limit(1), 1),
	}
}

// SetVolumeProvider wires a callback the loop polls for the current
// software volume (spec.md §4.12's SET_MIXER), read once per chunk so
// a volume change mid-track takes effect on the next buffer.
func (l *Loop) SetVolumeProvider(fn func() float64) {
	l.volumeMu.Lock()
	l.volume = fn
	l.volumeMu.Unlock()
}

func (l *Loop) currentVolume() float64 {
	l.volumeMu.Lock()
	fn := l.volume
	l.volumeMu.Unlock()
	if fn == nil {
		return 1.0
	}
	return fn()
}

// RequestSeek posts a relative seek request (spec.md §4.7 request CV).
func (l *Loop) RequestSeek(deltaSec float64) { l.requests.PostSeek(deltaSec) }

// RequestStop posts a stop request.
func (l *Loop) RequestStop() { l.requests.PostStop() }

// CurrentTags returns the last-published tags (spec.md §4.7's
// tags-mutex-guarded "current tags" struct).
func (l *Loop) CurrentTags() decoder.Tags {
	l.tagsMu.Lock()
	defer l.tagsMu.Unlock()
	return l.curTags
}

// CurrentTimeSeconds reports how much of the current track has been
// heard, for the GET_CTIME poller (spec.md §4.11).
func (l *Loop) CurrentTimeSeconds() float64 {
	return l.ring.TimePlayed().Seconds()
}

func (l *Loop) publishTags(tags decoder.Tags, ev Events) {
	l.tagsMu.Lock()
	l.curTags = tags
	l.tagsMu.Unlock()
	if ev.OnTags != nil {
		ev.OnTags(tags)
	}
}

// StartPrecache kicks off precaching nextPath in the background,
// overlapping with the tail of the currently-playing track (spec.md §4.8).
func (l *Loop) StartPrecache(nextPath string) {
	if nextPath != "" {
		l.precache.Start(nextPath)
	}
}

// PlayTrack runs the player loop for one track (spec.md §4.7 steps
// 1-8), opening path (or reusing a precached decoder matching path),
// and returns once the track ends, is stopped, or fails fatally.
// precacheEnabled starts nothing here: the caller starts the next
// precache itself via StartPrecache and decides whether
// Precache/AutoNext are enabled.
func (l *Loop) PlayTrack(path string, precacheEnabled bool, ev Events) Result {
	dec, pending, openParams, reused := l.precache.TakeIfMatches(path)
	if !reused {
		var err error
		dec, err = l.registry.Open(path)
		if err != nil {
			return Result{Outcome: OutcomeFatalError, Err: err}
		}
	}
	defer dec.Close()

	openParamsKnown := reused
	chunk := make([]byte, playerChunkBytes)
	var lastBitrate int

	emit := func(data []byte) (stopped bool) {
		if !l.ring.Put(data) {
			return true
		}
		return false
	}

	if len(pending) > 0 {
		if emit(pending) {
			l.ring.Stop()
			return Result{Outcome: OutcomeStopped}
		}
	}

	for {
		if kind, seekSec := l.requests.take(); kind != reqNothing {
			switch kind {
			case reqStop:
				l.ring.Stop()
				return Result{Outcome: OutcomeStopped}
			case reqSeek:
				// spec.md §4.7: "call decoder seek(current_time + delta)" —
				// seekSec is the requested relative delta, not an absolute
				// target, so it must be added to the position played so far
				// before the ring (and its time counter) is reset.
				target := l.CurrentTimeSeconds() + seekSec
				if newSec, ok := dec.Seek(target); ok {
					l.ring.Stop()
					l.ring.Reset()
					_ = newSec
				}
			}
		}

		n, sp, err := dec.Read(chunk)
		if err != nil && errs.Is(err, errs.DecoderStream) {
			if l.showStreamErrors && ev.OnStreamErr != nil {
				ev.OnStreamErr(err)
			}
			continue
		}
		if err != nil && errs.Is(err, errs.DecoderFatal) {
			l.ring.Stop()
			return Result{Outcome: OutcomeFatalError, Err: err}
		}

		if n > 0 {
			if bps := dec.Bitrate(); bps > 0 && bps != lastBitrate {
				lastBitrate = bps
				if l.bitrateLimiter.Allow() && ev.OnBitrate != nil {
					ev.OnBitrate(bps)
				}
			}
			if tw, ok := dec.(decoder.TagWatcher); ok {
				if tags, changed := tw.CurrentTags(); changed {
					l.publishTags(tags, ev)
				}
			}

			if !openParamsKnown || !sp.Equal(openParams) {
				if l.ring.Fill() == 0 {
					if err := l.device.Open(sp); err != nil {
						return Result{Outcome: OutcomeFatalError, Err: err}
					}
					if ev.OnSoundOpen != nil {
						ev.OnSoundOpen(sp)
					}
					openParams = sp
					openParamsKnown = true
				}
			}

			conv := convert.NewConverter(sp, openParams)
			conv.SetVolume(l.currentVolume())
			data := conv.Convert(chunk[:n])
			if emit(data) {
				return Result{Outcome: OutcomeStopped}
			}
		}

		if isEOF(err) {
			if precacheEnabled {
				// Caller already started precache via StartPrecache
				// once it knew the next path; here we just drain.
			}
			l.ring.WaitUntilEmpty()
			return Result{Outcome: OutcomeEOF}
		}
	}
}

func isEOF(err error) bool {
	return err != nil && !errs.Is(err, errs.DecoderStream) && !errs.Is(err, errs.DecoderFatal)
}
