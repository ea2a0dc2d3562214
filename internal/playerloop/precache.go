package playerloop

import (
	"sync"

	"github.com/moc-go/moc/internal/decoder"
)

// precacheState mirrors spec.md §4.8's {idle, running, ready, failed}.
type precacheState int

const (
	precacheIdle precacheState = iota
	precacheRunning
	precacheReady
	precacheFailed
)

// precacheThresholdBytes caps how much of the next file the precache
// worker decodes ahead of time (spec.md: "up to a fixed threshold,
// roughly 2x PCM_BUF_SIZE").
const precacheThresholdBytes = 2 * 32 * 1024

// precacher runs a single-slot lookahead decode of the next track
// while the current one finishes (spec.md §4.8). Starting a new
// precache implicitly waits for any previous one, matching "precache
// is single-slot".
type precacher struct {
	registry *decoder.Registry

	mu    sync.Mutex
	state precacheState
	path  string
	dec   decoder.Decoder
	pcm   []byte
	sp    decoder.SoundParams
	err   error
	done  chan struct{}
}

func newPrecacher(registry *decoder.Registry) *precacher {
	return &precacher{registry: registry, state: precacheIdle}
}

// Start begins precaching path, first waiting for any in-flight
// precache to finish (single-slot discipline).
func (p *precacher) Start(path string) {
	p.Wait()

	p.mu.Lock()
	p.state = precacheRunning
	p.path = path
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		dec, err := p.registry.Open(path)
		if err != nil {
			p.mu.Lock()
			p.state = precacheFailed
			p.err = err
			p.mu.Unlock()
			return
		}

		buf := make([]byte, 0, precacheThresholdBytes)
		chunk := make([]byte, 32*1024)
		var sp decoder.SoundParams
		for len(buf) < precacheThresholdBytes {
			n, params, rerr := dec.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
				sp = params
			}
			if rerr != nil {
				break
			}
		}

		p.mu.Lock()
		p.dec = dec
		p.pcm = buf
		p.sp = sp
		p.state = precacheReady
		p.mu.Unlock()
	}()
}

// Wait blocks until any in-flight precache finishes.
func (p *precacher) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// TakeIfMatches waits for completion and, if the precached path
// matches wantPath and precaching succeeded, returns the decoder,
// leftover PCM, and sound params for reuse without reopening. The
// precacher is reset to idle either way.
func (p *precacher) TakeIfMatches(wantPath string) (dec decoder.Decoder, pcm []byte, sp decoder.SoundParams, ok bool) {
	p.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == precacheReady && p.path == wantPath {
		dec, pcm, sp = p.dec, p.pcm, p.sp
		ok = true
	} else if p.state == precacheReady && p.dec != nil {
		// Precached the wrong file (skip/seek raced ahead of us): drop it.
		p.dec.Close()
	}
	p.state = precacheIdle
	p.dec, p.pcm, p.sp, p.err = nil, nil, decoder.SoundParams{}, nil
	return dec, pcm, sp, ok
}
