// Package playerloop implements the player loop and precache worker of
// spec.md §4.7/§4.8 (C7): it pulls decoded PCM from an opened decoder,
// feeds it into the ring buffer, and reacts to seek/stop requests
// posted by other threads (here, other goroutines) through a condition
// variable, mirroring the teacher's monitor-goroutine style
// (internal/player/player.go's p.monitor) generalized from polling a
// decoder directly into driving the ring buffer's producer side.
package playerloop

import "sync"

type requestKind int

const (
	reqNothing requestKind = iota
	reqSeek
	reqStop
)

// requestBox is the "request channel + enum" of spec.md §4.7, modeled
// with a mutex+cond instead of a raw condition variable to match the
// ring buffer's own style (internal/ring.Buffer).
type requestBox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	kind     requestKind
	seekSec  float64
}

func newRequestBox() *requestBox {
	b := &requestBox{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// PostSeek requests a relative seek of deltaSec; the player loop picks
// it up through take before its next decoder read.
func (b *requestBox) PostSeek(deltaSec float64) {
	b.mu.Lock()
	b.kind = reqSeek
	b.seekSec = deltaSec
	b.mu.Unlock()
	b.cond.Broadcast()
}

// PostStop requests the loop stop the current track.
func (b *requestBox) PostStop() {
	b.mu.Lock()
	b.kind = reqStop
	b.mu.Unlock()
	b.cond.Broadcast()
}

// take atomically reads and clears the pending request.
func (b *requestBox) take() (requestKind, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k, s := b.kind, b.seekSec
	b.kind = reqNothing
	return k, s
}
