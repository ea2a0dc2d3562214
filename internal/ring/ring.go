// Package ring implements the single-producer/single-consumer PCM ring
// buffer and its owned output thread described in spec.md §4.2 (C1). The
// player loop is the producer; the Device passed to New is the sole
// consumer, called only from the output thread this package spawns.
package ring

import (
	"sync"
	"time"

	"github.com/moc-go/moc/internal/fifo"
)

// maxPlayBytes bounds a single device.Play() call, per spec.md §4.2 step 5.
const maxPlayBytes = 32 * 1024

// Device is the output driver surface the ring buffer drives. Implemented
// by internal/output; kept minimal and consumer-defined here so ring
// never imports output (and output, in turn, never imports ring).
type Device interface {
	Play(buf []byte) (int, error)
	Reset() error
	BufferFill() int
	BytesPerSecond() int
}

// Buffer is the bounded PCM ring buffer plus its output thread.
type Buffer struct {
	mu   sync.Mutex
	fifo *fifo.Fifo
	dev  Device

	paused  bool
	stopped bool
	exiting bool
	resetDev bool

	timePlayedSec float64

	playCond  *sync.Cond // producer/consumer wake on fill/pause/stop/exit changes
	readyCond *sync.Cond // broadcast once per output-thread iteration, for observers
	spaceCond *sync.Cond // producer waits here for free space

	wg sync.WaitGroup
}

// New creates a Buffer of the given byte capacity, already stopped. Call
// Reset to prepare it for a track, then start the output thread with Run.
func New(size int, dev Device) *Buffer {
	b := &Buffer{
		fifo:    fifo.New(size),
		dev:     dev,
		stopped: true,
	}
	b.playCond = sync.NewCond(&b.mu)
	b.readyCond = sync.NewCond(&b.mu)
	b.spaceCond = sync.NewCond(&b.mu)
	return b
}

// Run starts the output thread and returns at once. Call once; the
// thread exits when Exit is called and the buffer has drained (see Wait).
func (b *Buffer) Run() {
	b.wg.Add(1)
	go b.outputLoop()
}

// Wait blocks until the output thread (started by Run) has exited.
func (b *Buffer) Wait() { b.wg.Wait() }

// Put blocks while there is insufficient free space and the buffer is
// not stopped. Returns false iff the buffer was stopped mid-wait (the
// bytes were not, or only partially, accepted).
func (b *Buffer) Put(data []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(data) > 0 {
		if b.stopped {
			return false
		}
		n := b.fifo.Put(data)
		if n > 0 {
			data = data[n:]
			b.playCond.Broadcast()
			continue
		}
		b.spaceCond.Wait()
	}
	return true
}

// Pause atomically sets pause and requests a device reset so hardware
// state is dropped; the audible effect is immediate silence.
func (b *Buffer) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
	b.resetDev = true
	b.playCond.Broadcast()
}

// Unpause clears pause and wakes the output thread.
func (b *Buffer) Unpause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
	b.playCond.Broadcast()
}

// Stop sets stop, clears any pending data atomically, wakes and waits
// for the reader to acknowledge. After Stop, further Puts are refused
// until Reset.
func (b *Buffer) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.fifo.Clear()
	b.playCond.Broadcast()
	b.spaceCond.Broadcast()
	for !b.readerParkedLocked() {
		b.readyCond.Wait()
	}
	b.mu.Unlock()
}

// readerParkedLocked reports whether the output thread has observed stop
// and is idle. Approximated by fill==0; callers hold b.mu.
func (b *Buffer) readerParkedLocked() bool {
	return b.fifo.Fill() == 0
}

// Reset may only be called when stopped; zeros fill and flags so the
// buffer is ready for the next track.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fifo.Clear()
	b.stopped = false
	b.paused = false
	b.exiting = false
	b.resetDev = false
	b.timePlayedSec = 0
	b.playCond.Broadcast()
}

// Exit requests the output thread to terminate once the buffer drains.
func (b *Buffer) Exit() {
	b.mu.Lock()
	b.exiting = true
	b.playCond.Broadcast()
	b.mu.Unlock()
}

// WaitUntilEmpty blocks the caller until the reader thread has drained
// and parked.
func (b *Buffer) WaitUntilEmpty() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.fifo.Fill() > 0 && !b.stopped {
		b.readyCond.Wait()
	}
}

// TimePlayed returns the audible playback position: the bytes actually
// handed to the device, adjusted for what's still sitting in the
// device's own hardware FIFO, per spec.md §4.2 step 6.
func (b *Buffer) TimePlayed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	bps := b.dev.BytesPerSecond()
	if bps <= 0 {
		return time.Duration(b.timePlayedSec * float64(time.Second))
	}
	hwFill := float64(b.dev.BufferFill()) / float64(bps)
	sec := b.timePlayedSec - hwFill
	if sec < 0 {
		sec = 0
	}
	return time.Duration(sec * float64(time.Second))
}

// Fill returns the number of PCM bytes currently queued.
func (b *Buffer) Fill() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fifo.Fill()
}

func (b *Buffer) outputLoop() {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		if b.resetDev {
			_ = b.dev.Reset()
			b.resetDev = false
		}
		if b.stopped {
			b.fifo.Clear()
		}
		b.readyCond.Broadcast()

		for b.fifo.Fill() == 0 || b.paused || b.stopped {
			if b.exiting && b.fifo.Fill() == 0 {
				b.mu.Unlock()
				return
			}
			b.playCond.Wait()
			if b.resetDev {
				_ = b.dev.Reset()
				b.resetDev = false
			}
			if b.stopped {
				b.fifo.Clear()
				b.readyCond.Broadcast()
			}
		}

		n := b.fifo.Fill()
		if n > maxPlayBytes {
			n = maxPlayBytes
		}
		chunk := make([]byte, n)
		got := b.fifo.Get(chunk)
		chunk = chunk[:got]
		b.mu.Unlock()

		played, err := b.dev.Play(chunk)

		b.mu.Lock()
		b.spaceCond.Broadcast()
		if err != nil {
			// DeviceWrite (spec.md §7): reset device, drop the rest of this chunk.
			b.resetDev = true
		} else if played > 0 {
			bps := b.dev.BytesPerSecond()
			if bps > 0 {
				b.timePlayedSec += float64(played) / float64(bps)
			}
		}
		b.mu.Unlock()
	}
}
