package ring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	mu      sync.Mutex
	played  []byte
	bps     int
	hwFill  int
	failNxt bool
}

func (d *fakeDevice) Play(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNxt {
		d.failNxt = false
		return 0, assertErr{}
	}
	d.played = append(d.played, buf...)
	return len(buf), nil
}

func (d *fakeDevice) Reset() error          { return nil }
func (d *fakeDevice) BufferFill() int       { d.mu.Lock(); defer d.mu.Unlock(); return d.hwFill }
func (d *fakeDevice) BytesPerSecond() int   { return d.bps }

type assertErr struct{}

func (assertErr) Error() string { return "device write failed" }

func TestRingFillBoundsAndDrain(t *testing.T) {
	dev := &fakeDevice{bps: 1000}
	b := New(1024, dev)
	b.Run()
	b.Reset()

	ok := b.Put(make([]byte, 100))
	require.True(t, ok)

	b.WaitUntilEmpty()
	dev.mu.Lock()
	played := len(dev.played)
	dev.mu.Unlock()
	assert.Equal(t, 100, played)

	b.Stop()
	assert.Equal(t, 0, b.Fill())

	b.Exit()
	b.Wait()
}

func TestStopUnblocksProducer(t *testing.T) {
	dev := &fakeDevice{bps: 1000}
	b := New(8, dev) // tiny buffer, Play never drains fast enough to matter here
	b.Run()
	b.Reset()
	b.Pause() // keep the output thread from draining while we fill it

	done := make(chan bool, 1)
	go func() {
		// larger than capacity: producer must block until Stop wakes it
		done <- b.Put(make([]byte, 64))
	}()

	time.Sleep(20 * time.Millisecond)
	b.Stop()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Put did not unblock after Stop")
	}

	b.Exit()
	b.Wait()
}
