package output

import (
	"sync"

	"github.com/moc-go/moc/internal/decoder"
)

// NullDriver discards audio; used by tests and by mocd's SoundDriver
// config when no other backend is available (spec.md §4.2 names this
// the "bare" driver in the original multi-backend list).
type NullDriver struct {
	mu     sync.Mutex
	params decoder.SoundParams
	total  int
}

func NewNullDriver() *NullDriver { return &NullDriver{} }

func (d *NullDriver) Open(params decoder.SoundParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = params
	return nil
}

func (d *NullDriver) Play(data []byte) (int, error) {
	d.mu.Lock()
	d.total += len(data)
	d.mu.Unlock()
	return len(data), nil
}

func (d *NullDriver) Reset() error        { return nil }
func (d *NullDriver) BufferFill() int     { return 0 }
func (d *NullDriver) Close() error        { return nil }

func (d *NullDriver) BytesPerSecond() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	bps := d.params.RateHz * d.params.Channels * d.params.Format.BytesPerSample()
	if bps == 0 {
		return 1
	}
	return bps
}

// TotalBytes reports how many bytes have been "played", for tests.
func (d *NullDriver) TotalBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}
