package iostream

import (
	"io"
	"sync"

	"github.com/moc-go/moc/internal/fifo"
)

// prefetcher is the buffered I/O thread of spec.md §4.3: a background
// goroutine that keeps reading the underlying Stream into its own FIFO
// so the decoder never blocks directly on disk/network I/O. Consumer
// and prefetcher synchronise through fillCond/freeCond, both guarding mu.
type prefetcher struct {
	s    *Stream
	buf  *fifo.Fifo
	mu   sync.Mutex
	fillCond *sync.Cond
	freeCond *sync.Cond

	eof      bool
	err      error
	aborted  bool
	stopped  bool
	restartPos int64
	restartPending bool

	done chan struct{}
}

func newPrefetcher(s *Stream, size int) *prefetcher {
	p := &prefetcher{
		s:    s,
		buf:  fifo.New(size),
		done: make(chan struct{}),
	}
	p.fillCond = sync.NewCond(&p.mu)
	p.freeCond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

func (p *prefetcher) run() {
	defer close(p.done)
	chunk := make([]byte, 32*1024)
	for {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return
		}
		if p.restartPending {
			p.buf.Clear()
			p.eof = false
			p.err = nil
			p.restartPending = false
		}
		for p.buf.Space() == 0 && !p.stopped && !p.restartPending {
			p.freeCond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		if p.restartPending {
			p.mu.Unlock()
			continue
		}
		p.mu.Unlock()

		if p.aborted {
			return
		}
		n, err := p.s.rawRead(chunk)
		p.mu.Lock()
		if n > 0 {
			p.buf.Put(chunk[:n])
			p.fillCond.Broadcast()
		}
		if err != nil {
			if err == io.EOF {
				p.eof = true
			} else {
				p.err = err
			}
			p.fillCond.Broadcast()
			p.mu.Unlock()
			if err == io.EOF {
				return
			}
			continue
		}
		p.mu.Unlock()
	}
}

func (p *prefetcher) read(out []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Fill() == 0 {
		if p.err != nil {
			err := p.err
			p.err = nil
			return 0, err
		}
		if p.eof {
			return 0, io.EOF
		}
		if p.aborted {
			return 0, io.ErrClosedPipe
		}
		p.fillCond.Wait()
	}
	n := p.buf.Get(out)
	p.freeCond.Broadcast()
	return n, nil
}

// restartFrom discards buffered data and resumes prefetching from pos;
// called after a Seek.
func (p *prefetcher) restartFrom(pos int64) {
	p.mu.Lock()
	p.restartPending = true
	p.restartPos = pos
	p.freeCond.Broadcast()
	p.fillCond.Broadcast()
	p.mu.Unlock()
}

func (p *prefetcher) abort() {
	p.mu.Lock()
	p.aborted = true
	p.freeCond.Broadcast()
	p.fillCond.Broadcast()
	p.mu.Unlock()
}

func (p *prefetcher) stop() {
	p.mu.Lock()
	p.stopped = true
	p.freeCond.Broadcast()
	p.fillCond.Broadcast()
	p.mu.Unlock()
	<-p.done
}
