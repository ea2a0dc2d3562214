package tagcache

import (
	"os"
	"sync"
	"time"

	"github.com/moc-go/moc/internal/decoder"
)

// InfoSource resolves path to Tags, the decoder registry's Info call
// (spec.md §4.10 step 3: "call the decoder's info() to fill missing fields").
type InfoSource interface {
	Info(path string, which decoder.TagKind) (decoder.Tags, error)
}

// Request is one queued lookup (spec.md §4.10: "(path, which_tags)").
type Request struct {
	Path  string
	Which decoder.TagKind
}

// Result is delivered to a client's result channel once a Request completes.
type Result struct {
	Path string
	Tags decoder.Tags
	Err  error
}

// Cache combines the on-disk Store with per-client request queues and
// the single reader thread that services them round-robin (spec.md
// §4.10/§5: "a reader thread services an array of per-client request
// queues, round-robin one request per queue per cycle").
type Cache struct {
	store  *Store
	source InfoSource

	mu      sync.Mutex
	clients map[int]*clientQueue
	nowFn   func() int64

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

type clientQueue struct {
	pending []Request
	results chan Result
}

// New starts the reader thread and returns the Cache.
func New(store *Store, source InfoSource) *Cache {
	c := &Cache{
		store:   store,
		source:  source,
		clients: make(map[int]*clientQueue),
		nowFn:   unixNow,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readerLoop()
	return c
}

func unixNow() int64 { return time.Now().Unix() }

// RegisterClient creates a request queue + result channel for clientID.
func (c *Cache) RegisterClient(clientID int) <-chan Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := &clientQueue{results: make(chan Result, 32)}
	c.clients[clientID] = q
	return q.results
}

// UnregisterClient drops clientID's queue (on disconnect).
func (c *Cache) UnregisterClient(clientID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, clientID)
}

// AddRequest enqueues a lookup for clientID.
func (c *Cache) AddRequest(clientID int, req Request) {
	c.mu.Lock()
	q, ok := c.clients[clientID]
	if ok {
		q.pending = append(q.pending, req)
	}
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// ClearQueue drops all pending requests for clientID.
func (c *Cache) ClearQueue(clientID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.clients[clientID]; ok {
		q.pending = nil
	}
}

// ClearUpTo drops pending requests up to and including path, used when
// a client scrolls past entries it no longer cares about.
func (c *Cache) ClearUpTo(clientID int, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.clients[clientID]
	if !ok {
		return
	}
	for i, r := range q.pending {
		if r.Path == path {
			q.pending = q.pending[i+1:]
			return
		}
	}
}

// GetImmediate bypasses the queue entirely, used to feed the player
// loop (spec.md §4.10: "a synchronous get_immediate path ... used to
// feed the player loop").
func (c *Cache) GetImmediate(path string, which decoder.TagKind) (decoder.Tags, error) {
	tags, _, err := c.resolve(path, which)
	return tags, err
}

// readerLoop services one request per client queue per cycle,
// round-robin, sleeping on wake between cycles with nothing to do.
func (c *Cache) readerLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.quit:
			return
		case <-c.wake:
		}

		for {
			did := c.serviceOneRound()
			if !did {
				break
			}
			select {
			case <-c.quit:
				return
			default:
			}
		}
	}
}

func (c *Cache) serviceOneRound() bool {
	c.mu.Lock()
	type job struct {
		id  int
		req Request
		out chan Result
	}
	var jobs []job
	for id, q := range c.clients {
		if len(q.pending) == 0 {
			continue
		}
		jobs = append(jobs, job{id: id, req: q.pending[0], out: q.results})
		q.pending = q.pending[1:]
	}
	c.mu.Unlock()

	if len(jobs) == 0 {
		return false
	}
	for _, j := range jobs {
		tags, _, err := c.resolve(j.req.Path, j.req.Which)
		select {
		case j.out <- Result{Path: j.req.Path, Tags: tags, Err: err}:
		default:
		}
	}
	return true
}

// resolve implements spec.md §4.10 steps 2-3: cache hit when mtime
// matches and the requested fields are already filled; otherwise call
// the decoder's Info and upsert a fresh record.
func (c *Cache) resolve(path string, which decoder.TagKind) (decoder.Tags, bool, error) {
	info, statErr := os.Stat(path)
	var diskMTime int64
	if statErr == nil {
		diskMTime = info.ModTime().Unix()
	}

	if rec, ok := c.store.Get(path); ok {
		if statErr == nil && rec.MTime == diskMTime && (rec.Filled&which) == which {
			c.store.Touch(path, c.nowFn())
			return recordToTags(rec), true, nil
		}
	}

	tags, err := c.source.Info(path, which)
	if err != nil {
		return decoder.Tags{}, false, err
	}

	rec := Record{
		Path: path, MTime: diskMTime, ATime: c.nowFn(),
		Artist: tags.Artist, Album: tags.Album, Title: tags.Title,
		Track: tags.TrackNo, Duration: tags.Duration, Filled: tags.Filled,
	}
	c.store.Put(rec)
	return tags, false, nil
}

func recordToTags(rec Record) decoder.Tags {
	return decoder.Tags{
		Title: rec.Title, Artist: rec.Artist, Album: rec.Album,
		TrackNo: rec.Track, Duration: rec.Duration, Filled: rec.Filled,
	}
}

// Close stops the reader thread.
func (c *Cache) Close() {
	close(c.quit)
	c.wg.Wait()
}
