// Package controller implements the process-wide audio controller of
// spec.md §4.12 (C10): the authoritative playlist, its shuffled
// mirror, transport state, and the play thread's lifecycle and
// transition policy (go_to_another_file). Grounded on the teacher's
// internal/player.Player state machine (paused/closed/done-channel) and
// internal/queue.Queue's current-index tracking, now driving
// internal/playerloop instead of oto directly.
package controller

import (
	"sync"

	"github.com/moc-go/moc/internal/decoder"
	"github.com/moc-go/moc/internal/playerloop"
	"github.com/moc-go/moc/internal/playlist"
)

// State is the transport state exposed to clients (spec.md §4.11's
// GET_STATE poller and EV_STATE event).
type State int

const (
	StateStop State = iota
	StatePlay
	StatePause
)

// Config mirrors the whitelisted options of spec.md §4.11's
// GET_OPTION/SET_OPTION: {Shuffle, Repeat, AutoNext, ShowStreamErrors}.
type Config struct {
	Shuffle          bool
	Repeat           bool
	AutoNext         bool
	ShowStreamErrors bool
	Precache         bool
}

// SoundInfo is the player-thread-only-written, word-sized-field bundle
// of spec.md §5 ("sound_info is written only by the player thread").
type SoundInfo struct {
	Bitrate  int
	RateHz   int
	Channels int
}

// Controller owns the playlist, its shuffled mirror, and the play
// thread, matching spec.md §4.12's component list.
type Controller struct {
	mu sync.Mutex // guards everything below (spec.md's single-mutex-per-object discipline)

	plist    *playlist.Playlist
	shuffled *playlist.Playlist

	state      State
	currentIdx int
	currentPath string

	cfg       Config
	sound     SoundInfo
	lastError string
	mixer     int // 0-100, spec.md §4.11 SET_MIXER/GET_MIXER

	loop       *playerloop.Loop
	playDoneCh chan struct{}
	generation int64 // bumped on every play() to invalidate a stale play-thread's transition

	events Events
}

// Events fans controller state transitions out, standing in for the
// protocol layer's event queue without controller importing it.
type Events struct {
	OnState func(State)
	OnSound func(SoundInfo)
	OnError func(string)
	OnTags  func(decoder.Tags)
}

// New creates a Controller around an already-built player loop.
func New(plist *playlist.Playlist, loop *playerloop.Loop, cfg Config) *Controller {
	c := &Controller{
		plist:    plist,
		shuffled: playlist.New(),
		cfg:      cfg,
		loop:     loop,
		state:    StateStop,
		mixer:    100,
	}
	loop.SetVolumeProvider(func() float64 {
		c.mu.Lock()
		v := c.mixer
		c.mu.Unlock()
		return float64(v) / 100.0
	})
	return c
}

// SetMixer clamps and records the software volume (spec.md §4.11 SET_MIXER).
func (c *Controller) SetMixer(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	c.mu.Lock()
	c.mixer = v
	c.mu.Unlock()
}

func (c *Controller) GetMixer() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mixer
}

func (c *Controller) SetEvents(ev Events) {
	c.mu.Lock()
	c.events = ev
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SoundState() SoundInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sound
}

func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Controller) setErrorLocked(msg string) {
	c.lastError = msg
	if c.events.OnError != nil {
		c.events.OnError(msg)
	}
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	if c.events.OnState != nil {
		c.events.OnState(s)
	}
}

// activePlaylistLocked returns the list the play thread should read
// from: the shuffled mirror if Shuffle is on, else the authoritative list.
func (c *Controller) activePlaylistLocked() *playlist.Playlist {
	if c.cfg.Shuffle {
		return c.shuffled
	}
	return c.plist
}

// Play starts playback at name (or the first item if name is empty),
// per spec.md §4.12: stop, optionally reshuffle swapping name to index
// 0, find the starting index, spawn the play thread.
func (c *Controller) Play(name string) {
	c.Stop()

	c.mu.Lock()
	if c.cfg.Shuffle {
		c.shuffled.Clear()
		c.shuffled.Concat(c.plist)
		if name != "" {
			c.shuffled.SetPlaying(name)
		}
		c.shuffled.Shuffle()
	}
	active := c.activePlaylistLocked()

	idx := 0
	if name != "" {
		if i := active.FindByPath(name); i >= 0 {
			idx = i
		}
	}
	c.currentIdx = idx
	item, ok := active.Item(idx)
	if !ok {
		c.setStateLocked(StateStop)
		c.mu.Unlock()
		return
	}
	c.currentPath = item.Path
	c.generation++
	gen := c.generation
	c.setStateLocked(StatePlay)
	c.mu.Unlock()

	c.playDoneCh = make(chan struct{})
	go c.playThread(gen, c.playDoneCh)
}

// playThread is spec.md §4.12's play thread: while current != -1, play
// the track, then apply the transition policy to pick the next index.
func (c *Controller) playThread(gen int64, done chan struct{}) {
	defer close(done)
	for {
		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return
		}
		active := c.activePlaylistLocked()
		idx := c.currentIdx
		path := c.currentPath
		nextIdx := active.Next(idx)
		var nextPath string
		if nextIdx >= 0 {
			if it, ok := active.Item(nextIdx); ok {
				nextPath = it.Path
			}
		}
		precache := c.cfg.Precache && c.cfg.AutoNext
		c.mu.Unlock()

		if precache && nextPath != "" {
			c.loop.StartPrecache(nextPath)
		}

		result := c.loop.PlayTrack(path, precache, playerloop.Events{
			OnBitrate: func(bps int) {
				c.mu.Lock()
				c.sound.Bitrate = bps
				if c.events.OnSound != nil {
					info := c.sound
					c.mu.Unlock()
					c.events.OnSound(info)
					return
				}
				c.mu.Unlock()
			},
			OnSoundOpen: func(sp decoder.SoundParams) {
				c.mu.Lock()
				c.sound.RateHz = sp.RateHz
				c.sound.Channels = sp.Channels
				info := c.sound
				c.mu.Unlock()
				if c.events.OnSound != nil {
					c.events.OnSound(info)
				}
			},
			OnTags: func(tags decoder.Tags) {
				c.mu.Lock()
				ev := c.events.OnTags
				c.mu.Unlock()
				if ev != nil {
					ev(tags)
				}
			},
			OnStreamErr: func(err error) {
				c.mu.Lock()
				c.setErrorLocked(err.Error())
				c.mu.Unlock()
			},
		})

		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return
		}
		if result.Outcome == playerloop.OutcomeFatalError {
			if result.Err != nil {
				c.setErrorLocked(result.Err.Error())
			}
		}
		if result.Outcome == playerloop.OutcomeStopped {
			c.currentIdx = -1
			c.setStateLocked(StateStop)
			c.mu.Unlock()
			return
		}

		next := c.goToAnotherFile(idx)
		if next < 0 {
			c.currentIdx = -1
			c.setStateLocked(StateStop)
			c.mu.Unlock()
			return
		}
		c.currentIdx = next
		active2 := c.activePlaylistLocked()
		if it, ok := active2.Item(next); ok {
			c.currentPath = it.Path
		}
		c.mu.Unlock()
	}
}

// goToAnotherFile implements spec.md §4.12's transition policy after a
// track ends naturally: with AutoNext it advances to Next(), and when
// there is no next item Repeat wraps around to the first item; without
// AutoNext, Repeat replays the same index; otherwise stop. Must be
// called with c.mu held.
func (c *Controller) goToAnotherFile(current int) int {
	active := c.activePlaylistLocked()
	if c.cfg.AutoNext {
		if n := active.Next(current); n >= 0 {
			return n
		}
		if c.cfg.Repeat {
			if n := active.Next(-1); n >= 0 {
				return n
			}
		}
		return -1
	}
	if c.cfg.Repeat {
		return current
	}
	return -1
}

// PlayNext/PlayPrev implement the user-issued NEXT/PREV commands,
// distinct from AutoNext's automatic transition policy.
func (c *Controller) PlayNext() {
	c.mu.Lock()
	active := c.activePlaylistLocked()
	n := active.Next(c.currentIdx)
	c.mu.Unlock()
	if n < 0 {
		c.Stop()
		return
	}
	if it, ok := active.Item(n); ok {
		c.Play(it.Path)
	}
}

func (c *Controller) PlayPrev() {
	c.mu.Lock()
	active := c.activePlaylistLocked()
	n := active.Prev(c.currentIdx)
	c.mu.Unlock()
	if n < 0 {
		return
	}
	if it, ok := active.Item(n); ok {
		c.Play(it.Path)
	}
}

// Stop halts the play thread (if any) and waits for it to exit.
func (c *Controller) Stop() {
	c.mu.Lock()
	gen := c.generation
	c.generation++ // invalidate the current play thread's transition loop
	doneCh := c.playDoneCh
	c.mu.Unlock()
	_ = gen

	if doneCh != nil {
		c.loop.RequestStop()
		<-doneCh
	}

	c.mu.Lock()
	c.currentIdx = -1
	c.setStateLocked(StateStop)
	c.mu.Unlock()
}

// Pause/Unpause toggle the pause of the ring buffer the caller passes
// in; the controller keeps no ring reference of its own (spec.md §5:
// device is output-thread-owned).
func (c *Controller) Pause(ring interface{ Pause() }) {
	c.mu.Lock()
	if c.state != StatePlay {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StatePause)
	c.mu.Unlock()
	ring.Pause()
}

func (c *Controller) Unpause(ring interface{ Unpause() }) {
	c.mu.Lock()
	if c.state != StatePause {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StatePlay)
	c.mu.Unlock()
	ring.Unpause()
}

// Seek forwards to the player loop only when playing (spec.md §4.12).
func (c *Controller) Seek(deltaSec float64) {
	c.mu.Lock()
	playing := c.state == StatePlay
	c.mu.Unlock()
	if playing {
		c.loop.RequestSeek(deltaSec)
	}
}

// SetConfig updates the whitelisted options (spec.md §4.11 GET/SET_OPTION).
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

func (c *Controller) GetConfig() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Playlist/Shuffled expose the underlying lists for the protocol
// layer's LIST_ADD/LIST_CLEAR/SEND_PLIST handling.
func (c *Controller) Playlist() *playlist.Playlist { return c.plist }
func (c *Controller) ShuffledPlaylist() *playlist.Playlist {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shuffled
}

// CurrentTags returns the currently-playing track's last-published tags.
func (c *Controller) CurrentTags() decoder.Tags {
	return c.loop.CurrentTags()
}

// CurrentTime reports playback position in seconds for GET_CTIME.
func (c *Controller) CurrentTime() float64 {
	return c.loop.CurrentTimeSeconds()
}

// CurrentPath returns the path of the track presently playing/paused, or "".
func (c *Controller) CurrentPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPath
}
