package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/moc-go/moc/internal/config"
	"github.com/moc-go/moc/internal/controller"
	"github.com/moc-go/moc/internal/decoder"
	"github.com/moc-go/moc/internal/protocol"
	"github.com/moc-go/moc/internal/tagcache"
)

// Server is the C11 control-socket server: it owns the fixed client
// table, the lock discipline, and last-error buffer, and dispatches
// commands into the controller/playlist/tag-cache/registry.
type Server struct {
	cfg      *config.Config
	logger   *log.Logger
	registry *decoder.Registry
	ctrl     *controller.Controller
	cache    *tagcache.Cache

	mu         sync.Mutex
	cond       *sync.Cond
	clients    map[int]*client
	nextID     int
	lockHolder int // 0 = unlocked, else a client id

	errMu     sync.Mutex
	lastError string

	// plistWaiters holds, per pending GET_PLIST requester id, the
	// channel handleSendPlist delivers the relayed (serial, items) onto
	// once the nominated sender pushes its playlist (spec.md §4.11).
	plistMu      sync.Mutex
	plistWaiters map[int]chan plistPayload

	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup
	cookie   []byte

	// pauser is the ring buffer powering playback, the sole thing the
	// controller's Pause/Unpause need beyond its own state (spec.md §5:
	// the device/ring is output-thread-owned, so the server plumbs this
	// through rather than the controller reaching across packages for it).
	pauser interface {
		Pause()
		Unpause()
	}
}

// SetRing wires the ring buffer backing PAUSE/UNPAUSE dispatch. Called
// once during startup wiring (cmd/mocd).
func (s *Server) SetRing(r interface {
	Pause()
	Unpause()
}) {
	s.pauser = r
}

func New(cfg *config.Config, logger *log.Logger, registry *decoder.Registry, ctrl *controller.Controller, cache *tagcache.Cache) *Server {
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		registry:     registry,
		ctrl:         ctrl,
		cache:        cache,
		clients:      make(map[int]*client),
		plistWaiters: make(map[int]chan plistPayload),
		quit:         make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	ctrl.SetEvents(controller.Events{
		OnState: func(st controller.State) { s.broadcastState(st) },
		OnSound: func(info controller.SoundInfo) { s.broadcastSound(info) },
		OnError: func(msg string) { s.recordError(msg) },
		OnTags:  func(tags decoder.Tags) { s.broadcastTags(tags) },
	})
	return s
}

// Run binds the per-user UNIX socket (after writing the PID file) and
// serves clients until Shutdown is called or a fatal listen error
// occurs (spec.md §4.11).
func (s *Server) Run() error {
	if err := WritePIDFile(s.cfg.PidFile); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	defer RemovePIDFile(s.cfg.PidFile)

	cookie, err := generateCookie()
	if err != nil {
		return err
	}
	if err := writeCookieFile(s.cfg.CookieFile, cookie); err != nil {
		return fmt.Errorf("server: writing cookie file: %w", err)
	}
	s.cookie = cookie
	defer os.Remove(s.cfg.CookieFile)

	os.Remove(s.cfg.SocketPath) // a stale socket file from a crashed run
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln
	defer ln.Close()

	s.logger.Info("listening", "socket", s.cfg.SocketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}
		s.handleAccept(conn)
	}
}

func (s *Server) handleAccept(conn net.Conn) {
	if !s.authenticate(conn) {
		conn.Close()
		return
	}

	s.mu.Lock()
	if len(s.clients) >= s.cfg.MaxClients {
		s.mu.Unlock()
		wire := protocol.NewConn(conn)
		wire.WriteEvent(protocol.EvBusy)
		wire.Flush()
		conn.Close()
		return
	}
	s.nextID++
	id := s.nextID
	c := newClient(id, conn)
	s.clients[id] = c
	s.mu.Unlock()

	s.cache.RegisterClient(id)

	s.wg.Add(2)
	go s.writerLoop(c)
	go s.readerLoop(c)
}

// authenticate reads the fixed-length cookie every client sends as the
// first bytes on a new connection and compares it against the cookie
// written alongside the PID file (see internal/server/auth.go). This
// runs before the client is admitted into the fixed-size table so a
// failed handshake never consumes a client slot.
func (s *Server) authenticate(conn net.Conn) bool {
	if len(s.cookie) == 0 {
		return true // cookie auth disabled (e.g. in tests without Run())
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	got := make([]byte, cookieLen)
	if _, err := io.ReadFull(conn, got); err != nil {
		return false
	}
	return cookiesEqual(got, s.cookie)
}

// Shutdown stops accepting new clients and tells every connected
// client's reader loop to unwind (spec.md's QUIT command).
func (s *Server) Shutdown() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.enqueue(event{tag: protocol.EvExit})
		c.close()
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	if s.lockHolder == c.id {
		s.lockHolder = 0
		s.cond.Broadcast()
	}
	s.mu.Unlock()
	s.plistMu.Lock()
	delete(s.plistWaiters, c.id)
	s.plistMu.Unlock()
	s.cache.UnregisterClient(c.id)
	c.close()
}

func (s *Server) recordError(msg string) {
	s.errMu.Lock()
	if len(msg) > 256 {
		msg = msg[:256]
	}
	s.lastError = msg
	s.errMu.Unlock()
	s.broadcastEvent(protocol.EvError, func(w *protocol.Conn) error { return w.WriteString(msg) })
}

func (s *Server) getLastError() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastError
}

// broadcastEvent fans ev out to every client currently in event mode,
// matching spec.md's "events from a single client appear in the order
// they were enqueued" by pushing onto each client's own ordered queue.
func (s *Server) broadcastEvent(tag protocol.Event, send func(*protocol.Conn) error) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.mu.Lock()
		wants := c.wantsEvents
		c.mu.Unlock()
		if wants {
			c.enqueue(event{tag: tag, send: send})
		}
	}
}

func (s *Server) broadcastState(st controller.State) {
	s.broadcastEvent(protocol.EvState, func(w *protocol.Conn) error { return w.WriteInt32(int32(st)) })
}

func (s *Server) broadcastSound(info controller.SoundInfo) {
	s.broadcastEvent(protocol.EvBitrate, func(w *protocol.Conn) error { return w.WriteInt32(int32(info.Bitrate)) })
	s.broadcastEvent(protocol.EvRate, func(w *protocol.Conn) error { return w.WriteInt32(int32(info.RateHz)) })
	s.broadcastEvent(protocol.EvChannels, func(w *protocol.Conn) error { return w.WriteInt32(int32(info.Channels)) })
}

func (s *Server) broadcastTags(tags decoder.Tags) {
	wire := protocol.ToWireTags(tags)
	s.broadcastEvent(protocol.EvTags, func(w *protocol.Conn) error { return w.WriteTags(wire) })
}

var errClientGone = errors.New("server: client connection closed")
