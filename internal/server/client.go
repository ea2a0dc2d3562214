package server

import (
	"net"
	"sync"

	"github.com/moc-go/moc/internal/protocol"
)

// eventQueueSize bounds a client's pending-event backlog; once a
// client's queue is full, further events for it are dropped (see
// enqueue) rather than growing without bound (the corpus has no
// unbounded per-client queues anywhere).
const eventQueueSize = 256

// client is spec.md §4.11's per-client state: (socket, wants_events,
// event_queue, can_send_plist, lock). The GET_PLIST requester a pending
// relay is owed to is tracked server-wide in Server.plistWaiters rather
// than on the client itself, since the relay is delivered by a different
// client's goroutine (see handleGetPlist/handleSendPlist).
type client struct {
	id   int
	conn net.Conn
	wire *protocol.Conn

	mu           sync.Mutex
	wantsEvents  bool
	canSendPlist bool
	holdsLock    bool

	events chan event
	quit   chan struct{}
}

type event struct {
	tag  protocol.Event
	send func(*protocol.Conn) error
}

func newClient(id int, conn net.Conn) *client {
	return &client{
		id:     id,
		conn:   conn,
		wire:   protocol.NewConn(conn),
		events: make(chan event, eventQueueSize),
		quit:   make(chan struct{}),
	}
}

// enqueue posts an event for the client's writer goroutine to drain,
// dropping it and returning false if the queue is already full rather
// than blocking the server's dispatch goroutines — matches
// spec.md §5's "never block the main loop on a slow client".
func (c *client) enqueue(ev event) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
	c.conn.Close()
}
