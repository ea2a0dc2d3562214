package server

import (
	"errors"
	"io"
	"time"

	"github.com/moc-go/moc/internal/config"
	"github.com/moc-go/moc/internal/decoder"
	"github.com/moc-go/moc/internal/protocol"
)

// plistRelayTimeout bounds how long a GET_PLIST requester waits for its
// nominated sender to push a playlist before the relay degrades to an
// empty one (the sender may have gone away between nomination and push).
const plistRelayTimeout = 5 * time.Second

// plistPayload is what handleSendPlist delivers to a waiting requester.
type plistPayload struct {
	serial int64
	items  []protocol.WireItem
}

// writerLoop drains a client's event queue, matching spec.md's
// "writable clients drain queued events non-blocking" half of the
// select() loop with a dedicated goroutine instead.
func (s *Server) writerLoop(c *client) {
	defer s.wg.Done()
	for {
		select {
		case ev := <-c.events:
			if err := c.wire.WriteEvent(ev.tag); err != nil {
				return
			}
			if ev.send != nil {
				if err := ev.send(c.wire); err != nil {
					return
				}
			}
			if err := c.wire.Flush(); err != nil {
				return
			}
		case <-c.quit:
			return
		}
	}
}

// readerLoop dispatches one command per read, matching spec.md's
// "readable clients dispatch one command each" half of the select()
// loop, one goroutine per client instead of a shared select set.
func (s *Server) readerLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	for {
		op, err := c.wire.ReadByte()
		if err != nil {
			return
		}
		s.awaitTurn(c)
		if err := s.dispatch(c, protocol.Command(op)); err != nil {
			if errors.Is(err, errClientGone) || errors.Is(err, io.EOF) {
				return
			}
			s.logger.Warn("command failed", "client", c.id, "op", op, "err", err)
		}
		c.wire.Flush()
	}
}

// awaitTurn blocks the caller while another client holds the lock
// (spec.md §4.11: "while held, the server accepts commands only from
// that client"). LOCK/UNLOCK bracket a multi-command section
// explicitly; a single dispatch never auto-releases a held lock.
func (s *Server) awaitTurn(c *client) {
	s.mu.Lock()
	for s.lockHolder != 0 && s.lockHolder != c.id {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

func (s *Server) dispatch(c *client, op protocol.Command) error {
	switch op {
	case protocol.CmdPlay:
		name, err := c.wire.ReadString()
		if err != nil {
			return err
		}
		s.ctrl.Play(name)

	case protocol.CmdListClear:
		s.ctrl.Playlist().Clear()

	case protocol.CmdListAdd:
		path, err := c.wire.ReadString()
		if err != nil {
			return err
		}
		s.ctrl.Playlist().Add(path)

	case protocol.CmdStop:
		s.ctrl.Stop()

	case protocol.CmdPause:
		s.ctrl.Pause(s.ringPauser())

	case protocol.CmdUnpause:
		s.ctrl.Unpause(s.ringPauser())

	case protocol.CmdNext:
		s.ctrl.PlayNext()

	case protocol.CmdPrev:
		s.ctrl.PlayPrev()

	case protocol.CmdSeek:
		sec, err := c.wire.ReadInt32()
		if err != nil {
			return err
		}
		s.ctrl.Seek(float64(sec))

	case protocol.CmdGetCTime:
		return s.replyFloat(c, s.ctrl.CurrentTime())

	case protocol.CmdGetState:
		return s.replyInt(c, int32(s.ctrl.State()))

	case protocol.CmdGetBitrate:
		return s.replyInt(c, int32(s.ctrl.SoundState().Bitrate))

	case protocol.CmdGetRate:
		return s.replyInt(c, int32(s.ctrl.SoundState().RateHz))

	case protocol.CmdGetChannels:
		return s.replyInt(c, int32(s.ctrl.SoundState().Channels))

	case protocol.CmdGetMixer:
		return s.replyInt(c, int32(s.ctrl.GetMixer()))

	case protocol.CmdSetMixer:
		v, err := c.wire.ReadInt32()
		if err != nil {
			return err
		}
		s.ctrl.SetMixer(int(v))

	case protocol.CmdGetSName:
		return s.replyString(c, s.ctrl.CurrentPath())

	case protocol.CmdGetTags:
		return s.replyTags(c, s.ctrl.CurrentTags())

	case protocol.CmdGetFileTags:
		path, err := c.wire.ReadString()
		if err != nil {
			return err
		}
		tags, _ := s.cache.GetImmediate(path, decoder.TagComments|decoder.TagTime)
		return s.replyTags(c, tags)

	case protocol.CmdGetOption:
		name, err := c.wire.ReadString()
		if err != nil {
			return err
		}
		if !config.IsWhitelistedOption(name) {
			return s.replyInt(c, 0)
		}
		return s.replyInt(c, boolToInt32(s.getOption(name)))

	case protocol.CmdSetOption:
		name, err := c.wire.ReadString()
		if err != nil {
			return err
		}
		v, err := c.wire.ReadInt32()
		if err != nil {
			return err
		}
		if config.IsWhitelistedOption(name) {
			s.setOption(name, v != 0)
			s.broadcastEvent(protocol.EvOptions, func(w *protocol.Conn) error { return w.WriteString(name) })
		}

	case protocol.CmdDelete:
		path, err := c.wire.ReadString()
		if err != nil {
			return err
		}
		if i := s.ctrl.Playlist().FindByPath(path); i >= 0 {
			s.ctrl.Playlist().Delete(i)
			s.broadcastEvent(protocol.EvPlistDel, func(w *protocol.Conn) error { return w.WriteString(path) })
		}

	case protocol.CmdSendEvents:
		c.mu.Lock()
		c.wantsEvents = true
		c.mu.Unlock()

	case protocol.CmdGetError:
		return s.replyString(c, s.getLastError())

	case protocol.CmdPing:
		c.enqueue(event{tag: protocol.EvPong})

	case protocol.CmdDisconnect:
		return errClientGone

	case protocol.CmdQuit:
		s.logger.Info("quit requested", "client", c.id)
		go s.Shutdown()

	case protocol.CmdLock:
		s.mu.Lock()
		for s.lockHolder != 0 && s.lockHolder != c.id {
			s.cond.Wait()
		}
		s.lockHolder = c.id
		c.mu.Lock()
		c.holdsLock = true
		c.mu.Unlock()
		s.mu.Unlock()

	case protocol.CmdUnlock:
		s.mu.Lock()
		if s.lockHolder == c.id {
			s.lockHolder = 0
			s.cond.Broadcast()
		}
		s.mu.Unlock()
		c.mu.Lock()
		c.holdsLock = false
		c.mu.Unlock()

	case protocol.CmdGetSerial, protocol.CmdPlistGetSerial:
		return s.replyInt(c, int32(s.ctrl.Playlist().Serial()))

	case protocol.CmdPlistSetSerial:
		// spec.md: a client asserts the serial it expects after a sync;
		// the server has no independent serial to set here beyond
		// acknowledging, since Serial is bumped only by mutation.
		if _, err := c.wire.ReadInt32(); err != nil {
			return err
		}

	case protocol.CmdCanSendPlist:
		c.mu.Lock()
		c.canSendPlist = true
		c.mu.Unlock()

	case protocol.CmdGetPlist:
		return s.handleGetPlist(c)

	case protocol.CmdSendPlist:
		return s.handleSendPlist(c)

	case protocol.CmdCliPlistAdd:
		item, err := c.wire.ReadItem()
		if err != nil {
			return err
		}
		s.ctrl.Playlist().Add(item.File)
		s.broadcastEvent(protocol.EvPlistAdd, func(w *protocol.Conn) error { return w.WriteItem(item) })

	case protocol.CmdCliPlistDel:
		path, err := c.wire.ReadString()
		if err != nil {
			return err
		}
		if i := s.ctrl.Playlist().FindByPath(path); i >= 0 {
			s.ctrl.Playlist().Delete(i)
		}
		s.broadcastEvent(protocol.EvPlistDel, func(w *protocol.Conn) error { return w.WriteString(path) })

	case protocol.CmdCliPlistClear:
		s.ctrl.Playlist().Clear()
		s.broadcastEvent(protocol.EvPlistClear, nil)

	default:
		return nil // unknown op code: ignored, matches ProtocolDecode's "close that client only" only on framing errors
	}
	return nil
}

func (s *Server) replyInt(c *client, v int32) error {
	if err := c.wire.WriteEvent(protocol.EvData); err != nil {
		return err
	}
	return c.wire.WriteInt32(v)
}

func (s *Server) replyFloat(c *client, v float64) error {
	if err := c.wire.WriteEvent(protocol.EvData); err != nil {
		return err
	}
	return c.wire.WriteFloat64(v)
}

func (s *Server) replyString(c *client, v string) error {
	if err := c.wire.WriteEvent(protocol.EvData); err != nil {
		return err
	}
	return c.wire.WriteString(v)
}

func (s *Server) replyTags(c *client, tags decoder.Tags) error {
	if err := c.wire.WriteEvent(protocol.EvData); err != nil {
		return err
	}
	return c.wire.WriteTags(protocol.ToWireTags(tags))
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (s *Server) getOption(name string) bool {
	cfg := s.ctrl.GetConfig()
	switch name {
	case "Shuffle":
		return cfg.Shuffle
	case "Repeat":
		return cfg.Repeat
	case "AutoNext":
		return cfg.AutoNext
	case "ShowStreamErrors":
		return cfg.ShowStreamErrors
	}
	return false
}

func (s *Server) setOption(name string, v bool) {
	cfg := s.ctrl.GetConfig()
	switch name {
	case "Shuffle":
		cfg.Shuffle = v
	case "Repeat":
		cfg.Repeat = v
	case "AutoNext":
		cfg.AutoNext = v
	case "ShowStreamErrors":
		cfg.ShowStreamErrors = v
	}
	s.ctrl.SetConfig(cfg)

	if err := config.SaveOption(s.cfg.OverridesFile, name, v); err != nil {
		s.logger.Warn("persisting option override failed", "option", name, "err", err)
	}
}

// ringPauser returns the ring buffer handed to the controller's
// Pause/Unpause calls: the one cmd/mocd wires in once via SetRing.
// Controller keeps no ring reference of its own.
func (s *Server) ringPauser() interface {
	Pause()
	Unpause()
} {
	return s.pauser
}

// handleGetPlist nominates one other client that has advertised
// CanSendPlist, asking it (via EV_SEND_PLIST) to push its copy; the
// client table is a map, so when several have advertised, which one
// is nominated is unspecified. It then blocks on c's own goroutine until
// handleSendPlist (running on the sender's goroutine) delivers the
// relayed stream, and writes it straight through to c (spec.md §4.11,
// §8 scenario 4: "B receives EV_DATA, 1, then serial, then items").
func (s *Server) handleGetPlist(c *client) error {
	s.mu.Lock()
	var senderID int
	for id, other := range s.clients {
		other.mu.Lock()
		can := other.canSendPlist
		other.mu.Unlock()
		if can && id != c.id {
			senderID = id
			break
		}
	}
	sender, ok := s.clients[senderID]
	s.mu.Unlock()

	if err := c.wire.WriteEvent(protocol.EvData); err != nil {
		return err
	}
	if err := c.wire.WriteInt32(boolToInt32(senderID != 0 && ok)); err != nil {
		return err
	}
	if senderID == 0 || !ok {
		return nil
	}

	ch := make(chan plistPayload, 1)
	s.plistMu.Lock()
	s.plistWaiters[c.id] = ch
	s.plistMu.Unlock()

	sender.enqueue(event{tag: protocol.EvSendPlist})

	select {
	case payload := <-ch:
		return c.wire.WritePlaylistStream(payload.serial, payload.items)
	case <-time.After(plistRelayTimeout):
		s.plistMu.Lock()
		delete(s.plistWaiters, c.id)
		s.plistMu.Unlock()
		return c.wire.WritePlaylistStream(0, nil)
	}
}

// handleSendPlist reads a (serial, items..., end-marker) stream from the
// sending client, replaces the server's own playlist with it, and relays
// the same (serial, items) to every client still waiting on a GET_PLIST
// this push answers.
func (s *Server) handleSendPlist(c *client) error {
	serial, items, err := c.wire.ReadPlaylistStream()
	if err != nil {
		return err
	}
	pl := s.ctrl.Playlist()
	pl.Clear()
	for _, it := range items {
		i := pl.Add(it.File)
		pl.SetTags(i, it.Tags.ToTags())
	}

	s.plistMu.Lock()
	waiters := s.plistWaiters
	s.plistWaiters = make(map[int]chan plistPayload)
	s.plistMu.Unlock()

	for _, waiter := range waiters {
		select {
		case waiter <- plistPayload{serial: serial, items: items}:
		default:
		}
	}
	return nil
}
