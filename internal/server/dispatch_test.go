package server

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moc-go/moc/internal/config"
	"github.com/moc-go/moc/internal/controller"
	"github.com/moc-go/moc/internal/decoder"
	"github.com/moc-go/moc/internal/logging"
	"github.com/moc-go/moc/internal/output"
	"github.com/moc-go/moc/internal/playerloop"
	"github.com/moc-go/moc/internal/playlist"
	"github.com/moc-go/moc/internal/protocol"
	"github.com/moc-go/moc/internal/ring"
	"github.com/moc-go/moc/internal/tagcache"
)

// newTestServer builds a Server wired with a null output device and an
// on-disk tag cache under t.TempDir(), matching cmd/mocd's wiring with
// everything audio-shaped reduced to the null driver since these tests
// only exercise the control-socket dispatch.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	registry := decoder.NewRegistry(false)
	sp := decoder.SoundParams{Format: decoder.FormatS16, Channels: 2, RateHz: 44100}
	device := output.NewNullDriver()
	require.NoError(t, device.Open(sp))
	buf := ring.New(1<<16, device)
	buf.Run()
	t.Cleanup(buf.Exit)

	loop := playerloop.New(registry, buf, device, false)
	plist := playlist.New()
	ctrl := controller.New(plist, loop, controller.Config{})

	store, err := tagcache.Open(t.TempDir(), 1000)
	require.NoError(t, err)
	cache := tagcache.New(store, tagCacheSource{registry})

	cfg := &config.Config{MaxClients: 10, ErrorBufBytes: 256}
	logger := logging.New(io.Discard, false)
	return New(cfg, logger, registry, ctrl, cache)
}

type tagCacheSource struct{ registry *decoder.Registry }

func (s tagCacheSource) Info(path string, which decoder.TagKind) (decoder.Tags, error) {
	return s.registry.Info(path, which)
}

// acceptPipe hands the server end of a net.Pipe to handleAccept and
// returns the client end wrapped for direct protocol-level driving,
// standing in for a real UNIX socket connection in-process.
func acceptPipe(s *Server) *protocol.Conn {
	serverSide, clientSide := net.Pipe()
	s.handleAccept(serverSide)
	return protocol.NewConn(clientSide)
}

// TestGetPlistRelaysSendersPlaylist covers spec.md §8 scenario 4: client
// A advertises CAN_SEND_PLIST, client B calls GET_PLIST, the server asks
// A (via EV_SEND_PLIST) to push, and B must receive EV_DATA, 1, then the
// relayed serial and items terminated by an empty item — with the same
// serial A sent.
func TestGetPlistRelaysSendersPlaylist(t *testing.T) {
	s := newTestServer(t)
	defer s.Shutdown()

	a := acceptPipe(s)
	b := acceptPipe(s)

	require.NoError(t, a.WriteByte(byte(protocol.CmdCanSendPlist)))
	require.NoError(t, a.Flush())

	// B's GET_PLIST runs on its own server-side goroutine and blocks
	// there until A pushes, so issue it from a goroutine on the test's
	// side too and collect the reply over a channel.
	type getPlistReply struct {
		hasSender bool
		serial    int64
		items     []protocol.WireItem
		err       error
	}
	replyCh := make(chan getPlistReply, 1)
	go func() {
		if err := b.WriteByte(byte(protocol.CmdGetPlist)); err != nil {
			replyCh <- getPlistReply{err: err}
			return
		}
		if err := b.Flush(); err != nil {
			replyCh <- getPlistReply{err: err}
			return
		}
		ev, err := b.ReadEvent()
		if err != nil {
			replyCh <- getPlistReply{err: err}
			return
		}
		if ev != protocol.EvData {
			replyCh <- getPlistReply{err: err}
			return
		}
		has, err := b.ReadInt32()
		if err != nil {
			replyCh <- getPlistReply{err: err}
			return
		}
		if has == 0 {
			replyCh <- getPlistReply{hasSender: false}
			return
		}
		serial, items, err := b.ReadPlaylistStream()
		replyCh <- getPlistReply{hasSender: true, serial: serial, items: items, err: err}
	}()

	// A waits for the server's nomination, then streams its playlist.
	ev, err := a.ReadEvent()
	require.NoError(t, err)
	require.Equal(t, protocol.EvSendPlist, ev)

	const wantSerial int64 = 42
	wantItems := []protocol.WireItem{
		{File: "/music/one.mp3", Tags: protocol.WireTags{Title: "One", Track: 1, Time: -1}},
		{File: "/music/two.mp3", Tags: protocol.WireTags{Title: "Two", Track: 2, Time: -1}},
	}
	require.NoError(t, a.WriteByte(byte(protocol.CmdSendPlist)))
	require.NoError(t, a.WritePlaylistStream(wantSerial, wantItems))

	select {
	case got := <-replyCh:
		require.NoError(t, got.err)
		require.True(t, got.hasSender, "B's GET_PLIST reported no sender despite A's CAN_SEND_PLIST")
		require.Equal(t, wantSerial, got.serial, "relayed serial must match the one A sent")
		require.Equal(t, wantItems, got.items)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for B's relayed GET_PLIST reply")
	}
}

// TestGetPlistWithNoSenderReportsFalse covers the no-CAN_SEND_PLIST-peer
// branch: GET_PLIST must reply with a false flag and return immediately
// rather than hanging.
func TestGetPlistWithNoSenderReportsFalse(t *testing.T) {
	s := newTestServer(t)
	defer s.Shutdown()

	b := acceptPipe(s)

	require.NoError(t, b.WriteByte(byte(protocol.CmdGetPlist)))
	require.NoError(t, b.Flush())

	ev, err := b.ReadEvent()
	require.NoError(t, err)
	require.Equal(t, protocol.EvData, ev)

	has, err := b.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(0), has)
}
