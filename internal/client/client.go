// Package client is the thin protocol client used by cmd/moc (and any
// other control-socket peer) to issue spec.md §4.11 commands and read
// their replies, translating the CLI surface of §6 into sequences of
// protocol.Command calls. Grounded on the teacher's internal/player
// request/response pattern, reworked around internal/protocol's wire
// codec instead of an in-process channel.
package client

import (
	"fmt"
	"net"
	"os"

	"github.com/moc-go/moc/internal/protocol"
)

// Client is a connected control-socket peer.
type Client struct {
	conn net.Conn
	wire *protocol.Conn
}

// Dial connects to the server's UNIX socket at socketPath, sending the
// cookie read from cookiePath as the connection handshake (see
// internal/server/auth.go). An empty cookiePath, or one that can't be
// read, skips the handshake — the server tolerates that only when it
// was started without cookie auth (e.g. in tests).
func Dial(socketPath, cookiePath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}
	if cookiePath != "" {
		if cookie, err := os.ReadFile(cookiePath); err == nil {
			if _, err := conn.Write(cookie); err != nil {
				conn.Close()
				return nil, fmt.Errorf("client: sending cookie: %w", err)
			}
		}
	}
	return &Client{conn: conn, wire: protocol.NewConn(conn)}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) cmd(op protocol.Command) error {
	if err := c.wire.WriteByte(byte(op)); err != nil {
		return err
	}
	return c.wire.Flush()
}

func (c *Client) expectData() error {
	ev, err := c.wire.ReadEvent()
	if err != nil {
		return err
	}
	if ev != protocol.EvData {
		return fmt.Errorf("client: expected EV_DATA, got event %d", ev)
	}
	return nil
}

// Play starts playback at name, or the first playlist item if name is "".
func (c *Client) Play(name string) error {
	if err := c.cmd(protocol.CmdPlay); err != nil {
		return err
	}
	if err := c.wire.WriteString(name); err != nil {
		return err
	}
	return c.wire.Flush()
}

func (c *Client) ListClear() error { return c.cmd(protocol.CmdListClear) }

func (c *Client) ListAdd(path string) error {
	if err := c.cmd(protocol.CmdListAdd); err != nil {
		return err
	}
	if err := c.wire.WriteString(path); err != nil {
		return err
	}
	return c.wire.Flush()
}

func (c *Client) Stop() error       { return c.cmd(protocol.CmdStop) }
func (c *Client) Pause() error      { return c.cmd(protocol.CmdPause) }
func (c *Client) Unpause() error    { return c.cmd(protocol.CmdUnpause) }
func (c *Client) Next() error       { return c.cmd(protocol.CmdNext) }
func (c *Client) Prev() error       { return c.cmd(protocol.CmdPrev) }
func (c *Client) Disconnect() error { return c.cmd(protocol.CmdDisconnect) }
func (c *Client) Quit() error       { return c.cmd(protocol.CmdQuit) }
func (c *Client) Lock() error       { return c.cmd(protocol.CmdLock) }
func (c *Client) Unlock() error     { return c.cmd(protocol.CmdUnlock) }

// Seek requests a relative seek of deltaSec (may be negative).
func (c *Client) Seek(deltaSec int) error {
	if err := c.cmd(protocol.CmdSeek); err != nil {
		return err
	}
	if err := c.wire.WriteInt32(int32(deltaSec)); err != nil {
		return err
	}
	return c.wire.Flush()
}

func (c *Client) GetCTime() (float64, error) {
	if err := c.cmd(protocol.CmdGetCTime); err != nil {
		return 0, err
	}
	if err := c.expectData(); err != nil {
		return 0, err
	}
	return c.wire.ReadFloat64()
}

func (c *Client) GetState() (int32, error) { return c.getInt(protocol.CmdGetState) }

func (c *Client) GetBitrate() (int32, error) { return c.getInt(protocol.CmdGetBitrate) }

func (c *Client) GetRate() (int32, error) { return c.getInt(protocol.CmdGetRate) }

func (c *Client) GetChannels() (int32, error) { return c.getInt(protocol.CmdGetChannels) }

func (c *Client) GetMixer() (int32, error) { return c.getInt(protocol.CmdGetMixer) }

func (c *Client) SetMixer(v int) error {
	if err := c.cmd(protocol.CmdSetMixer); err != nil {
		return err
	}
	if err := c.wire.WriteInt32(int32(v)); err != nil {
		return err
	}
	return c.wire.Flush()
}

func (c *Client) GetSName() (string, error) {
	if err := c.cmd(protocol.CmdGetSName); err != nil {
		return "", err
	}
	if err := c.expectData(); err != nil {
		return "", err
	}
	return c.wire.ReadString()
}

func (c *Client) GetTags() (protocol.WireTags, error) {
	if err := c.cmd(protocol.CmdGetTags); err != nil {
		return protocol.WireTags{}, err
	}
	if err := c.expectData(); err != nil {
		return protocol.WireTags{}, err
	}
	return c.wire.ReadTags()
}

func (c *Client) GetFileTags(path string) (protocol.WireTags, error) {
	if err := c.cmd(protocol.CmdGetFileTags); err != nil {
		return protocol.WireTags{}, err
	}
	if err := c.wire.WriteString(path); err != nil {
		return protocol.WireTags{}, err
	}
	if err := c.wire.Flush(); err != nil {
		return protocol.WireTags{}, err
	}
	if err := c.expectData(); err != nil {
		return protocol.WireTags{}, err
	}
	return c.wire.ReadTags()
}

func (c *Client) GetOption(name string) (bool, error) {
	if err := c.cmd(protocol.CmdGetOption); err != nil {
		return false, err
	}
	if err := c.wire.WriteString(name); err != nil {
		return false, err
	}
	if err := c.wire.Flush(); err != nil {
		return false, err
	}
	if err := c.expectData(); err != nil {
		return false, err
	}
	v, err := c.wire.ReadInt32()
	return v != 0, err
}

func (c *Client) SetOption(name string, v bool) error {
	if err := c.cmd(protocol.CmdSetOption); err != nil {
		return err
	}
	if err := c.wire.WriteString(name); err != nil {
		return err
	}
	iv := int32(0)
	if v {
		iv = 1
	}
	if err := c.wire.WriteInt32(iv); err != nil {
		return err
	}
	return c.wire.Flush()
}

func (c *Client) Delete(path string) error {
	if err := c.cmd(protocol.CmdDelete); err != nil {
		return err
	}
	if err := c.wire.WriteString(path); err != nil {
		return err
	}
	return c.wire.Flush()
}

func (c *Client) SendEvents() error { return c.cmd(protocol.CmdSendEvents) }

func (c *Client) GetError() (string, error) {
	if err := c.cmd(protocol.CmdGetError); err != nil {
		return "", err
	}
	if err := c.expectData(); err != nil {
		return "", err
	}
	return c.wire.ReadString()
}

func (c *Client) Ping() error { return c.cmd(protocol.CmdPing) }

func (c *Client) GetSerial() (int64, error) {
	v, err := c.getInt(protocol.CmdGetSerial)
	return int64(v), err
}

// CanSendPlist advertises this client as a candidate playlist sender
// (spec.md §4.11's CAN_SEND_PLIST), making it eligible to be nominated
// the next time another client calls GetPlist.
func (c *Client) CanSendPlist() error { return c.cmd(protocol.CmdCanSendPlist) }

// GetPlist asks the server to relay another client's playlist. hasSender
// reports whether a CAN_SEND_PLIST client existed to relay from; when
// false, serial and items are zero values and nothing more is read.
func (c *Client) GetPlist() (hasSender bool, serial int64, items []protocol.WireItem, err error) {
	if err = c.cmd(protocol.CmdGetPlist); err != nil {
		return false, 0, nil, err
	}
	if err = c.expectData(); err != nil {
		return false, 0, nil, err
	}
	v, err := c.wire.ReadInt32()
	if err != nil {
		return false, 0, nil, err
	}
	if v == 0 {
		return false, 0, nil, nil
	}
	serial, items, err = c.wire.ReadPlaylistStream()
	return true, serial, items, err
}

// SendPlist streams this client's playlist to the server in response to
// an EV_SEND_PLIST event; the server relays it on to whichever client's
// GetPlist call requested it.
func (c *Client) SendPlist(serial int64, items []protocol.WireItem) error {
	if err := c.cmd(protocol.CmdSendPlist); err != nil {
		return err
	}
	return c.wire.WritePlaylistStream(serial, items)
}

func (c *Client) getInt(op protocol.Command) (int32, error) {
	if err := c.cmd(op); err != nil {
		return 0, err
	}
	if err := c.expectData(); err != nil {
		return 0, err
	}
	return c.wire.ReadInt32()
}

// NextEvent blocks for the next event once SendEvents has switched
// this connection into event mode.
func (c *Client) NextEvent() (protocol.Event, error) {
	return c.wire.ReadEvent()
}
