package protocol

import (
	"github.com/moc-go/moc/internal/decoder"
	"github.com/moc-go/moc/internal/playlist"
)

// WireTags is the on-wire tags blob of spec.md §6: (title, artist,
// album, track, time), empty strings denoting absent string fields and
// -1 denoting unknown track/time.
type WireTags struct {
	Title  string
	Artist string
	Album  string
	Track  int32
	Time   float64
}

func ToWireTags(t decoder.Tags) WireTags {
	track := int32(t.TrackNo)
	if t.TrackNo < 0 {
		track = -1
	}
	dur := t.Duration
	if dur == decoder.UnknownDuration {
		dur = -1
	}
	return WireTags{Title: t.Title, Artist: t.Artist, Album: t.Album, Track: track, Time: dur}
}

func (w WireTags) ToTags() decoder.Tags {
	t := decoder.Tags{Title: w.Title, Artist: w.Artist, Album: w.Album, TrackNo: int(w.Track), Duration: w.Time}
	if w.Track < 0 {
		t.TrackNo = -1
	}
	if w.Time < 0 {
		t.Duration = decoder.UnknownDuration
	}
	if w.Title != "" || w.Artist != "" || w.Album != "" {
		t.Filled |= decoder.TagComments
	}
	if w.Time >= 0 {
		t.Filled |= decoder.TagTime
	}
	return t
}

func (c *Conn) WriteTags(t WireTags) error {
	if err := c.WriteString(t.Title); err != nil {
		return err
	}
	if err := c.WriteString(t.Artist); err != nil {
		return err
	}
	if err := c.WriteString(t.Album); err != nil {
		return err
	}
	if err := c.WriteInt32(t.Track); err != nil {
		return err
	}
	return c.WriteFloat64(t.Time)
}

func (c *Conn) ReadTags() (WireTags, error) {
	var t WireTags
	var err error
	if t.Title, err = c.ReadString(); err != nil {
		return t, err
	}
	if t.Artist, err = c.ReadString(); err != nil {
		return t, err
	}
	if t.Album, err = c.ReadString(); err != nil {
		return t, err
	}
	if t.Track, err = c.ReadInt32(); err != nil {
		return t, err
	}
	if t.Time, err = c.ReadFloat64(); err != nil {
		return t, err
	}
	return t, nil
}

// WireItem is the on-wire playlist item of spec.md §6: (file,
// file_hash?, title_tags, tags_blob, mtime). file_hash is carried as a
// plain string (empty when absent) rather than a distinct optional
// encoding, since the wire format has no separate presence bit for it.
type WireItem struct {
	File      string
	FileHash  string
	TitleTags string
	Tags      WireTags
	MTime     int64
}

// EndOfPlaylist is the wire marker: an item whose file field is empty.
var EndOfPlaylist = WireItem{}

func ItemToWire(it playlist.Item, hash string) WireItem {
	return WireItem{
		File:      it.Path,
		FileHash:  hash,
		TitleTags: it.TitleTags,
		Tags:      ToWireTags(it.Tags),
		MTime:     it.ModTime,
	}
}

func (c *Conn) WriteItem(it WireItem) error {
	if err := c.WriteString(it.File); err != nil {
		return err
	}
	if it.File == "" {
		return nil // end-of-playlist marker carries no further fields
	}
	if err := c.WriteString(it.FileHash); err != nil {
		return err
	}
	if err := c.WriteString(it.TitleTags); err != nil {
		return err
	}
	if err := c.WriteTags(it.Tags); err != nil {
		return err
	}
	return c.WriteInt32(int32(it.MTime))
}

func (c *Conn) ReadItem() (WireItem, error) {
	var it WireItem
	var err error
	if it.File, err = c.ReadString(); err != nil {
		return it, err
	}
	if it.File == "" {
		return it, nil
	}
	if it.FileHash, err = c.ReadString(); err != nil {
		return it, err
	}
	if it.TitleTags, err = c.ReadString(); err != nil {
		return it, err
	}
	if it.Tags, err = c.ReadTags(); err != nil {
		return it, err
	}
	mt, err := c.ReadInt32()
	if err != nil {
		return it, err
	}
	it.MTime = int64(mt)
	return it, nil
}

// WritePlaylistStream writes serial, then every live item, then the
// end-of-playlist marker (spec.md §4.11 GET_PLIST/SEND_PLIST framing).
func (c *Conn) WritePlaylistStream(serial int64, items []WireItem) error {
	if err := c.WriteInt32(int32(serial)); err != nil {
		return err
	}
	for _, it := range items {
		if err := c.WriteItem(it); err != nil {
			return err
		}
	}
	if err := c.WriteItem(EndOfPlaylist); err != nil {
		return err
	}
	return c.Flush()
}

// ReadPlaylistStream reads a serial followed by items until the
// end-of-playlist marker.
func (c *Conn) ReadPlaylistStream() (serial int64, items []WireItem, err error) {
	s, err := c.ReadInt32()
	if err != nil {
		return 0, nil, err
	}
	serial = int64(s)
	for {
		it, err := c.ReadItem()
		if err != nil {
			return serial, items, err
		}
		if it.File == "" {
			return serial, items, nil
		}
		items = append(items, it)
	}
}
