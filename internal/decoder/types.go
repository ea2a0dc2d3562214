// Package decoder implements the decoder plugin abstraction and
// extension/MIME/content-sniff resolver of spec.md §4.4 (C4). Each
// decoder is a Plugin producing Decoder instances; the Registry loads
// plugins once at startup and is read-mostly thereafter.
package decoder

import (
	"github.com/moc-go/moc/internal/iostream"
)

// SampleFormat is one of the base formats from spec.md §3. The MP3,
// Vorbis and external (ffmpeg) plugins decode to S16; FLAC and WAV
// report S32 for sources deeper than 16 bits, and WAV reports U8 for
// 8-bit sources.
type SampleFormat int

const (
	FormatU8 SampleFormat = iota
	FormatS8
	FormatU16
	FormatS16
	FormatU32
	FormatS32
	FormatF32
)

// Endian records byte order for multi-byte formats.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

// SoundParams is the (sample_format, channels, rate) triple of spec.md
// §3. Equality over all three fields is the device-reopen trigger.
type SoundParams struct {
	Format   SampleFormat
	Endian   Endian
	Channels int
	RateHz   int
}

// Equal reports whether two SoundParams trigger no device reopen.
func (a SoundParams) Equal(b SoundParams) bool {
	return a.Format == b.Format && a.Endian == b.Endian && a.Channels == b.Channels && a.RateHz == b.RateHz
}

// BytesPerSample returns the byte width of one channel sample.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatU8, FormatS8:
		return 1
	case FormatU16, FormatS16:
		return 2
	case FormatU32, FormatS32, FormatF32:
		return 4
	default:
		return 2
	}
}

// TagKind is a bitmask of which tag fields a caller wants (spec.md §4.10).
type TagKind int

const (
	TagComments TagKind = 1 << iota
	TagTime
)

// UnknownDuration is the sentinel spec.md uses for "duration not known".
const UnknownDuration = -1

// Tags is the per-file metadata record of spec.md §3 ("File tags").
// Filled records which of {COMMENTS, TIME} are populated; an empty
// string is distinguishable from "field not present" via Filled.
type Tags struct {
	Title    string
	Artist   string
	Album    string
	TrackNo  int // -1 if unknown
	Duration float64 // seconds; -1 (UnknownDuration) if unknown
	Filled   TagKind
}

// Decoder is an opened decoding session — the "handle" of spec.md §4.4,
// modeled as an interface instance instead of an opaque pointer plus
// function table.
type Decoder interface {
	// Read decodes up to len(buf) bytes into buf, reporting the sound
	// parameters of the bytes just produced. Returns (0, _, io.EOF) at
	// end of stream. A *errs.Error with Kind DecoderStream is
	// recoverable (skip this chunk); DecoderFatal ends the track.
	Read(buf []byte) (n int, sp SoundParams, err error)

	// Seek requests a new position in seconds, returning the position
	// actually reached, or ok=false if the decoder/source can't seek.
	Seek(sec float64) (newSec float64, ok bool)

	Close() error

	// Bitrate returns the current/instantaneous bitrate in bits/sec, or
	// -1 if unknown. AvgBitrate is the running average.
	Bitrate() int
	AvgBitrate() int

	// Duration returns the track length in seconds, or UnknownDuration.
	Duration() float64
}

// TagWatcher is implemented by decoders whose tags can change mid-stream
// (ICY title updates on internet radio). Optional: type-assert for it.
type TagWatcher interface {
	CurrentTags() (Tags, bool)
}

// StreamExposer is implemented by decoders that wrap an iostream.Stream
// the caller may want direct access to (e.g. to read ICY StreamTitle
// without going through CurrentTags). Optional.
type StreamExposer interface {
	Stream() *iostream.Stream
}

// Plugin is a decoder backend, analogous to one compiled decoder_plugin
// module in the original design. Registered once at startup.
type Plugin interface {
	// Name identifies the plugin, e.g. "mp3", "flac".
	Name() string

	// OurFormatExt reports whether this plugin claims a file extension
	// (without the leading dot), e.g. "mp3".
	OurFormatExt(ext string) bool

	// OurFormatMime reports whether this plugin claims a MIME type.
	// Plugins that don't support MIME matching return false always.
	OurFormatMime(mime string) bool

	// CanDecode sniffs a content peek (>=512 bytes when available) to
	// decide if this plugin can handle the stream. Plugins that don't
	// support sniffing return false always.
	CanDecode(peek []byte) bool

	// Open opens a local/random-access source for decoding.
	Open(path string) (Decoder, error)

	// OpenStream opens an already-open I/O stream (used for internet
	// radio, where the plugin never sees a local path). Plugins that
	// don't support streaming return ErrNotSupported.
	OpenStream(s *iostream.Stream) (Decoder, error)

	// Info fills the requested tag fields for path without fully
	// decoding it (spec.md §4.10's decoder `info()` callback).
	Info(path string, which TagKind) (Tags, error)
}

// ErrNotSupported is returned by OpenStream on plugins that don't
// support streaming; the other optional operations (sniffing, MIME
// matching) report false instead.
var ErrNotSupported = errNotSupported{}

type errNotSupported struct{}

func (errNotSupported) Error() string { return "decoder: operation not supported by this plugin" }

// basePlugin centralizes the "I don't support this optional operation"
// defaults so concrete plugins only override what they actually do.
type basePlugin struct{}

func (basePlugin) OurFormatMime(string) bool                    { return false }
func (basePlugin) CanDecode([]byte) bool                        { return false }
func (basePlugin) OpenStream(*iostream.Stream) (Decoder, error) { return nil, ErrNotSupported }
