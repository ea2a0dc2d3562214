package decoder

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/hajimehoshi/go-mp3"

	"github.com/moc-go/moc/internal/errs"
	"github.com/moc-go/moc/internal/iostream"
)

// MP3Plugin decodes MPEG-1/2 Layer III audio via hajimehoshi/go-mp3,
// matching the teacher's mp3Decoder (internal/player/decoder.go),
// trimming Xing/LAME gapless padding the same way.
type MP3Plugin struct{ basePlugin }

func NewMP3Plugin() *MP3Plugin { return &MP3Plugin{} }

func (p *MP3Plugin) Name() string { return "mp3" }

func (p *MP3Plugin) OurFormatExt(ext string) bool { return strings.EqualFold(ext, "mp3") }

func (p *MP3Plugin) OurFormatMime(mt string) bool {
	return strings.HasPrefix(strings.ToLower(mt), "audio/mpeg") || strings.HasPrefix(strings.ToLower(mt), "audio/mp3")
}

func (p *MP3Plugin) CanDecode(peek []byte) bool {
	if len(peek) >= 3 && string(peek[:3]) == "ID3" {
		return true
	}
	// Bare frame sync word, no ID3 header.
	for i := 0; i+1 < len(peek); i++ {
		if peek[i] == 0xFF && peek[i+1]&0xE0 == 0xE0 {
			return true
		}
	}
	return false
}

func (p *MP3Plugin) Open(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IoFatal, "mp3.open", err)
	}

	startTrim, endTrim, err := readMP3GaplessTrim(f)
	if err != nil {
		f.Close()
		return nil, errs.New(errs.DecoderFatal, "mp3.gapless_trim", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, errs.New(errs.IoFatal, "mp3.seek", err)
	}

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, errs.New(errs.DecoderFatal, "mp3.new_decoder", err)
	}

	const frameBytes = int64(4) // go-mp3 always outputs 16-bit stereo PCM.
	length := dec.Length()
	startBytes := startTrim * frameBytes
	endBytes := endTrim * frameBytes
	if length >= 0 {
		if startBytes > length {
			startBytes = length
		}
		if endBytes > length-startBytes {
			endBytes = length - startBytes
		}
		length -= startBytes + endBytes
	}

	d := &mp3Decoder{file: f, dec: dec, length: length, start: startBytes, sampleRate: dec.SampleRate()}
	if startBytes > 0 {
		if _, err := dec.Seek(startBytes, io.SeekStart); err != nil {
			f.Close()
			return nil, errs.New(errs.IoFatal, "mp3.seek_trim", err)
		}
	}
	return d, nil
}

func (p *MP3Plugin) Info(path string, which TagKind) (Tags, error) {
	return readMP3Tags(path, which)
}

type mp3Decoder struct {
	file       *os.File
	dec        *mp3.Decoder
	pos        int64
	length     int64
	start      int64
	sampleRate int
}

func (d *mp3Decoder) Read(p []byte) (int, SoundParams, error) {
	sp := SoundParams{Format: FormatS16, Endian: LittleEndian, Channels: 2, RateHz: d.sampleRate}
	if d.length >= 0 && d.pos >= d.length {
		return 0, sp, io.EOF
	}
	if d.length >= 0 {
		remaining := d.length - d.pos
		if int64(len(p)) > remaining {
			p = p[:remaining]
		}
	}
	n, err := d.dec.Read(p)
	d.pos += int64(n)
	if err != nil && err != io.EOF {
		return n, sp, errs.New(errs.DecoderStream, "mp3.read", err)
	}
	if d.length >= 0 && d.pos >= d.length {
		if n == 0 {
			return 0, sp, io.EOF
		}
		return n, sp, io.EOF
	}
	return n, sp, err
}

func (d *mp3Decoder) Seek(sec float64) (float64, bool) {
	bps := d.sampleRate * 2 * 2
	target := int64(sec * float64(bps))
	if target < 0 {
		target = 0
	}
	if d.length >= 0 && target > d.length {
		target = d.length
	}
	target -= target % 4
	if _, err := d.dec.Seek(d.start+target, io.SeekStart); err != nil {
		return 0, false
	}
	d.pos = target
	return float64(target) / float64(bps), true
}

func (d *mp3Decoder) Close() error { return d.file.Close() }

func (d *mp3Decoder) Bitrate() int    { return -1 } // go-mp3 doesn't expose a running bitrate
func (d *mp3Decoder) AvgBitrate() int { return -1 }

func (d *mp3Decoder) Duration() float64 {
	if d.length < 0 {
		return UnknownDuration
	}
	bps := d.sampleRate * 2 * 2
	if bps == 0 {
		return UnknownDuration
	}
	return float64(d.length) / float64(bps)
}

// streamMP3Decoder wraps an already-open iostream.Stream (internet
// radio) instead of a local file; used by MP3Plugin.OpenStream below.
type streamMP3Decoder struct {
	s      *iostream.Stream
	dec    *mp3.Decoder
	sampleRate int
}

func (p *MP3Plugin) OpenStream(s *iostream.Stream) (Decoder, error) {
	dec, err := mp3.NewDecoder(&streamReaderAdapter{s: s})
	if err != nil {
		return nil, errs.New(errs.DecoderFatal, "mp3.open_stream", err)
	}
	return &streamMP3Decoder{s: s, dec: dec, sampleRate: dec.SampleRate()}, nil
}

func (d *streamMP3Decoder) Read(p []byte) (int, SoundParams, error) {
	sp := SoundParams{Format: FormatS16, Endian: LittleEndian, Channels: 2, RateHz: d.sampleRate}
	n, err := d.dec.Read(p)
	if err != nil && err != io.EOF {
		return n, sp, errs.New(errs.DecoderStream, "mp3.stream.read", err)
	}
	return n, sp, err
}

func (d *streamMP3Decoder) Seek(float64) (float64, bool) { return 0, false }
func (d *streamMP3Decoder) Close() error                 { return d.s.Close() }
func (d *streamMP3Decoder) Bitrate() int                 { return -1 }
func (d *streamMP3Decoder) AvgBitrate() int              { return -1 }
func (d *streamMP3Decoder) Duration() float64            { return UnknownDuration }

func (d *streamMP3Decoder) CurrentTags() (Tags, bool) {
	title := d.s.Title()
	if title == "" {
		return Tags{}, false
	}
	return Tags{Title: title, Filled: TagComments}, true
}

func (d *streamMP3Decoder) Stream() *iostream.Stream { return d.s }

// streamReaderAdapter adapts iostream.Stream (which has Read but no
// io.Reader marker method set mismatch concerns) to io.Reader for
// consumers like go-mp3 that only need Read.
type streamReaderAdapter struct{ s *iostream.Stream }

func (a *streamReaderAdapter) Read(p []byte) (int, error) { return a.s.Read(p) }

func readMP3Tags(path string, which TagKind) (Tags, error) {
	t := Tags{TrackNo: -1, Duration: UnknownDuration}

	if which&TagComments != 0 {
		readID3v2Comments(path, &t)
		t.Filled |= TagComments
	}

	if which&TagTime != 0 {
		f, err := os.Open(path)
		if err != nil {
			return Tags{}, err
		}
		defer f.Close()
		dec, err := mp3.NewDecoder(f)
		if err != nil {
			return Tags{}, fmt.Errorf("mp3.info: %w", err)
		}
		length := dec.Length()
		bps := dec.SampleRate() * 2 * 2
		if bps > 0 {
			t.Duration = float64(length) / float64(bps)
		}
		t.Filled |= TagTime
	}
	return t, nil
}

// readID3v2Comments fills t's title/artist/album/track from the file's
// ID3v2 header via bogem/id3v2 (spec.md §3 "File tags").
func readID3v2Comments(path string, t *Tags) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return
	}
	defer tag.Close()
	t.Title = tag.Title()
	t.Artist = tag.Artist()
	t.Album = tag.Album()
	if tr := strings.TrimSpace(tag.GetTextFrame("TRCK").Text); tr != "" {
		if slash := strings.IndexByte(tr, '/'); slash >= 0 {
			tr = tr[:slash]
		}
		if n, err := strconv.Atoi(tr); err == nil {
			t.TrackNo = n
		}
	}
}
