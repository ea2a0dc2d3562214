package decoder

import (
	"io"
	"os"
	"strings"

	"github.com/jfreymuth/oggvorbis"

	"github.com/moc-go/moc/internal/errs"
	"github.com/moc-go/moc/internal/iostream"
)

// OggPlugin decodes Ogg Vorbis via jfreymuth/oggvorbis, which decodes
// straight to float32 PCM; we convert to S16 to match the other bundled
// plugins' output shape and keep internal/convert's job uniform.
type OggPlugin struct{ basePlugin }

func NewOggPlugin() *OggPlugin { return &OggPlugin{} }

func (p *OggPlugin) Name() string { return "vorbis" }

func (p *OggPlugin) OurFormatExt(ext string) bool { return strings.EqualFold(ext, "ogg") || strings.EqualFold(ext, "oga") }

func (p *OggPlugin) OurFormatMime(mt string) bool {
	mt = strings.ToLower(mt)
	return strings.HasPrefix(mt, "audio/ogg") || strings.HasPrefix(mt, "application/ogg")
}

func (p *OggPlugin) CanDecode(peek []byte) bool {
	return len(peek) >= 4 && string(peek[:4]) == "OggS"
}

func (p *OggPlugin) Open(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IoFatal, "ogg.open", err)
	}
	r, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errs.New(errs.DecoderFatal, "ogg.new_reader", err)
	}
	return &oggDecoder{file: f, r: r}, nil
}

func (p *OggPlugin) OpenStream(s *iostream.Stream) (Decoder, error) {
	r, err := oggvorbis.NewReader(&streamReaderAdapter{s: s})
	if err != nil {
		return nil, errs.New(errs.DecoderFatal, "ogg.open_stream", err)
	}
	return &oggStreamDecoder{s: s, r: r}, nil
}

func (p *OggPlugin) Info(path string, which TagKind) (Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tags{}, err
	}
	defer f.Close()
	r, err := oggvorbis.NewReader(f)
	if err != nil {
		return Tags{}, errs.New(errs.DecoderFatal, "ogg.info", err)
	}
	t := Tags{TrackNo: -1, Duration: UnknownDuration}
	if which&TagTime != 0 {
		if r.SampleRate() > 0 {
			t.Duration = float64(r.Length()) / float64(r.SampleRate())
		}
		t.Filled |= TagTime
	}
	if which&TagComments != 0 {
		for _, c := range r.CommentHeader().Comments {
			kv := strings.SplitN(c, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToUpper(kv[0]) {
			case "TITLE":
				t.Title = kv[1]
			case "ARTIST":
				t.Artist = kv[1]
			case "ALBUM":
				t.Album = kv[1]
			}
		}
		fillCommentsFallback(path, &t)
		t.Filled |= TagComments
	}
	return t, nil
}

type oggDecoder struct {
	file *os.File
	r    *oggvorbis.Reader
	buf  []float32
}

func (d *oggDecoder) sound() SoundParams {
	return SoundParams{Format: FormatS16, Endian: LittleEndian, Channels: d.r.Channels(), RateHz: d.r.SampleRate()}
}

func (d *oggDecoder) Read(out []byte) (int, SoundParams, error) {
	sp := d.sound()
	frames := len(out) / 2
	if frames == 0 {
		return 0, sp, nil
	}
	if cap(d.buf) < frames {
		d.buf = make([]float32, frames)
	}
	n, err := d.r.Read(d.buf[:frames])
	if err != nil && err != io.EOF {
		return 0, sp, errs.New(errs.DecoderStream, "ogg.read", err)
	}
	for i := 0; i < n; i++ {
		v := d.buf[i]
		s := int16(clampF32(v) * 32767)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	if n == 0 && err == io.EOF {
		return 0, sp, io.EOF
	}
	return n * 2, sp, nil
}

func clampF32(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func (d *oggDecoder) Seek(sec float64) (float64, bool) {
	sp := d.sound()
	if sp.RateHz == 0 {
		return 0, false
	}
	target := int64(sec * float64(sp.RateHz))
	if err := d.r.SetPosition(target); err != nil {
		return 0, false
	}
	return float64(target) / float64(sp.RateHz), true
}

func (d *oggDecoder) Close() error { return d.file.Close() }

func (d *oggDecoder) Bitrate() int    { return -1 }
func (d *oggDecoder) AvgBitrate() int { return -1 }

func (d *oggDecoder) Duration() float64 {
	sp := d.sound()
	if sp.RateHz == 0 {
		return UnknownDuration
	}
	return float64(d.r.Length()) / float64(sp.RateHz)
}

// oggStreamDecoder mirrors oggDecoder for internet radio sources, which
// don't support seeking and surface ICY titles through CurrentTags.
type oggStreamDecoder struct {
	s   *iostream.Stream
	r   *oggvorbis.Reader
	buf []float32
}

func (d *oggStreamDecoder) sound() SoundParams {
	return SoundParams{Format: FormatS16, Endian: LittleEndian, Channels: d.r.Channels(), RateHz: d.r.SampleRate()}
}

func (d *oggStreamDecoder) Read(out []byte) (int, SoundParams, error) {
	sp := d.sound()
	frames := len(out) / 2
	if frames == 0 {
		return 0, sp, nil
	}
	if cap(d.buf) < frames {
		d.buf = make([]float32, frames)
	}
	n, err := d.r.Read(d.buf[:frames])
	if err != nil && err != io.EOF {
		return 0, sp, errs.New(errs.DecoderStream, "ogg.stream.read", err)
	}
	for i := 0; i < n; i++ {
		s := int16(clampF32(d.buf[i]) * 32767)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	if n == 0 && err == io.EOF {
		return 0, sp, io.EOF
	}
	return n * 2, sp, nil
}

func (d *oggStreamDecoder) Seek(float64) (float64, bool) { return 0, false }
func (d *oggStreamDecoder) Close() error                 { return d.s.Close() }
func (d *oggStreamDecoder) Bitrate() int                 { return -1 }
func (d *oggStreamDecoder) AvgBitrate() int              { return -1 }
func (d *oggStreamDecoder) Duration() float64            { return UnknownDuration }

func (d *oggStreamDecoder) CurrentTags() (Tags, bool) {
	title := d.s.Title()
	if title == "" {
		return Tags{}, false
	}
	return Tags{Title: title, Filled: TagComments}, true
}

func (d *oggStreamDecoder) Stream() *iostream.Stream { return d.s }
