package decoder

import (
	"io"
	"os"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/moc-go/moc/internal/errs"
)

// WAVPlugin decodes PCM WAV via go-audio/wav, the simplest of the
// bundled plugins since WAV carries raw PCM already framed by the
// container's fmt/data chunks.
type WAVPlugin struct{ basePlugin }

func NewWAVPlugin() *WAVPlugin { return &WAVPlugin{} }

func (p *WAVPlugin) Name() string { return "wav" }

func (p *WAVPlugin) OurFormatExt(ext string) bool { return strings.EqualFold(ext, "wav") }

func (p *WAVPlugin) OurFormatMime(mt string) bool {
	return strings.HasPrefix(strings.ToLower(mt), "audio/wav") || strings.HasPrefix(strings.ToLower(mt), "audio/x-wav")
}

func (p *WAVPlugin) CanDecode(peek []byte) bool {
	return len(peek) >= 12 && string(peek[:4]) == "RIFF" && string(peek[8:12]) == "WAVE"
}

func (p *WAVPlugin) Open(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IoFatal, "wav.open", err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, errs.New(errs.DecoderFatal, "wav.open", io.ErrUnexpectedEOF)
	}
	dec.ReadInfo()
	return &wavDecoder{file: f, dec: dec}, nil
}

func (p *WAVPlugin) Info(path string, which TagKind) (Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tags{}, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Tags{}, errs.New(errs.DecoderFatal, "wav.info", io.ErrUnexpectedEOF)
	}
	dec.ReadInfo()
	t := Tags{TrackNo: -1, Duration: UnknownDuration}
	if which&TagTime != 0 {
		dur, err := dec.Duration()
		if err == nil {
			t.Duration = dur.Seconds()
		}
		t.Filled |= TagTime
	}
	if which&TagComments != 0 {
		fillCommentsFallback(path, &t)
		t.Filled |= TagComments
	}
	return t, nil
}

type wavDecoder struct {
	file *os.File
	dec  *wav.Decoder
	buf  *audio.IntBuffer
}

func (d *wavDecoder) sound() SoundParams {
	format := FormatS16
	if d.dec.BitDepth > 16 {
		format = FormatS32
	} else if d.dec.BitDepth == 8 {
		format = FormatU8
	}
	return SoundParams{Format: format, Endian: LittleEndian, Channels: int(d.dec.NumChans), RateHz: int(d.dec.SampleRate)}
}

func (d *wavDecoder) Read(out []byte) (int, SoundParams, error) {
	sp := d.sound()
	bytesPerSample := sp.Format.BytesPerSample()
	nFrames := len(out) / bytesPerSample
	if nFrames == 0 {
		return 0, sp, nil
	}
	if d.buf == nil || cap(d.buf.Data) < nFrames {
		d.buf = &audio.IntBuffer{
			Format: &audio.Format{NumChannels: int(d.dec.NumChans), SampleRate: int(d.dec.SampleRate)},
			Data:   make([]int, nFrames),
		}
	}
	d.buf.Data = d.buf.Data[:nFrames]
	n, err := d.dec.PCMBuffer(d.buf)
	if err != nil && err != io.EOF {
		return 0, sp, errs.New(errs.DecoderStream, "wav.read", err)
	}
	if n == 0 {
		return 0, sp, io.EOF
	}
	idx := 0
	for i := 0; i < n; i++ {
		v := d.buf.Data[i]
		switch bytesPerSample {
		case 1:
			out[idx] = byte(v)
			idx++
		case 2:
			s := int16(v)
			out[idx] = byte(s)
			out[idx+1] = byte(s >> 8)
			idx += 2
		case 4:
			s := int32(v)
			out[idx] = byte(s)
			out[idx+1] = byte(s >> 8)
			out[idx+2] = byte(s >> 16)
			out[idx+3] = byte(s >> 24)
			idx += 4
		}
	}
	return idx, sp, nil
}

func (d *wavDecoder) Seek(sec float64) (float64, bool) {
	sp := d.sound()
	if sp.RateHz == 0 {
		return 0, false
	}
	frame := int64(sec * float64(sp.RateHz))
	if err := d.dec.SeekFrame(frame, io.SeekStart); err != nil {
		return 0, false
	}
	return sec, true
}

func (d *wavDecoder) Close() error { return d.file.Close() }

func (d *wavDecoder) Bitrate() int    { return -1 }
func (d *wavDecoder) AvgBitrate() int { return -1 }

func (d *wavDecoder) Duration() float64 {
	dur, err := d.dec.Duration()
	if err != nil {
		return UnknownDuration
	}
	return dur.Seconds()
}
