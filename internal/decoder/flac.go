package decoder

import (
	"io"
	"os"
	"strings"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"

	"github.com/moc-go/moc/internal/errs"
)

// FLACPlugin decodes FLAC via mewkiz/flac, converting each frame's
// subframes to interleaved S16/S32 PCM the way the teacher's bundled
// decoders normalize to a single PCM shape before handing buffers to
// the ring buffer.
type FLACPlugin struct{ basePlugin }

func NewFLACPlugin() *FLACPlugin { return &FLACPlugin{} }

func (p *FLACPlugin) Name() string { return "flac" }

func (p *FLACPlugin) OurFormatExt(ext string) bool { return strings.EqualFold(ext, "flac") }

func (p *FLACPlugin) OurFormatMime(mt string) bool {
	return strings.HasPrefix(strings.ToLower(mt), "audio/flac") || strings.HasPrefix(strings.ToLower(mt), "audio/x-flac")
}

func (p *FLACPlugin) CanDecode(peek []byte) bool {
	return len(peek) >= 4 && string(peek[:4]) == "fLaC"
}

func (p *FLACPlugin) Open(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IoFatal, "flac.open", err)
	}
	stream, err := flac.Parse(f)
	if err != nil {
		f.Close()
		return nil, errs.New(errs.DecoderFatal, "flac.parse", err)
	}
	return &flacDecoder{file: f, stream: stream}, nil
}

func (p *FLACPlugin) Info(path string, which TagKind) (Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tags{}, err
	}
	defer f.Close()
	stream, err := flac.Parse(f)
	if err != nil {
		return Tags{}, errs.New(errs.DecoderFatal, "flac.info", err)
	}
	t := Tags{TrackNo: -1, Duration: UnknownDuration}
	if which&TagTime != 0 && stream.Info.NSamples > 0 && stream.Info.SampleRate > 0 {
		t.Duration = float64(stream.Info.NSamples) / float64(stream.Info.SampleRate)
		t.Filled |= TagTime
	}
	if which&TagComments != 0 {
		for _, b := range stream.Blocks {
			if vc, ok := b.Body.(interface {
				Tags() [][2]string
			}); ok {
				for _, kv := range vc.Tags() {
					switch strings.ToUpper(kv[0]) {
					case "TITLE":
						t.Title = kv[1]
					case "ARTIST":
						t.Artist = kv[1]
					case "ALBUM":
						t.Album = kv[1]
					}
				}
			}
		}
		fillCommentsFallback(path, &t)
		t.Filled |= TagComments
	}
	return t, nil
}

type flacDecoder struct {
	file       *os.File
	stream     *flac.Stream
	pending    []byte // leftover PCM bytes from a frame that didn't fit caller's buf
	sampleRate int
	channels   int
	bitsPerSample int
}

func (d *flacDecoder) sound() SoundParams {
	if d.sampleRate == 0 {
		d.sampleRate = int(d.stream.Info.SampleRate)
		d.channels = int(d.stream.Info.NChannels)
		d.bitsPerSample = int(d.stream.Info.BitsPerSample)
	}
	format := FormatS16
	if d.bitsPerSample > 16 {
		format = FormatS32
	}
	return SoundParams{Format: format, Endian: LittleEndian, Channels: d.channels, RateHz: d.sampleRate}
}

func (d *flacDecoder) Read(buf []byte) (int, SoundParams, error) {
	sp := d.sound()
	if len(d.pending) > 0 {
		n := copy(buf, d.pending)
		d.pending = d.pending[n:]
		return n, sp, nil
	}

	fr, err := d.stream.ParseNext()
	if err == io.EOF {
		return 0, sp, io.EOF
	}
	if err != nil {
		return 0, sp, errs.New(errs.DecoderStream, "flac.parse_next", err)
	}

	pcm := encodeFrame(fr, d.bitsPerSample)
	n := copy(buf, pcm)
	if n < len(pcm) {
		d.pending = pcm[n:]
	}
	return n, sp, nil
}

// encodeFrame interleaves a decoded FLAC frame's subframes into LE PCM
// bytes at 16 or 32 bits depending on source bit depth.
func encodeFrame(fr *frame.Frame, bitsPerSample int) []byte {
	nChan := len(fr.Subframes)
	if nChan == 0 {
		return nil
	}
	nSamples := len(fr.Subframes[0].Samples)
	bytesPerSample := 2
	if bitsPerSample > 16 {
		bytesPerSample = 4
	}
	out := make([]byte, nSamples*nChan*bytesPerSample)
	idx := 0
	for i := 0; i < nSamples; i++ {
		for ch := 0; ch < nChan; ch++ {
			s := fr.Subframes[ch].Samples[i]
			if bytesPerSample == 2 {
				v := int16(s)
				out[idx] = byte(v)
				out[idx+1] = byte(v >> 8)
				idx += 2
			} else {
				v := int32(s)
				out[idx] = byte(v)
				out[idx+1] = byte(v >> 8)
				out[idx+2] = byte(v >> 16)
				out[idx+3] = byte(v >> 24)
				idx += 4
			}
		}
	}
	return out
}

func (d *flacDecoder) Seek(sec float64) (float64, bool) {
	sp := d.sound()
	if sp.RateHz == 0 {
		return 0, false
	}
	target := uint64(sec * float64(sp.RateHz))
	pos, err := d.stream.Seek(target)
	if err != nil {
		return 0, false
	}
	d.pending = nil
	return float64(pos) / float64(sp.RateHz), true
}

func (d *flacDecoder) Close() error {
	d.stream.Close()
	return d.file.Close()
}

func (d *flacDecoder) Bitrate() int    { return -1 }
func (d *flacDecoder) AvgBitrate() int { return -1 }

func (d *flacDecoder) Duration() float64 {
	sp := d.sound()
	if sp.RateHz == 0 || d.stream.Info.NSamples == 0 {
		return UnknownDuration
	}
	return float64(d.stream.Info.NSamples) / float64(sp.RateHz)
}
