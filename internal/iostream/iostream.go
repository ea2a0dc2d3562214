// Package iostream implements the unified I/O source of spec.md §4.3
// (C3): a tagged union over file descriptor, mmap, and HTTP sources,
// with an optional buffered prefetch thread and ICY metadata framing for
// internet radio streams. All blocking calls honour an Abort flag so
// another goroutine can cancel a stuck read.
package iostream

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sys/unix"

	"github.com/moc-go/moc/internal/errs"
	"github.com/moc-go/moc/internal/fifo"
)

// Whence mirrors io.Seek* for callers that don't want the io import.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// kind tags which concrete source backs a Stream.
type kind int

const (
	kindFile kind = iota
	kindMmap
	kindHTTP
)

// Stream is the unified random-access/streaming source described in
// spec.md §3/§4.3. Construction (Open) chooses mmap when requested and
// the file is a regular file of known length; otherwise a plain file
// descriptor. http/ftp URLs select the HTTP source.
type Stream struct {
	mu      sync.Mutex
	kind    kind
	size    int64 // -1 if unknown
	pos     int64
	eof     bool
	lastErr error
	aborted bool

	// fd/mmap backing
	file *os.File
	mm   []byte

	// http backing
	resp       *http.Response
	icyMetaInt int
	icyLeft    int // bytes of audio remaining before the next metadata block
	streamTitle string
	streamURL   string
	mimeType    string

	// optional prefetch
	prefetch *prefetcher
}

// Options controls how Open constructs a Stream.
type Options struct {
	Mmap  bool // prefer mmap for regular local files
	Icy   bool // request ICY metadata on HTTP sources
	Buffered bool
	BufferSize int
}

// Open resolves path/url to the right backing source. "http://",
// "https://" and "ftp://" select the HTTP source. ftp:// URLs go to the
// same net/http-based client, which does not speak FTP, so opening one
// fails.
func Open(target string, opt Options) (*Stream, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "ftp://") {
		s, err := openHTTP(target, opt.Icy)
		if err != nil {
			return nil, err
		}
		if opt.Buffered {
			s.startPrefetch(opt.BufferSize)
		}
		return s, nil
	}
	return openLocal(target, opt)
}

func openLocal(path string, opt Options) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IoFatal, "iostream.open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.New(errs.IoFatal, "iostream.stat", err)
	}

	s := &Stream{file: f, size: info.Size()}
	if opt.Mmap && info.Mode().IsRegular() && info.Size() > 0 {
		mm, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
		if err == nil {
			s.kind = kindMmap
			s.mm = mm
		} else {
			s.kind = kindFile
		}
	} else {
		s.kind = kindFile
	}
	if opt.Buffered {
		s.startPrefetch(opt.BufferSize)
	}
	return s, nil
}

const icyHeaderTimeout = 4 * time.Second

func openHTTP(url string, icy bool) (*Stream, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	client.HTTPClient.Timeout = 0 // streaming body; timeouts handled per-read via Abort

	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.IoFatal, "iostream.http.request", err)
	}
	if icy {
		req.Header.Set("Icy-MetaData", "1")
	}
	req.Header.Set("User-Agent", "moc")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.New(errs.IoTransient, "iostream.http.do", err)
	}

	s := &Stream{kind: kindHTTP, resp: resp, size: -1}
	// Only the final Content-Type (after any 3xx follow) is retained.
	s.mimeType = resp.Header.Get("Content-Type")
	if resp.ContentLength > 0 {
		s.size = resp.ContentLength
	}
	if icy {
		if mi := resp.Header.Get("icy-metaint"); mi != "" {
			var n int
			if _, err := fmt.Sscanf(mi, "%d", &n); err == nil && n > 0 {
				s.icyMetaInt = n
				s.icyLeft = n
			}
		}
	}
	return s, nil
}

// Read reads up to len(p) bytes. For HTTP/ICY sources, only audio bytes
// are returned; interleaved metadata packets are parsed and exported via
// Title()/StreamURL(), never handed to the caller. When a prefetch
// thread is running, Read draws from its FIFO instead of the raw source.
func (s *Stream) Read(p []byte) (int, error) {
	if s.prefetch != nil {
		return s.prefetch.read(p)
	}
	return s.rawRead(p)
}

func (s *Stream) rawRead(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return 0, errs.New(errs.IoFatal, "iostream.read", io.ErrClosedPipe)
	}
	switch s.kind {
	case kindMmap:
		if s.pos >= int64(len(s.mm)) {
			s.eof = true
			return 0, io.EOF
		}
		n := copy(p, s.mm[s.pos:])
		s.pos += int64(n)
		return n, nil
	case kindFile:
		n, err := s.file.ReadAt(p, s.pos)
		s.pos += int64(n)
		if err == io.EOF {
			s.eof = true
		}
		return n, err
	case kindHTTP:
		return s.readHTTP(p)
	default:
		return 0, fmt.Errorf("iostream: unknown kind")
	}
}

func (s *Stream) readHTTP(p []byte) (int, error) {
	if s.icyMetaInt == 0 {
		n, err := s.resp.Body.Read(p)
		s.pos += int64(n)
		if err == io.EOF {
			s.eof = true
		}
		return n, err
	}

	limit := len(p)
	if limit > s.icyLeft {
		limit = s.icyLeft
	}
	if limit == 0 {
		if err := s.consumeICYMetadata(); err != nil {
			return 0, err
		}
		limit = len(p)
		if limit > s.icyLeft {
			limit = s.icyLeft
		}
	}
	n, err := s.resp.Body.Read(p[:limit])
	s.pos += int64(n)
	s.icyLeft -= n
	if err == io.EOF {
		s.eof = true
	}
	return n, err
}

// consumeICYMetadata reads one metadata block: a length byte (×16 bytes)
// followed by semicolon-separated Name='Value' pairs. A zero-length
// block is legal and yields no update.
func (s *Stream) consumeICYMetadata() error {
	var lenByte [1]byte
	if _, err := io.ReadFull(s.resp.Body, lenByte[:]); err != nil {
		return err
	}
	size := int(lenByte[0]) * 16
	s.icyLeft = s.icyMetaInt
	if size == 0 {
		return nil
	}
	block := make([]byte, size)
	if _, err := io.ReadFull(s.resp.Body, block); err != nil {
		return err
	}
	parseICYFields(string(block), &s.streamTitle, &s.streamURL)
	return nil
}

// parseICYFields extracts StreamTitle and StreamUrl from a
// semicolon-separated Name='Value' metadata block; all other fields are
// ignored per spec.md §4.3.
func parseICYFields(block string, title, url *string) {
	block = strings.TrimRight(block, "\x00")
	for _, part := range strings.Split(block, ";") {
		part = strings.TrimSpace(part)
		eq := strings.Index(part, "=")
		if eq <= 0 {
			continue
		}
		name := strings.TrimSpace(part[:eq])
		val := strings.Trim(strings.TrimSpace(part[eq+1:]), "'")
		switch name {
		case "StreamTitle":
			*title = val
		case "StreamUrl":
			*url = val
		}
	}
}

// Title returns the most recent ICY StreamTitle, or "" if none seen.
func (s *Stream) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamTitle
}

// StreamURL returns the most recent ICY StreamUrl, or "" if none seen.
func (s *Stream) StreamURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamURL
}

// MimeType returns the resolved Content-Type for HTTP sources.
func (s *Stream) MimeType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mimeType
}

// Peek reads up to len(p) bytes without advancing the stream position.
// Used by the decoder registry for content sniffing (spec.md §4.4).
func (s *Stream) Peek(p []byte) (int, error) {
	if pf := s.prefetch; pf != nil {
		// Sniff from the prefetch FIFO, leaving the bytes queued for Read.
		pf.mu.Lock()
		defer pf.mu.Unlock()
		want := min(len(p), pf.buf.Size())
		for pf.buf.Fill() < want && !pf.eof && pf.err == nil && !pf.aborted && !pf.stopped {
			pf.fillCond.Wait()
		}
		if n := pf.buf.Peek(p); n > 0 || pf.err == nil {
			return n, nil
		}
		return 0, pf.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.kind {
	case kindMmap:
		if s.pos >= int64(len(s.mm)) {
			return 0, io.EOF
		}
		n := copy(p, s.mm[s.pos:])
		return n, nil
	case kindFile:
		return s.file.ReadAt(p, s.pos)
	case kindHTTP:
		// Streams aren't seekable; peeking would consume bytes we can't
		// put back, so the prefetcher (when enabled) is the only safe
		// way to sniff a live stream. Without it, Peek degrades to Read.
		return s.readHTTP(p)
	default:
		return 0, fmt.Errorf("iostream: unknown kind")
	}
}

// Seek repositions the stream. Per spec.md's resolved ambiguity in
// io_seek (§9 Open Questions), the authoritative current position is
// always s.pos, never a separately tracked "mem_pos".
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kind == kindHTTP {
		return s.pos, errs.New(errs.IoFatal, "iostream.seek", fmt.Errorf("http streams are not seekable"))
	}

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = s.pos + offset
	case io.SeekEnd:
		next = s.size + offset
	default:
		return s.pos, fmt.Errorf("iostream: invalid whence %d", whence)
	}
	if next < 0 {
		next = 0
	}
	if s.size >= 0 && next > s.size {
		next = s.size
	}
	s.pos = next
	s.eof = false
	if s.prefetch != nil {
		s.prefetch.restartFrom(next)
	}
	return next, nil
}

// Tell returns the current position.
func (s *Stream) Tell() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// FileSize returns the source's total size, or -1 if unknown (live streams).
func (s *Stream) FileSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Eof reports whether the last read hit end-of-stream. Sticky until Seek clears it.
func (s *Stream) Eof() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

// Abort cancels any blocking read in progress; subsequent operations
// fail until the Stream is closed.
func (s *Stream) Abort() {
	if s.kind == kindHTTP {
		// A read in progress holds s.mu; closing the body unblocks it.
		s.resp.Body.Close()
	}
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	if s.prefetch != nil {
		s.prefetch.abort()
	}
}

// Close releases the underlying resource.
func (s *Stream) Close() error {
	if s.prefetch != nil {
		s.prefetch.stop()
	}
	switch s.kind {
	case kindMmap:
		err := unix.Munmap(s.mm)
		s.file.Close()
		return err
	case kindFile:
		return s.file.Close()
	case kindHTTP:
		return s.resp.Body.Close()
	}
	return nil
}

// startPrefetch spawns the buffered prefetch thread with its own FIFO,
// per spec.md §4.3.
func (s *Stream) startPrefetch(size int) {
	if size <= 0 {
		size = 256 * 1024
	}
	s.prefetch = newPrefetcher(s, size)
}
