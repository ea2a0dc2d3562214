package decoder

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"github.com/moc-go/moc/internal/errs"
	"github.com/moc-go/moc/internal/iostream"
)

// sniffPeekSize is the minimum number of bytes peeked for content
// sniffing, per spec.md §4.4 resolution policy step 3.
const sniffPeekSize = 512

// Registry holds the decoder plugins registered at startup and resolves
// a path/stream to the right one. It is read-mostly after registration;
// Register and every resolve path take mu.
type Registry struct {
	mu         sync.Mutex
	plugins    []Plugin
	mimeSniff  bool
}

// NewRegistry creates an empty registry. mimeSniff mirrors mocd's
// MimeSniff config option (spec.md §4.4 step 1).
func NewRegistry(mimeSniff bool) *Registry {
	return &Registry{mimeSniff: mimeSniff}
}

// Register adds a plugin, refusing duplicates by name identity (stands
// in for the original's "refuse duplicates by handle identity").
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("decoder: plugin %q already registered", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)
	return nil
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// extOf returns the substring after the last '.' that is not part of a
// leading dot-file prefix, e.g. ".bashrc" has no extension, but
// "a.b.mp3" has extension "mp3" and "archive.tar.gz" has "gz".
func extOf(path string) string {
	base := filepath.Base(path)
	trimmed := strings.TrimLeft(base, ".")
	leadingDots := len(base) - len(trimmed)
	dot := strings.LastIndexByte(trimmed, '.')
	if dot < 0 {
		return ""
	}
	_ = leadingDots
	return trimmed[dot+1:]
}

// ResolveByPath implements spec.md §4.4's resolution policy for a local
// path or URL: MIME sniff first (if enabled and derivable), then extension.
func (r *Registry) ResolveByPath(path string) Plugin {
	if r.mimeSniff {
		if mt := mimeFromExt(path); mt != "" {
			if p := r.resolveMime(mt); p != nil {
				return p
			}
		}
	}
	ext := extOf(path)
	if ext == "" {
		return nil
	}
	return r.resolveExt(ext)
}

// ResolveStream implements the streaming-source branch of §4.4 step 3:
// peek >=512 bytes, try MIME (if known) then each plugin's CanDecode in
// registration order.
func (r *Registry) ResolveStream(s *iostream.Stream) (Plugin, error) {
	if mt := s.MimeType(); mt != "" {
		if p := r.resolveMime(mt); p != nil {
			return p, nil
		}
	}
	peek := make([]byte, sniffPeekSize)
	n, err := s.Peek(peek)
	if err != nil && n == 0 {
		return nil, errs.New(errs.IoFatal, "decoder.sniff", err)
	}
	peek = peek[:n]

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.plugins {
		if p.CanDecode(peek) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("decoder: no plugin could sniff stream content")
}

func (r *Registry) resolveExt(ext string) Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.plugins {
		if p.OurFormatExt(ext) {
			return p
		}
	}
	return nil
}

func (r *Registry) resolveMime(mt string) Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.plugins {
		if p.OurFormatMime(mt) {
			return p
		}
	}
	return nil
}

func mimeFromExt(path string) string {
	ext := extOf(path)
	if ext == "" {
		return ""
	}
	return strings.SplitN(mime.TypeByExtension("."+ext), ";", 2)[0]
}

// Open resolves path and opens it for decoding. path may be a local
// file or an http(s)/ftp URL; resolution and stream construction are
// both driven through the same Registry so a URL transparently gets the
// streaming branch of §4.4 step 3.
func (r *Registry) Open(path string) (Decoder, error) {
	if looksLikeURL(path) {
		s, err := iostream.Open(path, iostream.Options{Icy: true, Buffered: true})
		if err != nil {
			return nil, err
		}
		p, err := r.ResolveStream(s)
		if err != nil {
			s.Close()
			return nil, errs.New(errs.DecoderFatal, "decoder.open_stream", err)
		}
		d, err := p.OpenStream(s)
		if err != nil {
			s.Close()
			return nil, errs.New(errs.DecoderFatal, "decoder.open_stream", err)
		}
		return d, nil
	}

	p := r.ResolveByPath(path)
	if p == nil {
		return nil, errs.New(errs.DecoderFatal, "decoder.resolve", fmt.Errorf("no decoder for %q", path))
	}
	d, err := p.Open(path)
	if err != nil {
		return nil, errs.New(errs.DecoderFatal, "decoder.open", err)
	}
	return d, nil
}

// Info resolves path and asks its plugin for tags, used by the tag
// cache's miss path (spec.md §4.10 step 3).
func (r *Registry) Info(path string, which TagKind) (Tags, error) {
	p := r.ResolveByPath(path)
	if p == nil {
		return Tags{}, fmt.Errorf("decoder: no plugin for %q", path)
	}
	return p.Info(path, which)
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "ftp://")
}
