// Package errs defines the error-kind taxonomy that flows between moc's
// components (decoders, I/O streams, the output device, the protocol
// layer, configuration, and the tag cache) so callers can decide whether
// a failure is recoverable without string-matching error messages.
package errs

import "fmt"

// Kind classifies where an error originated and how it should be handled.
type Kind int

const (
	// DecoderStream is a recoverable per-frame decode error: skip the frame, keep playing.
	DecoderStream Kind = iota
	// DecoderFatal ends playback of the current track.
	DecoderFatal
	// IoTransient is a retryable I/O stall (network hiccup, slow disk).
	IoTransient
	// IoFatal means the stream cannot be used at all.
	IoFatal
	// DeviceOpen means the output device failed to open for the requested format.
	DeviceOpen
	// DeviceWrite means a single write to the output device failed; the device is reset.
	DeviceWrite
	// ProtocolDecode means a client sent a malformed command; only that client is affected.
	ProtocolDecode
	// ConfigSetup is a startup-time configuration error; the process should exit.
	ConfigSetup
	// CacheIo is an on-disk tag-cache failure; logged, cache purged on format drift.
	CacheIo
)

func (k Kind) String() string {
	switch k {
	case DecoderStream:
		return "decoder_stream"
	case DecoderFatal:
		return "decoder_fatal"
	case IoTransient:
		return "io_transient"
	case IoFatal:
		return "io_fatal"
	case DeviceOpen:
		return "device_open"
	case DeviceWrite:
		return "device_write"
	case ProtocolDecode:
		return "protocol_decode"
	case ConfigSetup:
		return "config_setup"
	case CacheIo:
		return "cache_io"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error. Wrap the underlying cause with %w so
// errors.Is/errors.As still see through it.
type Error struct {
	Kind Kind
	Op   string // component/operation that produced the error, e.g. "decoder.mp3.open"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a Kind and the operation that produced it. Returns
// nil if err is nil, so call sites can write `return errs.New(...)` freely.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}

// Fatal reports whether a Kind terminates the current track/operation
// rather than being skipped or retried.
func Fatal(kind Kind) bool {
	switch kind {
	case DecoderFatal, IoFatal, DeviceOpen, ConfigSetup:
		return true
	default:
		return false
	}
}
