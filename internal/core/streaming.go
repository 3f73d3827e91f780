package core

// streaming.go provides the reader stack CSV uploads are decoded through.
//
// The stack never loads the whole file:
//
//   - StreamingCountingReader counts raw bytes for progress reporting
//   - a BOM-aware decoder strips a UTF-8 BOM and transcodes UTF-16
//     exports (Excel's "Unicode text") to UTF-8
//   - invalid UTF-8 sequences are replaced with U+FFFD
//
// Use WrapForStreaming to apply all of them in the correct order.

import (
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// StreamingCountingReader wraps an io.Reader to track bytes read.
type StreamingCountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 if unknown
}

// NewStreamingCountingReader creates a counting reader with optional total size.
func NewStreamingCountingReader(r io.Reader, total int64) *StreamingCountingReader {
	return &StreamingCountingReader{reader: r, Total: total}
}

func (r *StreamingCountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *StreamingCountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}

// NewSanitizingReader strips a BOM, transcodes UTF-16 input and replaces
// ill-formed UTF-8 so encoding/csv always sees valid text.
func NewSanitizingReader(r io.Reader) io.Reader {
	t := transform.Chain(
		unicode.BOMOverride(unicode.UTF8.NewDecoder()),
		runes.ReplaceIllFormed(),
	)
	return transform.NewReader(r, t)
}

// WrapForStreaming returns a sanitized reader over r and the counter that
// tracks how much of r has been consumed.
func WrapForStreaming(r io.Reader, totalSize int64) (io.Reader, *StreamingCountingReader) {
	counter := NewStreamingCountingReader(r, totalSize)
	return NewSanitizingReader(counter), counter
}
