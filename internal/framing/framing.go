// Package framing renders the multipart/x-mixed-replace wire format.
//
// Wire layout of one connection:
//
//	preamble (once)
//	[header(padded) | payload | footer] ...
//
// All functions are pure: no I/O, no shared state.
package framing

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultBoundary is the multipart boundary token advertised in the preamble.
	DefaultBoundary = "0123456789876543210"

	// DefaultContentType is the per-part Content-Type.
	DefaultContentType = "application/json"

	// DefaultHeaderPadSize is the fixed size every frame header is padded to.
	// Fixed-size headers let simple clients read header, then Content-Length bytes.
	DefaultHeaderPadSize = 100
)

const crlf = "\r\n"

// Config parametrizes a Framer. Zero values select the defaults.
type Config struct {
	Boundary      string
	ContentType   string
	HeaderPadSize int
}

// HeaderOverflowError reports a frame header longer than the pad size.
// The header is still usable: it is returned unpadded alongside this error.
type HeaderOverflowError struct {
	Size    int
	PadSize int
}

func (e *HeaderOverflowError) Error() string {
	return fmt.Sprintf("framing: header is %d bytes, exceeds pad size %d", e.Size, e.PadSize)
}

// Framer renders wire bytes for one boundary/content-type combination.
// Safe for concurrent use (immutable after New).
type Framer struct {
	boundary    string
	contentType string
	padSize     int
	preamble    []byte
}

// New creates a Framer, applying defaults for zero fields.
func New(cfg Config) *Framer {
	if cfg.Boundary == "" {
		cfg.Boundary = DefaultBoundary
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	if cfg.HeaderPadSize <= 0 {
		cfg.HeaderPadSize = DefaultHeaderPadSize
	}

	f := &Framer{
		boundary:    cfg.Boundary,
		contentType: cfg.ContentType,
		padSize:     cfg.HeaderPadSize,
	}
	f.preamble = []byte(renderPreamble(cfg.Boundary))
	return f
}

func renderPreamble(boundary string) string {
	lines := []string{
		"HTTP/1.0 200 OK",
		"Connection: keep-alive",
		"Ma-age: 0",
		"Expires: 0",
		"Cache-Control: no-store,must-revalidate",
		"Access-Control-Allow-Origin: *",
		"Access-Control-Allow-Headers: accept,content-type",
		"Access-Control-Allow-Methods: GET",
		"Access-Control-expose-headers: Cache-Control,Content-Encoding",
		"Pragma: no-cache",
		"Content-type: multipart/x-mixed-replace; boundary=" + boundary,
		"",
	}
	return strings.Join(lines, crlf)
}

// Boundary returns the boundary token.
func (f *Framer) Boundary() string { return f.boundary }

// ContentType returns the per-part content type.
func (f *Framer) ContentType() string { return f.contentType }

// HeaderPadSize returns the padded header size.
func (f *Framer) HeaderPadSize() int { return f.padSize }

// Preamble returns the connection preamble, sent once per session.
// The returned slice is shared; callers MUST NOT modify it.
func (f *Framer) Preamble() []byte {
	return f.preamble
}

// FrameHeader renders the part header for a payload of n bytes, right-padded
// with spaces to the pad size.
//
// An oversized header is returned unpadded together with *HeaderOverflowError.
func (f *Framer) FrameHeader(n int) ([]byte, error) {
	var b strings.Builder
	b.Grow(f.padSize)
	b.WriteString(crlf)
	b.WriteString("--")
	b.WriteString(f.boundary)
	b.WriteString(crlf)
	b.WriteString("Content-Type: ")
	b.WriteString(f.contentType)
	b.WriteString(crlf)
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(n))
	b.WriteString(crlf)
	b.WriteString(crlf)

	size := b.Len()
	if size > f.padSize {
		return []byte(b.String()), &HeaderOverflowError{Size: size, PadSize: f.padSize}
	}

	b.WriteString(strings.Repeat(" ", f.padSize-size))
	return []byte(b.String()), nil
}

var footer = []byte(crlf)

// Footer returns the bytes sent after every payload.
func (f *Framer) Footer() []byte {
	return footer
}

// FrameChunk returns header, payload and footer for one frame.
// payload is returned as-is (no copy). err is non-nil only for header overflow,
// in which case header is still valid and should be sent.
func (f *Framer) FrameChunk(payload []byte) (header, body, foot []byte, err error) {
	header, err = f.FrameHeader(len(payload))
	return header, payload, f.Footer(), err
}
