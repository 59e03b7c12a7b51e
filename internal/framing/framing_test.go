package framing

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPreambleBytes(t *testing.T) {
	f := New(Config{})

	want := "HTTP/1.0 200 OK\r\n" +
		"Connection: keep-alive\r\n" +
		"Ma-age: 0\r\n" +
		"Expires: 0\r\n" +
		"Cache-Control: no-store,must-revalidate\r\n" +
		"Access-Control-Allow-Origin: *\r\n" +
		"Access-Control-Allow-Headers: accept,content-type\r\n" +
		"Access-Control-Allow-Methods: GET\r\n" +
		"Access-Control-expose-headers: Cache-Control,Content-Encoding\r\n" +
		"Pragma: no-cache\r\n" +
		"Content-type: multipart/x-mixed-replace; boundary=0123456789876543210\r\n"

	if diff := cmp.Diff(want, string(f.Preamble())); diff != "" {
		t.Errorf("Preamble() mismatch (-want +got):\n%s", diff)
	}
	if got := len(f.Preamble()); got != 375 {
		t.Errorf("len(Preamble())=%d (expected 375)", got)
	}
}

func TestPreambleCustomBoundary(t *testing.T) {
	f := New(Config{Boundary: "frame"})
	if !bytes.HasSuffix(f.Preamble(), []byte("boundary=frame\r\n")) {
		t.Errorf("Preamble() does not advertise custom boundary: %q", f.Preamble())
	}
}

// TestFrameHeaderPadded validates byte-exact framing for L=12345, pad 100.
func TestFrameHeaderPadded(t *testing.T) {
	f := New(Config{HeaderPadSize: 100})

	header, err := f.FrameHeader(12345)
	if err != nil {
		t.Fatalf("FrameHeader() failed: %v", err)
	}
	if len(header) != 100 {
		t.Fatalf("len(header)=%d (expected 100)", len(header))
	}

	unpadded := "\r\n--0123456789876543210\r\nContent-Type: application/json\r\nContent-Length: 12345\r\n\r\n"
	if !strings.HasPrefix(string(header), unpadded) {
		t.Errorf("header prefix = %q, expected %q", header, unpadded)
	}
	if pad := string(header[len(unpadded):]); strings.Trim(pad, " ") != "" {
		t.Errorf("padding contains non-space bytes: %q", pad)
	}
}

func TestFrameHeaderOverflow(t *testing.T) {
	f := New(Config{HeaderPadSize: 40})

	header, err := f.FrameHeader(12345)

	var overflow *HeaderOverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("FrameHeader() error = %v, expected *HeaderOverflowError", err)
	}
	if overflow.Size != 82 || overflow.PadSize != 40 {
		t.Errorf("overflow = %+v (expected Size=82 PadSize=40)", overflow)
	}
	if len(header) != 82 {
		t.Errorf("len(header)=%d (expected unpadded 82, never truncated)", len(header))
	}
}

func TestFrameChunk(t *testing.T) {
	f := New(Config{ContentType: "image/jpeg"})
	payload := []byte("jpeg-bytes")

	header, body, foot, err := f.FrameChunk(payload)
	if err != nil {
		t.Fatalf("FrameChunk() failed: %v", err)
	}

	if !strings.Contains(string(header), "Content-Type: image/jpeg\r\n") {
		t.Errorf("header missing content type: %q", header)
	}
	if !strings.Contains(string(header), "Content-Length: 10\r\n\r\n") {
		t.Errorf("header missing content length: %q", header)
	}
	if &body[0] != &payload[0] {
		t.Error("FrameChunk() copied the payload")
	}
	if string(foot) != "\r\n" {
		t.Errorf("footer = %q (expected CRLF)", foot)
	}
}

func TestDefaults(t *testing.T) {
	f := New(Config{})
	if f.Boundary() != DefaultBoundary || f.ContentType() != DefaultContentType || f.HeaderPadSize() != DefaultHeaderPadSize {
		t.Errorf("defaults not applied: %q %q %d", f.Boundary(), f.ContentType(), f.HeaderPadSize())
	}
}
