package rtsp

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies pipeline errors for telemetry.
type ErrorCategory int

const (
	ErrCategoryNetwork ErrorCategory = iota
	ErrCategoryCodec
	ErrCategoryAuth
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden",
		"authentication", "credentials", "password", "username",
	}
	codecKeywords = []string{
		"codec", "decode", "encode", "format", "negotiation", "caps",
		"h264", "h265", "jpeg", "not negotiated", "no decoder", "missing plugin",
	}
	networkKeywords = []string{
		"connection", "timeout", "timed out", "unreachable", "network", "dns",
		"resolve", "socket", "tcp", "udp", "rtsp", "not found",
		"could not connect", "failed to connect",
	}
)

// ClassifyError categorizes an error by message heuristics.
// Auth wins over codec, codec over network: an auth failure message often
// mentions the rtsp connection too.
func ClassifyError(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, authKeywords):
		return ErrCategoryAuth
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

// classifyGError adapts ClassifyError to GStreamer bus errors.
// go-gst's GError does not expose the domain, so we rely on the strings.
func classifyGError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return ClassifyError(gerr.Error(), gerr.DebugString())
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
