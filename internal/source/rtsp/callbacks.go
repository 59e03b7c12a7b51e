package rtsp

import (
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// onNewSample pulls one JPEG from the appsink and hands a copy to the sink.
// Bad samples are skipped; a single corrupt frame must not stop the stream.
func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		s.logger.Warn("rtsp: failed to pull sample, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		s.logger.Warn("rtsp: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		s.logger.Warn("rtsp: empty buffer received")
		return gst.FlowOK
	}

	// GStreamer reuses the buffer after Unmap.
	payload := make([]byte, len(data))
	copy(payload, data)
	buffer.Unmap()

	s.framesProduced.Add(1)
	s.bytesProduced.Add(uint64(len(payload)))
	s.lastFrameAt.Store(time.Now().UnixNano())

	s.sink.OnFrame(payload)
	return gst.FlowOK
}

// onPadAdded links a dynamic rtspsrc pad to the depayloader.
func (s *Source) onPadAdded(srcPad *gst.Pad, depay *gst.Element) {
	sinkPad := depay.GetStaticPad("sink")
	if sinkPad == nil {
		s.logger.Error("rtsp: depayloader has no sink pad")
		return
	}
	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		s.logger.Error("rtsp: failed to link pads",
			"src_pad", srcPad.GetName(),
			"ret", ret,
		)
		return
	}
	s.logger.Debug("rtsp: pads linked", "src_pad", srcPad.GetName())
}
