package rtsp

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Acceleration selects the H.264 decoder.
type Acceleration string

const (
	AccelAuto     Acceleration = "auto"
	AccelVAAPI    Acceleration = "vaapi"
	AccelSoftware Acceleration = "software"
)

type pipelineConfig struct {
	URL          string
	Width        int
	Height       int
	FPS          float64
	Quality      int
	Acceleration Acceleration
}

// pipeline holds the elements we touch after construction.
type pipeline struct {
	Pipeline   *gst.Pipeline
	AppSink    *app.Sink
	RTSPSrc    *gst.Element
	Depay      *gst.Element
	UsingVAAPI bool
}

// buildPipeline creates (but does not start) the capture pipeline:
//
//	rtspsrc → rtph264depay → decoder → [vaapipostproc] → videoconvert →
//	[videoscale] → videorate → capsfilter → jpegenc → appsink
//
// rtspsrc pads are dynamic; the caller links them on pad-added.
func buildPipeline(cfg pipelineConfig, logger *slog.Logger) (*pipeline, error) {
	gst.Init(nil)

	p, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", cfg.URL)
	rtspsrc.SetProperty("protocols", 4) // TCP only
	rtspsrc.SetProperty("latency", latencyFor(cfg.FPS))
	rtspsrc.SetProperty("ntp-sync", false)
	rtspsrc.SetProperty("tcp-timeout", uint64(10000000))

	depay, err := gst.NewElement("rtph264depay")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtph264depay: %w", err)
	}
	depay.SetProperty("request-keyframe", true)

	decode, usingVAAPI, err := decodeChain(cfg, logger)
	if err != nil {
		return nil, err
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(framerateCaps(cfg.Width, cfg.Height, cfg.FPS)))

	jpegenc, err := gst.NewElement("jpegenc")
	if err != nil {
		return nil, fmt.Errorf("failed to create jpegenc: %w", err)
	}
	jpegenc.SetProperty("quality", cfg.Quality)

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)
	appsink.SetProperty("qos", true)

	chain := []*gst.Element{depay}
	chain = append(chain, decode...)
	chain = append(chain, videorate, capsfilter, jpegenc, appsink.Element)

	if err := p.AddMany(append([]*gst.Element{rtspsrc}, chain...)...); err != nil {
		return nil, fmt.Errorf("failed to add pipeline elements: %w", err)
	}
	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	logger.Info("rtsp: pipeline created",
		"vaapi", usingVAAPI,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
		"jpeg_quality", cfg.Quality,
	)

	return &pipeline{
		Pipeline:   p,
		AppSink:    appsink,
		RTSPSrc:    rtspsrc,
		Depay:      depay,
		UsingVAAPI: usingVAAPI,
	}, nil
}

// decodeChain returns the elements between depay and videorate.
func decodeChain(cfg pipelineConfig, logger *slog.Logger) ([]*gst.Element, bool, error) {
	switch cfg.Acceleration {
	case AccelVAAPI:
		elems, err := vaapiChain(cfg)
		if err != nil {
			return nil, false, fmt.Errorf("VAAPI required: %w", err)
		}
		return elems, true, nil

	case AccelAuto, "":
		if elems, err := vaapiChain(cfg); err == nil {
			return elems, true, nil
		}
		logger.Warn("rtsp: VAAPI unavailable, using software decoder")
		elems, err := softwareChain(cfg)
		return elems, false, err

	case AccelSoftware:
		elems, err := softwareChain(cfg)
		return elems, false, err

	default:
		return nil, false, fmt.Errorf("invalid acceleration mode: %q", cfg.Acceleration)
	}
}

// vaapiChain: vaapih264dec → vaapipostproc (GPU scale) → videoconvert.
func vaapiChain(cfg pipelineConfig) ([]*gst.Element, error) {
	decoder, err := gst.NewElement("vaapih264dec")
	if err != nil {
		return nil, fmt.Errorf("failed to create vaapih264dec: %w", err)
	}
	decoder.SetProperty("low-latency", true)

	postproc, err := gst.NewElement("vaapipostproc")
	if err != nil {
		return nil, fmt.Errorf("failed to create vaapipostproc: %w", err)
	}
	postproc.SetProperty("format", "nv12")
	postproc.SetProperty("width", cfg.Width)
	postproc.SetProperty("height", cfg.Height)
	postproc.SetProperty("scale-method", 2)

	convert, err := newConverter()
	if err != nil {
		return nil, err
	}
	return []*gst.Element{decoder, postproc, convert}, nil
}

// softwareChain: avdec_h264 → videoconvert → videoscale.
func softwareChain(cfg pipelineConfig) ([]*gst.Element, error) {
	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return nil, fmt.Errorf("failed to create avdec_h264: %w", err)
	}
	decoder.SetProperty("max-threads", 0)
	decoder.SetProperty("output-corrupt", false)

	convert, err := newConverter()
	if err != nil {
		return nil, err
	}

	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	return []*gst.Element{decoder, convert, scale}, nil
}

func newConverter() (*gst.Element, error) {
	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	convert.SetProperty("n-threads", 0)
	return convert, nil
}

// destroy sets the pipeline to NULL. Safe on nil.
func (p *pipeline) destroy() error {
	if p == nil || p.Pipeline == nil {
		return nil
	}
	if err := p.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// latencyFor returns the rtspsrc jitter buffer in ms. Low rates favor latency.
func latencyFor(fps float64) int {
	if fps <= 2.0 {
		return 50
	}
	return 200
}

// framerateCaps builds the raw-video caps ahead of jpegenc.
// Fractional rates below 1 fps are expressed as 1/N.
func framerateCaps(width, height int, fps float64) string {
	num, den := 1, 1
	if fps < 1.0 {
		den = int(1.0 / fps)
	} else {
		num = int(fps)
	}
	return fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/%d", width, height, num, den)
}
