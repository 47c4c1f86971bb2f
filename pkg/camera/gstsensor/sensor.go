// Package gstsensor reads MJPEG frames from a V4L2 camera through GStreamer.
package gstsensor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// ErrEndOfStream is returned once the pipeline stops producing samples
var ErrEndOfStream = errors.New("gstsensor: end of stream")

// Config describes the capture device and negotiated format
type Config struct {
	Device    string
	Width     int
	Height    int
	FrameRate int
}

// Sensor owns a pipeline of the form
//
//	v4l2src ! image/jpeg,width=W,height=H,framerate=F/1 ! appsink
//
// The appsink keeps only the newest frame so a slow reader never backs up
// the camera.
type Sensor struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	mu       sync.Mutex
	closed   bool
}

// Caps returns the caps string used between the source and the sink
func Caps(cfg Config) string {
	caps := "image/jpeg"
	if cfg.Width > 0 && cfg.Height > 0 {
		caps += fmt.Sprintf(",width=%d,height=%d", cfg.Width, cfg.Height)
	}
	if cfg.FrameRate > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", cfg.FrameRate)
	}
	return caps
}

// Open builds the pipeline and sets it to PLAYING
func Open(cfg Config) (*Sensor, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("rover-camera")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", cfg.Device)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(Caps(cfg)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to link camera pipeline: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start camera pipeline on '%s': %w", cfg.Device, err)
	}

	return &Sensor{pipeline: pipeline, sink: sink}, nil
}

// ReadFrame blocks until the next JPEG sample and returns a copy of it
func (s *Sensor) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrEndOfStream
	}

	sample := s.sink.PullSample()
	if sample == nil {
		return nil, ErrEndOfStream
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("gstsensor: sample without buffer")
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil, fmt.Errorf("gstsensor: empty buffer")
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	return frame, nil
}

// Close stops the pipeline
func (s *Sensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to stop camera pipeline: %w", err)
	}
	return nil
}
