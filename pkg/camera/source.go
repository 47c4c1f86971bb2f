// Package camera serializes access to the rover's imaging sensor and hands
// out frames from a fixed buffer pool.
package camera

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-teleop/rover/pkg/log"
)

// DefaultBufferCount is the size of the frame pool
const DefaultBufferCount = 2

var (
	// ErrUnavailable is returned when the sensor lock could not be taken in
	// time or every pool buffer is still held. Callers retry or skip.
	ErrUnavailable = errors.New("camera: frame unavailable")
	// ErrClosed is returned by Capture after Close
	ErrClosed = errors.New("camera: source closed")
)

// Sensor is the imaging hardware. ReadFrame returns one compressed image and
// is only ever called by one goroutine at a time.
type Sensor interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// Frame is one captured JPEG image borrowed from the pool. It must be
// released exactly once; Release is safe to call more than once.
type Frame struct {
	Seq       uint64
	Timestamp time.Time

	data    []byte
	once    sync.Once
	release func()
}

// Bytes returns the image data, or nil once the frame has been released
func (f *Frame) Bytes() []byte {
	return f.data
}

// Len returns the image size in bytes
func (f *Frame) Len() int {
	return len(f.data)
}

// Release returns the frame's buffer to the pool
func (f *Frame) Release() {
	f.once.Do(func() {
		f.data = nil
		if f.release != nil {
			f.release()
		}
	})
}

// Stats are the source counters
type Stats struct {
	Captures    uint64 `json:"captures"`
	Unavailable uint64 `json:"unavailable"`
	Failures    uint64 `json:"failures"`
	InFlight    int    `json:"in_flight"`
	BufferCount int    `json:"buffer_count"`
}

// Source owns the sensor. Capture takes a bounded-wait lock around the
// sensor read only; the returned Frame lives on until released.
type Source struct {
	sensor Sensor
	logger log.Logger

	lock chan struct{}
	pool chan struct{}

	seq         atomic.Uint64
	captures    atomic.Uint64
	unavailable atomic.Uint64
	failures    atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSource wraps sensor with a pool of bufferCount frames
func NewSource(sensor Sensor, bufferCount int, logger log.Logger) *Source {
	if bufferCount <= 0 {
		bufferCount = DefaultBufferCount
	}
	s := &Source{
		sensor: sensor,
		logger: logger,
		lock:   make(chan struct{}, 1),
		pool:   make(chan struct{}, bufferCount),
		closed: make(chan struct{}),
	}
	for i := 0; i < bufferCount; i++ {
		s.pool <- struct{}{}
	}
	return s
}

// Capture reads one frame, waiting at most timeout for the sensor lock.
// It returns ErrUnavailable on lock timeout or pool exhaustion.
func (s *Source) Capture(timeout time.Duration) (*Frame, error) {
	select {
	case <-s.closed:
		return nil, ErrClosed
	default:
	}

	timer := time.NewTimer(timeout)
	select {
	case s.lock <- struct{}{}:
		timer.Stop()
	case <-timer.C:
		s.unavailable.Add(1)
		return nil, ErrUnavailable
	case <-s.closed:
		timer.Stop()
		return nil, ErrClosed
	}
	defer func() { <-s.lock }()

	select {
	case <-s.pool:
	default:
		s.unavailable.Add(1)
		s.logger.Debugf("Camera: frame pool exhausted (%d in flight)", cap(s.pool))
		return nil, ErrUnavailable
	}

	data, err := s.sensor.ReadFrame()
	if err != nil {
		s.pool <- struct{}{}
		s.failures.Add(1)
		return nil, fmt.Errorf("camera: sensor read failed: %w", err)
	}
	s.captures.Add(1)

	return &Frame{
		Seq:       s.seq.Add(1),
		Timestamp: time.Now(),
		data:      data,
		release:   func() { s.pool <- struct{}{} },
	}, nil
}

// With captures a frame, passes it to fn and releases it on every exit path
func (s *Source) With(timeout time.Duration, fn func(f *Frame) error) error {
	f, err := s.Capture(timeout)
	if err != nil {
		return err
	}
	defer f.Release()
	return fn(f)
}

// Stats returns a snapshot of the counters
func (s *Source) Stats() Stats {
	return Stats{
		Captures:    s.captures.Load(),
		Unavailable: s.unavailable.Load(),
		Failures:    s.failures.Load(),
		InFlight:    cap(s.pool) - len(s.pool),
		BufferCount: cap(s.pool),
	}
}

// Close stops new captures, waits for an in-progress read and closes the
// sensor.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.lock <- struct{}{}
		err = s.sensor.Close()
		<-s.lock
	})
	return err
}
