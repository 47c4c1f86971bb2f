// Package telemetry samples rover state and fans it out to sinks.
package telemetry

import (
	"time"

	"github.com/open-teleop/rover/pkg/camera"
	"github.com/open-teleop/rover/pkg/drive"
	"github.com/open-teleop/rover/pkg/motion"
	"github.com/open-teleop/rover/pkg/stream"
)

// Snapshot is one telemetry sample
type Snapshot struct {
	TimestampNs      int64        `json:"timestamp_ns" cbor:"ts"`
	Mode             string       `json:"mode" cbor:"mode"`
	Active           bool         `json:"active" cbor:"active"`
	Direction        string       `json:"direction" cbor:"dir"`
	Speed            int          `json:"speed" cbor:"speed"`
	Motors           drive.Speeds `json:"motors" cbor:"motors"`
	StreamClients    int          `json:"stream_clients" cbor:"clients"`
	FramesSent       uint64       `json:"frames_sent" cbor:"frames"`
	Evictions        uint64       `json:"evictions" cbor:"evictions"`
	Rejections       uint64       `json:"rejections" cbor:"rejections"`
	Captures         uint64       `json:"captures" cbor:"captures"`
	Unavailable      uint64       `json:"unavailable" cbor:"unavailable"`
	WatchdogTimeouts uint64       `json:"watchdog_timeouts" cbor:"timeouts"`
}

// Time returns the sample time
func (s Snapshot) Time() time.Time {
	return time.Unix(0, s.TimestampNs)
}

// Sources are the state providers sampled by Collect. Nil providers are
// skipped.
type Sources struct {
	Motion func() motion.State
	Stream func() stream.Stats
	Camera func() camera.Stats
	Now    func() time.Time
}

// Collect builds a snapshot from the providers
func (s Sources) Collect() Snapshot {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	snap := Snapshot{TimestampNs: now().UnixNano()}

	if s.Motion != nil {
		st := s.Motion()
		snap.Mode = st.Mode.String()
		snap.Active = st.Active
		snap.Direction = st.Direction.String()
		snap.Speed = st.Speed
		snap.Motors = st.Motors
		snap.WatchdogTimeouts = st.Timeouts
	}
	if s.Stream != nil {
		st := s.Stream()
		snap.StreamClients = len(st.Clients)
		snap.FramesSent = st.FramesSent
		snap.Evictions = st.Evictions
		snap.Rejections = st.Rejections
	}
	if s.Camera != nil {
		st := s.Camera()
		snap.Captures = st.Captures
		snap.Unavailable = st.Unavailable
	}
	return snap
}
