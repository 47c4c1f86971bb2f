package telemetry

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/open-teleop/rover/pkg/drive"
)

// Field slots of the Snapshot table:
//
//	table Snapshot {
//	  timestamp_ns:long; mode:string; active:bool; direction:string;
//	  speed:int; motor_fl:ubyte; motor_fr:ubyte; motor_rl:ubyte;
//	  motor_rr:ubyte; stream_clients:int; frames_sent:ulong;
//	  evictions:ulong; rejections:ulong; captures:ulong;
//	  unavailable:ulong; watchdog_timeouts:ulong;
//	}
const (
	slotTimestamp = iota
	slotMode
	slotActive
	slotDirection
	slotSpeed
	slotMotorFL
	slotMotorFR
	slotMotorRL
	slotMotorRR
	slotStreamClients
	slotFramesSent
	slotEvictions
	slotRejections
	slotCaptures
	slotUnavailable
	slotWatchdogTimeouts
	slotCount
)

// ErrMalformedSnapshot is returned for buffers that are not a Snapshot table
var ErrMalformedSnapshot = errors.New("telemetry: malformed snapshot buffer")

func duty(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > drive.MaxDuty {
		return drive.MaxDuty
	}
	return uint8(v)
}

// EncodeSnapshot serializes s as a flatbuffer. b is reset and may be reused
// between calls; the returned slice aliases b's buffer.
func EncodeSnapshot(b *flatbuffers.Builder, s Snapshot) []byte {
	b.Reset()
	mode := b.CreateString(s.Mode)
	direction := b.CreateString(s.Direction)

	b.StartObject(slotCount)
	b.PrependInt64Slot(slotTimestamp, s.TimestampNs, 0)
	b.PrependUOffsetTSlot(slotMode, mode, 0)
	b.PrependBoolSlot(slotActive, s.Active, false)
	b.PrependUOffsetTSlot(slotDirection, direction, 0)
	b.PrependInt32Slot(slotSpeed, int32(s.Speed), 0)
	b.PrependByteSlot(slotMotorFL, duty(s.Motors.FL), 0)
	b.PrependByteSlot(slotMotorFR, duty(s.Motors.FR), 0)
	b.PrependByteSlot(slotMotorRL, duty(s.Motors.RL), 0)
	b.PrependByteSlot(slotMotorRR, duty(s.Motors.RR), 0)
	b.PrependInt32Slot(slotStreamClients, int32(s.StreamClients), 0)
	b.PrependUint64Slot(slotFramesSent, s.FramesSent, 0)
	b.PrependUint64Slot(slotEvictions, s.Evictions, 0)
	b.PrependUint64Slot(slotRejections, s.Rejections, 0)
	b.PrependUint64Slot(slotCaptures, s.Captures, 0)
	b.PrependUint64Slot(slotUnavailable, s.Unavailable, 0)
	b.PrependUint64Slot(slotWatchdogTimeouts, s.WatchdogTimeouts, 0)
	root := b.EndObject()
	b.Finish(root)
	return b.FinishedBytes()
}

// snapshotTable reads Snapshot fields the way generated accessors do
type snapshotTable struct {
	t flatbuffers.Table
}

func (r snapshotTable) field(slot int) flatbuffers.UOffsetT {
	o := flatbuffers.UOffsetT(r.t.Offset(flatbuffers.VOffsetT(4 + 2*slot)))
	if o == 0 {
		return 0
	}
	return o + r.t.Pos
}

func (r snapshotTable) int64(slot int) int64 {
	if o := r.field(slot); o != 0 {
		return r.t.GetInt64(o)
	}
	return 0
}

func (r snapshotTable) uint64(slot int) uint64 {
	if o := r.field(slot); o != 0 {
		return r.t.GetUint64(o)
	}
	return 0
}

func (r snapshotTable) int32(slot int) int32 {
	if o := r.field(slot); o != 0 {
		return r.t.GetInt32(o)
	}
	return 0
}

func (r snapshotTable) byte(slot int) byte {
	if o := r.field(slot); o != 0 {
		return r.t.GetByte(o)
	}
	return 0
}

func (r snapshotTable) bool(slot int) bool {
	if o := r.field(slot); o != 0 {
		return r.t.GetBool(o)
	}
	return false
}

func (r snapshotTable) string(slot int) string {
	if o := r.field(slot); o != 0 {
		return string(r.t.ByteVector(o))
	}
	return ""
}

// DecodeSnapshot parses a buffer produced by EncodeSnapshot
func DecodeSnapshot(buf []byte) (s Snapshot, err error) {
	if len(buf) < flatbuffers.SizeUOffsetT+flatbuffers.SizeSOffsetT {
		return Snapshot{}, ErrMalformedSnapshot
	}
	defer func() {
		if r := recover(); r != nil {
			s = Snapshot{}
			err = fmt.Errorf("%w: %v", ErrMalformedSnapshot, r)
		}
	}()

	n := flatbuffers.GetUOffsetT(buf)
	if int(n) >= len(buf) {
		return Snapshot{}, ErrMalformedSnapshot
	}
	r := snapshotTable{t: flatbuffers.Table{Bytes: buf, Pos: n}}

	return Snapshot{
		TimestampNs: r.int64(slotTimestamp),
		Mode:        r.string(slotMode),
		Active:      r.bool(slotActive),
		Direction:   r.string(slotDirection),
		Speed:       int(r.int32(slotSpeed)),
		Motors: drive.Speeds{
			FL: int(r.byte(slotMotorFL)),
			FR: int(r.byte(slotMotorFR)),
			RL: int(r.byte(slotMotorRL)),
			RR: int(r.byte(slotMotorRR)),
		},
		StreamClients:    int(r.int32(slotStreamClients)),
		FramesSent:       r.uint64(slotFramesSent),
		Evictions:        r.uint64(slotEvictions),
		Rejections:       r.uint64(slotRejections),
		Captures:         r.uint64(slotCaptures),
		Unavailable:      r.uint64(slotUnavailable),
		WatchdogTimeouts: r.uint64(slotWatchdogTimeouts),
	}, nil
}
