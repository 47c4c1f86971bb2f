package telemetry

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// recordMagic opens every recording
const recordMagic = "ROVERTM1"

// MaxRecordSize bounds a single record payload. Snapshots encode to a few
// hundred bytes; anything larger marks a corrupt length field.
const MaxRecordSize = 64 << 10

// Recorder appends CBOR-encoded snapshots to a file. Each record is an
// 8-byte little-endian unix-nano timestamp, a 4-byte little-endian length
// and the payload.
type Recorder struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// NewRecorder creates a timestamped recording in dir
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := filepath.Join(dir, fmt.Sprintf("%s_telemetry.bin", time.Now().Format("20060102_150405")))
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 64*1024)
	if _, err := w.WriteString(recordMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Recorder{f: f, w: w, path: name}, nil
}

// Path returns the recording file name
func (r *Recorder) Path() string { return r.path }

func (r *Recorder) Name() string { return "recorder" }

// Publish appends one snapshot
func (r *Recorder) Publish(snap Snapshot) error {
	payload, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("recorder is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(snap.TimestampNs))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	return r.w.Flush()
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	return err
}

// ReadRecording decodes every snapshot from a recording. A truncated
// trailing record ends the read without error.
func ReadRecording(rd io.Reader) ([]Snapshot, error) {
	magic := make([]byte, len(recordMagic))
	if _, err := io.ReadFull(rd, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != recordMagic {
		return nil, fmt.Errorf("unexpected recording magic %q", string(magic))
	}

	var out []Snapshot
	for {
		var meta [12]byte
		if _, err := io.ReadFull(rd, meta[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return out, nil
			}
			return out, fmt.Errorf("read record header: %w", err)
		}
		size := binary.LittleEndian.Uint32(meta[8:12])
		if size > MaxRecordSize {
			return out, fmt.Errorf("record %d: length %d exceeds %d", len(out), size, MaxRecordSize)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(rd, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("read payload: %w", err)
		}
		var snap Snapshot
		if err := cbor.Unmarshal(payload, &snap); err != nil {
			return out, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, snap)
	}
}
