package telemetry

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/open-teleop/rover/pkg/camera"
	"github.com/open-teleop/rover/pkg/drive"
	"github.com/open-teleop/rover/pkg/log"
	"github.com/open-teleop/rover/pkg/motion"
	"github.com/open-teleop/rover/pkg/stream"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		TimestampNs:      1700000000123456789,
		Mode:             "engaged",
		Active:           true,
		Direction:        "forward",
		Speed:            200,
		Motors:           drive.Speeds{FL: 200, FR: 200},
		StreamClients:    3,
		FramesSent:       1024,
		Evictions:        2,
		Rejections:       1,
		Captures:         4096,
		Unavailable:      7,
		WatchdogTimeouts: 5,
	}
}

func TestFlatbufferRoundTrip(t *testing.T) {
	b := flatbuffers.NewBuilder(0)
	want := sampleSnapshot()

	got, err := DecodeSnapshot(EncodeSnapshot(b, want))
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}

	// builder reuse must not leak fields from the previous snapshot
	idle := Snapshot{TimestampNs: 42, Mode: "idle", Direction: "stop"}
	got, err = DecodeSnapshot(EncodeSnapshot(b, idle))
	if err != nil {
		t.Fatalf("DecodeSnapshot after reuse: %v", err)
	}
	if got != idle {
		t.Errorf("reused builder: got %+v, want %+v", got, idle)
	}
}

func TestDecodeSnapshotMalformed(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"short", []byte{1, 2, 3}},
		{"root out of range", []byte{0xff, 0xff, 0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSnapshot(tt.buf); !errors.Is(err, ErrMalformedSnapshot) {
				t.Errorf("expected ErrMalformedSnapshot, got %v", err)
			}
		})
	}
}

func TestCollect(t *testing.T) {
	now := time.Unix(100, 0)
	src := Sources{
		Motion: func() motion.State {
			return motion.State{
				Mode:      motion.Engaged,
				Active:    true,
				Direction: motion.Left,
				Speed:     120,
				Motors:    drive.Speeds{FR: 120},
				Timeouts:  3,
			}
		},
		Stream: func() stream.Stats {
			return stream.Stats{
				Clients:    make([]stream.ClientInfo, 2),
				FramesSent: 10,
				Evictions:  1,
				Rejections: 4,
			}
		},
		Camera: func() camera.Stats {
			return camera.Stats{Captures: 11, Unavailable: 6}
		},
		Now: func() time.Time { return now },
	}

	got := src.Collect()
	want := Snapshot{
		TimestampNs:      now.UnixNano(),
		Mode:             "engaged",
		Active:           true,
		Direction:        "left",
		Speed:            120,
		Motors:           drive.Speeds{FR: 120},
		StreamClients:    2,
		FramesSent:       10,
		Evictions:        1,
		Rejections:       4,
		Captures:         11,
		Unavailable:      6,
		WatchdogTimeouts: 3,
	}
	if got != want {
		t.Errorf("Collect:\n got %+v\nwant %+v", got, want)
	}
	if !got.Time().Equal(now) {
		t.Errorf("Time() = %v, want %v", got.Time(), now)
	}
}

func TestCollectSkipsNilSources(t *testing.T) {
	snap := Sources{}.Collect()
	if snap.TimestampNs == 0 {
		t.Error("expected a timestamp")
	}
	if snap.Mode != "" || snap.StreamClients != 0 {
		t.Errorf("expected zero fields, got %+v", snap)
	}
}

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	got    []Snapshot
	closed bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, snap)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestReporterFailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSink{name: "bad", err: errors.New("broker down")}
	good := &recordingSink{name: "good"}
	r := NewReporter(Sources{}, time.Second, log.NewNopLogger(), bad, good)

	r.ReportOnce()
	r.ReportOnce()

	if good.count() != 2 {
		t.Errorf("good sink received %d snapshots, want 2", good.count())
	}
	stats := r.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 sink stats, got %d", len(stats))
	}
	if stats[0].Name != "bad" || stats[0].Errors != 2 || stats[0].Published != 0 {
		t.Errorf("bad sink stats = %+v", stats[0])
	}
	if stats[0].LastError != "broker down" {
		t.Errorf("LastError = %q", stats[0].LastError)
	}
	if stats[1].Published != 2 || stats[1].Errors != 0 {
		t.Errorf("good sink stats = %+v", stats[1])
	}
}

func TestReporterRunClosesSinks(t *testing.T) {
	sink := &recordingSink{name: "s"}
	r := NewReporter(Sources{}, 5*time.Millisecond, log.NewNopLogger(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if sink.count() < 2 {
		t.Errorf("expected at least 2 reports, got %d", sink.count())
	}
	sink.mu.Lock()
	closed := sink.closed
	sink.mu.Unlock()
	if !closed {
		t.Error("sink was not closed")
	}
	if r.Last().TimestampNs == 0 {
		t.Error("Last() not updated")
	}
}

type fakePublisher struct {
	topic string
	msg   []byte
}

func (p *fakePublisher) PublishMessage(topic string, msg []byte) error {
	p.topic = topic
	p.msg = append([]byte(nil), msg...)
	return nil
}

func TestPublisherSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewPublisherSink(pub, "")

	want := sampleSnapshot()
	if err := sink.Publish(want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if pub.topic != Topic {
		t.Errorf("topic = %q, want %q", pub.topic, Topic)
	}
	got, err := DecodeSnapshot(pub.msg)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if got != want {
		t.Errorf("published %+v, want %+v", got, want)
	}
}

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Done() <-chan struct{} { ch := make(chan struct{}); close(ch); return ch }
func (t *fakeToken) Error() error { return t.err }

type fakeMQTTClient struct {
	mqtt.Client
	connected bool
	token     *fakeToken

	topic   string
	payload []byte
}

func (c *fakeMQTTClient) IsConnectionOpen() bool { return c.connected }

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.payload = payload.([]byte)
	return c.token
}

func (c *fakeMQTTClient) Disconnect(uint) { c.connected = false }

func TestMQTTSinkPublish(t *testing.T) {
	client := &fakeMQTTClient{connected: true, token: &fakeToken{}}
	sink := NewMQTTSink(client, "rover/telemetry")

	want := sampleSnapshot()
	if err := sink.Publish(want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if client.topic != "rover/telemetry" {
		t.Errorf("topic = %q", client.topic)
	}
	var got Snapshot
	if err := json.Unmarshal(client.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got != want {
		t.Errorf("payload %+v, want %+v", got, want)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if client.connected {
		t.Error("Close did not disconnect")
	}
}

func TestMQTTSinkErrors(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeMQTTClient
	}{
		{"not connected", &fakeMQTTClient{connected: false, token: &fakeToken{}}},
		{"timeout", &fakeMQTTClient{connected: true, token: &fakeToken{timedOut: true}}},
		{"broker error", &fakeMQTTClient{connected: true, token: &fakeToken{err: errors.New("not authorized")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewMQTTSink(tt.client, "t").Publish(sampleSnapshot()); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRecorderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	first := sampleSnapshot()
	second := Snapshot{TimestampNs: first.TimestampNs + int64(time.Second), Mode: "idle", Direction: "stop"}
	for _, s := range []Snapshot{first, second} {
		if err := rec.Publish(s); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Publish(first); err == nil {
		t.Error("expected error publishing to a closed recorder")
	}

	data, err := os.ReadFile(rec.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got, err := ReadRecording(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadRecording: %v", err)
	}
	if len(got) != 2 || got[0] != first || got[1] != second {
		t.Errorf("ReadRecording = %+v", got)
	}

	// a torn trailing record is dropped
	got, err = ReadRecording(bytes.NewReader(data[:len(data)-3]))
	if err != nil {
		t.Fatalf("ReadRecording truncated: %v", err)
	}
	if len(got) != 1 || got[0] != first {
		t.Errorf("truncated recording = %+v", got)
	}
}

func TestReadRecordingBadMagic(t *testing.T) {
	if _, err := ReadRecording(bytes.NewReader([]byte("NOTAROVERLOG"))); err == nil {
		t.Error("expected magic error")
	}
}

func TestReadRecordingRejectsOversizedRecord(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(recordMagic)
	var meta [12]byte
	binary.LittleEndian.PutUint64(meta[:8], 1)
	binary.LittleEndian.PutUint32(meta[8:], 0xFFFFFFF0)
	buf.Write(meta[:])
	buf.WriteString("short")

	snaps, err := ReadRecording(&buf)
	if err == nil {
		t.Fatal("expected error for corrupt record length")
	}
	if len(snaps) != 0 {
		t.Errorf("got %d snapshots, want 0", len(snaps))
	}
}
