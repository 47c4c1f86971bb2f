package processing

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/open-teleop/rover/pkg/drive"
	"github.com/open-teleop/rover/pkg/log"
	"github.com/open-teleop/rover/pkg/motion"
)

func waitReply(t *testing.T, ch <-chan *ProcessResult) *ProcessResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return nil
	}
}

func TestPoolProcessesAndReplies(t *testing.T) {
	pool := NewProcessingPool("test", 2, 8, log.NewNopLogger())
	pool.SetProcessor(func(cmd *Command) (interface{}, error) {
		return string(cmd.Payload) + "!", nil
	})
	pool.Start()
	defer pool.Stop()

	reply := make(chan *ProcessResult, 1)
	if !pool.Submit(&Command{Source: "ws", Payload: []byte("go"), ReceivedAt: time.Now(), Reply: reply}) {
		t.Fatal("Submit rejected")
	}
	r := waitReply(t, reply)
	if r.Error != nil || r.Data != "go!" || r.Source != "ws" {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestPoolCountsErrors(t *testing.T) {
	pool := NewProcessingPool("test", 1, 4, log.NewNopLogger())
	pool.SetProcessor(func(*Command) (interface{}, error) {
		return nil, errors.New("bad payload")
	})

	var mu sync.Mutex
	var handled []*ProcessResult
	pool.SetResultHandler(func(r *ProcessResult) {
		mu.Lock()
		handled = append(handled, r)
		mu.Unlock()
	})
	pool.Start()

	reply := make(chan *ProcessResult, 1)
	pool.Submit(&Command{Source: "ws", Reply: reply})
	if r := waitReply(t, reply); r.Error == nil {
		t.Error("expected error result")
	}
	pool.Stop()

	m := pool.GetMetrics()
	if m.ProcessedCount != 1 || m.ErrorCount != 1 || m.QueuedCount != 1 {
		t.Errorf("metrics = %+v", m)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 {
		t.Errorf("result handler called %d times, want 1", len(handled))
	}
}

func TestPoolDropsWhenFull(t *testing.T) {
	pool := NewProcessingPool("test", 1, 1, log.NewNopLogger())
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	pool.SetProcessor(func(*Command) (interface{}, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	})
	pool.Start()

	pool.Submit(&Command{Source: "a"})
	<-started // worker is busy, queue is empty
	if !pool.Submit(&Command{Source: "b"}) {
		t.Fatal("second command should fit the queue")
	}
	if pool.Submit(&Command{Source: "c"}) {
		t.Error("third command should be dropped")
	}
	close(release)
	pool.Stop()

	m := pool.GetMetrics()
	if m.DroppedCount != 1 || m.ProcessedCount != 2 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestPoolRejectsWhenStopped(t *testing.T) {
	pool := NewProcessingPool("test", 1, 1, log.NewNopLogger())
	if pool.Submit(&Command{Source: "early"}) {
		t.Error("Submit before Start should fail")
	}
	pool.Start()
	pool.Stop()
	pool.Stop()
	if pool.Submit(&Command{Source: "late"}) {
		t.Error("Submit after Stop should fail")
	}
	if got := pool.GetMetrics().DroppedCount; got != 2 {
		t.Errorf("DroppedCount = %d, want 2", got)
	}
	if pool.GetQueueCapacity() != 1 || pool.GetName() != "test" {
		t.Error("pool accessors")
	}
}

func TestGetMetricsReturnsPlainSnapshot(t *testing.T) {
	typ := reflect.TypeOf(PoolMetrics{})
	for i := 0; i < typ.NumField(); i++ {
		if f := typ.Field(i); f.Type.Kind() != reflect.Int64 {
			t.Errorf("PoolMetrics.%s is %s, snapshot must hold counters only", f.Name, f.Type)
		}
	}

	pool := NewProcessingPool("test", 2, 8, log.NewNopLogger())
	pool.SetProcessor(func(*Command) (interface{}, error) { return nil, nil })
	pool.Start()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			pool.Submit(&Command{Source: "ws"})
		}
	}()
	for i := 0; i < 50; i++ {
		_ = pool.GetMetrics()
	}
	wg.Wait()
	pool.Stop()

	m := pool.GetMetrics()
	if m.ProcessedCount+m.DroppedCount != 50 {
		t.Errorf("processed %d + dropped %d, want 50", m.ProcessedCount, m.DroppedCount)
	}
}

func TestControlProcessorAppliesIntent(t *testing.T) {
	bank := drive.NewBank(drive.NewMemoryDriver(), log.NewNopLogger())
	arbiter := motion.NewArbiter(bank, motion.Options{}, log.NewNopLogger())
	proc := NewControlProcessor(arbiter, func() int { return 150 }, log.NewNopLogger())

	data, err := proc.ProcessCommand(&Command{Source: "ws", Payload: []byte(`{"type":"direction","direction":"forward"}`)})
	if err != nil {
		t.Fatalf("ProcessCommand: %v", err)
	}
	state, ok := data.(motion.State)
	if !ok {
		t.Fatalf("data is %T, want motion.State", data)
	}
	if !state.Active || state.Speed != 150 || state.Motors != (drive.Speeds{FL: 150, FR: 150}) {
		t.Errorf("state = %+v", state)
	}

	if _, err := proc.ProcessCommand(&Command{Source: "ws", Payload: []byte(`{"type":`)}); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if !arbiter.State().Active {
		t.Error("malformed command must not change the arbiter")
	}
}

type capturePublisher struct {
	topic string
	data  []byte
}

func (p *capturePublisher) PublishMessage(topic string, data []byte) error {
	p.topic = topic
	p.data = data
	return nil
}

func TestLoggingResultHandlerPublishesState(t *testing.T) {
	pub := &capturePublisher{}
	h := NewLoggingResultHandler(log.NewNopLogger(), pub).CreateHandlerFunc()

	h(&ProcessResult{Source: "ws", Error: errors.New("nope")})
	if pub.topic != "" {
		t.Fatal("error results must not be published")
	}

	h(&ProcessResult{Source: "ws", Data: motion.State{Direction: motion.Forward, Speed: 10}})
	if pub.topic != TopicControlState {
		t.Errorf("topic = %q", pub.topic)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(pub.data, &got); err != nil {
		t.Fatalf("published data is not JSON: %v", err)
	}
	if got["direction"] != "forward" {
		t.Errorf("direction = %v", got["direction"])
	}
	h(nil)
}
