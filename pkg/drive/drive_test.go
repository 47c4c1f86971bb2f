package drive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/open-teleop/rover/pkg/log"
)

func newTestBank() (*Bank, *MemoryDriver) {
	d := NewMemoryDriver()
	return NewBank(d, log.NewNopLogger()), d
}

func TestSetSpeedClamps(t *testing.T) {
	b, d := newTestBank()

	tests := []struct {
		in   int
		want int
	}{
		{-40, 0},
		{0, 0},
		{128, 128},
		{255, 255},
		{300, 255},
	}
	for _, tt := range tests {
		b.SetSpeed(FrontRight, tt.in)
		if got := b.Speed(FrontRight); got != tt.want {
			t.Errorf("SetSpeed(%d) stored %d, want %d", tt.in, got, tt.want)
		}
		if got := int(d.Duty(FrontRight)); got != tt.want {
			t.Errorf("SetSpeed(%d) wrote %d to driver, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIncrementDecrementSaturate(t *testing.T) {
	b, _ := newTestBank()

	b.SetSpeed(RearLeft, 250)
	b.Increment(RearLeft, DefaultStep)
	if got := b.Speed(RearLeft); got != 255 {
		t.Errorf("Increment past ceiling = %d, want 255", got)
	}

	b.SetSpeed(RearLeft, 5)
	b.Decrement(RearLeft, DefaultStep)
	if got := b.Speed(RearLeft); got != 0 {
		t.Errorf("Decrement below zero = %d, want 0", got)
	}

	b.Increment(RearLeft, 30)
	b.Decrement(RearLeft, 10)
	if got := b.Speed(RearLeft); got != 20 {
		t.Errorf("Expected 20 after +30 -10, got %d", got)
	}
}

func TestStopAll(t *testing.T) {
	b, d := newTestBank()
	b.Set(Speeds{FL: 10, FR: 20, RL: 30, RR: 40})
	if got := b.Speeds(); got != (Speeds{FL: 10, FR: 20, RL: 30, RR: 40}) {
		t.Fatalf("Unexpected speeds after Set: %+v", got)
	}

	b.StopAll()
	if got := b.Speeds(); got != (Speeds{}) {
		t.Errorf("Expected all zero after StopAll, got %+v", got)
	}
	for _, ch := range Channels {
		if d.Duty(ch) != 0 {
			t.Errorf("Driver channel %s not zeroed", ch)
		}
	}
}

func TestInvalidChannelIgnored(t *testing.T) {
	b, d := newTestBank()
	before := d.Writes()
	b.SetSpeed(Channel(7), 100)
	b.Increment(Channel(-1), 5)
	if d.Writes() != before {
		t.Errorf("Expected no driver writes for invalid channels")
	}
}

type failingDriver struct{ MemoryDriver }

func (f *failingDriver) Write(ch Channel, duty uint8) error {
	return errors.New("bus fault")
}

func TestDriverErrorKeepsState(t *testing.T) {
	b := NewBank(&failingDriver{}, log.NewNopLogger())
	b.SetSpeed(FrontLeft, 99)
	if got := b.Speed(FrontLeft); got != 99 {
		t.Errorf("Expected stored duty 99 despite driver error, got %d", got)
	}
}

func TestParseChannel(t *testing.T) {
	for i, name := range []string{"fl", "fr", "rl", "rr"} {
		ch, ok := ParseChannel(name)
		if !ok || ch != Channels[i] {
			t.Errorf("ParseChannel(%q) = %v,%v", name, ch, ok)
		}
		if ch.String() != name {
			t.Errorf("String() = %q, want %q", ch.String(), name)
		}
	}
	if _, ok := ParseChannel("all"); ok {
		t.Errorf("Expected 'all' not to parse as a single channel")
	}
}

func TestEncodeFrame(t *testing.T) {
	f := EncodeFrame(RearRight, 0x10)
	want := [4]byte{0xA5, 0x03, 0x10, 0xA5 ^ 0x03 ^ 0x10}
	if f != want {
		t.Errorf("EncodeFrame = % x, want % x", f, want)
	}
}

func TestDemoCyclesAllSteps(t *testing.T) {
	b, _ := newTestBank()
	access := func(fn func(*Bank)) { fn(b) }
	demo := NewDemo(access, time.Hour, log.NewNopLogger())

	for i := 0; i < len(DemoSteps); i++ {
		step := demo.Advance()
		if got := b.Speeds(); got != step.Speeds {
			t.Errorf("Step %d (%s): bank %+v, want %+v", i, step.Name, got, step.Speeds)
		}
	}
	if first := demo.Advance(); first.Name != DemoSteps[0].Name {
		t.Errorf("Expected sequence to wrap to %q, got %q", DemoSteps[0].Name, first.Name)
	}
}

func TestDemoRunStopsOnCancel(t *testing.T) {
	b, _ := newTestBank()
	access := func(fn func(*Bank)) { fn(b) }
	demo := NewDemo(access, 5*time.Millisecond, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		demo.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Demo.Run did not return after cancel")
	}
	if got := b.Speeds(); got != (Speeds{}) {
		t.Errorf("Expected all channels stopped after demo, got %+v", got)
	}
}
