package drive

import (
	"context"
	"time"

	"github.com/open-teleop/rover/pkg/log"
)

// Demo duty levels
const (
	DemoSpeed    = 200
	DemoRampLow  = 50
	DemoRampHigh = 150
)

// DemoStep is one pattern of the actuator test sequence
type DemoStep struct {
	Name   string
	Speeds Speeds
}

func all(v int) Speeds { return Speeds{FL: v, FR: v, RL: v, RR: v} }

// DemoSteps is the 16-step test pattern: single channels, sides, front and
// rear pairs, diagonals, all channels, tank turns, ramp, stop.
var DemoSteps = []DemoStep{
	{"FL only", Speeds{FL: DemoSpeed}},
	{"FR only", Speeds{FR: DemoSpeed}},
	{"RL only", Speeds{RL: DemoSpeed}},
	{"RR only", Speeds{RR: DemoSpeed}},
	{"left side", Speeds{FL: DemoSpeed, RL: DemoSpeed}},
	{"right side", Speeds{FR: DemoSpeed, RR: DemoSpeed}},
	{"front", Speeds{FL: DemoSpeed, FR: DemoSpeed}},
	{"rear", Speeds{RL: DemoSpeed, RR: DemoSpeed}},
	{"diagonal FL+RR", Speeds{FL: DemoSpeed, RR: DemoSpeed}},
	{"diagonal FR+RL", Speeds{FR: DemoSpeed, RL: DemoSpeed}},
	{"all", all(DemoSpeed)},
	{"tank left", Speeds{FR: DemoSpeed, RR: DemoSpeed}},
	{"tank right", Speeds{FL: DemoSpeed, RL: DemoSpeed}},
	{"ramp low", all(DemoRampLow)},
	{"ramp mid", all(DemoRampHigh)},
	{"stop", Speeds{}},
}

// BankAccess runs fn with exclusive access to the bank
type BankAccess func(fn func(b *Bank))

// Demo steps through DemoSteps on a fixed interval
type Demo struct {
	access   BankAccess
	interval time.Duration
	logger   log.Logger
	step     int
}

// NewDemo creates a sequencer. access must serialize with every other bank
// writer.
func NewDemo(access BankAccess, interval time.Duration, logger log.Logger) *Demo {
	return &Demo{access: access, interval: interval, logger: logger}
}

// Advance applies the next step and returns it
func (d *Demo) Advance() DemoStep {
	s := DemoSteps[d.step]
	d.logger.Infof("Demo: [%d/%d] %s", d.step+1, len(DemoSteps), s.Name)
	d.access(func(b *Bank) {
		b.StopAll()
		b.Set(s.Speeds)
	})
	d.step = (d.step + 1) % len(DemoSteps)
	return s
}

// Run applies one step per interval until ctx is cancelled, then stops all
// channels.
func (d *Demo) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Advance()
	for {
		select {
		case <-ctx.Done():
			d.access(func(b *Bank) { b.StopAll() })
			d.logger.Infof("Demo: stopped")
			return
		case <-ticker.C:
			d.Advance()
		}
	}
}
