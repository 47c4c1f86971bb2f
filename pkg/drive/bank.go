// Package drive owns the four PWM actuator channels of the rover.
package drive

import (
	"fmt"

	"github.com/open-teleop/rover/pkg/log"
)

// MaxDuty is the PWM ceiling for every channel
const MaxDuty = 255

// DefaultStep is the increment/decrement step used when none is given
const DefaultStep = 10

// Channel identifies one actuator
type Channel int

const (
	FrontLeft Channel = iota
	FrontRight
	RearLeft
	RearRight
	channelCount
)

// Channels lists every channel in output order
var Channels = [channelCount]Channel{FrontLeft, FrontRight, RearLeft, RearRight}

var channelNames = [channelCount]string{"fl", "fr", "rl", "rr"}

func (c Channel) String() string {
	if c < 0 || c >= channelCount {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// ParseChannel maps "fl", "fr", "rl" or "rr" to a Channel
func ParseChannel(name string) (Channel, bool) {
	for i, n := range channelNames {
		if n == name {
			return Channel(i), true
		}
	}
	return 0, false
}

// Speeds is a snapshot of the four duty values
type Speeds struct {
	FL int `json:"fl" cbor:"fl"`
	FR int `json:"fr" cbor:"fr"`
	RL int `json:"rl" cbor:"rl"`
	RR int `json:"rr" cbor:"rr"`
}

// Get returns the duty of one channel
func (s Speeds) Get(ch Channel) int {
	switch ch {
	case FrontLeft:
		return s.FL
	case FrontRight:
		return s.FR
	case RearLeft:
		return s.RL
	case RearRight:
		return s.RR
	}
	return 0
}

// Driver pushes a duty value to the hardware
type Driver interface {
	Write(ch Channel, duty uint8) error
	Close() error
}

// Bank holds the current duty of each channel and writes changes through a
// Driver. It has no locking of its own; the motion arbiter serializes access.
type Bank struct {
	duty   [channelCount]uint8
	driver Driver
	logger log.Logger
}

// NewBank creates a bank with every channel at zero and pushes that state to
// the driver.
func NewBank(driver Driver, logger log.Logger) *Bank {
	b := &Bank{driver: driver, logger: logger}
	b.StopAll()
	return b
}

func clamp(duty int) uint8 {
	if duty < 0 {
		return 0
	}
	if duty > MaxDuty {
		return MaxDuty
	}
	return uint8(duty)
}

// SetSpeed clamps duty to [0,255] and writes it immediately. Driver errors
// are logged; the stored duty is updated regardless.
func (b *Bank) SetSpeed(ch Channel, duty int) {
	if ch < 0 || ch >= channelCount {
		return
	}
	v := clamp(duty)
	b.duty[ch] = v
	if err := b.driver.Write(ch, v); err != nil {
		b.logger.Warnf("Drive: failed to write %s=%d: %v", ch, v, err)
	}
}

// Increment raises a channel by step, saturating at MaxDuty
func (b *Bank) Increment(ch Channel, step int) {
	if ch < 0 || ch >= channelCount {
		return
	}
	b.SetSpeed(ch, int(b.duty[ch])+step)
}

// Decrement lowers a channel by step, saturating at zero
func (b *Bank) Decrement(ch Channel, step int) {
	if ch < 0 || ch >= channelCount {
		return
	}
	b.SetSpeed(ch, int(b.duty[ch])-step)
}

// StopAll sets every channel to zero
func (b *Bank) StopAll() {
	for _, ch := range Channels {
		b.SetSpeed(ch, 0)
	}
}

// Set writes all four channels at once
func (b *Bank) Set(s Speeds) {
	b.SetSpeed(FrontLeft, s.FL)
	b.SetSpeed(FrontRight, s.FR)
	b.SetSpeed(RearLeft, s.RL)
	b.SetSpeed(RearRight, s.RR)
}

// Speed returns the duty of one channel
func (b *Bank) Speed(ch Channel) int {
	if ch < 0 || ch >= channelCount {
		return 0
	}
	return int(b.duty[ch])
}

// Speeds returns the four duty values
func (b *Bank) Speeds() Speeds {
	return Speeds{
		FL: int(b.duty[FrontLeft]),
		FR: int(b.duty[FrontRight]),
		RL: int(b.duty[RearLeft]),
		RR: int(b.duty[RearRight]),
	}
}

// Close stops all channels and releases the driver
func (b *Bank) Close() error {
	b.StopAll()
	return b.driver.Close()
}
