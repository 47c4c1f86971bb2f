package motion

import (
	"sync"
	"time"

	"github.com/open-teleop/rover/pkg/drive"
	"github.com/open-teleop/rover/pkg/log"
)

// DefaultTimeout is the watchdog timeout
const DefaultTimeout = 2000 * time.Millisecond

// Mode is the arbiter state
type Mode int

const (
	Idle Mode = iota
	Engaged
)

func (m Mode) String() string {
	if m == Engaged {
		return "engaged"
	}
	return "idle"
}

// MarshalText renders the mode name
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// State is a snapshot of the arbiter
type State struct {
	Mode        Mode         `json:"mode"`
	Active      bool         `json:"active"`
	Direction   Direction    `json:"direction"`
	Speed       int          `json:"speed"`
	Motors      drive.Speeds `json:"motors"`
	TimeoutMs   int64        `json:"timeout_ms"`
	LastCommand time.Time    `json:"last_command"`
	Timeouts    uint64       `json:"timeouts"`
}

// Options tune an Arbiter
type Options struct {
	Timeout  time.Duration
	Deadzone int
	// Now is the clock used to stamp commands; defaults to time.Now
	Now func() time.Time
}

// Arbiter owns the current intent and the watchdog deadline. One mutex
// covers ApplyIntent, Tick, WithBank and State.
type Arbiter struct {
	mu     sync.Mutex
	bank   *drive.Bank
	logger log.Logger
	now    func() time.Time

	timeout  time.Duration
	deadzone int

	mode        Mode
	direction   Direction
	speed       int
	lastCommand time.Time
	timeouts    uint64
}

// NewArbiter creates an Idle arbiter driving bank
func NewArbiter(bank *drive.Bank, opts Options, logger log.Logger) *Arbiter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Deadzone <= 0 {
		opts.Deadzone = DefaultDeadzone
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Arbiter{
		bank:     bank,
		logger:   logger,
		now:      opts.Now,
		timeout:  opts.Timeout,
		deadzone: opts.Deadzone,
	}
}

// ApplyIntent replaces the current intent and resets the watchdog deadline
func (a *Arbiter) ApplyIntent(intent Intent) State {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastCommand = a.now()
	e := intent.resolve(a.deadzone)
	if e.stop {
		a.stopLocked()
		return a.stateLocked()
	}

	a.mode = Engaged
	a.direction = e.direction
	a.speed = e.speed
	a.bank.Set(e.motors)
	return a.stateLocked()
}

// Tick stops the rover once now is at least the timeout past the last
// command. It reports whether this call performed the stop.
func (a *Arbiter) Tick(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode != Engaged {
		return false
	}
	elapsed := now.Sub(a.lastCommand)
	if elapsed < a.timeout {
		return false
	}
	a.logger.Infof("Watchdog: no command for %v, stopping motors", elapsed.Round(time.Millisecond))
	a.timeouts++
	a.stopLocked()
	return true
}

func (a *Arbiter) stopLocked() {
	a.mode = Idle
	a.direction = None
	a.speed = 0
	a.bank.StopAll()
}

// WithBank runs fn against the actuator bank under the arbiter lock. It is
// the debug path and does not touch the watchdog.
func (a *Arbiter) WithBank(fn func(b *drive.Bank)) drive.Speeds {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.bank)
	return a.bank.Speeds()
}

// Configure updates the watchdog timeout and deadzone. The running deadline
// is re-evaluated on the next Tick.
func (a *Arbiter) Configure(timeout time.Duration, deadzone int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if timeout > 0 {
		a.timeout = timeout
	}
	if deadzone > 0 {
		a.deadzone = deadzone
	}
	a.logger.Infof("Arbiter: timeout=%v deadzone=%d", a.timeout, a.deadzone)
}

// State returns a snapshot
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Arbiter) stateLocked() State {
	return State{
		Mode:        a.mode,
		Active:      a.mode == Engaged,
		Direction:   a.direction,
		Speed:       a.speed,
		Motors:      a.bank.Speeds(),
		TimeoutMs:   a.timeout.Milliseconds(),
		LastCommand: a.lastCommand,
		Timeouts:    a.timeouts,
	}
}
