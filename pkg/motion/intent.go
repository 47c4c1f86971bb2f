// Package motion turns movement intents into actuator duty values and stops
// the rover when commands stop arriving.
package motion

import (
	"fmt"

	"github.com/open-teleop/rover/pkg/drive"
)

// MaxAxis bounds speed and joystick axes
const MaxAxis = 255

// DefaultDeadzone is the joystick magnitude below which a vector is a stop
const DefaultDeadzone = 20

// Direction is the diagnostic heading of the current intent
type Direction int

const (
	None Direction = iota
	Forward
	Backward
	Left
	Right
	RotateLeft
	RotateRight
)

var directionNames = map[Direction]string{
	None:        "stop",
	Forward:     "forward",
	Backward:    "backward",
	Left:        "left",
	Right:       "right",
	RotateLeft:  "rotate_left",
	RotateRight: "rotate_right",
}

func (d Direction) String() string {
	if n, ok := directionNames[d]; ok {
		return n
	}
	return "stop"
}

// MarshalText renders the direction as its wire token
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts any token MarshalText produces, "stop" included
func (d *Direction) UnmarshalText(text []byte) error {
	if string(text) == directionNames[None] {
		*d = None
		return nil
	}
	parsed, ok := ParseDirection(string(text))
	if !ok {
		return fmt.Errorf("unknown direction %q", text)
	}
	*d = parsed
	return nil
}

// ParseDirection maps a wire token to a Direction. Unknown tokens yield
// None, false.
func ParseDirection(s string) (Direction, bool) {
	for d, n := range directionNames {
		if d != None && n == s {
			return d, true
		}
	}
	return None, false
}

// effect is what an intent does to the actuators
type effect struct {
	stop      bool
	motors    drive.Speeds
	direction Direction
	speed     int
}

var stopEffect = effect{stop: true, direction: None}

// Intent is a movement request. The set of variants is closed: Stop,
// Directional and Vector.
type Intent interface {
	resolve(deadzone int) effect
}

// Stop halts every channel
type Stop struct{}

func (Stop) resolve(int) effect { return stopEffect }

// Directional drives a fixed channel pattern at Speed
type Directional struct {
	Direction Direction
	Speed     int
}

func (d Directional) resolve(int) effect {
	s := clampAxis(d.Speed)
	if s < 0 {
		s = 0
	}
	var m drive.Speeds
	switch d.Direction {
	case Forward:
		m = drive.Speeds{FL: s, FR: s}
	case Backward:
		m = drive.Speeds{RL: s, RR: s}
	case Left:
		m = drive.Speeds{FR: s}
	case Right:
		m = drive.Speeds{FL: s}
	case RotateLeft:
		m = drive.Speeds{FR: s, RL: s}
	case RotateRight:
		m = drive.Speeds{FL: s, RR: s}
	default:
		return stopEffect
	}
	return effect{motors: m, direction: d.Direction, speed: s}
}

// Vector is a joystick position: Y is throttle, X is turn
type Vector struct {
	X int
	Y int
}

func (v Vector) resolve(deadzone int) effect {
	x, y := clampAxis(v.X), clampAxis(v.Y)
	if abs(x) < deadzone && abs(y) < deadzone {
		return stopEffect
	}

	left, right := Mix(x, y)

	var m drive.Speeds
	if left >= 0 {
		m.FL = left
	} else {
		m.RL = -left
	}
	if right >= 0 {
		m.FR = right
	} else {
		m.RR = -right
	}

	var dir Direction
	switch {
	case abs(y) > abs(x) && y > 0:
		dir = Forward
	case abs(y) > abs(x):
		dir = Backward
	case x > 0:
		dir = Right
	default:
		dir = Left
	}

	return effect{motors: m, direction: dir, speed: max(abs(left), abs(right))}
}

// Mix applies skid-steer mixing to already clamped axes: left = y+x,
// right = y-x, both rescaled by 255/max when either exceeds 255. The rescale
// truncates toward zero.
func Mix(x, y int) (left, right int) {
	left, right = y+x, y-x
	m := max(abs(left), abs(right))
	if m > MaxAxis {
		left = left * MaxAxis / m
		right = right * MaxAxis / m
	}
	return left, right
}

func clampAxis(v int) int {
	if v > MaxAxis {
		return MaxAxis
	}
	if v < -MaxAxis {
		return -MaxAxis
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
