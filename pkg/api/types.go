package api

import (
	"github.com/open-teleop/rover/pkg/drive"
	"github.com/open-teleop/rover/pkg/motion"
)

// ControlState is the control reply shared by HTTP and websocket
type ControlState struct {
	Active    bool             `json:"active"`
	Direction motion.Direction `json:"direction"`
	Speed     int              `json:"speed"`
	Motors    drive.Speeds     `json:"motors"`
	TimeoutMs int64            `json:"timeout_ms,omitempty"`
}

// NewControlState projects an arbiter state. The timeout is included only
// when withTimeout is set.
func NewControlState(s motion.State, withTimeout bool) ControlState {
	out := ControlState{
		Active:    s.Active,
		Direction: s.Direction,
		Speed:     s.Speed,
		Motors:    s.Motors,
	}
	if withTimeout {
		out.TimeoutMs = s.TimeoutMs
	}
	return out
}

// ErrorReply is the body of every error response
type ErrorReply struct {
	Error string `json:"error"`
}
