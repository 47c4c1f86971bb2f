package motion

import (
	"encoding/json"
	"fmt"
)

// DefaultSpeed is used when a directional command has no speed
const DefaultSpeed = 200

// Command is the control payload accepted over HTTP and websocket
type Command struct {
	Type      string `json:"type"`
	Direction string `json:"direction"`
	Speed     *int   `json:"speed"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

// Intent translates the command. Unknown types or directions become Stop.
func (c Command) Intent(defaultSpeed int) Intent {
	switch c.Type {
	case "direction":
		dir, ok := ParseDirection(c.Direction)
		if !ok {
			return Stop{}
		}
		speed := defaultSpeed
		if c.Speed != nil {
			speed = *c.Speed
		}
		return Directional{Direction: dir, Speed: speed}
	case "xy":
		return Vector{X: c.X, Y: c.Y}
	default:
		return Stop{}
	}
}

// ParseCommand decodes a JSON control payload. Only malformed JSON is an
// error; anything that decodes yields an Intent.
func ParseCommand(data []byte, defaultSpeed int) (Intent, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return c.Intent(defaultSpeed), nil
}
