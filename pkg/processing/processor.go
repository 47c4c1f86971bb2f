package processing

import (
	"fmt"

	customlog "github.com/open-teleop/rover/pkg/log"
	"github.com/open-teleop/rover/pkg/motion"
)

// IntentApplier is the arbiter side of a control command
type IntentApplier interface {
	ApplyIntent(intent motion.Intent) motion.State
}

// ControlProcessor turns control payloads into motion intents
type ControlProcessor struct {
	arbiter      IntentApplier
	defaultSpeed func() int
	logger       customlog.Logger
}

// NewControlProcessor creates a processor applying to arbiter. defaultSpeed
// is consulted per command so live tuning takes effect immediately.
func NewControlProcessor(arbiter IntentApplier, defaultSpeed func() int, logger customlog.Logger) *ControlProcessor {
	if defaultSpeed == nil {
		defaultSpeed = func() int { return motion.DefaultSpeed }
	}
	return &ControlProcessor{
		arbiter:      arbiter,
		defaultSpeed: defaultSpeed,
		logger:       logger,
	}
}

// ProcessCommand parses the payload and applies the resulting intent. The
// returned data is the arbiter state.
func (p *ControlProcessor) ProcessCommand(cmd *Command) (interface{}, error) {
	intent, err := motion.ParseCommand(cmd.Payload, p.defaultSpeed())
	if err != nil {
		return nil, fmt.Errorf("command from %s: %w", cmd.Source, err)
	}
	state := p.arbiter.ApplyIntent(intent)
	p.logger.Debugf("Applied %T from %s: direction=%s speed=%d", intent, cmd.Source, state.Direction, state.Speed)
	return state, nil
}
