package zeromq

import (
	"github.com/open-teleop/rover/pkg/config"
	"github.com/open-teleop/rover/pkg/log"
)

// Configuration topics
const (
	TopicConfigNotification = "configuration.notification"
	MsgTypeConfigUpdated    = "CONFIG_UPDATED"
)

// JSONPublisher is the part of Service used by ConfigPublisher
type JSONPublisher interface {
	PublishJSON(topic string, messageType string, data interface{}) error
}

// ConfigPublisher announces live control tuning changes to subscribers
type ConfigPublisher struct {
	service JSONPublisher
	logger  log.Logger
}

// NewConfigPublisher creates a new publisher for configuration updates
func NewConfigPublisher(service JSONPublisher, logger log.Logger) *ConfigPublisher {
	return &ConfigPublisher{
		service: service,
		logger:  logger,
	}
}

// PublishControlUpdated publishes the control section that is now in effect
func (p *ConfigPublisher) PublishControlUpdated(control config.ControlConfig) error {
	p.logger.Debugf("Publishing control configuration update: timeout=%dms deadzone=%d",
		control.TimeoutMs, control.Deadzone)
	return p.service.PublishJSON(TopicConfigNotification, MsgTypeConfigUpdated, control)
}
