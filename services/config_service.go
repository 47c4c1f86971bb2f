package services

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/open-teleop/rover/pkg/config"
	customlog "github.com/open-teleop/rover/pkg/log"
)

// ConfigPublisher announces applied control changes. zeromq.ConfigPublisher
// implements it.
type ConfigPublisher interface {
	PublishControlUpdated(control config.ControlConfig) error
}

// ControlTarget receives live control tuning. motion.Arbiter implements it.
type ControlTarget interface {
	Configure(timeout time.Duration, deadzone int)
}

// ValidationError marks an update rejected because of its content
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError reports that the caller sent bad input
func (e *ValidationError) IsValidationError() bool { return true }

// IsValidationError reports whether err was caused by bad input
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// RoverConfigService defines the interface for reading the rover
// configuration and tuning its control section at runtime.
type RoverConfigService interface {
	GetCurrentConfig() config.BootstrapConfig
	GetCurrentConfigYAML() ([]byte, error)
	Control() config.ControlConfig
	UpdateControl(controlYAML []byte) (config.ControlConfig, error)
	SetPublisher(p ConfigPublisher)
}

// roverConfigService implements the RoverConfigService interface.
type roverConfigService struct {
	configPath      string
	logger          customlog.Logger
	target          ControlTarget
	configPublisher ConfigPublisher
	currentConfig   config.BootstrapConfig
	mu              sync.RWMutex
}

// NewRoverConfigService creates a service over the loaded configuration.
// Updates are persisted to configPath.
func NewRoverConfigService(configPath string, cfg *config.BootstrapConfig, target ControlTarget, logger customlog.Logger) (RoverConfigService, error) {
	if configPath == "" {
		return nil, fmt.Errorf("configuration path cannot be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	logger.Infof("RoverConfigService initialized for path: %s", configPath)
	return &roverConfigService{
		configPath:    configPath,
		logger:        logger,
		target:        target,
		currentConfig: *cfg,
	}, nil
}

// GetCurrentConfig returns a copy of the configuration in effect
func (s *roverConfigService) GetCurrentConfig() config.BootstrapConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentConfig
}

// Control returns the control section in effect
func (s *roverConfigService) Control() config.ControlConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentConfig.Control
}

// GetCurrentConfigYAML returns the configuration in effect as YAML
func (s *roverConfigService) GetCurrentConfigYAML() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := yaml.Marshal(&s.currentConfig)
	if err != nil {
		return nil, fmt.Errorf("error encoding configuration: %w", err)
	}
	return data, nil
}

// UpdateControl validates a YAML control section, persists the whole
// configuration, applies the new timeout and deadzone and publishes a
// notification. Fields missing from controlYAML keep their current values.
func (s *roverConfigService) UpdateControl(controlYAML []byte) (config.ControlConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Attempting to update control configuration from provided YAML")

	newControl, err := config.ParseControlConfig(controlYAML, s.currentConfig.Control)
	if err != nil {
		s.logger.Errorf("Rejected control configuration: %v", err)
		return config.ControlConfig{}, &ValidationError{Err: err}
	}

	if newControl == s.currentConfig.Control {
		s.logger.Infof("Provided control configuration is identical to the current one. No update needed.")
		return newControl, nil
	}

	updated := s.currentConfig
	updated.Control = newControl
	data, err := yaml.Marshal(&updated)
	if err != nil {
		return config.ControlConfig{}, fmt.Errorf("error encoding configuration: %w", err)
	}

	// Persist before applying so a failed write leaves the rover unchanged
	if err := s.persistConfigUnlocked(data); err != nil {
		return config.ControlConfig{}, err
	}

	old := s.currentConfig.Control
	s.currentConfig = updated
	if s.target != nil {
		s.target.Configure(newControl.Timeout(), newControl.Deadzone)
	}
	if newControl.TickMs != old.TickMs {
		s.logger.Warnf("control.tick_ms changed to %d; the watchdog picks it up on restart", newControl.TickMs)
	}
	s.logger.Infof("Control configuration updated: timeout %dms -> %dms, deadzone %d -> %d",
		old.TimeoutMs, newControl.TimeoutMs, old.Deadzone, newControl.Deadzone)

	if s.configPublisher != nil {
		go func(publisher ConfigPublisher, control config.ControlConfig) {
			if err := publisher.PublishControlUpdated(control); err != nil {
				s.logger.Warnf("Failed to publish config update notification: %v", err)
			}
		}(s.configPublisher, newControl)
	}

	return newControl, nil
}

// persistConfigUnlocked writes the configuration file. The caller holds mu.
func (s *roverConfigService) persistConfigUnlocked(yamlData []byte) error {
	s.logger.Infof("Persisting configuration to: %s", s.configPath)
	if err := os.WriteFile(s.configPath, yamlData, 0644); err != nil {
		s.logger.Errorf("Error writing config file '%s': %v", s.configPath, err)
		return fmt.Errorf("error writing config file '%s': %w", s.configPath, err)
	}
	return nil
}

// SetPublisher allows injecting the ConfigPublisher after initialization.
func (s *roverConfigService) SetPublisher(p ConfigPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPublisher = p
	s.logger.Infof("ConfigPublisher injected into RoverConfigService.")
}
