package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Sensor kinds accepted in camera.sensor
const (
	SensorSimulated = "simulated"
	SensorGStreamer = "gstreamer"
)

// Driver kinds accepted in drive.driver
const (
	DriverMemory = "memory"
	DriverSerial = "serial"
)

// CameraConfig describes the imaging hardware
type CameraConfig struct {
	Sensor      string `yaml:"sensor" json:"sensor"`
	Device      string `yaml:"device,omitempty" json:"device,omitempty"`
	ImageDir    string `yaml:"image_dir,omitempty" json:"image_dir,omitempty"`
	Width       int    `yaml:"width" json:"width"`
	Height      int    `yaml:"height" json:"height"`
	FrameRate   int    `yaml:"frame_rate" json:"frame_rate"`
	JPEGQuality int    `yaml:"jpeg_quality" json:"jpeg_quality"`
	BufferCount int    `yaml:"buffer_count" json:"buffer_count"`
}

// StreamConfig holds the MJPEG broadcaster settings
type StreamConfig struct {
	MaxClients       int    `yaml:"max_clients" json:"max_clients"`
	Boundary         string `yaml:"boundary" json:"boundary"`
	WriteTimeoutMs   int    `yaml:"write_timeout_ms" json:"write_timeout_ms"`
	FrameIntervalMs  int    `yaml:"frame_interval_ms" json:"frame_interval_ms"`
	IdleIntervalMs   int    `yaml:"idle_interval_ms" json:"idle_interval_ms"`
	CaptureTimeoutMs int    `yaml:"capture_timeout_ms" json:"capture_timeout_ms"`
}

// ControlConfig holds the motion arbiter tuning. It is the only section that
// can be changed at runtime.
type ControlConfig struct {
	TimeoutMs    int `yaml:"timeout_ms" json:"timeout_ms"`
	Deadzone     int `yaml:"deadzone" json:"deadzone"`
	TickMs       int `yaml:"tick_ms" json:"tick_ms"`
	DefaultSpeed int `yaml:"default_speed" json:"default_speed"`
}

// DemoConfig enables the actuator test pattern sequencer
type DemoConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	StepMs  int  `yaml:"step_ms" json:"step_ms"`
}

// DriveConfig selects the PWM output driver
type DriveConfig struct {
	Driver     string     `yaml:"driver" json:"driver"`
	SerialPort string     `yaml:"serial_port,omitempty" json:"serial_port,omitempty"`
	BaudRate   int        `yaml:"baud_rate,omitempty" json:"baud_rate,omitempty"`
	Demo       DemoConfig `yaml:"demo" json:"demo"`
}

// ZeroMQTelemetry configures the telemetry PUB socket
type ZeroMQTelemetry struct {
	PublishAddress string `yaml:"publish_address" json:"publish_address"`
}

// MQTTTelemetry configures the MQTT telemetry sink
type MQTTTelemetry struct {
	Broker   string `yaml:"broker" json:"broker"`
	Topic    string `yaml:"topic" json:"topic"`
	ClientID string `yaml:"client_id" json:"client_id"`
}

// RecorderTelemetry configures the on-disk telemetry recorder
type RecorderTelemetry struct {
	Directory string `yaml:"directory" json:"directory"`
}

// TelemetryConfig holds the reporter cadence and its sinks. Empty addresses
// disable the corresponding sink.
type TelemetryConfig struct {
	IntervalMs int               `yaml:"interval_ms" json:"interval_ms"`
	ZeroMQ     ZeroMQTelemetry   `yaml:"zeromq" json:"zeromq"`
	MQTT       MQTTTelemetry     `yaml:"mqtt" json:"mqtt"`
	Recorder   RecorderTelemetry `yaml:"recorder" json:"recorder"`
}

// ProcessingConfig holds command worker pool settings
type ProcessingConfig struct {
	CommandWorkers int `yaml:"command_workers" json:"command_workers"`
	QueueSize      int `yaml:"queue_size" json:"queue_size"`
}

// Timeout returns the watchdog timeout as a duration
func (c ControlConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// TickInterval returns the watchdog tick cadence
func (c ControlConfig) TickInterval() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// Validate checks the runtime-tunable fields
func (c ControlConfig) Validate() error {
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("control.timeout_ms must be positive, got %d", c.TimeoutMs)
	}
	if c.Deadzone < 1 || c.Deadzone > 255 {
		return fmt.Errorf("control.deadzone must be within [1,255], got %d", c.Deadzone)
	}
	if c.TickMs < 0 {
		return fmt.Errorf("control.tick_ms must not be negative, got %d", c.TickMs)
	}
	return nil
}

// WriteTimeout returns the per-frame client write deadline
func (c StreamConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// FrameInterval returns the pause between dispatched frames
func (c StreamConfig) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMs) * time.Millisecond
}

// IdleInterval returns the pause used while no viewer is connected
func (c StreamConfig) IdleInterval() time.Duration {
	return time.Duration(c.IdleIntervalMs) * time.Millisecond
}

// CaptureTimeout returns the bounded wait used by the broadcast loop
func (c StreamConfig) CaptureTimeout() time.Duration {
	return time.Duration(c.CaptureTimeoutMs) * time.Millisecond
}

// ParseControlConfig parses a YAML control section as submitted to the
// config API. Missing fields keep the values from base.
func ParseControlConfig(data []byte, base ControlConfig) (ControlConfig, error) {
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ControlConfig{}, fmt.Errorf("invalid YAML format: %w", err)
	}
	if cfg.TickMs == 0 {
		cfg.TickMs = defaultTickMs(cfg.TimeoutMs)
	}
	if err := cfg.Validate(); err != nil {
		return ControlConfig{}, err
	}
	return cfg, nil
}

// defaultTickMs derives the watchdog cadence from the timeout: 20ms for the
// stock 2000ms timeout, never coarser than that.
func defaultTickMs(timeoutMs int) int {
	tick := timeoutMs / 100
	if tick < 1 {
		tick = 1
	}
	if tick > 20 {
		tick = 20
	}
	return tick
}
