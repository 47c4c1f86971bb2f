package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BootstrapFilename is the file LoadBootstrapConfig reads from the config directory
const BootstrapFilename = "rover_config.yaml"

// BootstrapConfig holds the configuration loaded from rover_config.yaml
type BootstrapConfig struct {
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Camera     CameraConfig     `yaml:"camera" json:"camera"`
	Stream     StreamConfig     `yaml:"stream" json:"stream"`
	Control    ControlConfig    `yaml:"control" json:"control"`
	Drive      DriveConfig      `yaml:"drive" json:"drive"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Processing ProcessingConfig `yaml:"processing" json:"processing"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	LogPath string `yaml:"log_path,omitempty" json:"log_path,omitempty"`
}

// ServerConfig holds the listening ports
type ServerConfig struct {
	HTTPPort   int `yaml:"http_port" json:"http_port"`
	StreamPort int `yaml:"stream_port" json:"stream_port"`
}

// DefaultBootstrapConfig returns the stock rover settings
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{HTTPPort: 80, StreamPort: 81},
		Camera: CameraConfig{
			Sensor:      SensorSimulated,
			Device:      "/dev/video0",
			Width:       640,
			Height:      480,
			FrameRate:   20,
			JPEGQuality: 80,
			BufferCount: 2,
		},
		Stream: StreamConfig{
			MaxClients:       4,
			Boundary:         "----ROVERCAM",
			WriteTimeoutMs:   2000,
			FrameIntervalMs:  50,
			IdleIntervalMs:   100,
			CaptureTimeoutMs: 200,
		},
		Control: ControlConfig{
			TimeoutMs:    2000,
			Deadzone:     20,
			TickMs:       20,
			DefaultSpeed: 200,
		},
		Drive: DriveConfig{
			Driver:   DriverMemory,
			BaudRate: 115200,
			Demo:     DemoConfig{StepMs: 2000},
		},
		Telemetry: TelemetryConfig{
			IntervalMs: 1000,
			MQTT: MQTTTelemetry{
				Topic:    "rover/telemetry",
				ClientID: "rover",
			},
		},
		Processing: ProcessingConfig{
			CommandWorkers: 1,
			QueueSize:      16,
		},
	}
}

// LoadBootstrapConfig loads the bootstrap configuration from rover_config.yaml.
// Fields absent from the file keep their DefaultBootstrapConfig value.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFilename)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	return ParseBootstrapConfig(data, bootstrapConfigPath)
}

// ParseBootstrapConfig decodes and validates bootstrap YAML. source is only
// used in error messages.
func ParseBootstrapConfig(data []byte, source string) (*BootstrapConfig, error) {
	bootstrapCfg := DefaultBootstrapConfig()
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", source, err)
	}

	if err := bootstrapCfg.validate(); err != nil {
		return nil, err
	}
	return &bootstrapCfg, nil
}

func (c *BootstrapConfig) validate() error {
	switch c.Camera.Sensor {
	case "":
		return fmt.Errorf("missing required field in bootstrap config: camera.sensor")
	case SensorSimulated:
	case SensorGStreamer:
		if c.Camera.Device == "" {
			return fmt.Errorf("missing required field in bootstrap config: camera.device")
		}
	default:
		return fmt.Errorf("unsupported camera.sensor %q in bootstrap config", c.Camera.Sensor)
	}
	if c.Camera.BufferCount <= 0 {
		return fmt.Errorf("camera.buffer_count must be positive, got %d", c.Camera.BufferCount)
	}

	switch c.Drive.Driver {
	case "":
		return fmt.Errorf("missing required field in bootstrap config: drive.driver")
	case DriverMemory:
	case DriverSerial:
		if c.Drive.SerialPort == "" {
			return fmt.Errorf("missing required field in bootstrap config: drive.serial_port")
		}
	default:
		return fmt.Errorf("unsupported drive.driver %q in bootstrap config", c.Drive.Driver)
	}

	if c.Stream.MaxClients <= 0 {
		return fmt.Errorf("stream.max_clients must be positive, got %d", c.Stream.MaxClients)
	}
	if c.Stream.Boundary == "" {
		return fmt.Errorf("missing required field in bootstrap config: stream.boundary")
	}
	if c.Server.HTTPPort == c.Server.StreamPort {
		return fmt.Errorf("server.http_port and server.stream_port must differ (both %d)", c.Server.HTTPPort)
	}

	if c.Control.TickMs == 0 {
		c.Control.TickMs = defaultTickMs(c.Control.TimeoutMs)
	}
	return c.Control.Validate()
}
