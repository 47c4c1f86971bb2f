package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/open-teleop/rover/domain/diagnostic"
	"github.com/open-teleop/rover/domain/teleop"
	"github.com/open-teleop/rover/domain/video"
	"github.com/open-teleop/rover/pkg/api"
	"github.com/open-teleop/rover/pkg/camera"
	"github.com/open-teleop/rover/pkg/camera/gstsensor"
	"github.com/open-teleop/rover/pkg/config"
	"github.com/open-teleop/rover/pkg/drive"
	customlog "github.com/open-teleop/rover/pkg/log"
	"github.com/open-teleop/rover/pkg/motion"
	"github.com/open-teleop/rover/pkg/processing"
	"github.com/open-teleop/rover/pkg/stream"
	"github.com/open-teleop/rover/pkg/telemetry"
	"github.com/open-teleop/rover/pkg/zeromq"
	"github.com/open-teleop/rover/services"
)

func main() {
	configDir := os.Getenv("ROVER_CONFIG_DIR")
	if configDir == "" {
		configDir = "./config"
	}

	cfg, err := config.LoadBootstrapConfig(configDir)
	if err != nil {
		log.Fatalf("Failed to load bootstrap config: %v", err)
	}

	logger, err := customlog.NewLogrusLogger(cfg.Logging.Level, cfg.Logging.LogPath)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Hardware
	sensor, err := openSensor(cfg.Camera)
	if err != nil {
		logger.Fatalf("Failed to open camera: %v", err)
	}
	source := camera.NewSource(sensor, cfg.Camera.BufferCount, logger)

	driver, err := openDriver(cfg.Drive, logger)
	if err != nil {
		logger.Fatalf("Failed to open drive: %v", err)
	}
	bank := drive.NewBank(driver, logger)
	arbiter := motion.NewArbiter(bank, motion.Options{
		Timeout:  cfg.Control.Timeout(),
		Deadzone: cfg.Control.Deadzone,
	}, logger)

	// Configuration service
	configService, err := services.NewRoverConfigService(
		filepath.Join(configDir, config.BootstrapFilename), cfg, arbiter, logger)
	if err != nil {
		logger.Fatalf("Failed to create config service: %v", err)
	}

	// PORT overrides the HTTP port for this run; the config service holds the
	// file's value
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			logger.Fatalf("Invalid PORT %q: %v", port, err)
		}
		cfg.Server.HTTPPort = p
	}

	// ZeroMQ publisher
	var zmqService *zeromq.Service
	if addr := cfg.Telemetry.ZeroMQ.PublishAddress; addr != "" {
		zmqService, err = zeromq.NewService(addr, logger)
		if err != nil {
			logger.Warnf("ZeroMQ publisher disabled: %v", err)
			zmqService = nil
		} else {
			configService.SetPublisher(zeromq.NewConfigPublisher(zmqService, logger))
		}
	}

	// Command pool
	pool := processing.NewProcessingPool("control", cfg.Processing.CommandWorkers, cfg.Processing.QueueSize, logger)
	defaultSpeed := func() int { return configService.Control().DefaultSpeed }
	pool.SetProcessor(processing.NewControlProcessor(arbiter, defaultSpeed, logger).ProcessCommand)
	var resultPublisher processing.MessagePublisher
	if zmqService != nil {
		resultPublisher = zmqService
	}
	pool.SetResultHandler(processing.NewLoggingResultHandler(logger, resultPublisher).CreateHandlerFunc())
	pool.Start()

	// MJPEG stream
	streamListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.StreamPort))
	if err != nil {
		logger.Fatalf("Failed to listen for stream clients: %v", err)
	}
	streamServer := stream.NewServer(streamListener, source, stream.ServerOptions{
		Options: stream.Options{
			MaxClients:   cfg.Stream.MaxClients,
			Boundary:     cfg.Stream.Boundary,
			WriteTimeout: cfg.Stream.WriteTimeout(),
		},
		FrameInterval:  cfg.Stream.FrameInterval(),
		IdleInterval:   cfg.Stream.IdleInterval(),
		CaptureTimeout: cfg.Stream.CaptureTimeout(),
	}, logger)

	// Telemetry
	var reporter *telemetry.Reporter
	diagnosticService := diagnostic.NewDiagnosticService(diagnostic.Providers{
		Motion:    arbiter.State,
		Stream:    streamServer.Broadcaster().Stats,
		Camera:    source.Stats,
		Pool:      pool.GetMetrics,
		Telemetry: func() []telemetry.SinkStats { return reporter.Stats() },
	})
	sinks := []telemetry.Sink{diagnosticService}
	if zmqService != nil {
		sinks = append(sinks, telemetry.NewPublisherSink(zmqService, telemetry.Topic))
	}
	if cfg.Telemetry.MQTT.Broker != "" {
		mqttSink, err := telemetry.ConnectMQTT(cfg.Telemetry.MQTT, logger)
		if err != nil {
			logger.Warnf("MQTT telemetry disabled: %v", err)
		} else {
			sinks = append(sinks, mqttSink)
		}
	}
	if dir := cfg.Telemetry.Recorder.Directory; dir != "" {
		recorder, err := telemetry.NewRecorder(dir)
		if err != nil {
			logger.Warnf("Telemetry recorder disabled: %v", err)
		} else {
			logger.Infof("Recording telemetry to %s", recorder.Path())
			sinks = append(sinks, recorder)
		}
	}
	reporter = telemetry.NewReporter(telemetry.Sources{
		Motion: arbiter.State,
		Stream: streamServer.Broadcaster().Stats,
		Camera: source.Stats,
	}, time.Duration(cfg.Telemetry.IntervalMs)*time.Millisecond, logger, sinks...)

	// Background loops
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		motion.RunWatchdog(ctx, arbiter, cfg.Control.TickInterval())
	}()
	go func() {
		defer wg.Done()
		if err := streamServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Stream server stopped: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		reporter.Run(ctx)
	}()
	if cfg.Drive.Demo.Enabled {
		demo := drive.NewDemo(func(fn func(b *drive.Bank)) { arbiter.WithBank(fn) },
			time.Duration(cfg.Drive.Demo.StepMs)*time.Millisecond, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			demo.Run(ctx)
		}()
	}

	// HTTP control surface
	app := fiber.New(fiber.Config{
		AppName:               "Rover",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(fiberlogger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	teleopService := teleop.NewTeleopService(arbiter, defaultSpeed, logger)
	videoService := video.NewVideoService(source, streamServer.Broadcaster().Stats, cfg.Server.StreamPort, logger)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "rover",
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	app.Get("/photo", videoService.PhotoHandler)

	apiGroup := app.Group("/api")
	teleopService.RegisterRoutes(apiGroup)
	apiGroup.Get("/status", diagnosticService.GetStatusHandler)
	apiGroup.Get("/stream", videoService.StreamHandler)

	api.RegisterConfigRoutes(app, configService, logger)
	api.RegisterControlWebSocket(app, pool, logger)

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.HTTPPort)); err != nil {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	logger.Infof("Rover ready")
	logger.Infof("  control: http://<rover>:%d/api/control", cfg.Server.HTTPPort)
	logger.Infof("  photo:   http://<rover>:%d/photo", cfg.Server.HTTPPort)
	logger.Infof("  stream:  http://<rover>:%d/stream", cfg.Server.StreamPort)
	logger.Infof("  camera=%s drive=%s watchdog=%dms", cfg.Camera.Sensor, cfg.Drive.Driver, cfg.Control.TimeoutMs)

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("Shutting down rover...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	cancel()
	wg.Wait()
	pool.Stop()

	arbiter.ApplyIntent(motion.Stop{})
	if err := bank.Close(); err != nil {
		logger.Warnf("Closing drive: %v", err)
	}
	if err := source.Close(); err != nil {
		logger.Warnf("Closing camera: %v", err)
	}
	if zmqService != nil {
		zmqService.Close()
	}

	logger.Infof("Rover exited properly")
}

func openSensor(cfg config.CameraConfig) (camera.Sensor, error) {
	switch cfg.Sensor {
	case config.SensorGStreamer:
		return gstsensor.Open(gstsensor.Config{
			Device:    cfg.Device,
			Width:     cfg.Width,
			Height:    cfg.Height,
			FrameRate: cfg.FrameRate,
		})
	default:
		return camera.NewSimulatedSensor(camera.SimulatedConfig{
			ImageDir:  cfg.ImageDir,
			Width:     cfg.Width,
			Height:    cfg.Height,
			Quality:   cfg.JPEGQuality,
			FrameRate: cfg.FrameRate,
		})
	}
}

func openDriver(cfg config.DriveConfig, logger customlog.Logger) (drive.Driver, error) {
	if cfg.Driver != config.DriverSerial {
		return drive.NewMemoryDriver(), nil
	}
	d, err := drive.OpenSerialDriver(cfg.SerialPort, cfg.BaudRate)
	if err != nil {
		if ports, lerr := drive.ListSerialPorts(); lerr == nil {
			logger.Errorf("Available serial ports: %v", ports)
		}
		return nil, err
	}
	return d, nil
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(api.ErrorReply{Error: err.Error()})
}
