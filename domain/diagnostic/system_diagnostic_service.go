package diagnostic

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/rover/pkg/camera"
	"github.com/open-teleop/rover/pkg/motion"
	"github.com/open-teleop/rover/pkg/processing"
	"github.com/open-teleop/rover/pkg/stream"
	"github.com/open-teleop/rover/pkg/telemetry"
)

// Providers supply the live state aggregated by the status endpoint. Nil
// providers are omitted from the report.
type Providers struct {
	Motion    func() motion.State
	Stream    func() stream.Stats
	Camera    func() camera.Stats
	Pool      func() processing.PoolMetrics
	Telemetry func() []telemetry.SinkStats
}

// SystemStatus is the /api/status body
type SystemStatus struct {
	Timestamp time.Time               `json:"timestamp"`
	UptimeSec float64                 `json:"uptime_s"`
	Control   *motion.State           `json:"control,omitempty"`
	Stream    *stream.Stats           `json:"stream,omitempty"`
	Camera    *camera.Stats           `json:"camera,omitempty"`
	Commands  *processing.PoolMetrics `json:"commands,omitempty"`
	Telemetry []telemetry.SinkStats   `json:"telemetry,omitempty"`
	Last      *telemetry.Snapshot     `json:"last_snapshot,omitempty"`
}

// DiagnosticService handles system diagnostics
type DiagnosticService struct {
	providers Providers
	started   time.Time
	now       func() time.Time

	mu   sync.RWMutex
	last *telemetry.Snapshot
}

// NewDiagnosticService creates a new diagnostic service instance
func NewDiagnosticService(providers Providers) *DiagnosticService {
	return &DiagnosticService{
		providers: providers,
		started:   time.Now(),
		now:       time.Now,
	}
}

// Name lets the service act as a telemetry sink that keeps the latest
// snapshot for the status report
func (s *DiagnosticService) Name() string { return "diagnostic" }

// Publish stores the snapshot
func (s *DiagnosticService) Publish(snap telemetry.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &snap
	return nil
}

func (s *DiagnosticService) Close() error { return nil }

// GetStatus assembles the current status
func (s *DiagnosticService) GetStatus() SystemStatus {
	now := s.now()
	st := SystemStatus{
		Timestamp: now,
		UptimeSec: now.Sub(s.started).Seconds(),
	}
	if s.providers.Motion != nil {
		v := s.providers.Motion()
		st.Control = &v
	}
	if s.providers.Stream != nil {
		v := s.providers.Stream()
		st.Stream = &v
	}
	if s.providers.Camera != nil {
		v := s.providers.Camera()
		st.Camera = &v
	}
	if s.providers.Pool != nil {
		v := s.providers.Pool()
		st.Commands = &v
	}
	if s.providers.Telemetry != nil {
		st.Telemetry = s.providers.Telemetry()
	}

	s.mu.RLock()
	st.Last = s.last
	s.mu.RUnlock()
	return st
}

// GetStatusHandler handles API requests for the rover status
func (s *DiagnosticService) GetStatusHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.GetStatus(),
	})
}
