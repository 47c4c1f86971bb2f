package video

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/rover/pkg/api"
	"github.com/open-teleop/rover/pkg/camera"
	customlog "github.com/open-teleop/rover/pkg/log"
	"github.com/open-teleop/rover/pkg/stream"
)

// PhotoTimeout is the lock wait of a single-shot capture
const PhotoTimeout = 500 * time.Millisecond

// FrameSource is the capture side of camera.Source
type FrameSource interface {
	Capture(timeout time.Duration) (*camera.Frame, error)
}

// VideoService serves single-shot photos and stream diagnostics
type VideoService struct {
	source      FrameSource
	streamStats func() stream.Stats
	streamPort  int
	logger      customlog.Logger
}

// NewVideoService creates a new video service instance. streamStats may be
// nil when the stream server is disabled.
func NewVideoService(source FrameSource, streamStats func() stream.Stats, streamPort int, logger customlog.Logger) *VideoService {
	return &VideoService{
		source:      source,
		streamStats: streamStats,
		streamPort:  streamPort,
		logger:      logger,
	}
}

// PhotoHandler captures one JPEG. Contention with the broadcast loop is
// answered with 503 so the client can retry.
func (s *VideoService) PhotoHandler(c *fiber.Ctx) error {
	frame, err := s.source.Capture(PhotoTimeout)
	if err != nil {
		if errors.Is(err, camera.ErrUnavailable) || errors.Is(err, camera.ErrClosed) {
			s.logger.Debugf("Photo: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(api.ErrorReply{Error: "camera busy, retry"})
		}
		s.logger.Warnf("Photo capture failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(api.ErrorReply{Error: "capture failed"})
	}
	// fiber keeps a reference to the body, so it gets its own copy
	body := append([]byte(nil), frame.Bytes()...)
	frame.Release()

	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderContentDisposition, "inline; filename=capture.jpg")
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	return c.Send(body)
}

// StreamHandler reports where the MJPEG stream is served and who is watching
func (s *VideoService) StreamHandler(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status": "success",
		"port":   s.streamPort,
		"path":   "/stream",
	}
	if s.streamStats != nil {
		resp["stats"] = s.streamStats()
	} else {
		resp["status"] = "disabled"
	}
	return c.JSON(resp)
}
