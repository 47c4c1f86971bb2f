package teleop

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/rover/pkg/api"
	"github.com/open-teleop/rover/pkg/drive"
	customlog "github.com/open-teleop/rover/pkg/log"
	"github.com/open-teleop/rover/pkg/motion"
)

// DriveRequest is the body of the per-channel debug endpoint
type DriveRequest struct {
	Action string `json:"action"`
	Motor  string `json:"motor"`
	Value  *int   `json:"value"`
}

// TeleopService serves the motion endpoints
type TeleopService struct {
	arbiter      *motion.Arbiter
	defaultSpeed func() int
	logger       customlog.Logger
}

// NewTeleopService creates a new teleop service instance. defaultSpeed is
// read per request; nil means motion.DefaultSpeed.
func NewTeleopService(arbiter *motion.Arbiter, defaultSpeed func() int, logger customlog.Logger) *TeleopService {
	if defaultSpeed == nil {
		defaultSpeed = func() int { return motion.DefaultSpeed }
	}
	return &TeleopService{
		arbiter:      arbiter,
		defaultSpeed: defaultSpeed,
		logger:       logger,
	}
}

// RegisterRoutes mounts /control and /drive under api
func (s *TeleopService) RegisterRoutes(api fiber.Router) {
	api.Get("/control", s.GetControlHandler)
	api.Post("/control", s.CommandHandler)
	api.Get("/drive", s.GetDriveHandler)
	api.Post("/drive", s.DriveHandler)
}

// CommandHandler applies a control command and returns the resulting state
func (s *TeleopService) CommandHandler(c *fiber.Ctx) error {
	intent, err := motion.ParseCommand(c.Body(), s.defaultSpeed())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(api.ErrorReply{Error: err.Error()})
	}
	state := s.arbiter.ApplyIntent(intent)
	return c.JSON(api.NewControlState(state, false))
}

// GetControlHandler returns the arbiter state with the watchdog timeout
func (s *TeleopService) GetControlHandler(c *fiber.Ctx) error {
	return c.JSON(api.NewControlState(s.arbiter.State(), true))
}

// GetDriveHandler returns the raw channel duties
func (s *TeleopService) GetDriveHandler(c *fiber.Ctx) error {
	return c.JSON(s.arbiter.WithBank(func(*drive.Bank) {}))
}

// DriveHandler adjusts channels directly, bypassing the watchdog
func (s *TeleopService) DriveHandler(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(api.ErrorReply{Error: "empty body"})
	}
	var req DriveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(api.ErrorReply{Error: "invalid JSON"})
	}

	op, err := req.operation()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(api.ErrorReply{Error: err.Error()})
	}
	speeds := s.arbiter.WithBank(op)
	s.logger.Debugf("Drive %s %s -> %+v", req.Action, req.Motor, speeds)
	return c.JSON(speeds)
}

// operation validates the request and returns the bank mutation it names
func (r DriveRequest) operation() (func(b *drive.Bank), error) {
	value := drive.DefaultStep
	if r.Value != nil {
		value = *r.Value
	}

	channels := drive.Channels[:]
	if r.Motor != "" && r.Motor != "all" {
		ch, ok := drive.ParseChannel(r.Motor)
		if !ok {
			return nil, fiber.NewError(fiber.StatusBadRequest, "unknown motor "+r.Motor)
		}
		channels = []drive.Channel{ch}
	}

	var apply func(b *drive.Bank, ch drive.Channel)
	switch r.Action {
	case "set":
		apply = func(b *drive.Bank, ch drive.Channel) { b.SetSpeed(ch, value) }
	case "increment":
		apply = func(b *drive.Bank, ch drive.Channel) { b.Increment(ch, value) }
	case "decrement":
		apply = func(b *drive.Bank, ch drive.Channel) { b.Decrement(ch, value) }
	case "stop":
		return func(b *drive.Bank) { b.StopAll() }, nil
	default:
		return nil, fiber.NewError(fiber.StatusBadRequest, "unknown action "+r.Action)
	}

	return func(b *drive.Bank) {
		for _, ch := range channels {
			apply(b, ch)
		}
	}, nil
}
