package api

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-teleop/rover/pkg/log"
	"github.com/open-teleop/rover/services"
)

// ConfigHandler holds dependencies for configuration API endpoints.
type ConfigHandler struct {
	configService services.RoverConfigService
	logger        customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(configService services.RoverConfigService, logger customlog.Logger) *ConfigHandler {
	if configService == nil {
		panic("ConfigService cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{
		configService: configService,
		logger:        logger,
	}
}

// RegisterConfigRoutes registers the configuration API endpoints with the Fiber app.
func RegisterConfigRoutes(app *fiber.App, configService services.RoverConfigService, logger customlog.Logger) {
	h := NewConfigHandler(configService, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/", h.handleGetConfig)
	apiGroup.Put("/control", h.handleUpdateControl)

	logger.Infof("Registered configuration API endpoints under /api/v1/config")
}

// handleGetConfig returns the configuration in effect as YAML
func (h *ConfigHandler) handleGetConfig(c *fiber.Ctx) error {
	yamlData, err := h.configService.GetCurrentConfigYAML()
	if err != nil {
		h.logger.Errorf("Failed to get current config YAML: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(ErrorReply{
			Error: fmt.Sprintf("Failed to retrieve configuration: %v", err),
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateControl applies a YAML control section
func (h *ConfigHandler) handleUpdateControl(c *fiber.Ctx) error {
	switch ct := c.Get(fiber.HeaderContentType); ct {
	case "application/x-yaml", "application/yaml", "text/yaml":
	default:
		h.logger.Debugf("Control update with Content-Type %q, parsing as YAML", ct)
	}

	body := c.Body()
	if len(body) == 0 {
		return c.Status(http.StatusBadRequest).JSON(ErrorReply{
			Error: "Request body cannot be empty.",
		})
	}

	control, err := h.configService.UpdateControl(body)
	if err != nil {
		if services.IsValidationError(err) {
			return c.Status(http.StatusBadRequest).JSON(ErrorReply{
				Error: fmt.Sprintf("Configuration update failed: %v", err),
			})
		}
		h.logger.Errorf("Failed to update control configuration: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(ErrorReply{
			Error: fmt.Sprintf("Internal server error during configuration update: %v", err),
		})
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "Control configuration updated.",
		"control": control,
	})
}
