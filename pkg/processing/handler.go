package processing

import (
	"encoding/json"

	customlog "github.com/open-teleop/rover/pkg/log"
)

// TopicControlState carries the arbiter state after each queued command
const TopicControlState = "rover.control.state"

// MessagePublisher defines the interface for publishing messages
type MessagePublisher interface {
	PublishMessage(topic string, data []byte) error
}

// LoggingResultHandler logs processing results and publishes them
type LoggingResultHandler struct {
	logger    customlog.Logger
	publisher MessagePublisher
}

// NewLoggingResultHandler creates a new logging result handler. publisher
// may be nil.
func NewLoggingResultHandler(logger customlog.Logger, publisher MessagePublisher) *LoggingResultHandler {
	return &LoggingResultHandler{
		logger:    logger,
		publisher: publisher,
	}
}

// HandleResult handles a processed command result
func (h *LoggingResultHandler) HandleResult(result *ProcessResult) {
	if result.Error != nil {
		h.logger.Warnf("Rejected command from %s: %v", result.Source, result.Error)
		return
	}
	if result.Data == nil || h.publisher == nil {
		return
	}

	jsonData, err := json.Marshal(result.Data)
	if err != nil {
		h.logger.Errorf("Failed to encode result from %s: %v", result.Source, err)
		return
	}
	if err := h.publisher.PublishMessage(TopicControlState, jsonData); err != nil {
		h.logger.Warnf("Failed to publish control state: %v", err)
	}
}

// CreateHandlerFunc creates a ResultHandler function for the ProcessingPool
func (h *LoggingResultHandler) CreateHandlerFunc() ResultHandler {
	return func(processResult *ProcessResult) {
		if processResult == nil {
			h.logger.Errorf("Received nil ProcessResult")
			return
		}
		h.HandleResult(processResult)
	}
}
