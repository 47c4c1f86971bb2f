package api

import (
	"errors"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	customlog "github.com/open-teleop/rover/pkg/log"
	"github.com/open-teleop/rover/pkg/motion"
	"github.com/open-teleop/rover/pkg/processing"
)

// replyTimeout bounds the wait for a queued command's result
const replyTimeout = time.Second

// CommandSubmitter queues control commands. processing.ProcessingPool
// implements it.
type CommandSubmitter interface {
	Submit(cmd *processing.Command) bool
}

// RegisterControlWebSocket mounts /ws/control
func RegisterControlWebSocket(app *fiber.App, pool CommandSubmitter, logger customlog.Logger) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/control", websocket.New(func(conn *websocket.Conn) {
		ControlWebSocketHandler(conn, logger, pool)
	}))
	logger.Infof("Registered control websocket at /ws/control")
}

// ControlWebSocketHandler reads control commands from conn, queues each one
// and answers with the resulting state or an error.
func ControlWebSocketHandler(conn *websocket.Conn, logger customlog.Logger, pool CommandSubmitter) {
	session := "ws-" + uuid.NewString()[:8]
	logger.Infof("Control WebSocket connected: %s (%s)", conn.RemoteAddr(), session)

	reply := make(chan *processing.ProcessResult, 1)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				logger.Warnf("Control WS read error: %v", err)
			}
			break
		}
		if mt != websocket.TextMessage {
			logger.Debugf("Ignoring non-text Control WS message type: %d", mt)
			continue
		}

		cmd := &processing.Command{
			Source:     session,
			Payload:    msg,
			ReceivedAt: time.Now(),
			Reply:      reply,
		}
		if !pool.Submit(cmd) {
			if err := conn.WriteJSON(ErrorReply{Error: "command queue full"}); err != nil {
				break
			}
			continue
		}

		var out interface{}
		select {
		case res := <-reply:
			if res.Error != nil {
				out = ErrorReply{Error: res.Error.Error()}
			} else if state, ok := res.Data.(motion.State); ok {
				out = NewControlState(state, false)
			} else {
				out = res.Data
			}
		case <-time.After(replyTimeout):
			out = ErrorReply{Error: "command timed out"}
			// the late result must not answer the next command
			reply = make(chan *processing.ProcessResult, 1)
		}
		if err := conn.WriteJSON(out); err != nil {
			logger.Warnf("Control WS write error: %v", err)
			break
		}
	}
	logger.Infof("Control WebSocket disconnected: %s (%s)", conn.RemoteAddr(), session)
}
