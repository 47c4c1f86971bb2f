package zeromq

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/open-teleop/rover/pkg/log"
)

// Common errors
var (
	ErrServiceClosed = errors.New("zeromq service is closed")
)

// Message is the JSON envelope used for non-binary topics
type Message struct {
	Type      string      `json:"type"`
	Timestamp float64     `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Service owns the rover's PUB socket. Every message is sent as two frames:
// the topic, then the payload.
type Service struct {
	ctx      *zmq4.Context
	socket   *zmq4.Socket
	endpoint string
	logger   log.Logger

	mu      sync.Mutex
	running bool
}

// NewService binds a PUB socket on address. A tcp address ending in ":*"
// binds an ephemeral port; Endpoint reports the one chosen.
func NewService(address string, logger log.Logger) (*Service, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		ctx.Term()
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		ctx.Term()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.Bind(address); err != nil {
		socket.Close()
		ctx.Term()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	endpoint, err := socket.GetLastEndpoint()
	if err != nil || endpoint == "" {
		endpoint = address
	}
	logger.Infof("ZeroMQ publisher bound on %s", endpoint)

	return &Service{
		ctx:      ctx,
		socket:   socket,
		endpoint: endpoint,
		logger:   logger,
		running:  true,
	}, nil
}

// Endpoint returns the bound address
func (s *Service) Endpoint() string {
	return s.endpoint
}

// PublishMessage sends a message with the given topic
func (s *Service) PublishMessage(topic string, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServiceClosed
	}
	if _, err := s.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := s.socket.SendBytes(message, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// PublishJSON publishes data wrapped in a Message envelope
func (s *Service) PublishJSON(topic string, messageType string, data interface{}) error {
	msg := Message{
		Type:      messageType,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Data:      data,
	}
	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.PublishMessage(topic, msgData)
}

// Close releases the socket and its context. It is safe to call twice.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.socket != nil {
		s.socket.Close()
		s.socket = nil
	}
	if s.ctx != nil {
		s.ctx.Term()
		s.ctx = nil
	}
	s.logger.Infof("ZeroMQ publisher stopped")
}
