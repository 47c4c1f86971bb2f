package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/open-teleop/rover/pkg/config"
	"github.com/open-teleop/rover/pkg/log"
)

// Topic is the ZeroMQ topic telemetry is published on
const Topic = "rover.telemetry"

// Publisher sends a payload on a topic. zeromq.Service satisfies it.
type Publisher interface {
	PublishMessage(topic string, message []byte) error
}

// PublisherSink encodes snapshots as flatbuffers and hands them to a
// Publisher
type PublisherSink struct {
	pub   Publisher
	topic string

	mu      sync.Mutex
	builder *flatbuffers.Builder
}

// NewPublisherSink creates a flatbuffer sink on topic
func NewPublisherSink(pub Publisher, topic string) *PublisherSink {
	if topic == "" {
		topic = Topic
	}
	return &PublisherSink{pub: pub, topic: topic, builder: flatbuffers.NewBuilder(256)}
}

func (s *PublisherSink) Name() string { return "zeromq" }

func (s *PublisherSink) Publish(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pub.PublishMessage(s.topic, EncodeSnapshot(s.builder, snap))
}

func (s *PublisherSink) Close() error { return nil }

const mqttPublishTimeout = 2 * time.Second

// MQTTSink publishes snapshots as JSON to an MQTT broker
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTSink wraps an already connected client
func NewMQTTSink(client mqtt.Client, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: topic}
}

// ConnectMQTT connects to the configured broker with auto-reconnect
func ConnectMQTT(cfg config.MQTTTelemetry, logger log.Logger) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Infof("Telemetry: MQTT connected to %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnf("Telemetry: MQTT connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return NewMQTTSink(client, cfg.Topic), nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Publish(snap Snapshot) error {
	if !s.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	token := s.client.Publish(s.topic, s.qos, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
