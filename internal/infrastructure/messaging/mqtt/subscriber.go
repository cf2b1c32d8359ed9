// Package mqtt ingests device telemetry published on an MQTT broker.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// DefaultTopic matches devices/{id}/telemetry
const DefaultTopic = "devices/+/telemetry"

// Ingester records a single reading
type Ingester interface {
	Execute(ctx context.Context, reading entity.TelemetryReading) (*entity.TelemetrySnapshot, error)
}

// Config holds MQTT client configuration
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Timeout  time.Duration // per-message ingestion timeout
}

// Stats counts processed messages
type Stats struct {
	Accepted   int64 `json:"accepted"`
	Duplicates int64 `json:"duplicates"`
	Rejected   int64 `json:"rejected"`
	Failed     int64 `json:"failed"`
}

// Subscriber feeds telemetry messages into the telemetry store
type Subscriber struct {
	client   mqtt.Client
	cfg      Config
	ingester Ingester
	logger   *logger.Logger

	accepted   atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
	failed     atomic.Int64
}

// NewSubscriber creates a subscriber; Start connects it
func NewSubscriber(cfg Config, ingester Ingester, log *logger.Logger) *Subscriber {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "device-lifecycle"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	return &Subscriber{cfg: cfg, ingester: ingester, logger: log}
}

// Start connects to the broker. Subscriptions are restored on every reconnect.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(s.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			s.Handle(ctx, msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			s.logger.Error("MQTT subscribe failed", token.Error(), "topic", s.cfg.Topic)
			return
		}
		s.logger.Info("MQTT subscribed", "topic", s.cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("MQTT connection lost", "error", err.Error())
	})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	s.logger.Info("Connected to MQTT broker", "broker", s.cfg.Broker)
	return nil
}

// Handle decodes a message and records each reading it carries.
// A payload is either one reading or an array of readings.
func (s *Subscriber) Handle(ctx context.Context, topic string, payload []byte) {
	readings, err := DecodeReadings(topic, payload)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Warn("Malformed telemetry message", "topic", topic, "error", err.Error())
		return
	}

	for _, reading := range readings {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		_, err := s.ingester.Execute(callCtx, reading)
		cancel()

		switch {
		case err == nil:
			s.accepted.Add(1)
		case errors.Is(err, domainerr.ErrDuplicateTimestamp):
			s.duplicates.Add(1)
		case domainerr.CategoryOf(err) == domainerr.CategoryValidation,
			errors.Is(err, domainerr.ErrNotFound):
			s.rejected.Add(1)
			s.logger.Debug("Telemetry rejected", "device_id", reading.DeviceID, "error", err.Error())
		default:
			s.failed.Add(1)
			s.logger.Error("Telemetry ingestion failed", err, "device_id", reading.DeviceID)
		}
	}
}

// Snapshot returns message counters
func (s *Subscriber) Snapshot() Stats {
	return Stats{
		Accepted:   s.accepted.Load(),
		Duplicates: s.duplicates.Load(),
		Rejected:   s.rejected.Load(),
		Failed:     s.failed.Load(),
	}
}

// Close disconnects from the broker
func (s *Subscriber) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		s.logger.Info("MQTT client disconnected")
	}
}

// DecodeReadings parses a telemetry payload. The device id comes from the
// topic when the payload omits it; a mismatch is an error.
func DecodeReadings(topic string, payload []byte) ([]entity.TelemetryReading, error) {
	deviceID := deviceFromTopic(topic)

	var readings []entity.TelemetryReading
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &readings); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	} else {
		var r entity.TelemetryReading
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		readings = []entity.TelemetryReading{r}
	}

	for i := range readings {
		switch {
		case readings[i].DeviceID == "":
			readings[i].DeviceID = deviceID
		case deviceID != "" && readings[i].DeviceID != deviceID:
			return nil, fmt.Errorf("payload device %s does not match topic %s", readings[i].DeviceID, topic)
		}
		if readings[i].DeviceID == "" {
			return nil, fmt.Errorf("device id missing in topic %s", topic)
		}
	}
	return readings, nil
}

// deviceFromTopic extracts {id} from devices/{id}/...
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[0] == "devices" {
		return parts[1]
	}
	return ""
}
