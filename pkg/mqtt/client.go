// Package mqtt publishes measurement telemetry to an MQTT broker. The
// publisher is optional: when disabled every publish is a no-op, and publish
// failures never affect request handling.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/zonemap/zonemap/pkg/logx"
	"github.com/zonemap/zonemap/pkg/session"
	"github.com/zonemap/zonemap/pkg/store"
)

// Config holds MQTT configuration.
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration.
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "zonemapd",
		TopicPrefix: "zonemap",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// Client publishes zonemapd telemetry. It satisfies session.Publisher.
type Client struct {
	client      MQTT.Client
	logger      *logx.Logger
	config      *Config
	mu          sync.Mutex
	connected   bool
	lastPublish time.Time
}

// NewClient creates an MQTT publisher. Paho's package loggers are routed
// into the structured logger so broker errors land in the normal log stream.
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	MQTT.ERROR = logger.Backend()
	MQTT.CRITICAL = logger.Backend()

	return &Client{
		logger: logger,
		config: config,
	}
}

// Connect establishes the broker connection. Disabled clients return nil
// immediately.
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("mqtt_disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("mqtt_connected", "broker", c.config.Broker, "port", c.config.Port)

	return nil
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	connected := c.connected
	c.connected = false
	c.mu.Unlock()

	if c.client != nil && connected {
		c.client.Disconnect(250)
		c.logger.Info("mqtt_disconnected")
	}
}

func (c *Client) onConnect(client MQTT.Client) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("mqtt_connection_established")
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.logger.Error("mqtt_connection_lost", "error", err.Error())
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// PublishMeasurement publishes a recorded measurement.
func (c *Client) PublishMeasurement(m *store.Measurement) {
	c.publishJSON(fmt.Sprintf("%s/measurements", c.config.TopicPrefix), map[string]interface{}{
		"timestamp":   time.Now(),
		"measurement": m,
	})
}

// PublishSessionSummary publishes the aggregate statistics of a flushed
// session.
func (c *Client) PublishSessionSummary(s *session.SessionSummary) {
	c.publishJSON(fmt.Sprintf("%s/sessions/summary", c.config.TopicPrefix), map[string]interface{}{
		"timestamp": time.Now(),
		"summary":   s,
	})
}

// publishJSON marshals and publishes a payload. Failures are logged and
// swallowed so telemetry never disturbs the measurement path.
func (c *Client) publishJSON(topic string, payload interface{}) {
	if !c.config.Enabled || !c.IsConnected() {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("mqtt_marshal_failed", "topic", topic, "error", err.Error())
		return
	}

	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		c.logger.Warn("mqtt_publish_failed", "topic", topic, "error", token.Error().Error())
		return
	}

	c.mu.Lock()
	c.lastPublish = time.Now()
	c.mu.Unlock()

	c.logger.Debug("mqtt_published", "topic", topic, "size", len(data))
}
