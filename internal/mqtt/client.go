// Package mqtt bridges the controller to an MQTT broker: intents come in on
// set topics, device state and status go out retained. This is the daemon's
// external control surface; the protocol engine itself knows nothing of it.
package mqtt

import (
	"fmt"
	"sync"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dmoravec/glowd/internal/config"
)

// Client wraps the paho client with root-topic prefixing and
// resubscribe-on-reconnect.
type Client struct {
	inner mqttlib.Client
	topic string

	// mu guards subscriptions: Subscribe writes it while paho's reconnect
	// goroutine may be ranging over it in OnConnect.
	mu            sync.Mutex
	subscriptions map[string]mqttlib.MessageHandler
}

// NewClient connects to the broker. Subscriptions registered through
// Subscribe are re-established automatically after a reconnect.
func NewClient(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		topic:         cfg.Topic,
		subscriptions: make(map[string]mqttlib.MessageHandler),
	}

	opts := mqttlib.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.Topic, uuid.NewString()[:8]))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.AutoReconnect = true
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOrderMatters(false)
	opts.OnConnect = func(client mqttlib.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		c.mu.Lock()
		subs := make(map[string]mqttlib.MessageHandler, len(c.subscriptions))
		for topic, handler := range c.subscriptions {
			subs[topic] = handler
		}
		c.mu.Unlock()
		for topic, handler := range subs {
			if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
				log.Error().Err(token.Error()).Str("topic", topic).Msg("MQTT resubscribe failed")
			}
		}
	}
	opts.OnConnectionLost = func(_ mqttlib.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	}

	c.inner = mqttlib.NewClient(opts)
	if token := c.inner.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return c, nil
}

// Subscribe registers a handler under the root topic.
func (c *Client) Subscribe(subTopic string, handler func(topic string, payload []byte)) {
	full := fmt.Sprintf("%s/%s", c.topic, subTopic)
	wrapped := func(_ mqttlib.Client, msg mqttlib.Message) {
		handler(msg.Topic(), msg.Payload())
	}
	c.mu.Lock()
	c.subscriptions[full] = wrapped
	c.mu.Unlock()
	if token := c.inner.Subscribe(full, 0, wrapped); token.Wait() && token.Error() != nil {
		log.Error().Err(token.Error()).Str("topic", full).Msg("MQTT subscribe failed")
	}
}

// Publish sends a payload under the root topic.
func (c *Client) Publish(subTopic string, payload []byte, retain bool) {
	full := fmt.Sprintf("%s/%s", c.topic, subTopic)
	c.inner.Publish(full, 0, retain, payload)
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.inner.Disconnect(250)
}
