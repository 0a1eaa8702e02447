package rabbitmq

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler processes one delivery. topic is the subscription filter, the
// concrete topic is msg.Topic().
type Handler func(topic string, msg mqtt.Message) error

// IConsumer subscribes a handler and blocks until the context is done.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler Handler)
}

// Consumer holds the client and topic filter for one subscription.
type Consumer struct {
	client  mqtt.Client
	handler Handler
	topic   string
	qos     byte
	logger  zerolog.Logger
}

var _ IConsumer = (*Consumer)(nil)

// NewConsumer creates a consumer on the shared client. handler may be nil and
// injected later with SetHandler.
func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler) *Consumer {
	return &Consumer{
		client:  client,
		topic:   topic,
		qos:     qos,
		handler: handler,
		logger:  log.With().Str("component", "consumer").Str("topic", topic).Logger(),
	}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

func (c *Consumer) deliver(_ mqtt.Client, message mqtt.Message) {
	if c.handler == nil {
		c.logger.Warn().Msg("No handler set")
		return
	}
	if err := c.handler(c.topic, message); err != nil {
		c.logger.Error().Err(err).Str("message_topic", message.Topic()).Msg("Error handling message")
	}
}

// Subscribe (re)installs the subscription. It is safe to register it with
// Connection.OnReconnect.
func (c *Consumer) Subscribe(client mqtt.Client) {
	token := client.Subscribe(c.topic, c.qos, c.deliver)
	if token.Wait() && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Msg("Error subscribing")
		return
	}
	c.logger.Info().Uint8("qos", c.qos).Msg("Subscribed")
}

// ConsumeMessage subscribes and blocks until ctx is cancelled, then unsubscribes.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	c.Subscribe(c.client)

	<-ctx.Done()

	if c.client.IsConnectionOpen() {
		c.client.Unsubscribe(c.topic).Wait()
	}
}
