package rabbitmq

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// IPublisher publishes on a fixed default topic or on an explicit one.
type IPublisher interface {
	PublishMessage(message interface{}) error
	PublishTo(topic string, qos byte, retained bool, message interface{}) error
	PublishAsync(topic string, message interface{})
	Close()
}

type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
	logger zerolog.Logger
}

var _ IPublisher = (*Publisher)(nil)

// NewPublisher creates a publisher on the shared client. topic is the default
// used by PublishMessage and may be empty.
func NewPublisher(client mqtt.Client, topic string, qos byte) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		qos:    qos,
		logger: log.With().Str("component", "publisher").Logger(),
	}
}

func payloadOf(message interface{}) ([]byte, error) {
	switch m := message.(type) {
	case string:
		return []byte(m), nil
	case []byte:
		return m, nil
	default:
		return nil, fmt.Errorf("invalid message format %T, expected string or []byte", message)
	}
}

// PublishMessage publishes on the default topic and waits for the token.
func (p *Publisher) PublishMessage(message interface{}) error {
	if p.topic == "" {
		return fmt.Errorf("publisher has no default topic")
	}
	return p.PublishTo(p.topic, p.qos, false, message)
}

// PublishTo publishes on topic and waits for the token.
func (p *Publisher) PublishTo(topic string, qos byte, retained bool, message interface{}) error {
	payload, err := payloadOf(message)
	if err != nil {
		return err
	}
	token := p.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}
	p.logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Published")
	return nil
}

// PublishAsync is fire-and-forget: no wait, no timeout. A delivery error is
// only logged.
func (p *Publisher) PublishAsync(topic string, message interface{}) {
	payload, err := payloadOf(message)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Dropping message")
		return
	}
	token := p.client.Publish(topic, p.qos, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.logger.Warn().Err(err).Str("topic", topic).Msg("Async publish failed")
		}
	}()
}

// Close disconnects the shared client.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info().Msg("MQTT client disconnected")
	}
}
