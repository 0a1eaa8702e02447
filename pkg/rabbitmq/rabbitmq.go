package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string

	// ConnectRetries bounds the startup retry loop (total attempts).
	ConnectRetries int
	// ConnectMaxElapsed caps the whole startup retry loop.
	ConnectMaxElapsed time.Duration
	KeepAlive         time.Duration
}

// Connection is an MQTT client that makes exactly one reconnect attempt
// when the broker drops it, and replays registered hooks once reconnected.
type Connection struct {
	mqtt.Client

	logger zerolog.Logger

	mu    sync.Mutex
	hooks []func(mqtt.Client)

	// connect is swapped in tests.
	connect func() mqtt.Token
}

// NewRabbitMQConn dials the broker, retrying with exponential backoff at startup.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQConfig) (*Connection, error) {
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	conn := &Connection{
		logger: log.With().Str("component", "mqtt").Str("broker", connAddr).Logger(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	// reconnection is ours: one attempt, see handleConnectionLost
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	opts.SetConnectionLostHandler(conn.handleConnectionLost)
	opts.SetOnConnectHandler(conn.handleConnect)

	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 5
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.ConnectMaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 10 * time.Second
	}

	client := mqtt.NewClient(opts)
	conn.Client = client
	conn.connect = client.Connect

	err := backoff.Retry(func() error {
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			conn.logger.Warn().Err(token.Error()).Msg("Failed to connect to MQTT broker")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	conn.logger.Info().Msg("Connected to MQTT broker")

	go func() {
		<-ctx.Done()
		CloseRabbitMQConn(conn)
	}()

	return conn, nil
}

// OnReconnect registers fn to run after every successful reconnect.
// Subscriptions do not survive a clean-session reconnect, so consumers
// register their Subscribe here.
func (c *Connection) OnReconnect(fn func(mqtt.Client)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

func (c *Connection) handleConnect(client mqtt.Client) {
	c.mu.Lock()
	hooks := append([]func(mqtt.Client){}, c.hooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h(client)
	}
}

// handleConnectionLost runs on paho's own goroutine.
func (c *Connection) handleConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn().Err(err).Msg("MQTT connection lost, attempting one reconnect")
	if rerr := c.ReconnectOnce(); rerr != nil {
		c.logger.Error().Err(rerr).Msg("MQTT reconnect failed; staying disconnected")
		return
	}
	c.logger.Info().Msg("MQTT reconnected")
}

// ReconnectOnce makes a single connect attempt without any backoff loop.
func (c *Connection) ReconnectOnce() error {
	token := c.connect()
	token.Wait()
	return token.Error()
}

func CloseRabbitMQConn(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		log.Info().Str("component", "mqtt").Msg("MQTT connection closed")
	}
}
