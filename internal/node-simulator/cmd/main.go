package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/garden_automation/internal/config"
	"github.com/LeonardoBeccarini/garden_automation/internal/logging"
	nodeSimulator "github.com/LeonardoBeccarini/garden_automation/internal/node-simulator"
	"github.com/LeonardoBeccarini/garden_automation/pkg/rabbitmq"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	clientID := flag.String("client-id", "", "MQTT client ID (random when empty)")
	seed := flag.Float64("seed", 0.5, "initial soil moisture (0..1)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	if *clientID == "" {
		*clientID = "garden-node-simulator-" + uuid.NewString()[:8]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
		Host:              cfg.MQTT.Host,
		Port:              cfg.MQTT.Port,
		User:              cfg.MQTT.User,
		Password:          cfg.MQTT.Password,
		ClientID:          *clientID,
		ConnectRetries:    cfg.MQTT.ConnectRetries,
		ConnectMaxElapsed: cfg.MQTT.ConnectMaxElapsed.Duration(),
		KeepAlive:         cfg.MQTT.KeepAlive.Duration(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("MQTT connection")
	}

	qos := byte(cfg.MQTT.QoS)
	controlFilter := strings.ReplaceAll(cfg.MQTT.ControlTopic, "{plant}", "+")
	sensorTopic := strings.Replace(cfg.MQTT.SensorTopic, "+", "{plant}", 1)

	publisher := rabbitmq.NewPublisher(conn, "", qos)
	consumer := rabbitmq.NewConsumer(conn, controlFilter, qos, nil)
	conn.OnReconnect(consumer.Subscribe)

	sim := nodeSimulator.NewNodeSimulator(consumer, publisher, sensorTopic, qos)
	for _, id := range cfg.Simulator.Plants {
		sim.AddPlant(id, nodeSimulator.NewDataGenerator(*seed, cfg.Simulator.DryRate, cfg.Simulator.PlantType, nil))
	}

	log.Info().Ints64("plants", cfg.Simulator.Plants).Dur("interval", cfg.Simulator.Interval.Duration()).Msg("Node simulator started")
	sim.Start(ctx, cfg.Simulator.Interval.Duration())
}
