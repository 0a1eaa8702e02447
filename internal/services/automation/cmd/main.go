package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/garden_automation/internal/config"
	"github.com/LeonardoBeccarini/garden_automation/internal/logging"
	"github.com/LeonardoBeccarini/garden_automation/internal/services/automation"
	"github.com/LeonardoBeccarini/garden_automation/internal/services/persistence"
	"github.com/LeonardoBeccarini/garden_automation/internal/services/prediction"
	"github.com/LeonardoBeccarini/garden_automation/pkg/dedup"
	"github.com/LeonardoBeccarini/garden_automation/pkg/rabbitmq"
)

func main() {
	configPath := flag.String("config", envOr("GARDEN_CONFIG", "config.yaml"), "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("automation service stopped")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Automation.Location()
	if err != nil {
		return err
	}

	// === SQLite ===
	db, err := persistence.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := persistence.SeedProfiles(ctx, db, cfg.Profiles()); err != nil {
		return err
	}
	store := persistence.NewStore(db)
	store.SetPredictionMaxAge(cfg.Automation.PredictionMaxAge.Duration())

	metrics := automation.NewMetrics(prometheus.DefaultRegisterer)

	// === InfluxDB mirror ===
	var (
		mirror       persistence.Mirror
		mirrorStatus automation.MirrorStatus
	)
	if cfg.Influx.Enabled {
		influx := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		defer influx.Close()
		m := persistence.NewInfluxMirror(influx.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket), persistence.MirrorOptions{
			Measurement:   cfg.Influx.Measurement,
			MaxFailures:   cfg.Influx.MaxFailures,
			OpenTimeout:   cfg.Influx.OpenTimeout.Duration(),
			OnStateChange: metrics.SetBreakerState,
		})
		mirror, mirrorStatus = m, m
		log.Info().Str("url", cfg.Influx.URL).Str("bucket", cfg.Influx.Bucket).Msg("Influx mirror enabled")
	}

	// === Kafka export ===
	var exporter persistence.Exporter
	if cfg.Kafka.Enabled {
		x := persistence.NewDatasetExporter(persistence.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer x.Close()
		exporter = x
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Dataset export enabled")
	}

	gateway := persistence.NewGateway(store, mirror, exporter)

	// === Predictions ===
	sources := prediction.Chain{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		sources = append(sources, prediction.NewRedisSource(rdb, cfg.Redis.KeyPrefix))
	}
	sources = append(sources, store)

	// === Core ===
	resolver := automation.NewResolver(gateway, loc)
	engine := automation.NewEngine(loc, time.Now)
	tracker := automation.NewTracker(gateway, automation.ReactivationPolicy(cfg.Automation.Reactivation))

	// === MQTT ===
	conn, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
		Host:              cfg.MQTT.Host,
		Port:              cfg.MQTT.Port,
		User:              cfg.MQTT.User,
		Password:          cfg.MQTT.Password,
		ClientID:          cfg.MQTT.ClientID,
		ConnectRetries:    cfg.MQTT.ConnectRetries,
		ConnectMaxElapsed: cfg.MQTT.ConnectMaxElapsed.Duration(),
		KeepAlive:         cfg.MQTT.KeepAlive.Duration(),
	})
	if err != nil {
		return err
	}
	qos := byte(cfg.MQTT.QoS)
	publisher := rabbitmq.NewPublisher(conn, "", qos)

	dispatcher := automation.NewDispatcher(gateway, resolver, engine, tracker, publisher, automation.DispatcherOptions{
		ControlTopic: cfg.MQTT.ControlTopic,
		Predictions:  sources,
		Deduper:      dedup.New(cfg.Automation.DedupTTL.Duration(), cfg.Automation.DedupMax),
		Metrics:      metrics,
	})

	consumer := rabbitmq.NewConsumer(conn, cfg.MQTT.SensorTopic, qos, dispatcher.Handle)
	conn.OnReconnect(consumer.Subscribe)
	go consumer.ConsumeMessage(ctx)

	// === Health ===
	checker := &automation.Checker{
		Bus:         conn,
		DB:          store,
		Mirror:      mirrorStatus,
		MinErrorAge: cfg.Automation.ReadyErrorAge.Duration(),
	}

	var grpcServer *grpc.Server
	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer()
		hs := health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, hs)
		go checker.WatchGRPC(ctx, hs, 5*time.Second)
		go func() {
			log.Info().Int("port", cfg.GRPC.Port).Msg("gRPC health listening")
			if err := grpcServer.Serve(lis); err != nil {
				log.Error().Err(err).Msg("gRPC server error")
			}
		}()
	}

	// === HTTP ===
	router := persistence.NewHTTPMux(store, resolver)
	router.Handle("/healthz", checker.HealthHandler()).Methods(http.MethodGet)
	router.Handle("/readyz", checker.ReadyHandler()).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stdout, router)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
			stop()
		}
	}()

	log.Info().
		Str("sensor_topic", cfg.MQTT.SensorTopic).
		Str("control_topic", cfg.MQTT.ControlTopic).
		Str("reactivation", cfg.Automation.Reactivation).
		Msg("Automation service started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	rabbitmq.CloseRabbitMQConn(conn)
	return nil
}
