// Package app wires configuration into the services shared by the
// vivarium commands.
package app

import (
	"context"
	"flag"
	"fmt"

	"github.com/redis/go-redis/v9"

	"vivarium/internal/broker"
	"vivarium/internal/config"
	"vivarium/internal/devices"
	"vivarium/internal/events"
	"vivarium/internal/retriever"
	"vivarium/internal/services"
	"vivarium/internal/weatherapi"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

const Version = "1.0.0"

// Flags are the configuration flags every command accepts.
type Flags struct {
	ConfigPath  string
	SecretsPath string
}

// RegisterFlags adds -config and -secrets to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "config.ini", "Path to the configuration file (.ini or .yaml)")
	fs.StringVar(&f.SecretsPath, "secrets", "config_secrets.ini", "Path to the secrets file merged over the configuration")
	return f
}

// Args returns the flags in command line form for child processes.
func (f *Flags) Args() []string {
	return []string{"-config", f.ConfigPath, "-secrets", f.SecretsPath}
}

// LoadConfig loads and validates the configuration named by f.
func LoadConfig(f *Flags) (*config.Config, error) {
	return config.Load(f.ConfigPath, f.SecretsPath)
}

// NewLogger creates the structured logger for service at the configured
// level.
func NewLogger(cfg *config.Config, service string) *logging.StructuredLogger {
	return logging.NewStructuredLogger(service, Version, logging.ParseLevel(cfg.Logging.Level))
}

// OpenDatabase connects to the local application database.
func OpenDatabase(cfg *config.Config, logger logging.Logger, m *metrics.Collector) (*database.PostgresDB, error) {
	return database.NewPostgresDB(cfg.Database.ToDatabase(), logger, m)
}

// NewIngestionService builds the file loader from the files and ingestion
// sections.
func NewIngestionService(cfg *config.Config, db services.SessionOpener, logger logging.Logger, m *metrics.Collector) *services.IngestionService {
	return services.NewIngestionService(db, services.IngestionOptions{
		ProcessedDir: cfg.Files.ProcessedDir,
		ArchiveMode:  cfg.Ingestion.ArchiveMode,
	}, logger, m)
}

// NewWeatherClient builds the weather API client.
func NewWeatherClient(cfg *config.Config, logger logging.Logger, m *metrics.Collector) *weatherapi.Client {
	return weatherapi.NewClient(weatherapi.Config{
		BaseURL:        cfg.WeatherAPI.URL,
		APIKey:         cfg.WeatherAPI.APIKey,
		Timeout:        cfg.WeatherAPI.Timeout,
		MaxRetries:     cfg.WeatherAPI.MaxRetries,
		InitialBackoff: cfg.WeatherAPI.RetryBackoff,
	}, logger, m)
}

// NewRetriever builds the payload retriever. The Redis mirror is attached
// only when enabled and reachable. The returned func releases it.
func NewRetriever(ctx context.Context, cfg *config.Config, logger logging.Logger, m *metrics.Collector) (*retriever.Retriever, func(), error) {
	if err := cfg.WeatherAPI.RequireKey(); err != nil {
		return nil, nil, err
	}

	var mirror retriever.Cache
	release := func() {}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn(ctx, "[REDIS_UNAVAILABLE] Redis mirror disabled", logging.Fields{
				"addr":  cfg.Redis.Addr,
				"error": err.Error(),
			})
			client.Close()
		} else {
			mirror = retriever.NewRedisCache(client, cfg.Redis.TTL)
			release = func() { client.Close() }
		}
	}

	r := retriever.New(retriever.NewFileCache(cfg.Files.RawDir), mirror, NewWeatherClient(cfg, logger, m), logger, m)
	return r, release, nil
}

// NewFetchService wires retrieval and ingestion into the daily fetch.
func NewFetchService(ctx context.Context, cfg *config.Config, db *database.PostgresDB, logger logging.Logger, m *metrics.Collector) (*services.FetchService, func(), error) {
	r, release, err := NewRetriever(ctx, cfg, logger, m)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build retriever: %w", err)
	}
	return services.NewFetchService(r, NewIngestionService(cfg, db, logger, m), cfg.WeatherAPI.LatLong, logger, m), release, nil
}

// NewStatusRecorder builds the device status recorder. Status events go
// to Kafka when enabled and to every extra publisher. The returned func
// closes the producer.
func NewStatusRecorder(cfg *config.Config, db devices.SessionOpener, logger logging.Logger, m *metrics.Collector,
	extra ...devices.Publisher) (*devices.StatusRecorder, func()) {
	var publishers devices.Publishers
	release := func() {}
	if cfg.Kafka.Enabled {
		producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		release = func() {
			if err := producer.Close(); err != nil {
				logger.Warn(context.Background(), "[KAFKA_CLOSE_ERROR] Failed to close producer", logging.Fields{"error": err.Error()})
			}
		}
		publishers = append(publishers, producer)
	}
	for _, p := range extra {
		if p != nil {
			publishers = append(publishers, p)
		}
	}

	switch len(publishers) {
	case 0:
		return devices.NewStatusRecorder(db, nil, logger, m), release
	case 1:
		return devices.NewStatusRecorder(db, publishers[0], logger, m), release
	}
	return devices.NewStatusRecorder(db, publishers, logger, m), release
}

// NewBridge connects to the MQTT broker. The returned func disconnects.
func NewBridge(cfg *config.Config, logger logging.Logger, m *metrics.Collector) (*broker.Bridge, func(), error) {
	client, err := broker.Dial(cfg.MQTT)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := client.Close(); err != nil {
			logger.Warn(context.Background(), "[MQTT_CLOSE_ERROR] Failed to disconnect from broker", logging.Fields{"error": err.Error()})
		}
	}
	logger.Info(context.Background(), "[MQTT_CONNECTED] Connected to broker", logging.Fields{
		"broker":    cfg.MQTT.Broker,
		"client_id": cfg.MQTT.ClientID,
	})
	return broker.NewBridge(client, cfg.MQTT, logger, m), release, nil
}

// CommandRunner parses broker commands like devicectl arguments and
// applies them to hw.
func CommandRunner(cfg *config.Config, hw *Hardware) broker.CommandHandler {
	return func(ctx context.Context, args []string) error {
		cmd, err := ParseDeviceCommand(args, cfg)
		if err != nil {
			return err
		}
		return cmd.Execute(ctx, hw)
	}
}
