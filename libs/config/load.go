package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Load fills cfg from the environment. A .env file in the working directory,
// when present, is applied first without overriding variables already set.
func Load(cfg any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// Broker selects and configures the message broker shared by publishers and subscribers.
type Broker struct {
	Kind            string   `env:"BROKER_KIND" envDefault:"kafka"`
	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	RabbitURL       string   `env:"RABBITMQ_URL"`
	ConsumerGroup   string   `env:"CONSUMER_GROUP"`
	ConsumerMembers int      `env:"CONSUMER_MEMBERS" envDefault:"1"`
}

type Outbox struct {
	Delivery        string        `env:"EVENTS_DELIVERY" envDefault:"outbox"`
	PollInterval    time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	CleanupInterval time.Duration `env:"OUTBOX_CLEANUP_INTERVAL" envDefault:"1h"`
	Retention       time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"`
	BatchSize       int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxAttempts     int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"10"`
}

// Consumer holds the default retry policy knobs for event handlers.
type Consumer struct {
	MaxAttempts    int           `env:"CONSUMER_MAX_ATTEMPTS" envDefault:"5"`
	HandlerTimeout time.Duration `env:"CONSUMER_HANDLER_TIMEOUT" envDefault:"10s"`
	BackoffInitial time.Duration `env:"CONSUMER_BACKOFF_INITIAL" envDefault:"200ms"`
	BackoffMax     time.Duration `env:"CONSUMER_BACKOFF_MAX" envDefault:"5s"`
}

type DeadLetterArchive struct {
	Enabled   bool   `env:"DLQ_ARCHIVE_ENABLED" envDefault:"false"`
	Endpoint  string `env:"DLQ_ARCHIVE_S3_ENDPOINT"`
	Region    string `env:"DLQ_ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"DLQ_ARCHIVE_S3_ACCESS_KEY"`
	SecretKey string `env:"DLQ_ARCHIVE_S3_SECRET_KEY"`
	Bucket    string `env:"DLQ_ARCHIVE_S3_BUCKET" envDefault:"schoolsync-dead-letters"`
}
