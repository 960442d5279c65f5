package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// MongoDB
	MongoURI      string
	MongoDatabase string

	// Redis config. An empty host disables the distributed rate limiter and
	// the daemon falls back to process-local token buckets.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// SQS config for retry nudges. An empty queue URL disables nudging.
	SQSRegion   string
	SQSQueueURL string

	// AWS Services
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string // AWS region for SNS (mobile push)

	// Telegram bot token. Empty disables the telegram channel.
	TelegramToken string

	// Cron specs for the scheduled jobs
	CronMaterialize string
	CronRetrySweep  string
	CronCleanup     string

	// Delivery worker
	DeliveryPollSeconds int
	DeliveryBatchSize   int
	DeliveryConcurrency int
	MaxAttempts         int
	ItemTimeoutSeconds  int

	// Materializer
	MaterializeWorkers int
	InstanceBatchSize  int
	DefaultDaysAhead   int
	Holidays           []string // MM-DD entries; empty means the built-in calendar

	// Retention
	FailedRetentionHours  int
	TerminalRetentionDays int
	ArchiveAfterDays      int

	// Per-channel delivery rates
	RateEmailPerMinute    int
	RatePushPerMinute     int
	RateTelegramPerMinute int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	// A missing .env file is fine; real environments set variables directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local mongo defaults
		MongoURI:      "mongodb://localhost:27017",
		MongoDatabase: "farrier",

		// Redis defaults
		RedisPort: 6379,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@farrier.local",

		CronMaterialize: "0 4 * * *",
		CronRetrySweep:  "0 * * * *",
		CronCleanup:     "30 3 * * *",

		DeliveryPollSeconds: 5,
		DeliveryBatchSize:   25,
		DeliveryConcurrency: 4,
		MaxAttempts:         5,
		ItemTimeoutSeconds:  10,

		MaterializeWorkers: 4,
		InstanceBatchSize:  400,
		DefaultDaysAhead:   14,

		FailedRetentionHours:  24,
		TerminalRetentionDays: 7,
		ArchiveAfterDays:      30,

		RateEmailPerMinute:    5,
		RatePushPerMinute:     60,
		RateTelegramPerMinute: 25,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// MongoDB config
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		cfg.MongoURI = uri
	}

	if name := os.Getenv("MONGO_DATABASE"); name != "" {
		cfg.MongoDatabase = name
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// SNS config for mobile push
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		cfg.TelegramToken = token
	}

	// Cron specs
	if spec := os.Getenv("CRON_MATERIALIZE"); spec != "" {
		cfg.CronMaterialize = spec
	}

	if spec := os.Getenv("CRON_RETRY_SWEEP"); spec != "" {
		cfg.CronRetrySweep = spec
	}

	if spec := os.Getenv("CRON_CLEANUP"); spec != "" {
		cfg.CronCleanup = spec
	}

	// Delivery worker config
	if v := os.Getenv("DELIVERY_POLL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_POLL_SECONDS: %w", err)
		}
		cfg.DeliveryPollSeconds = n
	}

	if v := os.Getenv("DELIVERY_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_BATCH_SIZE: %w", err)
		}
		cfg.DeliveryBatchSize = n
	}

	if v := os.Getenv("DELIVERY_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_CONCURRENCY: %w", err)
		}
		cfg.DeliveryConcurrency = n
	}

	if v := os.Getenv("MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_ATTEMPTS: %w", err)
		}
		cfg.MaxAttempts = n
	}

	if v := os.Getenv("ITEM_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ITEM_TIMEOUT_SECONDS: %w", err)
		}
		cfg.ItemTimeoutSeconds = n
	}

	// Materializer config
	if v := os.Getenv("MATERIALIZE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MATERIALIZE_WORKERS: %w", err)
		}
		cfg.MaterializeWorkers = n
	}

	if v := os.Getenv("INSTANCE_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid INSTANCE_BATCH_SIZE: %w", err)
		}
		cfg.InstanceBatchSize = n
	}

	if v := os.Getenv("DEFAULT_DAYS_AHEAD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_DAYS_AHEAD: %w", err)
		}
		cfg.DefaultDaysAhead = n
	}

	if v := os.Getenv("HOLIDAYS"); v != "" {
		for _, day := range strings.Split(v, ",") {
			if day = strings.TrimSpace(day); day != "" {
				cfg.Holidays = append(cfg.Holidays, day)
			}
		}
	}

	// Retention config
	if v := os.Getenv("FAILED_RETENTION_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FAILED_RETENTION_HOURS: %w", err)
		}
		cfg.FailedRetentionHours = n
	}

	if v := os.Getenv("TERMINAL_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TERMINAL_RETENTION_DAYS: %w", err)
		}
		cfg.TerminalRetentionDays = n
	}

	if v := os.Getenv("ARCHIVE_AFTER_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ARCHIVE_AFTER_DAYS: %w", err)
		}
		cfg.ArchiveAfterDays = n
	}

	// Per-channel rates
	if v := os.Getenv("RATE_EMAIL_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_EMAIL_PER_MINUTE: %w", err)
		}
		cfg.RateEmailPerMinute = n
	}

	if v := os.Getenv("RATE_PUSH_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_PUSH_PER_MINUTE: %w", err)
		}
		cfg.RatePushPerMinute = n
	}

	if v := os.Getenv("RATE_TELEGRAM_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_TELEGRAM_PER_MINUTE: %w", err)
		}
		cfg.RateTelegramPerMinute = n
	}

	return cfg, nil
}
