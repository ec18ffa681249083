package config

import (
	"errors"
	"log"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Skotchmaster/restaurant/pkg/config"
)

type ServiceConfig struct {
	config.Config

	KafkaTopic   string
	KafkaGroupID string
	// NotifyChannel is the LISTEN/NOTIFY channel used when Kafka is off.
	NotifyChannel string

	ESURL      string
	ESUser     string
	ESPassword string
	ESIndex    string

	RedisAddr     string
	RedisPassword string

	StaffRoles []string

	PublishTimeout time.Duration
	DBTimeout      time.Duration

	UnpaidOrderTTL time.Duration
	SweepSchedule  string
	SweepBatch     int
}

func FromEnv() ServiceConfig {
	return ServiceConfig{
		Config: config.Load(),

		KafkaTopic:    config.EnvDefault("KAFKA_ORDER_TOPIC", "order-events"),
		KafkaGroupID:  config.EnvDefault("KAFKA_GROUP_ID", ""),
		NotifyChannel: config.EnvDefault("NOTIFY_CHANNEL", "order_events"),

		ESURL:      config.EnvDefault("ES_URL", ""),
		ESUser:     config.EnvDefault("ES_USER", ""),
		ESPassword: config.EnvDefault("ES_PASSWORD", ""),
		ESIndex:    config.EnvDefault("ES_INDEX", "orders"),

		RedisAddr:     config.EnvDefault("REDIS_ADDR", ""),
		RedisPassword: config.EnvDefault("REDIS_PASSWORD", ""),

		StaffRoles: config.CSV(config.EnvDefault("STAFF_ROLES", "admin,staff,kitchen")),

		PublishTimeout: config.EnvDurationDefault("PUBLISH_TIMEOUT", 3*time.Second),
		DBTimeout:      config.EnvDurationDefault("DB_TIMEOUT", 5*time.Second),

		UnpaidOrderTTL: config.EnvDurationDefault("UNPAID_ORDER_TTL", 30*time.Minute),
		SweepSchedule:  config.EnvDefault("SWEEP_SCHEDULE", "0 */1 * * * *"),
		SweepBatch:     config.EnvIntDefault("SWEEP_BATCH", 100),
	}
}

func (c ServiceConfig) Validate() error {
	errs := []error{
		config.NonEmpty(c.DatabaseURL, "DATABASE_URL"),
		config.NonEmpty(string(c.JWTAccessSecret), "JWT_SECRET"),
	}
	if len(c.KafkaBrokers) > 0 {
		errs = append(errs, config.NonEmpty(c.KafkaTopic, "KAFKA_ORDER_TOPIC"))
	}
	if !slices.Contains(c.StaffRoles, "admin") {
		errs = append(errs, errors.New("STAFF_ROLES must include admin"))
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.SweepSchedule); err != nil {
		errs = append(errs, errors.New("SWEEP_SCHEDULE: "+err.Error()))
	}
	return errors.Join(errs...)
}

// Load reads .env and the environment and exits on invalid configuration.
func Load() ServiceConfig {
	config.LoadEnvFile(".env")
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}
