/**
 * @description
 * This package handles the configuration management for the claims-service.
 * It uses the Viper library to read configuration from environment variables
 * (plus an optional local .env file), providing a centralized and
 * straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the claims-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	JWTSecret          string `mapstructure:"JWT_SECRET"`
	AdminAPIKey        string `mapstructure:"ADMIN_API_KEY"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	DelayFeedExchange   string `mapstructure:"DELAY_FEED_EXCHANGE"`
	DelayFeedQueue      string `mapstructure:"DELAY_FEED_QUEUE"`
	ClaimEventsExchange string `mapstructure:"CLAIM_EVENTS_EXCHANGE"`

	EmailAPIBaseURL  string `mapstructure:"EMAIL_API_BASE_URL"`
	EmailAPIKey      string `mapstructure:"EMAIL_API_KEY"`
	EmailFromAddress string `mapstructure:"EMAIL_FROM_ADDRESS"`

	BrowserRuntimeURL           string `mapstructure:"BROWSER_RUNTIME_URL"`
	BrowserRuntimeAPIKey        string `mapstructure:"BROWSER_RUNTIME_API_KEY"`
	BrowserHeadless             bool   `mapstructure:"BROWSER_HEADLESS"`
	BrowserActionTimeoutSeconds int    `mapstructure:"BROWSER_ACTION_TIMEOUT_SECONDS"`
	AutomationEnabled           bool   `mapstructure:"AUTOMATION_ENABLED"`
	LiveSubmit                  bool   `mapstructure:"LIVE_SUBMIT"`

	MinDelayMinutes           int `mapstructure:"MIN_DELAY_MINUTES"`
	EligibilityLookbackHours  int `mapstructure:"ELIGIBILITY_LOOKBACK_HOURS"`
	EligibilityLookaheadHours int `mapstructure:"ELIGIBILITY_LOOKAHEAD_HOURS"`
	ArrivalGraceMinutes       int `mapstructure:"ARRIVAL_GRACE_MINUTES"`
	EventMatchWindowMinutes   int `mapstructure:"EVENT_MATCH_WINDOW_MINUTES"`

	LinkWindowDays       int `mapstructure:"LINK_WINDOW_DAYS"`
	LinkMaxScoreSeconds  int `mapstructure:"LINK_MAX_SCORE_SECONDS"`
	LinkMinMarginSeconds int `mapstructure:"LINK_MIN_MARGIN_SECONDS"`
	LinkBatchSize        int `mapstructure:"LINK_BATCH_SIZE"`

	MaxSubmitAttempts int     `mapstructure:"MAX_SUBMIT_ATTEMPTS"`
	MaxNotifyAttempts int     `mapstructure:"MAX_NOTIFY_ATTEMPTS"`
	FeePercent        float64 `mapstructure:"FEE_PERCENT"`
	CheckDelayHours   int     `mapstructure:"CHECK_DELAY_HOURS"`
	ReadyRecheckHours int     `mapstructure:"READY_RECHECK_HOURS"`

	ClaimRateLimitPerMinute int `mapstructure:"CLAIM_RATE_LIMIT_PER_MINUTE"`

	EligibilitySchedule string `mapstructure:"ELIGIBILITY_SCHEDULE"`
	LinkerSchedule      string `mapstructure:"LINKER_SCHEDULE"`
	DispatchSchedule    string `mapstructure:"DISPATCH_SCHEDULE"`
	NotifySchedule      string `mapstructure:"NOTIFY_SCHEDULE"`
	PurgeSchedule       string `mapstructure:"PURGE_SCHEDULE"`

	EventRetentionDays int `mapstructure:"EVENT_RETENTION_DAYS"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "fareguard:rate_limit")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "https://app.fareguard.app")
	viper.SetDefault("DELAY_FEED_EXCHANGE", "fareguard.feed")
	viper.SetDefault("DELAY_FEED_QUEUE", "claims_service.delay_events")
	viper.SetDefault("CLAIM_EVENTS_EXCHANGE", "fareguard.events")
	viper.SetDefault("EMAIL_FROM_ADDRESS", "claims@fareguard.app")
	viper.SetDefault("BROWSER_HEADLESS", true)
	viper.SetDefault("BROWSER_ACTION_TIMEOUT_SECONDS", 45)
	viper.SetDefault("AUTOMATION_ENABLED", true)
	// Live submission stays off until a human has verified the automation
	// against each operator portal.
	viper.SetDefault("LIVE_SUBMIT", false)
	viper.SetDefault("MIN_DELAY_MINUTES", 15)
	viper.SetDefault("ELIGIBILITY_LOOKBACK_HOURS", 48)
	viper.SetDefault("ELIGIBILITY_LOOKAHEAD_HOURS", 2)
	viper.SetDefault("ARRIVAL_GRACE_MINUTES", 20)
	viper.SetDefault("EVENT_MATCH_WINDOW_MINUTES", 120)
	viper.SetDefault("LINK_WINDOW_DAYS", 3)
	viper.SetDefault("LINK_MAX_SCORE_SECONDS", 900)
	viper.SetDefault("LINK_MIN_MARGIN_SECONDS", 120)
	viper.SetDefault("LINK_BATCH_SIZE", 200)
	viper.SetDefault("MAX_SUBMIT_ATTEMPTS", 8)
	viper.SetDefault("MAX_NOTIFY_ATTEMPTS", 7)
	viper.SetDefault("FEE_PERCENT", 20.0)
	viper.SetDefault("CHECK_DELAY_HOURS", 24)
	viper.SetDefault("READY_RECHECK_HOURS", 6)
	viper.SetDefault("CLAIM_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("ELIGIBILITY_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("LINKER_SCHEDULE", "*/15 * * * *")
	viper.SetDefault("DISPATCH_SCHEDULE", "*/2 * * * *")
	viper.SetDefault("NOTIFY_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("PURGE_SCHEDULE", "30 3 * * *")
	viper.SetDefault("EVENT_RETENTION_DAYS", 90)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("ADMIN_API_KEY")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("DELAY_FEED_EXCHANGE")
	_ = viper.BindEnv("DELAY_FEED_QUEUE")
	_ = viper.BindEnv("CLAIM_EVENTS_EXCHANGE")
	_ = viper.BindEnv("EMAIL_API_BASE_URL")
	_ = viper.BindEnv("EMAIL_API_KEY")
	_ = viper.BindEnv("EMAIL_FROM_ADDRESS")
	_ = viper.BindEnv("BROWSER_RUNTIME_URL")
	_ = viper.BindEnv("BROWSER_RUNTIME_API_KEY")
	_ = viper.BindEnv("BROWSER_HEADLESS")
	_ = viper.BindEnv("BROWSER_ACTION_TIMEOUT_SECONDS")
	_ = viper.BindEnv("AUTOMATION_ENABLED")
	_ = viper.BindEnv("LIVE_SUBMIT")
	_ = viper.BindEnv("MIN_DELAY_MINUTES")
	_ = viper.BindEnv("ELIGIBILITY_LOOKBACK_HOURS")
	_ = viper.BindEnv("ELIGIBILITY_LOOKAHEAD_HOURS")
	_ = viper.BindEnv("ARRIVAL_GRACE_MINUTES")
	_ = viper.BindEnv("EVENT_MATCH_WINDOW_MINUTES")
	_ = viper.BindEnv("LINK_WINDOW_DAYS")
	_ = viper.BindEnv("LINK_MAX_SCORE_SECONDS")
	_ = viper.BindEnv("LINK_MIN_MARGIN_SECONDS")
	_ = viper.BindEnv("LINK_BATCH_SIZE")
	_ = viper.BindEnv("MAX_SUBMIT_ATTEMPTS")
	_ = viper.BindEnv("MAX_NOTIFY_ATTEMPTS")
	_ = viper.BindEnv("FEE_PERCENT")
	_ = viper.BindEnv("CHECK_DELAY_HOURS")
	_ = viper.BindEnv("READY_RECHECK_HOURS")
	_ = viper.BindEnv("CLAIM_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("ELIGIBILITY_SCHEDULE")
	_ = viper.BindEnv("LINKER_SCHEDULE")
	_ = viper.BindEnv("DISPATCH_SCHEDULE")
	_ = viper.BindEnv("NOTIFY_SCHEDULE")
	_ = viper.BindEnv("PURGE_SCHEDULE")
	_ = viper.BindEnv("EVENT_RETENTION_DAYS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return Config{}, err
	}

	return config, nil
}
