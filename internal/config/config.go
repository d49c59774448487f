/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the verification-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	SubmissionJobQueue   string `mapstructure:"SUBMISSION_JOB_QUEUE"`
	VerificationExchange string `mapstructure:"VERIFICATION_EXCHANGE"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	JWKSURL        string `mapstructure:"JWKS_URL"`
	AdminRoleClaim string `mapstructure:"ADMIN_ROLE_CLAIM"`

	VisionAPIBaseURL string `mapstructure:"VISION_API_BASE_URL"`
	VisionAPIKey     string `mapstructure:"VISION_API_KEY"`

	TrustedBlobHost string `mapstructure:"TRUSTED_BLOB_HOST"`

	// Receiving wallet display info snapshotted onto new orders.
	ReceivingProvider      string `mapstructure:"RECEIVING_PROVIDER"`
	ReceivingAccountName   string `mapstructure:"RECEIVING_ACCOUNT_NAME"`
	ReceivingAccountNumber string `mapstructure:"RECEIVING_ACCOUNT_NUMBER"`

	// Order manager policy.
	OrderExpiryMinutes int   `mapstructure:"ORDER_EXPIRY_MINUTES"`
	TopUpMaxAmount     int64 `mapstructure:"TOPUP_MAX_AMOUNT_CENTAVOS"`
	TopUpDailyLimit    int   `mapstructure:"TOPUP_DAILY_LIMIT"`

	// Fraud scoring thresholds.
	AutoApproveThreshold int `mapstructure:"AUTO_APPROVE_THRESHOLD"`
	AutoRejectThreshold  int `mapstructure:"AUTO_REJECT_THRESHOLD"`
	MinOCRConfidence     int `mapstructure:"MIN_OCR_CONFIDENCE"`

	// Forensics: normalized Hamming distance at or below which two perceptual
	// hashes count as similar. Zero distance is an exact duplicate.
	SimilarHashDistance float64 `mapstructure:"SIMILAR_HASH_DISTANCE"`

	// Validation freshness window for the receipt timestamp, in hours.
	ReceiptFreshnessHours int `mapstructure:"RECEIPT_FRESHNESS_HOURS"`

	// Velocity rule: submissions per account per rolling hour.
	SubmissionVelocityLimit int `mapstructure:"SUBMISSION_VELOCITY_LIMIT"`

	// New-account-plus-high-value rule.
	NewAccountAgeDays int   `mapstructure:"NEW_ACCOUNT_AGE_DAYS"`
	HighValueAmount   int64 `mapstructure:"HIGH_VALUE_AMOUNT_CENTAVOS"`

	// Outstanding-fee exposure caps, in centavos.
	FeeCapUnverified  int64 `mapstructure:"FEE_CAP_UNVERIFIED_CENTAVOS"`
	FeeCapNewAccount  int64 `mapstructure:"FEE_CAP_NEW_ACCOUNT_CENTAVOS"`
	FeeCapEstablished int64 `mapstructure:"FEE_CAP_ESTABLISHED_CENTAVOS"`

	// Worker schedules (cron specs) and batch size for reconciliation.
	FeeReconcileSchedule string `mapstructure:"FEE_RECONCILE_SCHEDULE"`
	OrderExpirySchedule  string `mapstructure:"ORDER_EXPIRY_SCHEDULE"`
	ReconcileBatchSize   int    `mapstructure:"RECONCILE_BATCH_SIZE"`

	// Pipeline wall-clock ceiling, in seconds.
	PipelineTimeoutSeconds int `mapstructure:"PIPELINE_TIMEOUT_SECONDS"`

	// Platform settings cache TTL, in seconds.
	SettingsCacheTTLSeconds int `mapstructure:"SETTINGS_CACHE_TTL_SECONDS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SUBMISSION_JOB_QUEUE", "verification_service.submission_jobs")
	viper.SetDefault("VERIFICATION_EXCHANGE", "verification_events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "padala:rate_limit")
	viper.SetDefault("ADMIN_ROLE_CLAIM", "admin")
	viper.SetDefault("RECEIVING_PROVIDER", "GCash")
	viper.SetDefault("ORDER_EXPIRY_MINUTES", 60)
	viper.SetDefault("TOPUP_MAX_AMOUNT_CENTAVOS", 5000000) // PHP 50,000
	viper.SetDefault("TOPUP_DAILY_LIMIT", 10)
	viper.SetDefault("AUTO_APPROVE_THRESHOLD", 20)
	viper.SetDefault("AUTO_REJECT_THRESHOLD", 70)
	viper.SetDefault("MIN_OCR_CONFIDENCE", 60)
	viper.SetDefault("SIMILAR_HASH_DISTANCE", 0.15)
	viper.SetDefault("RECEIPT_FRESHNESS_HOURS", 24)
	viper.SetDefault("SUBMISSION_VELOCITY_LIMIT", 5)
	viper.SetDefault("NEW_ACCOUNT_AGE_DAYS", 7)
	viper.SetDefault("HIGH_VALUE_AMOUNT_CENTAVOS", 1000000)   // PHP 10,000
	viper.SetDefault("FEE_CAP_UNVERIFIED_CENTAVOS", 200000)   // PHP 2,000
	viper.SetDefault("FEE_CAP_NEW_ACCOUNT_CENTAVOS", 500000)  // PHP 5,000
	viper.SetDefault("FEE_CAP_ESTABLISHED_CENTAVOS", 2000000) // PHP 20,000
	viper.SetDefault("FEE_RECONCILE_SCHEDULE", "@every 15m")
	viper.SetDefault("ORDER_EXPIRY_SCHEDULE", "@every 5m")
	viper.SetDefault("RECONCILE_BATCH_SIZE", 100)
	viper.SetDefault("PIPELINE_TIMEOUT_SECONDS", 120)
	viper.SetDefault("SETTINGS_CACHE_TTL_SECONDS", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "VERIFICATION_REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SUBMISSION_JOB_QUEUE")
	_ = viper.BindEnv("VERIFICATION_EXCHANGE")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("ADMIN_ROLE_CLAIM")
	_ = viper.BindEnv("VISION_API_BASE_URL")
	_ = viper.BindEnv("VISION_API_KEY")
	_ = viper.BindEnv("TRUSTED_BLOB_HOST")
	_ = viper.BindEnv("RECEIVING_PROVIDER")
	_ = viper.BindEnv("RECEIVING_ACCOUNT_NAME")
	_ = viper.BindEnv("RECEIVING_ACCOUNT_NUMBER")
	_ = viper.BindEnv("ORDER_EXPIRY_MINUTES")
	_ = viper.BindEnv("TOPUP_MAX_AMOUNT_CENTAVOS")
	_ = viper.BindEnv("TOPUP_DAILY_LIMIT")
	_ = viper.BindEnv("AUTO_APPROVE_THRESHOLD")
	_ = viper.BindEnv("AUTO_REJECT_THRESHOLD")
	_ = viper.BindEnv("MIN_OCR_CONFIDENCE")
	_ = viper.BindEnv("SIMILAR_HASH_DISTANCE")
	_ = viper.BindEnv("RECEIPT_FRESHNESS_HOURS")
	_ = viper.BindEnv("SUBMISSION_VELOCITY_LIMIT")
	_ = viper.BindEnv("NEW_ACCOUNT_AGE_DAYS")
	_ = viper.BindEnv("HIGH_VALUE_AMOUNT_CENTAVOS")
	_ = viper.BindEnv("FEE_CAP_UNVERIFIED_CENTAVOS")
	_ = viper.BindEnv("FEE_CAP_NEW_ACCOUNT_CENTAVOS")
	_ = viper.BindEnv("FEE_CAP_ESTABLISHED_CENTAVOS")
	_ = viper.BindEnv("FEE_RECONCILE_SCHEDULE")
	_ = viper.BindEnv("ORDER_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_BATCH_SIZE")
	_ = viper.BindEnv("PIPELINE_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SETTINGS_CACHE_TTL_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	// Platform-as-a-service deployments inject PORT; prefer it when present.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.TrustedBlobHost = strings.TrimSpace(config.TrustedBlobHost)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "padala:rate_limit"
	}

	// The reject threshold must sit above the approve threshold or every score
	// in between loses its manual-review band.
	if config.AutoRejectThreshold <= config.AutoApproveThreshold {
		config.AutoRejectThreshold = config.AutoApproveThreshold + 1
	}

	return
}
