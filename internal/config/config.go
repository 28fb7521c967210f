/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables, with an
 * optional .env file for local development.
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

// Config holds all the configuration variables for the service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange string `mapstructure:"NOTIFICATION_EXCHANGE"`

	DepositCodeSecret string `mapstructure:"DEPOSIT_CODE_SECRET"`
	DepositCodePrefix string `mapstructure:"DEPOSIT_CODE_PREFIX"`
	AdminJWTSecret    string `mapstructure:"ADMIN_JWT_SECRET"`

	RateLimitCapacity        int  `mapstructure:"RATE_LIMIT_CAPACITY"`
	RateLimitIntervalSeconds int  `mapstructure:"RATE_LIMIT_INTERVAL_SECONDS"`
	RateLimitMaxKeys         int  `mapstructure:"RATE_LIMIT_MAX_KEYS"`
	APIQuotaPerMinute        int  `mapstructure:"API_QUOTA_PER_MINUTE"`
	WebhookAuthRequired      bool `mapstructure:"WEBHOOK_AUTH_REQUIRED"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "dio:rate_limit")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "wallet_events")
	viper.SetDefault("DEPOSIT_CODE_PREFIX", "DIO")
	viper.SetDefault("RATE_LIMIT_CAPACITY", 100)
	viper.SetDefault("RATE_LIMIT_INTERVAL_SECONDS", 60)
	viper.SetDefault("RATE_LIMIT_MAX_KEYS", 10000)
	viper.SetDefault("API_QUOTA_PER_MINUTE", 300)
	viper.SetDefault("WEBHOOK_AUTH_REQUIRED", false)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("DEPOSIT_CODE_SECRET", "DEPOSIT_CODE_SECRET", "DEPOSIT_CODE_HMAC_SECRET")
	_ = viper.BindEnv("DEPOSIT_CODE_PREFIX")
	_ = viper.BindEnv("ADMIN_JWT_SECRET")
	_ = viper.BindEnv("RATE_LIMIT_CAPACITY")
	_ = viper.BindEnv("RATE_LIMIT_INTERVAL_SECONDS")
	_ = viper.BindEnv("RATE_LIMIT_MAX_KEYS")
	_ = viper.BindEnv("API_QUOTA_PER_MINUTE")
	_ = viper.BindEnv("WEBHOOK_AUTH_REQUIRED")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "dio:rate_limit"
	}
	config.DepositCodeSecret = strings.TrimSpace(config.DepositCodeSecret)
	config.DepositCodePrefix = strings.TrimSpace(config.DepositCodePrefix)
	if config.DepositCodePrefix == "" {
		config.DepositCodePrefix = "DIO"
	}

	return
}
