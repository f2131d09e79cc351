package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/parallaxhq/license-server/internal/api/http"
	"github.com/parallaxhq/license-server/internal/db"
)

type Config struct {
	Log     LogConfig
	Http    http.Config
	Db      db.Config
	Auth    AuthConfig    `mapstructure:"auth"`
	Signing SigningConfig `mapstructure:"signing"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Audit   AuditConfig   `mapstructure:"audit"`
}

type AuthConfig struct {
	JwtSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// SigningConfig holds the issuance seed. The seed never appears in the
// yaml file; it is bound to LICENSE_SIGNING_SEED only.
type SigningConfig struct {
	Seed string `mapstructure:"seed"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type AuditConfig struct {
	Dir string `mapstructure:"dir"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/license-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("db.url", "DATABASE_URL")
	_ = viper.BindEnv("signing.seed", "LICENSE_SIGNING_SEED")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("http.admin_api_key", "ADMIN_API_KEY")
	_ = viper.BindEnv("webhook.secret", "ORDER_WEBHOOK_SECRET")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	if config.Auth.TokenTTL <= 0 {
		config.Auth.TokenTTL = 24 * time.Hour
	}

	// Initialize logger with configured log level
	initLogger(config.Log.Level)

	// Pretty print config as JSON (only at DEBUG level), secrets elided
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		redacted := config
		redacted.Signing.Seed = ""
		redacted.Auth.JwtSecret = ""
		redacted.Webhook.Secret = ""
		redacted.Http.AdminAPIKey = ""
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
