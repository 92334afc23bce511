// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is the full runtime configuration. Every field has an env tag; fields
// marked required abort startup when unset.
type Config struct {
	Port       string        `env:"PORT,default=8080"`
	GinMode    string        `env:"GIN_MODE,default=debug"`
	LogLevel   string        `env:"LOG_LEVEL,default=info"`
	LogFormat  string        `env:"LOG_FORMAT,default=text"`
	JWTSecret  string        `env:"JWT_SECRET,required"`
	JWTExpiry  time.Duration `env:"JWT_EXPIRY,default=720h"`
	CORSOrigin []string      `env:"CORS_ORIGINS,default=http://localhost:3000;http://localhost:5500;http://localhost:8080"`

	MongoURI      string `env:"MONGODB_URI,required"`
	MongoDatabase string `env:"MONGODB_DATABASE,default=campusconnect"`
	RedisURL      string `env:"REDIS_URL,default=redis://127.0.0.1:6379/0"`

	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	VAPIDSubscriber string `env:"VAPID_EMAIL,default=mailto:admin@campusconnect.app"`

	PaymentKeyID     string `env:"PAYMENT_KEY_ID"`
	PaymentKeySecret string `env:"PAYMENT_KEY_SECRET,default=dev-payment-secret"`

	// OTPEcho returns issued codes in the API response. Development only.
	OTPEcho bool `env:"OTP_ECHO,default=false"`

	SweepSchedule   string        `env:"SWEEP_SCHEDULE,default=@every 60s"`
	ChoiceGrace     time.Duration `env:"BLIND_CHOICE_GRACE,default=5m"`
	RateLimitPerSec int           `env:"RATE_LIMIT_PER_SEC,default=5"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST,default=20"`
}

// Load reads an optional .env file and decodes the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found, using process environment")
	}

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// ConfigureLogger applies level and format to the standard logrus logger.
func (c *Config) ConfigureLogger() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Release reports whether gin should run in release mode.
func (c *Config) Release() bool {
	return c.GinMode == "release"
}
