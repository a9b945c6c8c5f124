package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

var Module = fx.Module("config", fx.Provide(Provide))

// Config represents application configuration, loaded from environment
// variables with an optional config file overlay.
type Config struct {
	AppEnv  string `mapstructure:"APP_ENV"`
	AppName string `mapstructure:"APP_NAME"`

	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`

	Database struct {
		Type     string `mapstructure:"TYPE"` // postgres, mysql or sqlite
		Host     string `mapstructure:"HOST"`
		Port     string `mapstructure:"PORT"`
		DBName   string `mapstructure:"DBNAME"`
		User     string `mapstructure:"USER"`
		Password string `mapstructure:"PASSWORD"`
		SSLMode  string `mapstructure:"SSLMODE"`
		Path     string `mapstructure:"PATH"` // sqlite only
	} `mapstructure:"DATABASE"`

	Redis struct {
		Addr     string `mapstructure:"ADDR"`
		Password string `mapstructure:"PASSWORD"`
		DB       int    `mapstructure:"DB"`
	} `mapstructure:"REDIS"`

	Snowflake struct {
		NodeID int64 `mapstructure:"NODE_ID"`
	} `mapstructure:"SNOWFLAKE"`

	// OperatorIDs is the set of identities granted the operator role,
	// comma-separated. An explicit configuration set, not mutable state.
	OperatorIDs string `mapstructure:"OPERATOR_IDS"`

	License struct {
		// KeyRetryLimit bounds how many times key generation retries after a
		// collision before the operation fails as fatal.
		KeyRetryLimit int `mapstructure:"KEY_RETRY_LIMIT"`
		// RevokedReadAccess keeps read access for members of a revoked
		// tenant until they are explicitly removed.
		RevokedReadAccess bool `mapstructure:"REVOKED_READ_ACCESS"`
	} `mapstructure:"LICENSE"`

	Pricing struct {
		OneMonth float64 `mapstructure:"ONE_MONTH"`
		SixMonth float64 `mapstructure:"SIX_MONTH"`
		Lifetime float64 `mapstructure:"LIFETIME"`
	} `mapstructure:"PRICING"`
}

// Operators returns the configured operator identity set.
func (c *Config) Operators() []string {
	if c.OperatorIDs == "" {
		return nil
	}
	parts := strings.Split(c.OperatorIDs, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Provide() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "workforce-controlplane")
	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("SNOWFLAKE.NODE_ID", 1)
	v.SetDefault("LICENSE.KEY_RETRY_LIMIT", 5)
	v.SetDefault("LICENSE.REVOKED_READ_ACCESS", false)
	v.SetDefault("PRICING.ONE_MONTH", 29.99)
	v.SetDefault("PRICING.SIX_MONTH", 149.99)
	v.SetDefault("PRICING.LIFETIME", 499.99)

	// A config file is optional; environment variables are authoritative.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
