package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/park285/chess-gamelog/internal/gamelog"
	"github.com/park285/chess-gamelog/internal/obslog"
)

type LogConfig struct {
	Level     string `yaml:"level" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn warning error dpanic panic fatal"`
	Format    string `yaml:"format" env:"LOG_FORMAT" validate:"omitempty,oneof=legacy json console"`
	ToConsole bool   `yaml:"to_console" env:"LOG_TO_CONSOLE"`
	ToFile    bool   `yaml:"to_file" env:"LOG_TO_FILE"`
	File      string `yaml:"file" env:"LOG_FILE"`
	Caller    bool   `yaml:"caller" env:"LOG_CALLER"`
}

func (c LogConfig) Options() obslog.Options {
	return obslog.Options{
		Level:     c.Level,
		Format:    c.Format,
		ToConsole: c.ToConsole,
		ToFile:    c.ToFile,
		File:      c.File,
		Caller:    c.Caller,
	}
}

type AppConfig struct {
	DBPath      string        `yaml:"db_path" env:"GAMELOG_DB_PATH" validate:"required"`
	BusyTimeout time.Duration `yaml:"busy_timeout" env:"GAMELOG_BUSY_TIMEOUT" validate:"gt=0"`
	BotName     string        `yaml:"bot_name" env:"GAMELOG_BOT_NAME" validate:"max=64"`

	// optional mirrors; empty disables them
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL" validate:"omitempty,url"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL" validate:"omitempty,url"`

	Log LogConfig `yaml:"log"`
}

func defaults() *AppConfig {
	lo := obslog.DefaultOptions()
	return &AppConfig{
		DBPath:      gamelog.DefaultPath,
		BusyTimeout: gamelog.DefaultBusyTimeout,
		Log: LogConfig{
			Level:     lo.Level,
			Format:    lo.Format,
			ToConsole: lo.ToConsole,
			ToFile:    lo.ToFile,
			File:      lo.File,
		},
	}
}

// Load applies defaults, then the YAML file named by GAMELOG_CONFIG_FILE (if any), then the
// environment.
func Load() (*AppConfig, error) {
	return LoadFile(strings.TrimSpace(os.Getenv("GAMELOG_CONFIG_FILE")))
}

func LoadFile(path string) (*AppConfig, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.DBPath = strings.TrimSpace(cfg.DBPath)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

func validateConfig(cfg *AppConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	var details strings.Builder
	for _, fe := range verrs {
		if details.Len() > 0 {
			details.WriteString("; ")
		}
		switch fe.Tag() {
		case "required":
			details.WriteString(fmt.Sprintf("%s is required", fe.Namespace()))
		case "oneof":
			details.WriteString(fmt.Sprintf("%s must be one of [%s]", fe.Namespace(), fe.Param()))
		case "gt":
			details.WriteString(fmt.Sprintf("%s must be positive", fe.Namespace()))
		default:
			details.WriteString(fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", details.String())
}
