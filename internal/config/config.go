package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURI   string
	TelegramToken string
	Timezone      string
	AIAPIKey      string
	AIBaseURL     string
	AIModel       string
	LogLevel      string
	LogFormat     string
	LogFile       string
	MetricsAddr   string
	SendRate      float64 // messages per second
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	sendRate, err := strconv.ParseFloat(getEnvOrDefault("SEND_RATE", "20"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SEND_RATE: %w", err)
	}

	return &Config{
		DatabaseURI:   getEnvOrDefault("DATABASE_URI", "reminders.db"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		Timezone:      getEnvOrDefault("TIMEZONE", "Europe/Kyiv"),
		AIAPIKey:      os.Getenv("AI_API_KEY"),
		AIBaseURL:     getEnvOrDefault("AI_BASE_URL", "https://api.openai.com/v1"),
		AIModel:       getEnvOrDefault("AI_MODEL", "gpt-4o"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:     getEnvOrDefault("LOG_FORMAT", "console"),
		LogFile:       os.Getenv("LOG_FILE"),
		MetricsAddr:   os.Getenv("METRICS_ADDR"),
		SendRate:      sendRate,
	}, nil
}

// Validate reports the first missing or malformed setting.
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_TOKEN is required")
	}
	if c.DatabaseURI == "" {
		return errors.New("DATABASE_URI is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q (want console or json)", c.LogFormat)
	}
	if c.SendRate <= 0 {
		return fmt.Errorf("SEND_RATE must be positive, got %v", c.SendRate)
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
