package collector

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines collection loop configuration.
type Config struct {
	DeviceIDs    []string
	Interval     time.Duration
	MinVoltageOK float64
	MaxVoltageOK float64
	WebhookURL   string
}

type fileConfig struct {
	DeviceIDs       []string `yaml:"device_ids"`
	IntervalSeconds int      `yaml:"interval_seconds"`
	MinVoltageOK    float64  `yaml:"min_voltage_ok"`
	MaxVoltageOK    float64  `yaml:"max_voltage_ok"`
	WebhookURL      string   `yaml:"webhook_url"`
}

// LoadConfig loads collector config from env; COLLECTOR_CONFIG may point at a
// yaml file whose set fields override the env values.
func LoadConfig() (Config, error) {
	cfg := Config{
		DeviceIDs:    splitCSV(os.Getenv("DEVICE_IDS")),
		Interval:     time.Duration(getenvIntDefault("COLLECTION_INTERVAL", 300)) * time.Second,
		MinVoltageOK: getenvFloatDefault("ALERT_MIN_VOLTAGE", 0),
		MaxVoltageOK: getenvFloatDefault("ALERT_MAX_VOLTAGE", 0),
		WebhookURL:   os.Getenv("ALERT_WEBHOOK_URL"),
	}

	if path := os.Getenv("COLLECTOR_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var overlay fileConfig
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return cfg, err
		}
		if len(overlay.DeviceIDs) > 0 {
			cfg.DeviceIDs = overlay.DeviceIDs
		}
		if overlay.IntervalSeconds > 0 {
			cfg.Interval = time.Duration(overlay.IntervalSeconds) * time.Second
		}
		if overlay.MinVoltageOK != 0 {
			cfg.MinVoltageOK = overlay.MinVoltageOK
		}
		if overlay.MaxVoltageOK != 0 {
			cfg.MaxVoltageOK = overlay.MaxVoltageOK
		}
		if overlay.WebhookURL != "" {
			cfg.WebhookURL = overlay.WebhookURL
		}
	}

	if len(cfg.DeviceIDs) == 0 {
		return cfg, errors.New("collector: DEVICE_IDS is required (comma-separated list)")
	}
	if cfg.Interval <= 0 {
		return cfg, errors.New("collector: interval must be positive")
	}
	return cfg, nil
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
