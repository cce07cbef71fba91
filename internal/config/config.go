package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the fleetguard service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Outlier   OutlierConfig   `yaml:"outlier"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Assist    AssistConfig    `yaml:"assist"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ProfileConfig declares the behaviour envelope for one entity.
type ProfileConfig struct {
	MaxCallsPerMinute int      `yaml:"maxCallsPerMinute"`
	AllowedActions    []string `yaml:"allowedActions"`
}

// MonitorConfig controls the activity ledger and policy evaluation.
type MonitorConfig struct {
	LedgerCapacity int                      `yaml:"ledgerCapacity"`
	RateWindow     time.Duration            `yaml:"rateWindow"`
	Profiles       map[string]ProfileConfig `yaml:"profiles"`
}

// OutlierConfig controls the statistical outlier scorer.
type OutlierConfig struct {
	Enabled    bool    `yaml:"enabled"`
	ModelPath  string  `yaml:"modelPath"`
	Threshold  float64 `yaml:"threshold"`
	Trees      int     `yaml:"trees"`
	SampleSize int     `yaml:"sampleSize"`
	MinHistory int     `yaml:"minHistory"`
}

// AlertsConfig controls where anomaly reports are escalated.
type AlertsConfig struct {
	Sink       string        `yaml:"sink"`
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgresDSN"`
}

// CacheConfig controls Redis-backed caching of status lookups.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AssistConfig configures the optional chat-completion backend used for
// customer-facing message rendering.
type AssistConfig struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// SchedulerConfig controls maintenance slot generation.
type SchedulerConfig struct {
	OpeningHour int `yaml:"openingHour"`
	ClosingHour int `yaml:"closingHour"`
	HorizonDays int `yaml:"horizonDays"`
}

// SimulatorConfig controls the local-dev fleet generator.
type SimulatorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FLEETGUARD_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	// A file that names any profile supplies the whole set.
	if len(cfg.Monitor.Profiles) == 0 {
		cfg.Monitor.Profiles = DefaultProfiles()
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":9090",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Monitor: MonitorConfig{
			LedgerCapacity: 10000,
			RateWindow:     time.Minute,
		},
		Outlier: OutlierConfig{
			Enabled:    true,
			ModelPath:  "models/behavior_model.json",
			Threshold:  0.65,
			Trees:      100,
			SampleSize: 256,
			MinHistory: 5,
		},
		Alerts: AlertsConfig{Sink: "log", Timeout: 5 * time.Second},
		Store:  StoreConfig{Driver: "memory"},
		Cache: CacheConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     30 * time.Second,
		},
		Assist: AssistConfig{
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			OpeningHour: 9,
			ClosingHour: 17,
			HorizonDays: 7,
		},
		Simulator: SimulatorConfig{Enabled: false, Interval: 5 * time.Second},
	}
}

// DefaultProfiles returns the behaviour envelopes for the built-in agents.
func DefaultProfiles() map[string]ProfileConfig {
	return map[string]ProfileConfig{
		"master_agent": {
			MaxCallsPerMinute: 100,
			AllowedActions: []string{
				"process_telematics_data",
				"handle_customer_query",
				"schedule_maintenance",
				"submit_feedback",
				"get_vehicle_status",
			},
		},
		"data_analysis_agent": {
			MaxCallsPerMinute: 200,
			AllowedActions:    []string{"analyze_data", "get_latest_analysis"},
		},
		"diagnosis_agent": {
			MaxCallsPerMinute: 100,
			AllowedActions:    []string{"predict_failures", "get_predictions"},
		},
		"customer_agent": {
			MaxCallsPerMinute: 50,
			AllowedActions:    []string{"process_message", "send_alert"},
		},
		"scheduling_agent": {
			MaxCallsPerMinute: 30,
			AllowedActions: []string{
				"schedule_appointment",
				"auto_schedule",
				"get_available_slots",
				"cancel_appointment",
			},
		},
		"feedback_agent": {
			MaxCallsPerMinute: 20,
			AllowedActions:    []string{"process_feedback", "get_feedback_summary"},
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEETGUARD_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("FLEETGUARD_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("FLEETGUARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLEETGUARD_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("FLEETGUARD_LEDGER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.LedgerCapacity = n
		}
	}
	if v := os.Getenv("FLEETGUARD_MODEL_PATH"); v != "" {
		cfg.Outlier.ModelPath = v
	}
	if v := os.Getenv("FLEETGUARD_OUTLIER_ENABLED"); v != "" {
		cfg.Outlier.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("FLEETGUARD_ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Sink = "webhook"
		cfg.Alerts.WebhookURL = v
	}
	if v := os.Getenv("FLEETGUARD_POSTGRES_DSN"); v != "" {
		cfg.Store.Driver = "postgres"
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("FLEETGUARD_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("FLEETGUARD_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("FLEETGUARD_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("FLEETGUARD_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("FLEETGUARD_ASSIST_BASE_URL"); v != "" {
		cfg.Assist.BaseURL = v
	}
	if v := os.Getenv("FLEETGUARD_ASSIST_API_KEY"); v != "" {
		cfg.Assist.APIKey = v
	}
	if v := os.Getenv("FLEETGUARD_SIMULATOR_ENABLED"); v != "" {
		cfg.Simulator.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
}

func (c *Config) validate() error {
	if c.Monitor.LedgerCapacity <= 0 {
		return fmt.Errorf("monitor.ledgerCapacity must be positive, got %d", c.Monitor.LedgerCapacity)
	}
	if c.Monitor.RateWindow <= 0 {
		return fmt.Errorf("monitor.rateWindow must be positive, got %s", c.Monitor.RateWindow)
	}
	if c.Outlier.Threshold <= 0 || c.Outlier.Threshold > 1 {
		return fmt.Errorf("outlier.threshold must be in (0, 1], got %g", c.Outlier.Threshold)
	}
	if c.Scheduler.OpeningHour < 0 || c.Scheduler.ClosingHour > 24 || c.Scheduler.OpeningHour >= c.Scheduler.ClosingHour {
		return fmt.Errorf("scheduler hours %d-%d are not a valid window", c.Scheduler.OpeningHour, c.Scheduler.ClosingHour)
	}
	switch c.Alerts.Sink {
	case "", "log":
	case "webhook":
		if c.Alerts.WebhookURL == "" {
			return fmt.Errorf("alerts.webhookURL required for webhook sink")
		}
	default:
		return fmt.Errorf("alerts.sink %q not recognised", c.Alerts.Sink)
	}
	switch c.Store.Driver {
	case "", "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgresDSN required for postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q not recognised", c.Store.Driver)
	}
	return nil
}
