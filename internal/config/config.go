package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path           string `yaml:"path"`
	RetentionMode  string `yaml:"retention_mode"`
	RetentionDays  int    `yaml:"retention_days"`
	MaxAssessments int    `yaml:"max_assessments"`
	VacuumOnStart  bool   `yaml:"vacuum_on_start"`
}

type RecognitionConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Mode         string `yaml:"mode"` // mock, bus, exec
	Command      string `yaml:"command"`
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	MaxRetries   int    `yaml:"max_retries"`
	RetryDelayMS int    `yaml:"retry_delay_ms"`
}

type AnalysisConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Mode        string  `yaml:"mode"` // mock, ollama, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type DetectorsConfig struct {
	HeartbeatTimeout int `yaml:"heartbeat_timeout_ms"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Store       StoreConfig       `yaml:"store"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Detectors   DetectorsConfig   `yaml:"detectors"`
}

func Default() Config {
	return Config{
		RuntimeName: "strokesense-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:           "./data/assessments.db",
			RetentionMode:  "persistent",
			RetentionDays:  30,
			MaxAssessments: 10000,
		},
		Recognition: RecognitionConfig{
			Enabled:      true,
			Mode:         "bus",
			SampleRate:   16000,
			Channels:     1,
			MaxRetries:   3,
			RetryDelayMS: 1000,
		},
		Analysis: AnalysisConfig{
			Enabled:     true,
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   512,
			Temperature: 0.2,
			TimeoutMS:   30000,
		},
		Detectors: DetectorsConfig{
			HeartbeatTimeout: 6000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "STROKESENSE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "STROKESENSE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "STROKESENSE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "STROKESENSE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "STROKESENSE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "STROKESENSE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "STROKESENSE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "STROKESENSE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "STROKESENSE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "STROKESENSE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "STROKESENSE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "STROKESENSE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "STROKESENSE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "STROKESENSE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "STROKESENSE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "STROKESENSE_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "STROKESENSE_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "STROKESENSE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxAssessments, "STROKESENSE_STORE_MAX_ASSESSMENTS")
	overrideBool(&cfg.Store.VacuumOnStart, "STROKESENSE_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Recognition.Enabled, "STROKESENSE_RECOGNITION_ENABLED")
	overrideString(&cfg.Recognition.Mode, "STROKESENSE_RECOGNITION_MODE")
	overrideString(&cfg.Recognition.Command, "STROKESENSE_RECOGNITION_COMMAND")
	overrideInt(&cfg.Recognition.SampleRate, "STROKESENSE_RECOGNITION_SAMPLE_RATE")
	overrideInt(&cfg.Recognition.Channels, "STROKESENSE_RECOGNITION_CHANNELS")
	overrideInt(&cfg.Recognition.MaxRetries, "STROKESENSE_RECOGNITION_MAX_RETRIES")
	overrideInt(&cfg.Recognition.RetryDelayMS, "STROKESENSE_RECOGNITION_RETRY_DELAY_MS")
	overrideBool(&cfg.Analysis.Enabled, "STROKESENSE_ANALYSIS_ENABLED")
	overrideString(&cfg.Analysis.Mode, "STROKESENSE_ANALYSIS_MODE")
	overrideString(&cfg.Analysis.Endpoint, "STROKESENSE_ANALYSIS_ENDPOINT")
	overrideString(&cfg.Analysis.Command, "STROKESENSE_ANALYSIS_COMMAND")
	overrideString(&cfg.Analysis.Model, "STROKESENSE_ANALYSIS_MODEL")
	overrideInt(&cfg.Analysis.MaxTokens, "STROKESENSE_ANALYSIS_MAX_TOKENS")
	overrideFloat(&cfg.Analysis.Temperature, "STROKESENSE_ANALYSIS_TEMPERATURE")
	overrideInt(&cfg.Analysis.TimeoutMS, "STROKESENSE_ANALYSIS_TIMEOUT_MS")
	overrideInt(&cfg.Detectors.HeartbeatTimeout, "STROKESENSE_DETECTORS_HEARTBEAT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" && cfg.Store.RetentionMode != "ephemeral" {
		return errors.New("store.path must not be empty unless retention_mode is ephemeral")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Store.MaxAssessments < 0 {
		return errors.New("store.max_assessments must be >= 0")
	}
	if cfg.Recognition.Enabled {
		switch cfg.Recognition.Mode {
		case "mock", "bus", "exec":
		default:
			return errors.New("recognition.mode must be one of mock|bus|exec")
		}
		if cfg.Recognition.Mode == "exec" && cfg.Recognition.Command == "" {
			return errors.New("recognition.command must be set when mode=exec")
		}
		if cfg.Recognition.SampleRate <= 0 {
			return errors.New("recognition.sample_rate must be positive")
		}
		if cfg.Recognition.Channels <= 0 {
			return errors.New("recognition.channels must be positive")
		}
		if cfg.Recognition.MaxRetries < 0 {
			return errors.New("recognition.max_retries must be >= 0")
		}
		if cfg.Recognition.RetryDelayMS < 0 {
			return errors.New("recognition.retry_delay_ms must be >= 0")
		}
	}
	if cfg.Analysis.Enabled {
		switch cfg.Analysis.Mode {
		case "mock", "ollama", "exec":
		default:
			return errors.New("analysis.mode must be one of mock|ollama|exec")
		}
		if cfg.Analysis.Mode == "ollama" && cfg.Analysis.Endpoint == "" {
			return errors.New("analysis.endpoint must be set when mode=ollama")
		}
		if cfg.Analysis.Mode == "exec" && cfg.Analysis.Command == "" {
			return errors.New("analysis.command must be set when mode=exec")
		}
		if cfg.Analysis.MaxTokens < 0 {
			return errors.New("analysis.max_tokens must be >= 0")
		}
		if cfg.Analysis.TimeoutMS <= 0 {
			return errors.New("analysis.timeout_ms must be positive")
		}
	}
	if cfg.Detectors.HeartbeatTimeout <= 0 {
		return errors.New("detectors.heartbeat_timeout_ms must be positive")
	}
	return nil
}
