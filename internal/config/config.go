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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Auth        AuthConfig       `yaml:"auth"`
	API         APIConfig        `yaml:"api"`
	NLP         NLPConfig        `yaml:"nlp"`
	Audio       AudioConfig      `yaml:"audio"`
	Engine      EngineConfig     `yaml:"engine"`
	Session     SessionConfig    `yaml:"session"`
	Speak       SpeakConfig      `yaml:"speak"`
	EventStore  EventStoreConfig `yaml:"event_store"`
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

type AuthConfig struct {
	TokenFile string `yaml:"token_file"`
}

// APIConfig points at the products/sales REST backend.
type APIConfig struct {
	BaseURL      string `yaml:"base_url"`
	TimeoutMS    int    `yaml:"timeout_ms"`
	ProductLimit int    `yaml:"product_limit"`
	SalesLimit   int    `yaml:"sales_limit"`
}

// NLPConfig points at the interpretation/confirmation backend.
type NLPConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

// EngineConfig selects and parameterizes the transcription backend.
type EngineConfig struct {
	Mode           string   `yaml:"mode"` // local, streaming, mock
	Command        string   `yaml:"command"`
	ModelPath      string   `yaml:"model_path"`
	SocketURL      string   `yaml:"socket_url"`
	Language       string   `yaml:"language"`
	Languages      []string `yaml:"languages"`
	ChunkEveryMS   int      `yaml:"chunk_every_ms"`
	PublishInterim bool     `yaml:"publish_interim"`
}

type SessionConfig struct {
	AutoRestart       bool `yaml:"auto_restart"`
	WatchdogPeriodMS  int  `yaml:"watchdog_period_ms"`
	IdleThresholdMS   int  `yaml:"idle_threshold_ms"`
	RestartSettleMS   int  `yaml:"restart_settle_ms"`
	MaxNetworkRetries int  `yaml:"max_network_retries"`
}

type SpeakConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "salestalk-core",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		API: APIConfig{
			BaseURL:      "https://apisalestalk.onrender.com",
			TimeoutMS:    10000,
			ProductLimit: 100,
			SalesLimit:   50,
		},
		NLP: NLPConfig{
			BaseURL:   "https://apisalestalk.onrender.com",
			TimeoutMS: 15000,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 1024,
		},
		Engine: EngineConfig{
			Mode:     "mock",
			Language: "es-ES",
			Languages: []string{
				"es-ES", "es-MX", "es-PE", "es-AR", "es-CO", "en-US",
			},
			ChunkEveryMS:   800,
			PublishInterim: true,
		},
		Session: SessionConfig{
			AutoRestart:       true,
			WatchdogPeriodMS:  55000,
			IdleThresholdMS:   10000,
			RestartSettleMS:   200,
			MaxNetworkRetries: 4,
		},
		Speak: SpeakConfig{
			Enabled: false,
			Mode:    "mock",
			Voice:   "es",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/salestalk-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
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
	overrideString(&cfg.RuntimeName, "SALESTALK_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SALESTALK_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SALESTALK_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SALESTALK_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SALESTALK_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SALESTALK_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SALESTALK_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SALESTALK_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SALESTALK_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SALESTALK_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SALESTALK_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SALESTALK_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SALESTALK_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SALESTALK_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SALESTALK_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SALESTALK_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Auth.TokenFile, "SALESTALK_AUTH_TOKEN_FILE")
	overrideString(&cfg.API.BaseURL, "SALESTALK_API_BASE_URL")
	overrideInt(&cfg.API.TimeoutMS, "SALESTALK_API_TIMEOUT_MS")
	overrideInt(&cfg.API.ProductLimit, "SALESTALK_API_PRODUCT_LIMIT")
	overrideInt(&cfg.API.SalesLimit, "SALESTALK_API_SALES_LIMIT")
	overrideString(&cfg.NLP.BaseURL, "SALESTALK_NLP_BASE_URL")
	overrideInt(&cfg.NLP.TimeoutMS, "SALESTALK_NLP_TIMEOUT_MS")
	overrideInt(&cfg.Audio.SampleRate, "SALESTALK_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "SALESTALK_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FramesPerBuffer, "SALESTALK_AUDIO_FRAMES_PER_BUFFER")
	overrideString(&cfg.Engine.Mode, "SALESTALK_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "SALESTALK_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "SALESTALK_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.SocketURL, "SALESTALK_ENGINE_SOCKET_URL")
	overrideString(&cfg.Engine.Language, "SALESTALK_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.ChunkEveryMS, "SALESTALK_ENGINE_CHUNK_EVERY_MS")
	overrideBool(&cfg.Engine.PublishInterim, "SALESTALK_ENGINE_PUBLISH_INTERIM")
	overrideBool(&cfg.Session.AutoRestart, "SALESTALK_SESSION_AUTO_RESTART")
	overrideInt(&cfg.Session.WatchdogPeriodMS, "SALESTALK_SESSION_WATCHDOG_PERIOD_MS")
	overrideInt(&cfg.Session.IdleThresholdMS, "SALESTALK_SESSION_IDLE_THRESHOLD_MS")
	overrideInt(&cfg.Session.RestartSettleMS, "SALESTALK_SESSION_RESTART_SETTLE_MS")
	overrideInt(&cfg.Session.MaxNetworkRetries, "SALESTALK_SESSION_MAX_NETWORK_RETRIES")
	overrideBool(&cfg.Speak.Enabled, "SALESTALK_SPEAK_ENABLED")
	overrideString(&cfg.Speak.Mode, "SALESTALK_SPEAK_MODE")
	overrideString(&cfg.Speak.Command, "SALESTALK_SPEAK_COMMAND")
	overrideString(&cfg.Speak.Voice, "SALESTALK_SPEAK_VOICE")
	overrideString(&cfg.EventStore.Path, "SALESTALK_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "SALESTALK_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "SALESTALK_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "SALESTALK_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "SALESTALK_EVENT_STORE_VACUUM_ON_START")
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
	if cfg.API.BaseURL == "" {
		return errors.New("api.base_url must not be empty")
	}
	if cfg.NLP.BaseURL == "" {
		return errors.New("nlp.base_url must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		return errors.New("audio.frames_per_buffer must be positive")
	}
	switch cfg.Engine.Mode {
	case "local", "streaming", "mock":
	default:
		return errors.New("engine.mode must be one of local|streaming|mock")
	}
	if cfg.Engine.Mode == "local" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=local")
	}
	if cfg.Engine.Mode == "streaming" && cfg.Engine.SocketURL == "" {
		return errors.New("engine.socket_url must be set when mode=streaming")
	}
	if cfg.Engine.Language == "" {
		return errors.New("engine.language must not be empty")
	}
	if cfg.Session.WatchdogPeriodMS <= 0 {
		return errors.New("session.watchdog_period_ms must be positive")
	}
	if cfg.Session.IdleThresholdMS <= 0 {
		return errors.New("session.idle_threshold_ms must be positive")
	}
	if cfg.Session.IdleThresholdMS >= cfg.Session.WatchdogPeriodMS {
		return errors.New("session.idle_threshold_ms must be smaller than watchdog period")
	}
	if cfg.Session.RestartSettleMS < 0 {
		return errors.New("session.restart_settle_ms must be >= 0")
	}
	if cfg.Session.MaxNetworkRetries < 0 {
		return errors.New("session.max_network_retries must be >= 0")
	}
	if cfg.Speak.Enabled {
		switch cfg.Speak.Mode {
		case "mock", "exec":
		default:
			return errors.New("speak.mode must be one of mock|exec")
		}
		if cfg.Speak.Mode == "exec" && cfg.Speak.Command == "" {
			return errors.New("speak.command must be set when mode=exec")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
