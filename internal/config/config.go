package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// PlaceholderTranslationURL marks a translation backend that was never configured.
	PlaceholderTranslationURL = "http://localhost:11434/v1_example"
	// PlaceholderTranscriptionURL marks a transcription backend that was never configured.
	PlaceholderTranscriptionURL = "http://localhost:5001/transcribe_example"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	// TraceStdout writes spans to stderr when no OTLP endpoint is set.
	TraceStdout    bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName   string              `yaml:"runtime_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	EventStore    EventStoreConfig    `yaml:"event_store"`
	Languages     []LanguageConfig    `yaml:"languages"`
	Translation   TranslationConfig   `yaml:"translation"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Health        HealthConfig        `yaml:"health"`
	Captioner     CaptionerConfig     `yaml:"captioner"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`

	// CaptionStream names the JetStream stream retaining caption updates for
	// late-joining clients; empty disables it.
	CaptionStream         string `yaml:"caption_stream"`
	CaptionStreamMaxAgeMS int    `yaml:"caption_stream_max_age_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// LanguageConfig is one entry of the language table. Code is the BCP 47 tag
// the recognizer and the backends see, Label is what the selector shows.
type LanguageConfig struct {
	Code       string `yaml:"code"`
	Name       string `yaml:"name"`
	NativeName string `yaml:"native_name"`
	Label      string `yaml:"label"`
}

type TranslationConfig struct {
	Mode      string `yaml:"mode"` // http, mock, exec
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TranscriptionConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Mode            string `yaml:"mode"` // http, mock, exec
	Endpoint        string `yaml:"endpoint"`
	Model           string `yaml:"model"`
	Command         string `yaml:"command"`
	TimeoutMS       int    `yaml:"timeout_ms"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	PartialEveryMS  int    `yaml:"partial_every_ms"`
	PublishInterim  bool   `yaml:"publish_interim"`
	DefaultLanguage string `yaml:"default_language"`
}

type HealthConfig struct {
	Strict               bool   `yaml:"strict"`
	TimeoutMS            int    `yaml:"timeout_ms"`
	TranslationMarker    string `yaml:"translation_marker"`
	TranslationProbePath string `yaml:"translation_probe_path"`
	StartupCheck         bool   `yaml:"startup_check"`
}

type CaptionerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	SourceLanguage   string `yaml:"source_language"`
	TargetLanguage   string `yaml:"target_language"`
	TranslateInterim bool   `yaml:"translate_interim"`
	MaxConcurrency   int    `yaml:"max_concurrency"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	PrivacyScope     string `yaml:"privacy_scope"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-caption",
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
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,

			CaptionStream:         "CAPTIONS",
			CaptionStreamMaxAgeMS: 3600000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/caption-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Languages: []LanguageConfig{
			{Code: "en-US", Name: "English", NativeName: "English (US)", Label: "English (US)"},
			{Code: "he-IL", Name: "Hebrew", NativeName: "עברית", Label: "עברית (Hebrew)"},
		},
		Translation: TranslationConfig{
			Mode:    "http",
			BaseURL: "http://localhost:11434/",
			Model:   "llama3",
		},
		Transcription: TranscriptionConfig{
			Enabled:        false,
			Mode:           "http",
			Endpoint:       "http://localhost:5001/",
			Model:          "base",
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
		},
		Health: HealthConfig{
			TimeoutMS:            3000,
			TranslationMarker:    "/v1",
			TranslationProbePath: "/api/tags",
			StartupCheck:         true,
		},
		Captioner: CaptionerConfig{
			Enabled:        true,
			SourceLanguage: "en-US",
			TargetLanguage: "he-IL",
			MaxConcurrency: 4,
			TimeoutMS:      60000,
			PrivacyScope:   "session",
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
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_CAPTION_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_CAPTION_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_CAPTION_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_CAPTION_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_CAPTION_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_CAPTION_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_CAPTION_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_CAPTION_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_CAPTION_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "LOQA_CAPTION_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_CAPTION_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_CAPTION_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_CAPTION_BUS_STORE_DIR")
	overrideStringAllowEmpty(&cfg.Bus.CaptionStream, "LOQA_CAPTION_BUS_CAPTION_STREAM")
	overrideInt(&cfg.Bus.CaptionStreamMaxAgeMS, "LOQA_CAPTION_BUS_CAPTION_STREAM_MAX_AGE_MS")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_CAPTION_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_CAPTION_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_CAPTION_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_CAPTION_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_CAPTION_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_CAPTION_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_CAPTION_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_CAPTION_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_CAPTION_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_CAPTION_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_CAPTION_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Translation.Mode, "LOQA_CAPTION_TRANSLATION_MODE")
	overrideString(&cfg.Translation.BaseURL, "LOQA_CAPTION_TRANSLATION_BASE_URL")
	overrideString(&cfg.Translation.Model, "LOQA_CAPTION_TRANSLATION_MODEL")
	overrideString(&cfg.Translation.Command, "LOQA_CAPTION_TRANSLATION_COMMAND")
	overrideInt(&cfg.Translation.TimeoutMS, "LOQA_CAPTION_TRANSLATION_TIMEOUT_MS")
	overrideBool(&cfg.Transcription.Enabled, "LOQA_CAPTION_TRANSCRIPTION_ENABLED")
	overrideString(&cfg.Transcription.Mode, "LOQA_CAPTION_TRANSCRIPTION_MODE")
	overrideString(&cfg.Transcription.Endpoint, "LOQA_CAPTION_TRANSCRIPTION_ENDPOINT")
	overrideStringAllowEmpty(&cfg.Transcription.Model, "LOQA_CAPTION_TRANSCRIPTION_MODEL")
	overrideString(&cfg.Transcription.Command, "LOQA_CAPTION_TRANSCRIPTION_COMMAND")
	overrideInt(&cfg.Transcription.TimeoutMS, "LOQA_CAPTION_TRANSCRIPTION_TIMEOUT_MS")
	overrideInt(&cfg.Transcription.SampleRate, "LOQA_CAPTION_TRANSCRIPTION_SAMPLE_RATE")
	overrideInt(&cfg.Transcription.Channels, "LOQA_CAPTION_TRANSCRIPTION_CHANNELS")
	overrideInt(&cfg.Transcription.PartialEveryMS, "LOQA_CAPTION_TRANSCRIPTION_PARTIAL_EVERY_MS")
	overrideBool(&cfg.Transcription.PublishInterim, "LOQA_CAPTION_TRANSCRIPTION_PUBLISH_INTERIM")
	overrideString(&cfg.Transcription.DefaultLanguage, "LOQA_CAPTION_TRANSCRIPTION_DEFAULT_LANGUAGE")
	overrideBool(&cfg.Health.Strict, "LOQA_CAPTION_HEALTH_STRICT")
	overrideInt(&cfg.Health.TimeoutMS, "LOQA_CAPTION_HEALTH_TIMEOUT_MS")
	overrideBool(&cfg.Health.StartupCheck, "LOQA_CAPTION_HEALTH_STARTUP_CHECK")
	overrideBool(&cfg.Captioner.Enabled, "LOQA_CAPTION_CAPTIONER_ENABLED")
	overrideString(&cfg.Captioner.SourceLanguage, "LOQA_CAPTION_CAPTIONER_SOURCE_LANGUAGE")
	overrideString(&cfg.Captioner.TargetLanguage, "LOQA_CAPTION_CAPTIONER_TARGET_LANGUAGE")
	overrideBool(&cfg.Captioner.TranslateInterim, "LOQA_CAPTION_CAPTIONER_TRANSLATE_INTERIM")
	overrideInt(&cfg.Captioner.MaxConcurrency, "LOQA_CAPTION_CAPTIONER_MAX_CONCURRENCY")
	overrideInt(&cfg.Captioner.TimeoutMS, "LOQA_CAPTION_CAPTIONER_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

// overrideStringAllowEmpty lets an explicitly empty variable clear an optional field.
func overrideStringAllowEmpty(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		*target = strings.TrimSpace(value)
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

// Configured reports whether the translation base URL is set to
// something other than the shipped placeholder.
func (c TranslationConfig) Configured() bool {
	return c.BaseURL != "" && c.BaseURL != PlaceholderTranslationURL
}

// Configured reports whether the transcription endpoint is set to something
// other than the shipped placeholder.
func (c TranscriptionConfig) Configured() bool {
	return c.Endpoint != "" && c.Endpoint != PlaceholderTranscriptionURL
}

func validate(cfg *Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port == 0 || cfg.Bus.Port < -1 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 (or -1 for random) when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Bus.CaptionStreamMaxAgeMS < 0 {
		return errors.New("bus.caption_stream_max_age_ms must be >= 0")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if len(cfg.Languages) == 0 {
		return errors.New("languages must not be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Languages))
	for i, lang := range cfg.Languages {
		if lang.Code == "" {
			return fmt.Errorf("languages[%d].code must not be empty", i)
		}
		if _, dup := seen[lang.Code]; dup {
			return fmt.Errorf("languages[%d].code %q is duplicated", i, lang.Code)
		}
		seen[lang.Code] = struct{}{}
	}
	switch cfg.Translation.Mode {
	case "http", "mock", "exec":
	default:
		return errors.New("translation.mode must be one of http|mock|exec")
	}
	if cfg.Translation.Mode == "exec" && cfg.Translation.Command == "" {
		return errors.New("translation.command must be set when mode=exec")
	}
	if cfg.Translation.TimeoutMS < 0 {
		return errors.New("translation.timeout_ms must be >= 0")
	}
	switch cfg.Transcription.Mode {
	case "http", "mock", "exec":
	default:
		return errors.New("transcription.mode must be one of http|mock|exec")
	}
	if cfg.Transcription.Mode == "exec" && cfg.Transcription.Command == "" {
		return errors.New("transcription.command must be set when mode=exec")
	}
	if cfg.Transcription.Enabled {
		if cfg.Transcription.SampleRate <= 0 {
			return errors.New("transcription.sample_rate must be positive")
		}
		if cfg.Transcription.Channels <= 0 {
			return errors.New("transcription.channels must be positive")
		}
	}
	if cfg.Health.TimeoutMS < 0 {
		return errors.New("health.timeout_ms must be >= 0")
	}
	if cfg.Captioner.Enabled {
		if cfg.Captioner.SourceLanguage == "" || cfg.Captioner.TargetLanguage == "" {
			return errors.New("captioner.source_language and captioner.target_language must be set")
		}
		if cfg.Captioner.MaxConcurrency <= 0 {
			cfg.Captioner.MaxConcurrency = 1
		}
		if cfg.Captioner.PrivacyScope == "" {
			cfg.Captioner.PrivacyScope = "session"
		}
	}
	return nil
}
