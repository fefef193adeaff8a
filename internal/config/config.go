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
	LogFile        string `yaml:"log_file"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	StdoutTraces   bool   `yaml:"stdout_traces"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Polly       PollyConfig       `yaml:"polly"`
	Playback    PlaybackConfig    `yaml:"playback"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Presence    PresenceConfig    `yaml:"presence"`
}

type CredentialsConfig struct {
	Path            string `yaml:"path"`
	PersistOnUpdate bool   `yaml:"persist_on_update"`
}

type PollyConfig struct {
	Mode         string `yaml:"mode"` // aws, mock
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	Engine       string `yaml:"engine"`
	OutputFormat string `yaml:"output_format"`
	DefaultVoice string `yaml:"default_voice"`
	DefaultSpeed int    `yaml:"default_speed"`
	SSML         bool   `yaml:"ssml"`
}

type PlaybackConfig struct {
	Mode            string `yaml:"mode"` // portaudio, exec, none
	ArtifactPath    string `yaml:"artifact_path"`
	Command         string `yaml:"command"`
	BusyPolicy      string `yaml:"busy_policy"` // interrupt, reject
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
	StatusStream   string   `yaml:"status_stream"` // JetStream stream retaining speak statuses; empty disables
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	RecordText    bool   `yaml:"record_text"`
}

// PresenceConfig controls how a daemon advertises itself to other speakers
// on the bus.
type PresenceConfig struct {
	Enabled           bool   `yaml:"enabled"`
	NodeID            string `yaml:"node_id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-polly",
		Environment: "development",
		Credentials: CredentialsConfig{
			Path: "polly_credentials.txt",
		},
		Polly: PollyConfig{
			Mode:         "aws",
			Region:       "eu-west-1",
			Engine:       "neural",
			OutputFormat: "mp3",
			DefaultVoice: "Daniel",
			DefaultSpeed: 100,
		},
		Playback: PlaybackConfig{
			Mode:            "portaudio",
			ArtifactPath:    "speech.mp3",
			Command:         "mpg123 -q {file}",
			BusyPolicy:      "interrupt",
			FramesPerBuffer: 1024,
		},
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8085,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "polly",
			StatusStream:   "POLLY_STATUS",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-polly.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRequests:   1000,
		},
		Presence: PresenceConfig{
			Enabled:           true,
			NodeID:            "loqa-polly-local",
			HeartbeatInterval: 5000,
			HeartbeatTimeout:  15000,
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
	overrideString(&cfg.RuntimeName, "LOQA_POLLY_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_POLLY_ENVIRONMENT")
	overrideString(&cfg.Credentials.Path, "LOQA_POLLY_CREDENTIALS_PATH")
	overrideBool(&cfg.Credentials.PersistOnUpdate, "LOQA_POLLY_CREDENTIALS_PERSIST_ON_UPDATE")
	overrideString(&cfg.Polly.Mode, "LOQA_POLLY_MODE")
	overrideString(&cfg.Polly.Region, "LOQA_POLLY_REGION")
	overrideString(&cfg.Polly.Endpoint, "LOQA_POLLY_ENDPOINT")
	overrideString(&cfg.Polly.Engine, "LOQA_POLLY_ENGINE")
	overrideString(&cfg.Polly.DefaultVoice, "LOQA_POLLY_DEFAULT_VOICE")
	overrideInt(&cfg.Polly.DefaultSpeed, "LOQA_POLLY_DEFAULT_SPEED")
	overrideBool(&cfg.Polly.SSML, "LOQA_POLLY_SSML")
	overrideString(&cfg.Playback.Mode, "LOQA_POLLY_PLAYBACK_MODE")
	overrideString(&cfg.Playback.ArtifactPath, "LOQA_POLLY_PLAYBACK_ARTIFACT_PATH")
	overrideString(&cfg.Playback.Command, "LOQA_POLLY_PLAYBACK_COMMAND")
	overrideString(&cfg.Playback.BusyPolicy, "LOQA_POLLY_PLAYBACK_BUSY_POLICY")
	overrideInt(&cfg.Playback.FramesPerBuffer, "LOQA_POLLY_PLAYBACK_FRAMES_PER_BUFFER")
	overrideString(&cfg.HTTP.Bind, "LOQA_POLLY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_POLLY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_POLLY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFile, "LOQA_POLLY_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_POLLY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_POLLY_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_POLLY_TELEMETRY_STDOUT_TRACES")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_POLLY_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_POLLY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_POLLY_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_POLLY_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_POLLY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_POLLY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_POLLY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_POLLY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_POLLY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_POLLY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "LOQA_POLLY_BUS_SUBJECT_PREFIX")
	overrideString(&cfg.Bus.StatusStream, "LOQA_POLLY_BUS_STATUS_STREAM")
	overrideString(&cfg.EventStore.Path, "LOQA_POLLY_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_POLLY_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_POLLY_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRequests, "LOQA_POLLY_EVENT_STORE_MAX_REQUESTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_POLLY_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.EventStore.RecordText, "LOQA_POLLY_EVENT_STORE_RECORD_TEXT")
	overrideBool(&cfg.Presence.Enabled, "LOQA_POLLY_PRESENCE_ENABLED")
	overrideString(&cfg.Presence.NodeID, "LOQA_POLLY_PRESENCE_NODE_ID")
	overrideInt(&cfg.Presence.HeartbeatInterval, "LOQA_POLLY_PRESENCE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Presence.HeartbeatTimeout, "LOQA_POLLY_PRESENCE_HEARTBEAT_TIMEOUT_MS")
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
	if strings.TrimSpace(cfg.Credentials.Path) == "" {
		return errors.New("credentials.path must not be empty")
	}
	switch cfg.Polly.Mode {
	case "aws", "mock":
	default:
		return errors.New("polly.mode must be one of aws|mock")
	}
	if cfg.Polly.Mode == "aws" && cfg.Polly.Region == "" {
		return errors.New("polly.region must be set when mode=aws")
	}
	switch cfg.Polly.Engine {
	case "standard", "neural", "long-form", "generative":
	default:
		return errors.New("polly.engine must be one of standard|neural|long-form|generative")
	}
	if cfg.Polly.OutputFormat != "mp3" {
		return errors.New("polly.output_format must be mp3")
	}
	if cfg.Polly.DefaultVoice == "" {
		return errors.New("polly.default_voice must not be empty")
	}
	if cfg.Polly.DefaultSpeed < 50 || cfg.Polly.DefaultSpeed > 250 {
		return errors.New("polly.default_speed must be between 50 and 250")
	}
	switch cfg.Playback.Mode {
	case "portaudio", "exec", "none":
	default:
		return errors.New("playback.mode must be one of portaudio|exec|none")
	}
	if cfg.Playback.ArtifactPath == "" {
		return errors.New("playback.artifact_path must not be empty")
	}
	if cfg.Playback.Mode == "exec" && strings.TrimSpace(cfg.Playback.Command) == "" {
		return errors.New("playback.command must be set when mode=exec")
	}
	switch cfg.Playback.BusyPolicy {
	case "interrupt", "reject":
	default:
		return errors.New("playback.busy_policy must be one of interrupt|reject")
	}
	if cfg.Playback.FramesPerBuffer <= 0 {
		return errors.New("playback.frames_per_buffer must be positive")
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
	if cfg.Bus.SubjectPrefix == "" {
		return errors.New("bus.subject_prefix must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.EventStore.MaxRequests < 0 {
		return errors.New("event_store.max_requests must be >= 0")
	}
	if cfg.Presence.Enabled {
		if strings.TrimSpace(cfg.Presence.NodeID) == "" {
			return errors.New("presence.node_id must not be empty when presence is enabled")
		}
		if cfg.Presence.HeartbeatInterval <= 0 {
			return errors.New("presence.heartbeat_interval_ms must be positive")
		}
		if cfg.Presence.HeartbeatTimeout <= cfg.Presence.HeartbeatInterval {
			return errors.New("presence.heartbeat_timeout_ms must exceed heartbeat_interval_ms")
		}
	}
	return nil
}
