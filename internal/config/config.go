package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken    string        `env:"AUTH_TOKEN"`

	UploadDir   string `env:"UPLOAD_DIR" envDefault:"./uploads"`
	ResultsDir  string `env:"RESULTS_DIR" envDefault:"./results"`
	MaxUploadMB int64  `env:"MAX_UPLOAD_MB" envDefault:"500"`

	WhisperURL     string        `env:"WHISPER_URL" envDefault:"http://localhost:8000"`
	WhisperTimeout time.Duration `env:"WHISPER_TIMEOUT" envDefault:"15m"`
	DefaultModel   string        `env:"DEFAULT_MODEL" envDefault:"base"`
	DefaultLang    string        `env:"DEFAULT_LANGUAGE" envDefault:"auto"`

	LoadTimeout    time.Duration `env:"LOAD_TIMEOUT" envDefault:"5m"`
	ExtractTimeout time.Duration `env:"EXTRACT_TIMEOUT" envDefault:"10m"`

	BrainEnabled bool          `env:"BRAIN_ENABLED" envDefault:"true"`
	BrainURL     string        `env:"BRAIN_URL" envDefault:"http://localhost:8001"`
	BrainModel   string        `env:"BRAIN_MODEL" envDefault:"microsoft/Phi-3-mini-4k-instruct"`
	BrainAPIKey  string        `env:"BRAIN_API_KEY"`
	BrainTimeout time.Duration `env:"BRAIN_TIMEOUT" envDefault:"5m"`

	DBPath     string `env:"DB_PATH" envDefault:"./vidscribe.db"`
	JobWorkers int    `env:"JOB_WORKERS" envDefault:"2"`
	WatchDir   string `env:"WATCH_DIR"`

	S3 S3Config `envPrefix:"S3_"`

	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"vidscribe"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config configures the optional S3 artifact backend.
type S3Config struct {
	Endpoint      string        `env:"ENDPOINT"`
	Bucket        string        `env:"BUCKET"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	Prefix        string        `env:"PREFIX"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
}

// Enabled reports whether the S3 backend is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	HTTPAddr   string
	LogLevel   string
	WhisperURL string
	BrainURL   string
	WatchDir   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.WhisperURL != "" {
		cfg.WhisperURL = overrides.WhisperURL
	}
	if overrides.BrainURL != "" {
		cfg.BrainURL = overrides.BrainURL
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}

	return cfg, nil
}
