package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the scene assistant service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram STT API configuration. Without a key the recognizer reports unavailable.
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Cartesia TTS API configuration. Without a key sentences are only logged and sent as text.
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Camera snapshot endpoint
	CameraURL       string `envconfig:"CAMERA_URL" required:"true"`
	CameraTimeoutMs int    `envconfig:"CAMERA_TIMEOUT_MS" default:"3000"`

	// Object detector gRPC endpoint
	DetectorAddr       string        `envconfig:"DETECTOR_ADDR" required:"true"`
	DetectorTLSEnabled bool          `envconfig:"DETECTOR_TLS_ENABLED" default:"false"`
	DetectorTimeout    time.Duration `envconfig:"DETECTOR_TIMEOUT" default:"10s"`

	// Pipeline configuration
	ListenMaxSeconds        int      `envconfig:"LISTEN_MAX_SECONDS" default:"5"`
	ListenTrailingSilenceMs int      `envconfig:"LISTEN_TRAILING_SILENCE_MS" default:"2000"`
	SpeakTimeoutSeconds     int      `envconfig:"SPEAK_TIMEOUT_SECONDS" default:"30"`
	CommandExtraPhrases     []string `envconfig:"COMMAND_EXTRA_PHRASES" default:""`

	// Audio processing configuration
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required endpoints and that every duration is positive
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CameraURL) == "" {
		return fmt.Errorf("CAMERA_URL is required")
	}
	if strings.TrimSpace(c.DetectorAddr) == "" {
		return fmt.Errorf("DETECTOR_ADDR is required")
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"CAMERA_TIMEOUT_MS", int64(c.CameraTimeoutMs)},
		{"DETECTOR_TIMEOUT", int64(c.DetectorTimeout)},
		{"LISTEN_MAX_SECONDS", int64(c.ListenMaxSeconds)},
		{"LISTEN_TRAILING_SILENCE_MS", int64(c.ListenTrailingSilenceMs)},
		{"SPEAK_TIMEOUT_SECONDS", int64(c.SpeakTimeoutSeconds)},
		{"CIRCUIT_BREAKER_RESET_TIMEOUT", int64(c.CircuitBreakerResetTimeout)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	return nil
}

// CameraTimeout is the per-capture deadline
func (c *Config) CameraTimeout() time.Duration {
	return time.Duration(c.CameraTimeoutMs) * time.Millisecond
}

// ListenMaxDuration is the longest a listening session may run
func (c *Config) ListenMaxDuration() time.Duration {
	return time.Duration(c.ListenMaxSeconds) * time.Second
}

// ListenTrailingSilence is the silence after speech that ends a listening session
func (c *Config) ListenTrailingSilence() time.Duration {
	return time.Duration(c.ListenTrailingSilenceMs) * time.Millisecond
}

// SpeakTimeout bounds one synthesizer call
func (c *Config) SpeakTimeout() time.Duration {
	return time.Duration(c.SpeakTimeoutSeconds) * time.Second
}

// CircuitBreakerReset is the open-state cool down
func (c *Config) CircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// RetryBackoff is the first retry delay
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// ReconnectDelay is the first reconnect delay
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectBackoff) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
