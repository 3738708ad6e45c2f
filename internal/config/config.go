package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

type Config struct {
	Mode Mode `yaml:"mode"`

	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	APIKey       string `yaml:"api_key"`
	GCPProjectID string `yaml:"gcp_project"`
	GCPLocation  string `yaml:"gcp_location"`

	ChatModel  string `yaml:"chat_model"`
	ImageModel string `yaml:"image_model"`
	VideoModel string `yaml:"video_model"`
	TextModel  string `yaml:"text_model"`

	// SearchEnabled turns on web-search grounding for new turns.
	SearchEnabled bool `yaml:"search_enabled"`

	StorageBackend      string `yaml:"storage_backend"` // "memory", "bolt" or "firestore"
	BoltPath            string `yaml:"bolt_path"`
	FirestoreCollection string `yaml:"firestore_collection"`
	UseMockLLM          bool   `yaml:"use_mock_llm"` // true = use mock even with credentials

	DefaultUserName   string `yaml:"default_user_name"`
	DefaultAIBehavior string `yaml:"default_ai_behavior"`

	VideoPollInterval time.Duration `yaml:"video_poll_interval"`
	VideoMaxAttempts  int           `yaml:"video_max_attempts"`

	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Mode:                ModeLocal,
		Port:                "8080",
		LogLevel:            "info",
		GCPLocation:         "us-central1",
		ChatModel:           "gemini-2.5-flash",
		ImageModel:          "imagen-3.0-generate-002",
		VideoModel:          "veo-2.0-generate-001",
		TextModel:           "gemini-2.5-flash-lite",
		StorageBackend:      "bolt",
		BoltPath:            defaultBoltPath(),
		FirestoreCollection: "niallgpt_state",
		DefaultUserName:     "User",
		VideoPollInterval:   10 * time.Second,
		VideoMaxAttempts:    30,
		RateLimitPerSecond:  5,
		RateLimitBurst:      20,
	}
}

func defaultBoltPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".niallgpt", "state.db")
}

// Load builds the config: defaults, then the YAML file named by
// NIALL_CONFIG (if any), then env vars.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("NIALL_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	switch getEnv("NIALL_MODE", string(c.Mode)) {
	case "gcp":
		c.Mode = ModeGCP
	default:
		c.Mode = ModeLocal
	}

	c.Port = getEnv("NIALL_PORT", c.Port)
	c.LogLevel = getEnv("NIALL_LOG_LEVEL", c.LogLevel)

	c.APIKey = getEnv("NIALL_API_KEY", getEnv("GEMINI_API_KEY", c.APIKey))
	c.GCPProjectID = getEnv("NIALL_GCP_PROJECT", c.GCPProjectID)
	c.GCPLocation = getEnv("NIALL_GCP_LOCATION", c.GCPLocation)

	c.ChatModel = getEnv("NIALL_CHAT_MODEL", c.ChatModel)
	c.ImageModel = getEnv("NIALL_IMAGE_MODEL", c.ImageModel)
	c.VideoModel = getEnv("NIALL_VIDEO_MODEL", c.VideoModel)
	c.TextModel = getEnv("NIALL_TEXT_MODEL", c.TextModel)
	c.SearchEnabled = getBoolEnv("NIALL_SEARCH", c.SearchEnabled)

	c.StorageBackend = getEnv("NIALL_STORAGE_BACKEND", c.StorageBackend)
	c.BoltPath = getEnv("NIALL_BOLT_PATH", c.BoltPath)
	c.FirestoreCollection = getEnv("NIALL_FIRESTORE_COLLECTION", c.FirestoreCollection)
	c.UseMockLLM = getBoolEnv("NIALL_USE_MOCK_LLM", c.UseMockLLM || (c.APIKey == "" && c.Mode == ModeLocal))

	c.DefaultUserName = getEnv("NIALL_USER_NAME", c.DefaultUserName)
	c.DefaultAIBehavior = getEnv("NIALL_AI_BEHAVIOR", c.DefaultAIBehavior)

	c.VideoPollInterval = getDurationEnv("NIALL_VIDEO_POLL_INTERVAL", c.VideoPollInterval)
	c.VideoMaxAttempts = getIntEnv("NIALL_VIDEO_MAX_ATTEMPTS", c.VideoMaxAttempts)

	c.RateLimitPerSecond = getFloatEnv("NIALL_RATE_LIMIT", c.RateLimitPerSecond)
	c.RateLimitBurst = getIntEnv("NIALL_RATE_BURST", c.RateLimitBurst)
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "memory", "bolt", "firestore":
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	if c.StorageBackend == "firestore" && c.GCPProjectID == "" {
		return fmt.Errorf("NIALL_GCP_PROJECT is required for the firestore storage backend")
	}

	// Minimal validation in GCP mode
	if c.Mode == ModeGCP && c.GCPProjectID == "" {
		return fmt.Errorf("NIALL_GCP_PROJECT must be set in gcp mode")
	}

	if c.VideoMaxAttempts <= 0 || c.VideoPollInterval <= 0 {
		return fmt.Errorf("video polling needs a positive interval and attempt count")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getFloatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
