package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application
type Config struct {
	BackendBaseURL         string   `mapstructure:"backend_base_url"`
	ServerPort             int      `mapstructure:"server_port"`
	ShutdownDrainSeconds   int      `mapstructure:"shutdown_drain_seconds"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	AllowedOrigins         []string `mapstructure:"allowed_origins"`  // CORS allowed origins
	MaxRequestSizeMB       int      `mapstructure:"max_request_size_mb"` // Upload body size limit in MB

	// Per-operation upstream timeouts. Fixed at startup; no hot reload.
	StatusTimeoutSeconds int `mapstructure:"status_timeout_seconds"` // health + job status checks
	FrameTimeoutSeconds  int `mapstructure:"frame_timeout_seconds"`  // single-frame analysis
	VideoTimeoutSeconds  int `mapstructure:"video_timeout_seconds"`  // synchronous video analysis/annotation
	SubmitTimeoutSeconds int `mapstructure:"submit_timeout_seconds"` // async job submission

	// Object-storage sink (advisory persistence)
	StorageRegion     string `mapstructure:"storage_region"`
	StorageBucket     string `mapstructure:"storage_bucket"`
	StorageAuthMode   string `mapstructure:"storage_auth_mode"` // "auto", "env", or "profile"
	StorageProfile    string `mapstructure:"storage_profile"`   // shared-config profile when auth_mode=profile
	SinkMaxConcurrent int    `mapstructure:"sink_max_concurrent"`

	Debug bool `mapstructure:"debug"`
}

// Load reads configuration from config.toml and POSE_RELAY_* environment
// variables (environment wins). The config file is optional; the backend
// base URL is the only required setting.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("pose_relay")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("server_port", 8080)
	viper.SetDefault("shutdown_drain_seconds", 2)
	viper.SetDefault("shutdown_timeout_seconds", 10)
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("max_request_size_mb", 512) // uploads are whole videos
	viper.SetDefault("status_timeout_seconds", 10)
	viper.SetDefault("frame_timeout_seconds", 60)
	viper.SetDefault("video_timeout_seconds", 600)
	viper.SetDefault("submit_timeout_seconds", 60) // submission returns as soon as the job is accepted
	viper.SetDefault("storage_auth_mode", "auto")
	viper.SetDefault("sink_max_concurrent", 4)
	viper.SetDefault("debug", false)

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required configuration
	if config.BackendBaseURL == "" {
		return nil, fmt.Errorf("backend_base_url is required (config file or POSE_RELAY_BACKEND_BASE_URL)")
	}
	config.BackendBaseURL = strings.TrimRight(config.BackendBaseURL, "/")

	// Normalize/validate storage auth mode
	switch config.StorageAuthMode {
	case "auto", "env", "profile":
		// ok
	case "":
		config.StorageAuthMode = "auto"
	default:
		log.Printf("WARN:  unknown storage_auth_mode=%q, defaulting to 'auto'", config.StorageAuthMode)
		config.StorageAuthMode = "auto"
	}

	if config.StorageBucket == "" {
		log.Printf("WARN:  storage_bucket is empty - save_to_bucket uploads will be skipped")
	}

	if config.SinkMaxConcurrent <= 0 {
		log.Printf("WARN:  sink_max_concurrent <= 0 (%d), defaulting to 4", config.SinkMaxConcurrent)
		config.SinkMaxConcurrent = 4
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Printf("INFO:  Configuration loaded from %s", used)
	} else {
		log.Printf("INFO:  Configuration loaded from environment (no config file found)")
	}
	log.Printf("INFO:    backend_base_url: %s", config.BackendBaseURL)
	log.Printf("INFO:    server_port: %d", config.ServerPort)
	log.Printf("INFO:    shutdown_drain_seconds: %d", config.ShutdownDrainSeconds)
	log.Printf("INFO:    shutdown_timeout_seconds: %d", config.ShutdownTimeoutSeconds)
	log.Printf("INFO:    allowed_origins: %v", config.AllowedOrigins)
	log.Printf("INFO:    max_request_size_mb: %d", config.MaxRequestSizeMB)
	log.Printf("INFO:    timeouts: status=%ds frame=%ds video=%ds submit=%ds",
		config.StatusTimeoutSeconds, config.FrameTimeoutSeconds, config.VideoTimeoutSeconds, config.SubmitTimeoutSeconds)
	log.Printf("INFO:    storage: region=%q bucket=%q auth_mode=%s sink_max_concurrent=%d",
		config.StorageRegion, config.StorageBucket, config.StorageAuthMode, config.SinkMaxConcurrent)

	return &config, nil
}
