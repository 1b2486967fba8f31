// Package config loads and validates the control plane's configuration
// from environment variables or a dotenv-style file, using viper exactly
// as the rest of this module's ambient stack does.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"

	"github.com/spf13/viper"

	"github.com/ridgeline-av/streamctl/internal/logging"
)

var log = logging.L("config")

// Config holds every tunable named in the external interface contract:
// HTTP bind, feature toggles, ingest/transport/broadcast/persistence
// settings, and the quality state machine's retry policy.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Debug bool  `mapstructure:"debug"`

	// Security
	SecretKey string `mapstructure:"secret_key"`
	APIToken  string `mapstructure:"api_token"`

	// Feature toggles
	FeatureIngestMonitoring bool `mapstructure:"feature_ingest_monitoring"`
	FeatureRetryLogic       bool `mapstructure:"feature_retry_logic"`
	FeatureDualMetrics      bool `mapstructure:"feature_dual_metrics"`
	FeatureOBSIntegration   bool `mapstructure:"feature_obs_integration"`
	FeatureOBSHTTPBridge    bool `mapstructure:"feature_obs_http_bridge"`
	FeatureSRTLATransport   bool `mapstructure:"feature_srtla_transport"`
	FeatureRTMPAuth         bool `mapstructure:"feature_rtmp_auth"`
	FeatureEmergencyMode    bool `mapstructure:"feature_emergency_mode"`
	FeatureAudioOnlyMode    bool `mapstructure:"feature_audio_only_mode"`

	// Ingest poller
	IngestStatsURL          string `mapstructure:"ingest_stats_url"`
	IngestStreamKey         string `mapstructure:"ingest_stream_key"`
	IngestStatsPollInterval int    `mapstructure:"ingest_stats_poll_interval"` // seconds
	IngestServerType        string `mapstructure:"ingest_server_type"`         // nginx | srt | node-media-server

	// Bitrate/health thresholds
	BitrateThresholdLowKbps     int `mapstructure:"bitrate_threshold_low_kbps"`
	BitrateThresholdOfflineKbps int `mapstructure:"bitrate_threshold_offline_kbps"`
	BitrateThresholdRTTMs       int `mapstructure:"bitrate_threshold_rtt_ms"`

	// Retry/debounce policy
	StateChangeRetryAttempts int  `mapstructure:"state_change_retry_attempts"`
	InstantRecoveryEnabled   bool `mapstructure:"instant_recovery_enabled"`

	// Bonded transport
	TransportMode       string `mapstructure:"transport_mode"` // mptcp | srtla | hybrid
	MPTCPStatsURL       string `mapstructure:"mptcp_stats_url"`
	SRTLAMetricsSource  string `mapstructure:"srtla_metrics_source"` // socket | file | api
	SRTLAStatsEndpoint  string `mapstructure:"srtla_stats_endpoint"`
	SRTLAReceiverPort   int    `mapstructure:"srtla_receiver_port"`

	// Broadcast tool (OBS)
	OBSHost     string `mapstructure:"obs_host"`
	OBSPort     int    `mapstructure:"obs_port"`
	OBSPassword string `mapstructure:"obs_password"`

	OBSSceneHigh     string `mapstructure:"obs_scene_high"`
	OBSSceneMedium   string `mapstructure:"obs_scene_medium"`
	OBSSceneLow      string `mapstructure:"obs_scene_low"`
	OBSSceneVeryLow  string `mapstructure:"obs_scene_very_low"`
	OBSSceneError    string `mapstructure:"obs_scene_error"`
	OBSSceneEmergency string `mapstructure:"obs_scene_emergency"`

	OBSHTTPBridgeHost    string `mapstructure:"obs_http_bridge_host"`
	OBSHTTPBridgePort    int    `mapstructure:"obs_http_bridge_port"`
	OBSHTTPBridgeAuthKey string `mapstructure:"obs_http_bridge_auth_key"`
	OBSHTTPBridgeTimeout int    `mapstructure:"obs_http_bridge_timeout"` // seconds

	// RTMP auth
	RTMPAuthServiceURL string `mapstructure:"rtmp_auth_service_url"`

	// Persistence
	DatabasePath string `mapstructure:"database_path"`

	// Logging
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// Default returns the production defaults named throughout spec.md §6
// and the original config's equivalents.
func Default() *Config {
	return &Config{
		Host: "0.0.0.0",
		Port: 8000,

		SecretKey: "change-this-in-production",
		APIToken:  "change-this-in-production",

		FeatureIngestMonitoring: false,
		FeatureRetryLogic:       false,
		FeatureDualMetrics:      false,
		FeatureOBSIntegration:   false,
		FeatureOBSHTTPBridge:    false,
		FeatureSRTLATransport:   false,
		FeatureRTMPAuth:         false,
		FeatureEmergencyMode:    true,
		FeatureAudioOnlyMode:    true,

		IngestStatsURL:          "http://localhost/stats",
		IngestStreamKey:         "live/stream",
		IngestStatsPollInterval: 2,
		IngestServerType:        "nginx",

		BitrateThresholdLowKbps:     500,
		BitrateThresholdOfflineKbps: 450,
		BitrateThresholdRTTMs:       1000,

		StateChangeRetryAttempts: 5,
		InstantRecoveryEnabled:   true,

		TransportMode:      "mptcp",
		SRTLAMetricsSource: "socket",
		SRTLAReceiverPort:  9000,

		OBSHost: "localhost",
		OBSPort: 4455,

		OBSSceneHigh:      "Main Camera",
		OBSSceneMedium:    "Main Camera",
		OBSSceneLow:       "Simple Overlay",
		OBSSceneVeryLow:   "Audio Only",
		OBSSceneError:     "Stream Offline",
		OBSSceneEmergency: "Emergency Simple",

		OBSHTTPBridgeHost:    "localhost",
		OBSHTTPBridgePort:    5001,
		OBSHTTPBridgeTimeout: 5,

		DatabasePath: "./data/streaming.db",

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
	}
}

// Load reads configuration from cfgFile (or the default search path) and
// environment variables prefixed STREAMCTL_, validates it, and applies
// the security startup check. A fatal validation error or an insecure
// production default returns an error the caller should treat as an
// exit-code-1 condition.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("streamctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("STREAMCTL")
	// Bind every key so Unmarshal sees values set only in the environment.
	t := reflect.TypeOf(*cfg)
	for i := 0; i < t.NumField(); i++ {
		if key := t.Field(i).Tag.Get("mapstructure"); key != "" {
			_ = viper.BindEnv(key)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		log.Warn("config validation", "error", w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			log.Error("config validation fatal", "error", f)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	if err := cfg.ValidateSecurity(); err != nil {
		log.Error("security validation failed", "error", err)
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to the default config path.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes cfg as YAML to cfgFile, or the default config path if empty.
func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("host", cfg.Host)
	viper.Set("port", cfg.Port)
	viper.Set("secret_key", cfg.SecretKey)
	viper.Set("api_token", cfg.APIToken)
	viper.Set("transport_mode", cfg.TransportMode)
	viper.Set("database_path", cfg.DatabasePath)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "streamctl.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Restrict config file to owner-only access (contains secret_key/api_token)
	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific data directory.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "StreamCtl", "data")
	case "darwin":
		return "/Library/Application Support/StreamCtl/data"
	default:
		return "/var/lib/streamctl"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "StreamCtl")
	case "darwin":
		return "/Library/Application Support/StreamCtl"
	default:
		return "/etc/streamctl"
	}
}
