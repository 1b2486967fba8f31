package config

import (
	"fmt"
	"net/url"
	"strings"
)

// placeholderDefault flags a security-sensitive field left at its shipped
// sample value instead of being set for a real deployment.
const placeholderDefault = "change-this-in-production"

var (
	knownIngestServerTypes = map[string]bool{"nginx": true, "srt": true, "node-media-server": true}
	knownTransportModes    = map[string]bool{"mptcp": true, "srtla": true, "hybrid": true}
	knownSRTLASources      = map[string]bool{"socket": true, "file": true, "api": true}
	knownLogLevels         = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	knownLogFormats        = map[string]bool{"text": true, "json": true}
)

// ValidationResult separates fatal errors, which must block startup, from
// warnings, which are advisory or have already been auto-corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal error was recorded.
func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors returns fatals followed by warnings, for callers that want a
// flat list to log.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

func (r *ValidationResult) fatal(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// ValidateTiered checks cfg and returns a ValidationResult. Fatal problems
// are structural (bad URL scheme, nonsensical enum value); recoverable
// problems (an interval or count outside sane bounds) are clamped in
// place on cfg and recorded only as a warning.
func (cfg *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if cfg.Port <= 0 || cfg.Port > 65535 {
		result.fatal("port %d is not a valid TCP port", cfg.Port)
	}

	if cfg.FeatureIngestMonitoring {
		validateURLField(&result, "ingest_stats_url", cfg.IngestStatsURL, true)
		if !knownIngestServerTypes[cfg.IngestServerType] {
			result.warn("ingest_server_type %q is not a known server type, defaulting to nginx", cfg.IngestServerType)
			cfg.IngestServerType = "nginx"
		}
	}

	if cfg.IngestStatsPollInterval < 1 {
		result.warn("ingest_stats_poll_interval %d below minimum, clamped to 1", cfg.IngestStatsPollInterval)
		cfg.IngestStatsPollInterval = 1
	} else if cfg.IngestStatsPollInterval > 60 {
		result.warn("ingest_stats_poll_interval %d above maximum, clamped to 60", cfg.IngestStatsPollInterval)
		cfg.IngestStatsPollInterval = 60
	}

	if cfg.StateChangeRetryAttempts < 1 {
		result.warn("state_change_retry_attempts %d below minimum, clamped to 1", cfg.StateChangeRetryAttempts)
		cfg.StateChangeRetryAttempts = 1
	} else if cfg.StateChangeRetryAttempts > 20 {
		result.warn("state_change_retry_attempts %d above maximum, clamped to 20", cfg.StateChangeRetryAttempts)
		cfg.StateChangeRetryAttempts = 20
	}

	if cfg.FeatureSRTLATransport {
		if !knownSRTLASources[cfg.SRTLAMetricsSource] {
			result.warn("srtla_metrics_source %q is not known, defaulting to socket", cfg.SRTLAMetricsSource)
			cfg.SRTLAMetricsSource = "socket"
		}
		if cfg.SRTLAReceiverPort <= 0 || cfg.SRTLAReceiverPort > 65535 {
			result.fatal("srtla_receiver_port %d is not a valid TCP port", cfg.SRTLAReceiverPort)
		}
	}

	if !knownTransportModes[cfg.TransportMode] {
		result.fatal("transport_mode %q must be one of mptcp, srtla, hybrid", cfg.TransportMode)
	}

	if cfg.FeatureOBSIntegration && (cfg.OBSPort <= 0 || cfg.OBSPort > 65535) {
		result.fatal("obs_port %d is not a valid TCP port", cfg.OBSPort)
	}

	if cfg.FeatureOBSHTTPBridge {
		if cfg.OBSHTTPBridgeHost == "" {
			result.fatal("obs_http_bridge_host must not be empty")
		}
		if cfg.OBSHTTPBridgeTimeout < 1 {
			result.warn("obs_http_bridge_timeout %d below minimum, clamped to 1", cfg.OBSHTTPBridgeTimeout)
			cfg.OBSHTTPBridgeTimeout = 1
		}
	}

	if cfg.FeatureRTMPAuth && cfg.RTMPAuthServiceURL != "" {
		validateURLField(&result, "rtmp_auth_service_url", cfg.RTMPAuthServiceURL, true)
	}

	if cfg.DatabasePath == "" {
		result.fatal("database_path must not be empty")
	}

	if !knownLogLevels[strings.ToLower(cfg.LogLevel)] {
		result.warn("log_level %q is not known, defaulting to info", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	if !knownLogFormats[strings.ToLower(cfg.LogFormat)] {
		result.warn("log_format %q is not known, defaulting to text", cfg.LogFormat)
		cfg.LogFormat = "text"
	}

	for _, c := range cfg.SecretKey + cfg.APIToken {
		if c < 0x20 && c != '\t' {
			result.fatal("secret_key/api_token must not contain control characters")
			break
		}
	}

	return result
}

func validateURLField(result *ValidationResult, field, raw string, requireHost bool) {
	if raw == "" {
		result.fatal("%s must not be empty", field)
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		result.fatal("%s is not a valid URL: %v", field, err)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		result.fatal("%s must use http or https, got %q", field, u.Scheme)
		return
	}
	if requireHost && u.Host == "" {
		result.fatal("%s must include a host", field)
	}
}

// ValidateSecurity is the startup gate grounded on the production
// service's validate_security check: if a security-sensitive field was
// left at its shipped placeholder value and the process is not running
// in debug mode, refuse to start. Callers should translate a non-nil
// error into exit code 1.
func (cfg *Config) ValidateSecurity() error {
	if cfg.Debug {
		return nil
	}

	var insecure []string
	if cfg.SecretKey == placeholderDefault {
		insecure = append(insecure, "secret_key")
	}
	if cfg.APIToken == placeholderDefault {
		insecure = append(insecure, "api_token")
	}

	if len(insecure) == 0 {
		return nil
	}
	return fmt.Errorf("refusing to start with production default values for: %s (set real values or enable debug mode)", strings.Join(insecure, ", "))
}
