package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredBadPortIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("port 0 should be fatal")
	}
}

func TestValidateTieredBadIngestURLSchemeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.FeatureIngestMonitoring = true
	cfg.IngestStatsURL = "ftp://example.com/stats"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid ingest_stats_url scheme should be fatal")
	}
}

func TestValidateTieredUnknownTransportModeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.TransportMode = "carrier-pigeon"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("unknown transport_mode should be fatal")
	}
}

func TestValidateTieredControlCharsInTokenIsFatal(t *testing.T) {
	cfg := Default()
	cfg.APIToken = "token\x00with\x01control"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("control chars in api_token should be fatal")
	}
}

func TestValidateTieredEmptyDatabasePathIsFatal(t *testing.T) {
	cfg := Default()
	cfg.DatabasePath = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty database_path should be fatal")
	}
}

func TestValidateTieredPollIntervalClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.IngestStatsPollInterval = 0
	result := cfg.ValidateTiered()

	if result.HasFatals() {
		t.Fatalf("clamped poll interval should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped poll interval")
	}
	if cfg.IngestStatsPollInterval != 1 {
		t.Fatalf("IngestStatsPollInterval = %d, want 1 (clamped)", cfg.IngestStatsPollInterval)
	}
}

func TestValidateTieredHighPollIntervalClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.IngestStatsPollInterval = 9999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped poll interval should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.IngestStatsPollInterval != 60 {
		t.Fatalf("IngestStatsPollInterval = %d, want 60 (clamped)", cfg.IngestStatsPollInterval)
	}
}

func TestValidateTieredRetryAttemptsClamping(t *testing.T) {
	cfg := Default()
	cfg.StateChangeRetryAttempts = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped retry attempts should be warning: %v", result.Fatals)
	}
	if cfg.StateChangeRetryAttempts != 1 {
		t.Fatalf("StateChangeRetryAttempts = %d, want 1", cfg.StateChangeRetryAttempts)
	}
}

func TestValidateTieredUnknownSRTLASourceIsWarning(t *testing.T) {
	cfg := Default()
	cfg.FeatureSRTLATransport = true
	cfg.SRTLAMetricsSource = "carrier-pigeon"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown srtla_metrics_source should not be fatal")
	}
	found := false
	for _, err := range result.Warnings {
		if strings.Contains(err.Error(), "srtla_metrics_source") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected warning about unknown srtla_metrics_source")
	}
	if cfg.SRTLAMetricsSource != "socket" {
		t.Fatalf("SRTLAMetricsSource = %q, want socket (defaulted)", cfg.SRTLAMetricsSource)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.TransportMode = "bogus"   // fatal
	cfg.LogLevel = "verbose"      // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}

func TestValidateSecurityBlocksPlaceholderDefaultsOutsideDebug(t *testing.T) {
	cfg := Default()
	cfg.Debug = false
	if err := cfg.ValidateSecurity(); err == nil {
		t.Fatal("expected error for placeholder secret_key/api_token outside debug mode")
	}
}

func TestValidateSecurityAllowsPlaceholderDefaultsInDebug(t *testing.T) {
	cfg := Default()
	cfg.Debug = true
	if err := cfg.ValidateSecurity(); err != nil {
		t.Fatalf("debug mode should bypass placeholder check: %v", err)
	}
}

func TestValidateSecurityAllowsRealValuesOutsideDebug(t *testing.T) {
	cfg := Default()
	cfg.Debug = false
	cfg.SecretKey = "a-real-generated-secret"
	cfg.APIToken = "a-real-generated-token"
	if err := cfg.ValidateSecurity(); err != nil {
		t.Fatalf("real values should pass: %v", err)
	}
}
