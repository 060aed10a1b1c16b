package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8000")
	}
	if cfg.JWTIssuer != "cotai-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "cotai-auth")
	}
	if cfg.JWTAudience != "cotai-api" {
		t.Errorf("JWTAudience = %q, want %q", cfg.JWTAudience, "cotai-api")
	}
	if cfg.MaxSessionsPerAccount != 5 {
		t.Errorf("MaxSessionsPerAccount = %d, want 5", cfg.MaxSessionsPerAccount)
	}
	if cfg.MaxFailedLogins != 5 {
		t.Errorf("MaxFailedLogins = %d, want 5", cfg.MaxFailedLogins)
	}
	if cfg.RapidDefaultThreshold != 50 {
		t.Errorf("RapidDefaultThreshold = %d, want 50", cfg.RapidDefaultThreshold)
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.LogPretty {
		t.Error("LogPretty should default to false")
	}
}

func TestLoad_DurationDefaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"AccessTTL", cfg.AccessTTL(), 30 * time.Minute},
		{"RefreshTTL", cfg.RefreshTTL(), 168 * time.Hour},
		{"RotationAge", cfg.RotationAge(), 6 * time.Hour},
		{"StaleAge", cfg.StaleAge(), 24 * time.Hour},
		{"BruteForceLookback", cfg.BruteForceLookback(), 15 * time.Minute},
		{"RapidLookback", cfg.RapidLookback(), 5 * time.Minute},
		{"GeoLookback", cfg.GeoLookback(), time.Hour},
		{"CleanupEvery", cfg.CleanupEvery(), time.Hour},
		{"Retention", cfg.Retention(), 720 * time.Hour},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("MAX_SESSIONS_PER_ACCOUNT", "3")
	os.Setenv("ROTATION_THRESHOLD", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.MaxSessionsPerAccount != 3 {
		t.Errorf("MaxSessionsPerAccount = %d, want 3", cfg.MaxSessionsPerAccount)
	}
	if got := cfg.RotationAge(); got != 2*time.Hour {
		t.Errorf("RotationAge = %v, want 2h", got)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bcrypt too low", "BCRYPT_COST", "3"},
		{"bcrypt too high", "BCRYPT_COST", "32"},
		{"zero session cap", "MAX_SESSIONS_PER_ACCOUNT", "0"},
		{"zero failed logins", "MAX_FAILED_LOGINS", "0"},
		{"malformed thresholds", "RAPID_ACTION_THRESHOLDS", "LOGIN_SUCCESS"},
		{"non-numeric threshold", "RAPID_ACTION_THRESHOLDS", "LOGIN_SUCCESS=x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load with %s=%q: want error", tt.key, tt.val)
			}
		})
	}
}

func TestConfig_RapidThresholds(t *testing.T) {
	os.Clearenv()
	os.Setenv("RAPID_ACTION_THRESHOLDS", "login_success=4, FILE_DOWNLOAD=25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := cfg.RapidThresholds()
	if m["LOGIN_SUCCESS"] != 4 {
		t.Errorf("LOGIN_SUCCESS = %d, want 4", m["LOGIN_SUCCESS"])
	}
	if m["FILE_DOWNLOAD"] != 25 {
		t.Errorf("FILE_DOWNLOAD = %d, want 25", m["FILE_DOWNLOAD"])
	}
	if len(m) != 2 {
		t.Errorf("len = %d, want 2", len(m))
	}
}

func TestConfig_Lists(t *testing.T) {
	c := &Config{KafkaBrokers: "a:9092, b:9092,,", SuspiciousAgents: "Bot, CURL"}
	brokers := c.KafkaBrokersList()
	if len(brokers) != 2 || brokers[0] != "a:9092" || brokers[1] != "b:9092" {
		t.Errorf("KafkaBrokersList = %v", brokers)
	}
	agents := c.SuspiciousAgentList()
	if len(agents) != 2 || agents[0] != "bot" || agents[1] != "curl" {
		t.Errorf("SuspiciousAgentList = %v", agents)
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should yield nil brokers")
	}
}

func TestConfig_InvalidDurationFallsBack(t *testing.T) {
	c := &Config{JWTAccessTTL: "soon", StaleThreshold: "-1h"}
	if got := c.AccessTTL(); got != 30*time.Minute {
		t.Errorf("AccessTTL = %v, want 30m", got)
	}
	if got := c.StaleAge(); got != 24*time.Hour {
		t.Errorf("StaleAge = %v, want 24h", got)
	}
}
