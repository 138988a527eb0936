package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q, want dev", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want text in dev", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug in dev", cfg.LogLevel)
	}
	if cfg.WSIdleTimeout != DefaultWSIdleTimeout || cfg.WSPingInterval != DefaultWSPingInterval {
		t.Errorf("WS timeouts = (%v, %v), want defaults", cfg.WSIdleTimeout, cfg.WSPingInterval)
	}
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes || cfg.MaxMessagesPerSecond != DefaultMaxMessagesPerSecond {
		t.Errorf("message limits = (%d, %d), want defaults", cfg.MaxMessageBytes, cfg.MaxMessagesPerSecond)
	}
}

func TestLoad_ProdModeDefaultsToJSONInfo(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{envVarMode: "prod"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, want json in prod", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info in prod", cfg.LogLevel)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	env := map[string]string{
		envVarListenAddr: "127.0.0.1:9999",
		envVarLogFormat:  "json",
	}
	cfg, err := load(lookupFrom(env), []string{"--listen-addr", "0.0.0.0:7000", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:7000" {
		t.Errorf("ListenAddr = %q, want flag value", cfg.ListenAddr)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want flag value", cfg.LogFormat)
	}
}

func TestLoad_PortEnvOverridesDefaultAddr(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{envVarPort: "10000"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:10000" {
		t.Errorf("ListenAddr = %q, want 0.0.0.0:10000", cfg.ListenAddr)
	}
}

func TestLoad_ExplicitAddrWinsOverPort(t *testing.T) {
	env := map[string]string{
		envVarPort:       "10000",
		envVarListenAddr: "127.0.0.1:8081",
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8081" {
		t.Errorf("ListenAddr = %q, want explicit env value", cfg.ListenAddr)
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	env := map[string]string{
		envVarAllowedOrigins: "https://app.example.com, https://other.example.com ,",
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "https://other.example.com"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
		}
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{"bad mode", nil, []string{"--mode", "staging"}, "unsupported mode"},
		{"bad log level", nil, []string{"--log-level", "verbose"}, "unsupported log level"},
		{"ping >= idle", nil, []string{"--ws-ping-interval", "2m", "--ws-idle-timeout", "1m"}, "ws-ping-interval"},
		{"zero message bytes", map[string]string{envVarMaxMessageBytes: "0"}, nil, "max-message-bytes"},
		{"zero rate", map[string]string{envVarMaxMessagesPerSecond: "0"}, nil, "max-messages-per-second"},
		{"bad port", map[string]string{envVarPort: "notaport"}, nil, "PORT"},
		{"bad duration", map[string]string{envVarShutdown: "soon"}, nil, envVarShutdown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupFrom(tc.env), tc.args)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_DurationsFromEnv(t *testing.T) {
	env := map[string]string{
		envVarShutdown:       "5s",
		envVarWSIdleTimeout:  "90s",
		envVarWSPingInterval: "30s",
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownTimeout != 5*time.Second || cfg.WSIdleTimeout != 90*time.Second || cfg.WSPingInterval != 30*time.Second {
		t.Errorf("durations = (%v, %v, %v)", cfg.ShutdownTimeout, cfg.WSIdleTimeout, cfg.WSPingInterval)
	}
}
