package config

import (
	"log/slog"
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"PEERLINE_PARTICIPANT_ID", "PEERLINE_DATA_DIR", "PEERLINE_HTTP_PORT",
		"PEERLINE_LOG_LEVEL", "PEERLINE_LOG_FORMAT", "PEERLINE_CORS_ORIGINS",
		"PEERLINE_MAILBOX_BACKEND", "PEERLINE_FIRESTORE_PROJECT",
		"PEERLINE_PARTITION_PEERS", "PEERLINE_POSTGRES_DSN",
		"PEERLINE_STUN_SERVERS", "PEERLINE_PUSH_CREDENTIALS",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"peerline", "-participant-id", "alice"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ParticipantID != "alice" {
		t.Errorf("ParticipantID = %q, want alice", cfg.ParticipantID)
	}
	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.MailboxBackend != defaultBackend {
		t.Errorf("MailboxBackend = %q, want %q", cfg.MailboxBackend, defaultBackend)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PEERLINE_PARTICIPANT_ID", "bob")
	t.Setenv("PEERLINE_HTTP_PORT", "9090")
	t.Setenv("PEERLINE_LOG_LEVEL", "debug")
	os.Args = []string{"peerline"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ParticipantID != "bob" {
		t.Errorf("ParticipantID = %q, want bob", cfg.ParticipantID)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_FlagsBeatEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PEERLINE_PARTICIPANT_ID", "bob")
	t.Setenv("PEERLINE_HTTP_PORT", "9090")
	os.Args = []string{"peerline", "-participant-id", "alice", "-http-port", "7070"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ParticipantID != "alice" {
		t.Errorf("ParticipantID = %q, want the flag value", cfg.ParticipantID)
	}
	if cfg.HTTPPort != 7070 {
		t.Errorf("HTTPPort = %d, want the flag value", cfg.HTTPPort)
	}
}

func TestLoad_RequiresParticipantID(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"peerline"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing participant id")
	}
}

func TestValidate_PortRange(t *testing.T) {
	for _, port := range []int{0, -1, 65536, 100000} {
		cfg := &Config{
			ParticipantID:  "alice",
			HTTPPort:       port,
			LogLevel:       defaultLogLevel,
			LogFormat:      defaultLogFormat,
			MailboxBackend: defaultBackend,
		}
		if err := cfg.validate(); err == nil {
			t.Errorf("port %d accepted, want error", port)
		}
	}
}

func TestValidate_LogLevelNormalised(t *testing.T) {
	cfg := &Config{
		ParticipantID:  "alice",
		HTTPPort:       defaultHTTPPort,
		LogLevel:       "DEBUG",
		LogFormat:      defaultLogFormat,
		MailboxBackend: defaultBackend,
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want lowercased", cfg.LogLevel)
	}

	cfg.LogLevel = "verbose"
	if err := cfg.validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestValidate_FirestoreRequiresProject(t *testing.T) {
	cfg := &Config{
		ParticipantID:  "alice",
		HTTPPort:       defaultHTTPPort,
		LogLevel:       defaultLogLevel,
		LogFormat:      defaultLogFormat,
		MailboxBackend: "firestore",
	}
	if err := cfg.validate(); err == nil {
		t.Fatal("firestore backend must require a project id")
	}
	cfg.FirestoreProject = "peerline-prod"
	if err := cfg.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := &Config{
		ParticipantID:  "alice",
		HTTPPort:       defaultHTTPPort,
		LogLevel:       defaultLogLevel,
		LogFormat:      defaultLogFormat,
		MailboxBackend: "redis",
	}
	if err := cfg.validate(); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestPartitionPeerList(t *testing.T) {
	cfg := &Config{PartitionPeers: " alice, bob ,,carol "}
	got := cfg.PartitionPeerList()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("peers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("peers[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSTUNServerList_EmptyMeansDefaults(t *testing.T) {
	cfg := &Config{}
	if cfg.STUNServerList() != nil {
		t.Error("empty STUN list should be nil so the transport defaults apply")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
