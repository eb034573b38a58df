package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"log/slog"
)

// Config holds all runtime configuration for the Peerline node.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	ParticipantID string // identity of the local participant (required)
	DataDir       string
	HTTPPort      int
	LogLevel      string
	LogFormat     string // log output format: "text" or "json"
	CORSOrigins   string

	// Signaling backend: "memory" for single-process setups and tests,
	// "firestore" for real deployments.
	MailboxBackend       string
	FirestoreProject     string
	FirestoreCredentials string // service-account JSON file

	// PartitionPeers seeds the in-memory directory with registered
	// partition owners (comma-separated). Ignored by the firestore
	// backend, where the directory lives in the document store.
	PartitionPeers string

	// PostgresDSN switches call history from the embedded SQLite file to
	// a shared PostgreSQL database.
	PostgresDSN string

	// STUNServers overrides the default STUN server list
	// (comma-separated stun: URIs).
	STUNServers string

	// PushCredentials enables FCM wake-up pushes when set to a
	// service-account JSON file.
	PushCredentials string
}

// defaults
const (
	defaultDataDir   = "./data"
	defaultHTTPPort  = 8080
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
	defaultBackend   = "memory"
)

// envPrefix is the prefix for all Peerline environment variables.
const envPrefix = "PEERLINE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("peerline", flag.ContinueOnError)

	fs.StringVar(&cfg.ParticipantID, "participant-id", "", "identity of the local participant")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call history database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.MailboxBackend, "mailbox-backend", defaultBackend, "signaling backend (memory, firestore)")
	fs.StringVar(&cfg.FirestoreProject, "firestore-project", "", "Firestore project id for the firestore backend")
	fs.StringVar(&cfg.FirestoreCredentials, "firestore-credentials", "", "service-account JSON file for the firestore backend")
	fs.StringVar(&cfg.PartitionPeers, "partition-peers", "", "comma-separated partition owners for the memory backend")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "PostgreSQL DSN for shared call history (empty uses SQLite)")
	fs.StringVar(&cfg.STUNServers, "stun-servers", "", "comma-separated STUN server URIs (defaults to Google STUN)")
	fs.StringVar(&cfg.PushCredentials, "push-credentials", "", "service-account JSON file enabling FCM wake-up pushes")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"participant-id":        envPrefix + "PARTICIPANT_ID",
		"data-dir":              envPrefix + "DATA_DIR",
		"http-port":             envPrefix + "HTTP_PORT",
		"log-level":             envPrefix + "LOG_LEVEL",
		"log-format":            envPrefix + "LOG_FORMAT",
		"cors-origins":          envPrefix + "CORS_ORIGINS",
		"mailbox-backend":       envPrefix + "MAILBOX_BACKEND",
		"firestore-project":     envPrefix + "FIRESTORE_PROJECT",
		"firestore-credentials": envPrefix + "FIRESTORE_CREDENTIALS",
		"partition-peers":       envPrefix + "PARTITION_PEERS",
		"postgres-dsn":          envPrefix + "POSTGRES_DSN",
		"stun-servers":          envPrefix + "STUN_SERVERS",
		"push-credentials":      envPrefix + "PUSH_CREDENTIALS",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "participant-id":
			cfg.ParticipantID = val
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "mailbox-backend":
			cfg.MailboxBackend = val
		case "firestore-project":
			cfg.FirestoreProject = val
		case "firestore-credentials":
			cfg.FirestoreCredentials = val
		case "partition-peers":
			cfg.PartitionPeers = val
		case "postgres-dsn":
			cfg.PostgresDSN = val
		case "stun-servers":
			cfg.STUNServers = val
		case "push-credentials":
			cfg.PushCredentials = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.ParticipantID == "" {
		return fmt.Errorf("participant-id is required")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	switch c.MailboxBackend {
	case "memory":
	case "firestore":
		if c.FirestoreProject == "" {
			return fmt.Errorf("firestore-project is required with the firestore backend")
		}
	default:
		return fmt.Errorf("mailbox-backend must be one of memory, firestore; got %q", c.MailboxBackend)
	}

	return nil
}

// PartitionPeerList splits the configured partition peers.
func (c *Config) PartitionPeerList() []string {
	return splitList(c.PartitionPeers)
}

// STUNServerList splits the configured STUN servers; nil means defaults.
func (c *Config) STUNServerList() []string {
	return splitList(c.STUNServers)
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SlogHandler returns a slog.Handler configured with the appropriate
// format (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
