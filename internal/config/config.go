// Package config loads server settings from flags, the environment and an
// optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/serroba/online-notes/internal/ot"
	"go.uber.org/zap/zapcore"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMongo    = "mongo"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the server settings.
type Config struct {
	Addr            string
	Store           string
	Codec           string
	LogLevel        string
	LogFormat       string
	ACL             bool
	DatabaseURL     string
	SQLitePath      string
	MongoURI        string
	MongoDatabase   string
	RedisAddr       string
	JWTSecret       string
	ShutdownTimeout time.Duration
	SessionIdle     time.Duration
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Addr:            ":8080",
		Store:           StoreMemory,
		Codec:           ot.JSONPatchCodec{}.Name(),
		LogLevel:        "info",
		LogFormat:       "json",
		SQLitePath:      "notes.db",
		MongoDatabase:   "notes",
		ShutdownTimeout: 10 * time.Second,
		SessionIdle:     10 * time.Minute,
	}
}

// binding ties one setting to its flag and environment variable.
type binding struct {
	flag string
	env  string
	set  func(string) error
}

func stringVar(p *string) func(string) error {
	return func(v string) error {
		*p = v

		return nil
	}
}

func (c *Config) bindings() []binding {
	return []binding{
		{"addr", "NOTES_ADDR", stringVar(&c.Addr)},
		{"store", "NOTES_STORE", stringVar(&c.Store)},
		{"codec", "NOTES_CODEC", stringVar(&c.Codec)},
		{"log-level", "LOG_LEVEL", stringVar(&c.LogLevel)},
		{"log-format", "LOG_FORMAT", stringVar(&c.LogFormat)},
		{"acl", "NOTES_ACL", func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("NOTES_ACL: %w", err)
			}

			c.ACL = b

			return nil
		}},
		{"database-url", "DATABASE_URL", stringVar(&c.DatabaseURL)},
		{"sqlite-path", "SQLITE_PATH", stringVar(&c.SQLitePath)},
		{"mongo-uri", "MONGO_URI", stringVar(&c.MongoURI)},
		{"mongo-database", "MONGO_DATABASE", stringVar(&c.MongoDatabase)},
		{"redis-addr", "REDIS_ADDR", stringVar(&c.RedisAddr)},
		{"jwt-secret", "JWT_SECRET", stringVar(&c.JWTSecret)},
		{"shutdown-timeout", "NOTES_SHUTDOWN_TIMEOUT", durationVar("NOTES_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)},
		{"session-idle", "NOTES_SESSION_IDLE", durationVar("NOTES_SESSION_IDLE", &c.SessionIdle)},
	}
}

func durationVar(name string, p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		*p = d

		return nil
	}
}

// Load parses args (without the program name). Explicit flags win over the
// environment, which wins over the .env file, which wins over defaults.
// getenv is usually os.Getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("notes-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	envFile := fs.String("env", ".env", "path to an optional .env file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "operation log backend: memory, postgres, sqlite, mongo")
	fs.StringVar(&cfg.Codec, "codec", cfg.Codec, "document codec: json, text")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json or console")
	fs.BoolVar(&cfg.ACL, "acl", cfg.ACL, "enforce per-note permissions")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database file")
	fs.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB connection URI")
	fs.StringVar(&cfg.MongoDatabase, "mongo-database", cfg.MongoDatabase, "MongoDB database name")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for cross-replica notifications")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HS256 secret for bearer tokens")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown limit")
	fs.DurationVar(&cfg.SessionIdle, "session-idle", cfg.SessionIdle, "close submission sessions idle this long, 0 never")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	dotenv, err := readEnvFile(*envFile, explicit["env"])
	if err != nil {
		return Config{}, err
	}

	// Re-apply lower-precedence sources to settings not given as flags.
	for _, b := range cfg.bindings() {
		if explicit[b.flag] {
			continue
		}

		v := getenv(b.env)
		if v == "" {
			v = dotenv[b.env]
		}

		if v == "" {
			continue
		}

		if err := b.set(v); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// readEnvFile reads path without touching the process environment. A
// missing default file is not an error.
func readEnvFile(path string, required bool) (map[string]string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !required {
		return nil, nil
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalid, path, err)
	}

	return values, nil
}

// Validate checks that the settings are complete and consistent.
func (c Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("postgres store needs DATABASE_URL"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite store needs SQLITE_PATH"))
		}
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("mongo store needs MONGO_URI"))
		}

		if c.MongoDatabase == "" {
			errs = append(errs, errors.New("mongo store needs MONGO_DATABASE"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if _, err := ot.CodecByName(c.Codec); err != nil {
		errs = append(errs, err)
	}

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	if c.SessionIdle < 0 {
		errs = append(errs, errors.New("session idle timeout must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return nil
}
