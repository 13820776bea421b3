package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/api"
	"github.com/Saispecial/avika-backend-api/internal/encryption"
	"github.com/Saispecial/avika-backend-api/internal/flow"
	"github.com/Saispecial/avika-backend-api/internal/genai"
	"github.com/Saispecial/avika-backend-api/internal/lockfile"
	"github.com/Saispecial/avika-backend-api/internal/store"
	"github.com/Saispecial/avika-backend-api/internal/util"
	"github.com/Saispecial/avika-backend-api/internal/wellness"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for avika state data
	DefaultStateDir = "/var/lib/avika"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "avika.db"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	initializeLogger(resolveLogLevel(config.LogLevel, *flags.debug))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping avika", "version", version)
	if err := run(ctx, config, flags); err != nil {
		slog.Error("avika failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("avika exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	RedisURL      string
	RedisStateTTL time.Duration
	SupabaseURL   string
	SupabaseKey   string
	OpenAIKey     string
	OpenAIModel   string
	JWTSecret     string
	EncryptionKey string
	APIAddr       string
	RateLimit     float64
	RateBurst     int
	Debug         bool
	LogLevel      string
	RandomSeed    uint64
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	redisURL    *string
	openaiKey   *string
	openaiModel *string
	apiAddr     *string
	debug       *bool
}

// initializeLogger sets up structured text logging at level
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// resolveLogLevel maps AVIKA_LOG_LEVEL to a slog level. debug forces LevelDebug.
func resolveLogLevel(name string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      os.Getenv("AVIKA_STATE_DIR"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisStateTTL: util.ParseDurationEnv("REDIS_STATE_TTL", store.DefaultStateTTL),
		SupabaseURL:   os.Getenv("SUPABASE_URL"),
		SupabaseKey:   os.Getenv("SUPABASE_SERVICE_KEY"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		EncryptionKey: os.Getenv("DB_ENCRYPTION_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		RateLimit:     util.ParseFloatEnv("AVIKA_RATE_LIMIT", api.DefaultRateLimit),
		RateBurst:     util.ParseIntEnv("AVIKA_RATE_BURST", api.DefaultRateBurst),
		Debug:         util.ParseBoolEnv("AVIKA_DEBUG", false),
		LogLevel:      os.Getenv("AVIKA_LOG_LEVEL"),
		RandomSeed:    util.ParseUint64Env("AVIKA_RANDOM_SEED", 0),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No AVIKA_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}

	slog.Debug("environment variables loaded",
		"AVIKA_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"SUPABASE_URL_SET", config.SupabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"JWT_SECRET_SET", config.JWTSecret != "",
		"DB_ENCRYPTION_KEY_SET", config.EncryptionKey != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses args with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:    fs.String("state-dir", config.StateDir, "state directory for avika data (overrides $AVIKA_STATE_DIR)"),
		dbDSN:       fs.String("db-dsn", config.DatabaseURL, "Postgres DSN or SQLite path (overrides $DATABASE_URL)"),
		redisURL:    fs.String("redis-url", config.RedisURL, "Redis URL for conversation state (overrides $REDIS_URL)"),
		openaiKey:   fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: fs.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		apiAddr:     fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		debug:       fs.Bool("debug", config.Debug, "enable debug logging (overrides $AVIKA_DEBUG)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	// Follow a -state-dir override when the DSN is still the env default
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == defaultDSN && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisURL_set", *flags.redisURL != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"debug", *flags.debug)
	return flags, nil
}

// ensureDirectoriesExist creates the state directory for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == store.DSNTypePostgres {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags, sealer encryption.Sealer) []store.Option {
	storeOpts := []store.Option{store.WithSealer(sealer)}
	if store.DetectDSNType(*flags.dbDSN) == store.DSNTypePostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags, features api.Features) []api.Option {
	apiOpts := []api.Option{
		api.WithVersion(version),
		api.WithRateLimit(config.RateLimit, config.RateBurst),
		api.WithFeatures(features),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if config.JWTSecret != "" {
		apiOpts = append(apiOpts, api.WithJWTSecret(config.JWTSecret))
	}
	return apiOpts
}

// backend bundles the opened persistence layer and what must be released
// with it.
type backend struct {
	store    store.Store
	sender   *store.OutboxSender
	lock     *lockfile.Lock
	features api.Features
}

// openBackend opens the SQL store, then layers Redis state and the
// Supabase mirror on top when configured.
func openBackend(ctx context.Context, config Config, flags Flags, sealer encryption.Sealer) (*backend, error) {
	b := &backend{features: api.Features{Encryption: config.EncryptionKey != ""}}
	dsnType := store.DetectDSNType(*flags.dbDSN)
	b.features.Store = string(dsnType)

	if dsnType == store.DSNTypeSQLite {
		lock, err := lockfile.Acquire(filepath.Dir(*flags.dbDSN))
		if err != nil {
			return nil, err
		}
		b.lock = lock
	}

	base, err := store.Open(buildStoreOptions(flags, sealer)...)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	b.store = base

	if *flags.redisURL != "" {
		rs, err := store.NewRedisStateStoreFromURL(ctx, *flags.redisURL, config.RedisStateTTL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.store = store.NewComposite(b.store, rs)
		b.features.Redis = true
		slog.Info("Conversation state stored in Redis", "ttl", config.RedisStateTTL)
	}

	if config.SupabaseURL != "" || config.SupabaseKey != "" {
		mirror, err := store.NewSupabaseTranscriptStore(config.SupabaseURL, config.SupabaseKey, sealer)
		if err != nil {
			b.Close()
			return nil, err
		}
		outbox, _ := base.(store.OutboxRepo)
		b.store = store.MirrorTranscripts(b.store, mirror, outbox)
		if outbox != nil {
			b.sender = store.NewOutboxSender(outbox, store.MirrorSendFunc(mirror), store.DefaultOutboxPollInterval, store.DefaultOutboxMaxAttempts)
		}
		b.features.Supabase = true
		slog.Info("Transcripts mirrored to Supabase", "retry", outbox != nil)
	}
	return b, nil
}

// Close closes the store and releases the lock.
func (b *backend) Close() error {
	var errs []error
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	if b.lock != nil {
		errs = append(errs, b.lock.Release())
	}
	return errors.Join(errs...)
}

// run wires every module and serves until ctx is cancelled.
func run(ctx context.Context, config Config, flags Flags) error {
	if err := ensureDirectoriesExist(flags); err != nil {
		return err
	}

	sealer, err := encryption.FromKeyString(config.EncryptionKey)
	if err != nil {
		return fmt.Errorf("invalid DB_ENCRYPTION_KEY: %w", err)
	}

	b, err := openBackend(ctx, config, flags, sealer)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Error("Failed to close backend", "error", err)
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if b.sender != nil {
		if err := b.sender.RecoverStaleMessages(runCtx); err != nil {
			slog.Warn("Failed to recover stale outbox messages", "error", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.sender.Run(runCtx)
		}()
	}

	var flowOpts []flow.Option
	features := b.features
	if *flags.openaiKey != "" {
		client, err := genai.NewClient(buildGenAIOptions(flags)...)
		if err != nil {
			return fmt.Errorf("failed to create genai client: %w", err)
		}
		flowOpts = append(flowOpts, flow.WithResponder(genai.NewResponder(client)))
		features.Responder = true
		features.Model = client.Model()
	} else {
		slog.Warn("OPENAI_API_KEY not set, using static replies for free-text stages")
	}

	seed := config.RandomSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	server := api.NewServer(
		flow.NewService(b.store, flowOpts...),
		wellness.NewService(seed),
		buildAPIOptions(config, flags, features)...,
	)
	slog.Debug("Final configuration", "store", features.Store, "redis", features.Redis,
		"supabase", features.Supabase, "responder", features.Responder, "api_addr", *flags.apiAddr)
	return server.Run(runCtx)
}
