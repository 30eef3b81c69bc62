// Package config provides centralized configuration for playsync.
// Every tunable is a named environment variable with a documented default;
// the CLI overrides individual values with flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Store backends understood by the CLI.
const (
	StoreNeo4j    = "neo4j"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all playsync settings.
type Config struct {
	// BackendURL is the remote automation backend (SELENIUM_REMOTE_URL)
	BackendURL string `validate:"required,url"`

	// ViewerURL is where the operator watches the remote browser (SELENIUM_VIEWER_URL)
	ViewerURL string

	// WindowSize is the browser window as "width,height" (PLAYSYNC_WINDOW_SIZE)
	WindowSize string

	// Headless requests a headless browser; manual login needs it off (PLAYSYNC_HEADLESS)
	Headless bool

	// LoginURL is the login surface (LOGIN_URL)
	LoginURL string `validate:"required,url"`

	// SuccessSelector appears once the operator has logged in (SUCCESS_SELECTOR)
	SuccessSelector string `validate:"required"`

	// SignInSelector is an optional sign-in affordance clicked best-effort (SIGNIN_SELECTOR)
	SignInSelector string

	// GamesURL is the first page of the played-games listing (GAMES_URL)
	GamesURL string `validate:"required,url"`

	// ListSelector marks a rendered listing page (LIST_SELECTOR)
	ListSelector string `validate:"required"`

	// ItemSelector matches one game entry inside the listing (ITEM_SELECTOR)
	ItemSelector string `validate:"required"`

	// TitleSelector finds the title inside an entry; empty uses the entry text (TITLE_SELECTOR)
	TitleSelector string

	// NextSelector is the next-page control (NEXT_SELECTOR)
	NextSelector string

	ReadinessTimeout time.Duration `validate:"gt=0"`
	LoginTimeout     time.Duration `validate:"gt=0"`
	SignInTimeout    time.Duration
	PageTimeout      time.Duration `validate:"gt=0"`
	PageInterval     time.Duration `validate:"gte=0"`
	MaxPages         int           `validate:"gte=1"`

	SessionAttempts int           `validate:"gte=1"`
	SessionDelay    time.Duration `validate:"gte=0"`
	PageAttempts    int           `validate:"gte=1"`
	PageDelay       time.Duration `validate:"gte=0"`
	WriteAttempts   int           `validate:"gte=1"`
	WriteDelay      time.Duration `validate:"gte=0"`

	BatchSize        int `validate:"gte=1"`
	WriteConcurrency int `validate:"gte=1"`

	// Store selects the persistence backend (PLAYSYNC_STORE)
	Store string `validate:"oneof=neo4j sqlite postgres memory"`

	Neo4jURI      string `validate:"required_if=Store neo4j"`
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// SQLitePath is the local database file (PLAYSYNC_SQLITE_PATH)
	SQLitePath string `validate:"required_if=Store sqlite"`

	// DatabaseURL is the Postgres connection string (DATABASE_URL)
	DatabaseURL string `validate:"required_if=Store postgres"`

	// MetricsPort exposes /metrics when non-zero (PLAYSYNC_METRICS_PORT)
	MetricsPort int `validate:"gte=0,lte=65535"`
}

// LoadDotEnv reads a .env file into the process environment if present.
// Variables already set win over the file.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load %s: %w", strings.Join(existing, ","), err)
	}
	return nil
}

// Load builds a Config from the environment. It does not validate, so
// callers can apply flag overrides first and then call Validate.
func Load() (*Config, error) {
	l := &loader{}
	cfg := &Config{
		BackendURL:      getEnvDefault("SELENIUM_REMOTE_URL", "http://selenium:4444"),
		ViewerURL:       getEnvDefault("SELENIUM_VIEWER_URL", "http://localhost:7900"),
		WindowSize:      getEnvDefault("PLAYSYNC_WINDOW_SIZE", "1366,900"),
		Headless:        l.bool("PLAYSYNC_HEADLESS", false),
		LoginURL:        getEnvDefault("LOGIN_URL", "https://my.playstation.com/profile"),
		SuccessSelector: getEnvDefault("SUCCESS_SELECTOR", "section[aria-label='Games']"),
		SignInSelector:  getEnvDefault("SIGNIN_SELECTOR", "button[data-qa='web-toolbar#signin-button']"),
		GamesURL:        getEnvDefault("GAMES_URL", "https://library.playstation.com/recently-played"),
		ListSelector:    getEnvDefault("LIST_SELECTOR", "[data-qa='collection-game-list']"),
		ItemSelector:    getEnvDefault("ITEM_SELECTOR", "[data-qa='collection-game-list'] li"),
		TitleSelector:   getEnvDefault("TITLE_SELECTOR", "[data-qa$='game-art#title']"),
		NextSelector:    getEnvDefault("NEXT_SELECTOR", "button[data-qa='pagination#next']"),

		ReadinessTimeout: l.duration("PLAYSYNC_READINESS_TIMEOUT", 120*time.Second),
		LoginTimeout:     l.duration("PLAYSYNC_LOGIN_TIMEOUT", 600*time.Second),
		SignInTimeout:    l.duration("PLAYSYNC_SIGNIN_TIMEOUT", 5*time.Second),
		PageTimeout:      l.duration("PLAYSYNC_PAGE_TIMEOUT", 30*time.Second),
		PageInterval:     l.duration("PLAYSYNC_PAGE_INTERVAL", 2*time.Second),
		MaxPages:         l.int("PLAYSYNC_MAX_PAGES", 50),

		SessionAttempts: l.int("PLAYSYNC_SESSION_ATTEMPTS", 5),
		SessionDelay:    l.duration("PLAYSYNC_SESSION_DELAY", 2*time.Second),
		PageAttempts:    l.int("PLAYSYNC_PAGE_ATTEMPTS", 3),
		PageDelay:       l.duration("PLAYSYNC_PAGE_DELAY", time.Second),
		WriteAttempts:   l.int("PLAYSYNC_WRITE_ATTEMPTS", 3),
		WriteDelay:      l.duration("PLAYSYNC_WRITE_DELAY", 500*time.Millisecond),

		BatchSize:        l.int("PLAYSYNC_BATCH_SIZE", 25),
		WriteConcurrency: l.int("PLAYSYNC_WRITE_CONCURRENCY", 4),

		Store:         getEnvDefault("PLAYSYNC_STORE", StoreNeo4j),
		Neo4jURI:      getEnvDefault("NEO4J_URI", "bolt://neo4j:7687"),
		Neo4jUser:     getEnvDefault("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnvDefault("NEO4J_PASSWORD", "neo4j"),
		Neo4jDatabase: os.Getenv("NEO4J_DATABASE"),
		SQLitePath:    getEnvDefault("PLAYSYNC_SQLITE_PATH", "playsync.db"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MetricsPort:   l.int("PLAYSYNC_METRICS_PORT", 0),
	}
	if err := l.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, _, err := c.Window(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Window parses WindowSize into width and height.
func (c *Config) Window() (int, int, error) {
	parts := strings.Split(c.WindowSize, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("window size %q: want width,height", c.WindowSize)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("window width %q: %w", parts[0], err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("window height %q: %w", parts[1], err)
	}
	return w, h, nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loader parses typed env values and remembers the first failure.
type loader struct {
	errs []string
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s=%q: %v", key, v, err))
		return fallback
	}
	return d
}

func (l *loader) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s=%q: %v", key, v, err))
		return fallback
	}
	return n
}

func (l *loader) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s=%q: %v", key, v, err))
		return fallback
	}
	return b
}

func (l *loader) err() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s", strings.Join(l.errs, "; "))
}
