package app

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the podiumd runtime configuration, read from PODIUM_* variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool

	// Seed the demo accounts, topics and rooms on start.
	Seed bool
	// In-memory mode only: persist debates under this file. Empty keeps them in memory.
	StatePath string
	// Simulated backend latency, for exercising client spinners.
	Latency time.Duration

	TokenTTL      time.Duration
	LoginMax      int
	LoginWindow   time.Duration
	TrustProxy    bool
	RequireHMAC   bool
	MetricsEnable bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PODIUM_HTTP_ADDR", "127.0.0.1:8080"),
		LogLevel:  EnvString("PODIUM_LOG_LEVEL", "info"),
		LogFormat: EnvString("PODIUM_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PODIUM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PODIUM_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PODIUM_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PODIUM_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("PODIUM_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PODIUM_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PODIUM_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PODIUM_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PODIUM_READINESS_REQUIRE_DB", false),

		Seed:      EnvBool("PODIUM_SEED", true),
		StatePath: EnvString("PODIUM_STATE_PATH", ""),
		Latency:   envDurationAllowZero("PODIUM_BACKEND_LATENCY", 0),

		TokenTTL:      EnvDuration("PODIUM_TOKEN_TTL", 12*time.Hour),
		LoginMax:      EnvInt("PODIUM_LOGIN_RATE_MAX", 10),
		LoginWindow:   EnvDuration("PODIUM_LOGIN_RATE_WINDOW", time.Minute),
		TrustProxy:    EnvBool("PODIUM_TRUST_PROXY", false),
		RequireHMAC:   EnvBool("PODIUM_REQUIRE_TOKEN_HMAC", false),
		MetricsEnable: EnvBool("PODIUM_METRICS", true),
	}
}

// ClientConfig configures the podium terminal client.
type ClientConfig struct {
	ServerURL string
	WSURL     string // derived from ServerURL when empty
	Origin    string
	StatePath string
	LogPath   string
	LogLevel  string
	AltScreen bool

	RetryInitial time.Duration
	RetryMax     time.Duration
	RetryMaxTry  int // 0 retries forever
	DialTimeout  time.Duration
	BannerFor    time.Duration
	RoundPolicy  string // manual | alternation
}

// LoadClientConfig loads ClientConfig from environment variables with defaults.
func LoadClientConfig() ClientConfig {
	server := EnvString("PODIUM_SERVER_URL", "http://127.0.0.1:8080")
	return ClientConfig{
		ServerURL: server,
		WSURL:     EnvString("PODIUM_WS_URL", wsBaseURL(server)+"/ws"),
		Origin:    EnvString("PODIUM_ORIGIN", "http://localhost"),
		StatePath: EnvString("PODIUM_CLIENT_STATE", defaultStatePath()),
		LogPath:   EnvString("PODIUM_CLIENT_LOG", ""),
		LogLevel:  EnvString("PODIUM_LOG_LEVEL", "info"),
		AltScreen: EnvBool("PODIUM_ALT_SCREEN", true),

		RetryInitial: EnvDuration("PODIUM_RETRY_INITIAL", time.Second),
		RetryMax:     EnvDuration("PODIUM_RETRY_MAX", 2*time.Second),
		RetryMaxTry:  envIntAllowZero("PODIUM_RETRY_ATTEMPTS", 0),
		DialTimeout:  EnvDuration("PODIUM_DIAL_TIMEOUT", 20*time.Second),
		BannerFor:    EnvDuration("PODIUM_BANNER_DURATION", 3*time.Second),
		RoundPolicy:  EnvString("PODIUM_ROUND_POLICY", "manual"),
	}
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "podium-state.json"
	}
	return filepath.Join(dir, "podium", "state.json")
}

func envDurationAllowZero(key string, def time.Duration) time.Duration {
	if EnvString(key, "") == "0" {
		return 0
	}
	return EnvDuration(key, def)
}

func envIntAllowZero(key string, def int) int {
	if EnvString(key, "") == "0" {
		return 0
	}
	return EnvInt(key, def)
}
