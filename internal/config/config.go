package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values. Each field corresponds
// to an environment variable. Nothing here is hardcoded in the core:
// the remote endpoint, the integrity secret, batch size, retry policy
// and sync interval are all externally supplied.
type Config struct {
	Env    string // application environment (e.g. "dev", "prod")
	Port   string // HTTP port to listen on
	DBPath string // path to the local sqlite ledger file

	// Remote authoritative store (MySQL). Empty RemoteHost means the
	// remote is not configured and the sync engine degrades to a no-op.
	RemoteUser string
	RemotePass string
	RemoteHost string
	RemotePort string
	RemoteName string

	TicketSecret string // HMAC secret for integrity hashes, shared out-of-band
	StationID    int64  // identifier of this issuing/redemption station

	JWTSecret    string // secret used to sign operator access tokens
	AccessTTLMin int    // operator token time-to-live in minutes
	BcryptCost   int    // bcrypt cost for operator password hashing

	SyncBatchSize int           // tickets per remote upsert batch
	SyncRetries   int           // attempts per remote call
	SyncBackoff   time.Duration // backoff before the second attempt, doubled each retry
	SyncInterval  time.Duration // period of the background sync timer
	RemoteTimeout time.Duration // hard timeout on each remote call

	BootstrapAdminUser string // seeded admin username for a fresh ledger
	BootstrapAdminPass string // seeded admin password
}

// Load reads configuration from the environment. Required variables
// are enforced by must() and missing values cause the program to exit
// with a fatal log message; tunables fall back to sensible defaults.
func Load() Config {
	return Config{
		Env:    must("APP_ENV"),
		Port:   must("APP_PORT"),
		DBPath: envStr("LEDGER_DB_PATH", "data/tito.db"),

		RemoteUser: os.Getenv("REMOTE_DB_USER"),
		RemotePass: os.Getenv("REMOTE_DB_PASS"),
		RemoteHost: os.Getenv("REMOTE_DB_HOST"),
		RemotePort: envStr("REMOTE_DB_PORT", "3306"),
		RemoteName: envStr("REMOTE_DB_NAME", "tito"),

		TicketSecret: must("TICKET_SECRET"),
		StationID:    int64(mustInt("STATION_ID")),

		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: envInt("ACCESS_TOKEN_TTL_MIN", 480),
		BcryptCost:   envInt("BCRYPT_COST", 12),

		SyncBatchSize: envInt("SYNC_BATCH_SIZE", 10),
		SyncRetries:   envInt("SYNC_RETRIES", 3),
		SyncBackoff:   envDur("SYNC_BACKOFF_BASE", 2*time.Second),
		SyncInterval:  envDur("SYNC_INTERVAL", 5*time.Minute),
		RemoteTimeout: envDur("REMOTE_TIMEOUT", 10*time.Second),

		BootstrapAdminUser: envStr("BOOTSTRAP_ADMIN_USER", "admin"),
		BootstrapAdminPass: os.Getenv("BOOTSTRAP_ADMIN_PASS"),
	}
}

// RemoteConfigured reports whether enough of the remote store's
// coordinates are present to attempt a connection.
func (c Config) RemoteConfigured() bool {
	return c.RemoteHost != "" && c.RemoteUser != ""
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and
// exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an
// integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
