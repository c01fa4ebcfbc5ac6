package app

import (
	"net"
	"strings"
	"time"
)

// Store backends selectable through PLUG_STORE.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	Store          string
	DatabasePath   string
	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	MigrateOnStart bool
	RedisURL       string
	RedisPrefix    string

	DefaultAdminPassword string
	SweepInterval        time.Duration

	WSMaxMessageBytes int64
	WSPingInterval    time.Duration
	WSPingTimeout     time.Duration
	WSEventsPerSec    float64
	WSEventsBurst     int

	// If true, PLUG_TOKEN_HMAC_KEY MUST be set (>= 32 bytes).
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults. The
// PLUG_ names win over the unprefixed names they replace.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  httpAddr(EnvFirst(":3000", "PLUG_HTTP_ADDR", "PORT")),
		LogLevel:  EnvFirst("info", "PLUG_LOG_LEVEL", "LOG_LEVEL"),
		LogFormat: EnvString("PLUG_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PLUG_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PLUG_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PLUG_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PLUG_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("PLUG_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    EnvInt("PLUG_HTTP_MAX_HEADER_BYTES", 1<<20),

		CORSAllowedOrigins:   EnvCSV([]string{"*"}, "PLUG_CORS_ORIGIN", "CORS_ORIGIN"),
		CORSAllowCredentials: EnvBool("PLUG_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("PLUG_CORS_MAX_AGE", 600),

		Store:          strings.ToLower(EnvString("PLUG_STORE", StoreSQLite)),
		DatabasePath:   EnvFirst("./data/plug_backend.db", "PLUG_DATABASE_PATH", "DATABASE_PATH"),
		DatabaseURL:    EnvString("PLUG_DATABASE_URL", ""),
		DBMaxConns:     EnvInt32("PLUG_DB_MAX_CONNS", 10),
		DBMinConns:     EnvInt32("PLUG_DB_MIN_CONNS", 0),
		MigrateOnStart: EnvBool("PLUG_MIGRATE_ON_START", true),
		RedisURL:       EnvString("PLUG_REDIS_URL", ""),
		RedisPrefix:    EnvString("PLUG_REDIS_PREFIX", "plug:rt"),

		DefaultAdminPassword: EnvFirst("", "PLUG_DEFAULT_ADMIN_PASSWORD", "DEFAULT_ADMIN_PASSWORD"),
		SweepInterval:        EnvDuration("PLUG_SWEEP_INTERVAL", time.Hour),

		WSMaxMessageBytes: int64(EnvInt("PLUG_WS_MAX_MESSAGE_BYTES", 100_000_000)),
		WSPingInterval:    EnvDuration("PLUG_WS_PING_INTERVAL", 25*time.Second),
		WSPingTimeout:     EnvDuration("PLUG_WS_PING_TIMEOUT", 60*time.Second),
		WSEventsPerSec:    EnvFloat("PLUG_WS_EVENTS_PER_SEC", 20),
		WSEventsBurst:     EnvInt("PLUG_WS_EVENTS_BURST", 40),

		RequireTokenHMAC: EnvBool("PLUG_REQUIRE_TOKEN_HMAC", false),
	}
}

// httpAddr accepts a bare port ("3000", as PORT carries it) or host:port.
func httpAddr(v string) string {
	if _, _, err := net.SplitHostPort(v); err == nil {
		return v
	}
	return ":" + strings.TrimPrefix(v, ":")
}
