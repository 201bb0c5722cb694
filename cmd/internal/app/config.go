package app

import (
	"time"

	"inbox/cmd/internal/realtime"
	"inbox/cmd/internal/thread"
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
	MaxHeaderBytes    int
	MaxBodyBytes      int64

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string
	// Create the schema on startup when Postgres is enabled.
	DBApplySchema bool

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	RedisURL     string
	PairCacheTTL time.Duration

	ThreadRetryDelay time.Duration

	WS realtime.GatewayConfig
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	ws := realtime.DefaultGatewayConfig()
	ws.AllowedOrigins = EnvCSV("INBOX_WS_ALLOWED_ORIGINS", ws.AllowedOrigins)
	ws.OriginRequired = EnvBool("INBOX_WS_ORIGIN_REQUIRED", ws.OriginRequired)
	ws.InsecureSkipVerify = EnvBool("INBOX_WS_INSECURE_SKIP_VERIFY", ws.InsecureSkipVerify)
	ws.WriteTimeout = EnvDuration("INBOX_WS_WRITE_TIMEOUT", ws.WriteTimeout)
	ws.ReadIdleTimeout = EnvDuration("INBOX_WS_READ_IDLE_TIMEOUT", ws.ReadIdleTimeout)
	ws.SendQueueSize = EnvInt("INBOX_WS_SEND_QUEUE", ws.SendQueueSize)
	ws.HeartbeatInterval = EnvDuration("INBOX_WS_HEARTBEAT_INTERVAL", ws.HeartbeatInterval)
	ws.HeartbeatTimeout = EnvDuration("INBOX_WS_HEARTBEAT_TIMEOUT", ws.HeartbeatTimeout)
	ws.RateEvents = EnvInt("INBOX_WS_RATE_EVENTS", ws.RateEvents)
	ws.RateWindow = EnvDuration("INBOX_WS_RATE_WINDOW", ws.RateWindow)
	ws.SendEvents = EnvInt("INBOX_WS_SEND_EVENTS", ws.SendEvents)
	ws.SendWindow = EnvDuration("INBOX_WS_SEND_WINDOW", ws.SendWindow)
	ws.EventBuffer = EnvInt("INBOX_WS_EVENT_BUFFER", ws.EventBuffer)

	return Config{
		HTTPAddr:  EnvString("INBOX_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("INBOX_LOG_LEVEL", "info"),
		LogFormat: EnvString("INBOX_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("INBOX_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("INBOX_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("INBOX_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("INBOX_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("INBOX_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:   int64(EnvInt("INBOX_HTTP_MAX_BODY_BYTES", 16<<10)),

		CORSAllowedOrigins:   EnvCSV("INBOX_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("INBOX_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("INBOX_CORS_MAX_AGE_SECONDS", 600),

		DatabaseURL:   EnvString("INBOX_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("INBOX_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("INBOX_DB_MIN_CONNS", 0),
		DBSchema:      EnvString("INBOX_DB_SCHEMA", thread.DefaultSchema),
		DBApplySchema: EnvBool("INBOX_DB_APPLY_SCHEMA", true),

		ReadinessRequireDB: EnvBool("INBOX_READINESS_REQUIRE_DB", false),

		RedisURL:     EnvString("INBOX_REDIS_URL", ""),
		PairCacheTTL: EnvDuration("INBOX_PAIR_CACHE_TTL", 24*time.Hour),

		ThreadRetryDelay: EnvDuration("INBOX_THREAD_RETRY_DELAY", thread.DefaultRetryDelay),

		WS: ws,
	}
}
