package app

import "time"

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

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Browser origin policy for the REST surface.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// JWTSecret signs and verifies access tokens. Must be at least 32 bytes.
	JWTSecret string
	TokenTTL  time.Duration

	// DevLogin enables POST /api/auth/login against the in-memory store.
	// It is forced off when a database is configured.
	DevLogin bool

	// AI provider.
	AIAPIKeys []string
	AIBaseURL string
	AIModel   string

	// Sliding window applied to conversation analysis calls.
	AIRateMaxCalls int
	AIRateWindow   time.Duration

	AIWorkers   int
	AIQueueSize int

	// Websocket channel policy.
	WSOriginRequired    bool
	WSAllowedOrigins    []string
	WSDevInsecure       bool
	WSWriteTimeout      time.Duration
	WSReadIdleTimeout   time.Duration
	WSSendQueueSize     int
	HeartbeatInterval   time.Duration
	HeartbeatPongWindow time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("AURA_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("AURA_LOG_LEVEL", "info"),
		LogFormat: EnvString("AURA_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("AURA_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("AURA_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("AURA_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("AURA_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("AURA_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("AURA_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("AURA_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("AURA_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("AURA_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvCSV("AURA_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("AURA_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("AURA_CORS_MAX_AGE_SECONDS", 600),

		JWTSecret: EnvString("AURA_JWT_SECRET", ""),
		TokenTTL:  EnvDuration("AURA_TOKEN_TTL", 24*time.Hour),

		DevLogin: EnvBool("AURA_DEV_LOGIN", true),

		AIAPIKeys: EnvCSV("AURA_AI_API_KEYS", nil),
		AIBaseURL: EnvString("AURA_AI_BASE_URL", ""),
		AIModel:   EnvString("AURA_AI_MODEL", ""),

		AIRateMaxCalls: EnvInt("AURA_AI_RATE_MAX_CALLS", 14),
		AIRateWindow:   EnvDuration("AURA_AI_RATE_WINDOW", time.Minute),

		AIWorkers:   EnvInt("AURA_AI_WORKERS", 4),
		AIQueueSize: EnvInt("AURA_AI_QUEUE_SIZE", 256),

		WSOriginRequired:    EnvBool("AURA_WS_ORIGIN_REQUIRED", true),
		WSAllowedOrigins:    EnvCSV("AURA_WS_ALLOWED_ORIGINS", nil),
		WSDevInsecure:       EnvBool("AURA_WS_DEV_INSECURE", false),
		WSWriteTimeout:      EnvDuration("AURA_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadIdleTimeout:   EnvDuration("AURA_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
		WSSendQueueSize:     EnvInt("AURA_WS_SEND_QUEUE_SIZE", 256),
		HeartbeatInterval:   EnvDuration("AURA_WS_HEARTBEAT_INTERVAL", 30*time.Second),
		HeartbeatPongWindow: EnvDuration("AURA_WS_HEARTBEAT_TIMEOUT", 10*time.Second),
	}
}
