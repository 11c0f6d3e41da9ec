package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	MinSessionTimeout = 5 * time.Minute
	MaxSessionTimeout = 1440 * time.Minute
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s
	RequestTimeout  time.Duration // per-request timeout, operations run in the background

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Files and directories
	DataDir         string // root for persisted state (audit log, slot pointer fallback)
	CatalogFile     string // services.yaml listing the units in deployment order
	SecretsFile     string // KEY='value' file holding ADMIN_PASS_RAW and HUB_API_KEY (0600)
	AuditFile       string // append-only JSONL audit log
	StateRoot       string // parent of every unit's state directory
	BackupDir       string // timestamped snapshots, one sub-directory per unit
	RouteFile       string // file read by the reverse proxy to pick the active slot
	ComposeFile     string // main compose file used for per-unit operations
	ComposeProject  string // optional compose project name
	ContainerPrefix string // ex: "hub-"
	SlotAFile       string // compose file of slot A
	SlotBFile       string // compose file of slot B
	SlotAVersion    string // stack version deployed in slot A
	SlotBVersion    string // stack version deployed in slot B

	// Sessions
	SessionTimeout         time.Duration // clamped to [5m, 24h]
	SessionCleanup         bool          // sliding expiry + idle sweep on by default
	SessionCleanupInterval time.Duration // sweep period

	// Lifecycle policies
	BackupBeforeUpdate    bool
	AutoRollback          bool
	ProbeAttempts         int
	ProbeInterval         time.Duration
	ProbeDeadline         time.Duration
	ProbeTimeout          time.Duration // per HTTP probe
	CommandTimeout        time.Duration // per runtime command
	BackupMaxAge          time.Duration
	BackupKeepLast        int
	BackupMinFreeBytes    uint64
	BackupParallelism     int
	UninstallConfirmTTL   time.Duration
	CatalogReloadInterval time.Duration
	PruneInterval         time.Duration

	// Redis (optional, empty address => in-memory state)
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize       int           // Redis connection pool size
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold  int           // warn after this many attempts

	// Access restrictions
	AllowedHosts      []string // optional, restrict access to specific Host headers
	AllowedCIDRS      []string // optional, restrict infra endpoints to specific IPs/CIDRs
	TrustProxy        bool     // true => trust X-Forwarded-For headers
	LoginBurst        int      // verify-admin attempts allowed in a burst per IP
	LoginRefillPerMin int      // verify-admin attempts refilled per minute per IP
}

func Load() *Config {
	dataDir := getenv("STACKPILOT_DATA_DIR", "/app/data")

	cfg := &Config{
		// Server settings
		ListenPort:      getenv("STACKPILOT_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("STACKPILOT_SHUTDOWN_TIMEOUT", 10*time.Second),
		RequestTimeout:  mustDuration("STACKPILOT_REQUEST_TIMEOUT", 30*time.Second),

		// Logging
		LogLevel:  getenv("STACKPILOT_LOG_LEVEL", "info"),
		PrettyLog: mustBool("STACKPILOT_PRETTY_LOG", false),

		// Files and directories
		DataDir:         dataDir,
		CatalogFile:     requireEnv("STACKPILOT_CATALOG_FILE"),
		SecretsFile:     requireEnv("STACKPILOT_SECRETS_FILE"),
		AuditFile:       getenv("STACKPILOT_AUDIT_FILE", filepath.Join(dataDir, "audit.jsonl")),
		StateRoot:       getenv("STACKPILOT_STATE_ROOT", filepath.Join(dataDir, "services")),
		BackupDir:       getenv("STACKPILOT_BACKUP_DIR", filepath.Join(dataDir, "backups")),
		RouteFile:       getenv("STACKPILOT_ROUTE_FILE", filepath.Join(dataDir, ".active_slot")),
		ComposeFile:     getenv("STACKPILOT_COMPOSE_FILE", "/app/docker-compose.yml"),
		ComposeProject:  getenv("STACKPILOT_COMPOSE_PROJECT", ""),
		ContainerPrefix: getenv("STACKPILOT_CONTAINER_PREFIX", "hub-"),
		SlotAFile:       getenv("STACKPILOT_SLOT_A_COMPOSE_FILE", "/app/slots/a/docker-compose.yml"),
		SlotBFile:       getenv("STACKPILOT_SLOT_B_COMPOSE_FILE", "/app/slots/b/docker-compose.yml"),
		SlotAVersion:    getenv("STACKPILOT_SLOT_A_VERSION", "a"),
		SlotBVersion:    getenv("STACKPILOT_SLOT_B_VERSION", "b"),

		// Sessions
		SessionTimeout:         clampSessionTimeout(getenvInt("STACKPILOT_SESSION_TIMEOUT_MINUTES", 30)),
		SessionCleanup:         mustBool("STACKPILOT_SESSION_CLEANUP", true),
		SessionCleanupInterval: mustDuration("STACKPILOT_SESSION_CLEANUP_INTERVAL", time.Minute),

		// Lifecycle policies
		BackupBeforeUpdate:    mustBool("STACKPILOT_BACKUP_BEFORE_UPDATE", true),
		AutoRollback:          mustBool("STACKPILOT_AUTO_ROLLBACK", true),
		ProbeAttempts:         getenvInt("STACKPILOT_PROBE_ATTEMPTS", 10),
		ProbeInterval:         mustDuration("STACKPILOT_PROBE_INTERVAL", 3*time.Second),
		ProbeDeadline:         mustDuration("STACKPILOT_PROBE_DEADLINE", 60*time.Second),
		ProbeTimeout:          mustDuration("STACKPILOT_PROBE_TIMEOUT", 2*time.Second),
		CommandTimeout:        mustDuration("STACKPILOT_COMMAND_TIMEOUT", 10*time.Minute),
		BackupMaxAge:          mustDuration("STACKPILOT_BACKUP_MAX_AGE", 30*24*time.Hour),
		BackupKeepLast:        getenvInt("STACKPILOT_BACKUP_KEEP_LAST", 5),
		BackupMinFreeBytes:    uint64(getenvInt("STACKPILOT_BACKUP_MIN_FREE_MB", 256)) << 20,
		BackupParallelism:     getenvInt("STACKPILOT_BACKUP_PARALLELISM", 5),
		UninstallConfirmTTL:   mustDuration("STACKPILOT_UNINSTALL_CONFIRM_TTL", 60*time.Second),
		CatalogReloadInterval: mustDuration("STACKPILOT_CATALOG_RELOAD_INTERVAL", 5*time.Minute),
		PruneInterval:         mustDuration("STACKPILOT_PRUNE_INTERVAL", 6*time.Hour),

		// Redis settings
		RedisAddr:           getenv("STACKPILOT_REDIS_ADDR", ""),
		RedisUser:           getenv("STACKPILOT_REDIS_USERNAME", ""),
		RedisPassword:       getenv("STACKPILOT_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("STACKPILOT_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts:      splitAndTrim(getenv("STACKPILOT_ALLOWED_HOSTS", "")),
		AllowedCIDRS:      splitAndTrim(getenv("STACKPILOT_ALLOWED_CIDRS", "")),
		TrustProxy:        mustBool("STACKPILOT_TRUST_PROXY", false),
		LoginBurst:        getenvInt("STACKPILOT_LOGIN_BURST", 5),
		LoginRefillPerMin: getenvInt("STACKPILOT_LOGIN_REFILL_PER_MIN", 5),
	}

	if cfg.ProbeAttempts < 1 {
		panic(fmt.Sprintf("❌ FATAL: STACKPILOT_PROBE_ATTEMPTS must be >= 1, got %d", cfg.ProbeAttempts))
	}
	if cfg.BackupParallelism < 1 {
		cfg.BackupParallelism = 1
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// RedisEnabled reports whether state should be kept in Redis rather than in memory.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// clampSessionTimeout converts minutes to a duration within the allowed range.
func clampSessionTimeout(minutes int) time.Duration {
	d := time.Duration(minutes) * time.Minute
	if d < MinSessionTimeout {
		return MinSessionTimeout
	}
	if d > MaxSessionTimeout {
		return MaxSessionTimeout
	}
	return d
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
