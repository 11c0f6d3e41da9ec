package deps

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/stackpilot/internal/audit"
	"github.com/MrSnakeDoc/stackpilot/internal/auth"
	"github.com/MrSnakeDoc/stackpilot/internal/backup"
	"github.com/MrSnakeDoc/stackpilot/internal/lifecycle"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/registry"
	"github.com/MrSnakeDoc/stackpilot/internal/secrets"
	"github.com/MrSnakeDoc/stackpilot/internal/slot"
)

type Deps struct {
	Logger            logger.Logger
	StartTime         time.Time
	Version           string
	Commit            string
	BuildDate         string
	GoVersion         string
	TimeNow           func() time.Time // for testing, defaults to time.Now
	AllowedHosts      []string         // Host headers allowed to access the server
	AllowedCIDRS      []string         // IPs allowed to access healthz/readyz/metrics endpoints
	TrustProxy        bool             // true if running behind a trusted reverse proxy (e.g., cloudflared)
	LoginBurst        int              // verify-admin attempts per IP before throttling
	LoginRefillPerMin int              // verify-admin attempts refilled per minute
	RedisClient       *redis.Client    // nil when state is kept in memory

	Auth         *auth.Authority
	Registry     *registry.Registry
	Orchestrator *lifecycle.Orchestrator
	Backups      *backup.Store
	Slots        *slot.Manager
	Secrets      *secrets.Store
	Audit        *audit.Log

	ReloadTrigger chan struct{} // Channel to trigger manual catalog reload
}
