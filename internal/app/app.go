package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/stackpilot/internal/audit"
	"github.com/MrSnakeDoc/stackpilot/internal/auth"
	"github.com/MrSnakeDoc/stackpilot/internal/backup"
	"github.com/MrSnakeDoc/stackpilot/internal/capability"
	"github.com/MrSnakeDoc/stackpilot/internal/catalog"
	"github.com/MrSnakeDoc/stackpilot/internal/config"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/lifecycle"
	"github.com/MrSnakeDoc/stackpilot/internal/locks"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/redis"
	"github.com/MrSnakeDoc/stackpilot/internal/registry"
	"github.com/MrSnakeDoc/stackpilot/internal/runtime"
	"github.com/MrSnakeDoc/stackpilot/internal/scheduler"
	"github.com/MrSnakeDoc/stackpilot/internal/secrets"
	"github.com/MrSnakeDoc/stackpilot/internal/slot"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
	"github.com/MrSnakeDoc/stackpilot/internal/store/memory"
	redisstore "github.com/MrSnakeDoc/stackpilot/internal/store/redis"
	"github.com/MrSnakeDoc/stackpilot/internal/utils"
	"github.com/MrSnakeDoc/stackpilot/internal/version"
)

type App struct {
	cfg          *config.Config
	logger       logger.Logger
	server       *httpserver.Server
	redisClient  *goredis.Client
	auditLog     *audit.Log
	orchestrator *lifecycle.Orchestrator
	reloader     *scheduler.CatalogReloader
	pruner       *scheduler.BackupPruner
	sweeper      *scheduler.SessionSweeper
}

func New() (*App, error) {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	ctx := context.Background()

	// State lives in Redis when configured, otherwise in memory.
	var (
		st          store.Store
		redisClient *goredis.Client
		sinks       []audit.Sink
	)
	if cfg.RedisEnabled() {
		loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		client, err := redis.New(ctx, redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rs := redisstore.NewStore(client)
		st, redisClient = rs, client
		sinks = append(sinks, rs)
		loggerClient.Info("Redis initialized successfully")
	} else {
		st = memory.New()
		loggerClient.Warn("no redis configured, state is kept in memory and lost on restart")
	}

	auditLog, err := audit.Open(cfg.AuditFile, loggerClient, sinks...)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	secretStore, err := secrets.Load(cfg.SecretsFile, loggerClient)
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	authority := auth.New(secretStore, auth.Options{
		Timeout:     cfg.SessionTimeout,
		IdleCleanup: cfg.SessionCleanup,
		Store:       st,
		Audit:       auditLog,
		Logger:      loggerClient,
	})
	if n, err := authority.Restore(ctx); err != nil {
		loggerClient.Warn("failed to restore sessions", logger.Error(err))
	} else if n > 0 {
		loggerClient.Info("sessions restored", logger.Int("count", n))
	}

	// Operations left running by a previous process can never finish.
	if n, err := scheduler.NewStateSyncer(st, loggerClient).Sync(ctx); err != nil {
		loggerClient.Warn("failed to reconcile interrupted operations", logger.Error(err))
	} else if n > 0 {
		loggerClient.Warn("interrupted operations marked failed", logger.Int("count", n))
	}

	reg := registry.New(st, loggerClient)
	reloadTrigger := make(chan struct{}, 1)
	reloader := scheduler.NewCatalogReloader(
		cfg.CatalogFile,
		catalog.NewMapper(cfg.ContainerPrefix, cfg.StateRoot),
		reg,
		loggerClient,
		cfg.CatalogReloadInterval,
		reloadTrigger,
	)

	rt := runtime.NewCompose(runtime.ComposeOptions{
		ComposeFile:    cfg.ComposeFile,
		Project:        cfg.ComposeProject,
		RouteFile:      cfg.RouteFile,
		CommandTimeout: cfg.CommandTimeout,
		Prober:         runtime.NewHTTPProber(cfg.ProbeTimeout),
		Logger:         loggerClient,
	})
	caps := capability.Defaults(rt, loggerClient)

	backups := backup.New(backup.Options{
		Root:         cfg.BackupDir,
		MinFreeBytes: cfg.BackupMinFreeBytes,
		Units:        reg,
		Capabilities: caps,
		Records:      st,
		Logger:       loggerClient,
	})
	if n, err := backups.Load(ctx); err != nil {
		loggerClient.Warn("failed to load backup records", logger.Error(err))
	} else {
		loggerClient.Info("backup records loaded", logger.Int("count", n))
	}

	lockTable := locks.New()
	slots := slot.New(slot.Options{
		Locks:   lockTable,
		Runtime: rt,
		Store:   st,
		Audit:   auditLog,
		Logger:  loggerClient,
		Initial: slot.DefaultPair(cfg.SlotAFile, cfg.SlotAVersion, cfg.SlotBFile, cfg.SlotBVersion),
	})
	if pair, err := slots.Load(ctx); err != nil {
		loggerClient.Warn("failed to load slot pointer, using defaults", logger.Error(err))
	} else {
		loggerClient.Info("slot pointer loaded", logger.String("active", string(pair.Active.ID)))
	}

	retention := backup.Retention{MaxAge: cfg.BackupMaxAge, KeepLast: cfg.BackupKeepLast}
	orchestrator := lifecycle.New(lifecycle.Options{
		Auth:         authority,
		Registry:     reg,
		Backups:      backups,
		Capabilities: caps,
		Runtime:      rt,
		Slots:        slots,
		Locks:        lockTable,
		Operations:   st,
		Audit:        auditLog,
		Logger:       loggerClient,
		Policy: lifecycle.Policy{
			BackupBeforeUpdate: cfg.BackupBeforeUpdate,
			AutoRollback:       cfg.AutoRollback,
			Probe: runtime.ProbePolicy{
				Attempts: cfg.ProbeAttempts,
				Interval: cfg.ProbeInterval,
				Deadline: cfg.ProbeDeadline,
			},
			Retention:           retention,
			BackupParallelism:   cfg.BackupParallelism,
			UninstallConfirmTTL: cfg.UninstallConfirmTTL,
		},
	})

	d := deps.Deps{
		Logger:            loggerClient,
		StartTime:         time.Now(),
		Version:           version.Version,
		Commit:            version.Commit,
		BuildDate:         version.BuildDate,
		GoVersion:         version.GoVersion,
		TimeNow:           time.Now,
		AllowedHosts:      cfg.AllowedHosts,
		AllowedCIDRS:      cfg.AllowedCIDRS,
		TrustProxy:        cfg.TrustProxy,
		LoginBurst:        cfg.LoginBurst,
		LoginRefillPerMin: cfg.LoginRefillPerMin,
		RedisClient:       redisClient,
		Auth:              authority,
		Registry:          reg,
		Orchestrator:      orchestrator,
		Backups:           backups,
		Slots:             slots,
		Secrets:           secretStore,
		Audit:             auditLog,
		ReloadTrigger:     reloadTrigger,
	}

	return &App{
		cfg:          cfg,
		logger:       loggerClient,
		server:       httpserver.New(cfg, loggerClient, d),
		redisClient:  redisClient,
		auditLog:     auditLog,
		orchestrator: orchestrator,
		reloader:     reloader,
		pruner:       scheduler.NewBackupPruner(backups, loggerClient, cfg.PruneInterval, retention),
		sweeper:      scheduler.NewSessionSweeper(authority, loggerClient, cfg.SessionCleanupInterval),
	}, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting stackpilot v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Info(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Loads the catalog once and keeps it fresh
	if err := a.reloader.Start(ctx); err != nil {
		return fmt.Errorf("failed to start catalog reloader: %w", err)
	}
	a.logger.Info("catalog reloader started",
		logger.Duration("interval", a.cfg.CatalogReloadInterval))

	a.pruner.Start(ctx)
	a.logger.Info("backup pruner started",
		logger.Duration("interval", a.cfg.PruneInterval))

	a.sweeper.Start(ctx)
	a.logger.Info("session sweeper started",
		logger.Duration("interval", a.cfg.SessionCleanupInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	a.reloader.Stop()
	a.pruner.Stop()
	a.sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	// Running operations finish before the audit log closes
	if err := a.orchestrator.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("operations still running at shutdown", logger.Error(err))
	}

	utils.MustClose(a.auditLog, "audit log", a.logger)
	if a.redisClient != nil {
		utils.MustClose(a.redisClient, "redis", a.logger)
	}

	a.logger.Info("✅ stackpilot stopped cleanly")
	return nil
}
