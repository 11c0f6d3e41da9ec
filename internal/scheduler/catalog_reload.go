package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/catalog"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/registry"
)

// CatalogReloader keeps the registry in sync with services.yaml. The
// periodic tick only applies a file whose content changed, a manual
// trigger always applies it.
type CatalogReloader struct {
	loader        *catalog.Loader
	mapper        *catalog.Mapper
	registry      *registry.Registry
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

func NewCatalogReloader(
	catalogFile string,
	mapper *catalog.Mapper,
	reg *registry.Registry,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *CatalogReloader {
	return &CatalogReloader{
		loader:        catalog.NewLoader(catalogFile),
		mapper:        mapper,
		registry:      reg,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start loads the catalog once, then keeps reloading it in the background
func (cr *CatalogReloader) Start(ctx context.Context) error {
	if err := cr.Reload(ctx); err != nil {
		return fmt.Errorf("initial catalog load failed: %w", err)
	}

	ticker := time.NewTicker(cr.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := cr.apply(ctx, false); err != nil {
					cr.logger.Error("failed to reload catalog", logger.Error(err))
				}
			case <-cr.manualTrigger:
				cr.logger.Info("manual catalog reload triggered")
				if err := cr.Reload(ctx); err != nil {
					cr.logger.Error("failed to reload catalog", logger.Error(err))
				}
			case <-cr.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the reloader
func (cr *CatalogReloader) Stop() {
	close(cr.stopCh)
}

// Reload reads services.yaml and merges it into the registry, even when
// the file did not change. A broken catalog leaves the registry untouched.
func (cr *CatalogReloader) Reload(ctx context.Context) error {
	return cr.apply(ctx, true)
}

func (cr *CatalogReloader) apply(ctx context.Context, force bool) error {
	file, changed, err := cr.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if !changed && !force {
		cr.logger.Debug("catalog unchanged", logger.String("file", cr.loader.Path()))
		return nil
	}

	units, err := cr.mapper.MapUnits(file)
	if err != nil {
		return fmt.Errorf("failed to map catalog: %w", err)
	}

	before := cr.registry.Count()
	if err := cr.registry.Load(ctx, units); err != nil {
		return fmt.Errorf("failed to update registry: %w", err)
	}

	cr.logger.Info("catalog reloaded",
		logger.String("file", cr.loader.Path()),
		logger.Int("previous", before),
		logger.Int("count", len(units)))
	return nil
}
