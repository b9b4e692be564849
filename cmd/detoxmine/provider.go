package main

import (
	"fmt"
	"time"

	"github.com/goodtune/detoxmine/internal/config"
	"github.com/goodtune/detoxmine/internal/provider"
	"github.com/goodtune/detoxmine/internal/provider/file"
	redisprovider "github.com/goodtune/detoxmine/internal/provider/redis"
	"github.com/goodtune/detoxmine/internal/usage"
	"github.com/rs/zerolog"
)

// usageProvider is the configured usage-stats provider. Only one of redis and
// file is set; both are nil for the "none" provider.
type usageProvider struct {
	caps  *provider.Capabilities
	redis *redisprovider.Provider
	file  *file.Provider
}

// Close releases provider connections.
func (p *usageProvider) Close() error {
	if p.redis != nil {
		return p.redis.Close()
	}
	return nil
}

// openProvider creates the provider selected by provider.type.
func openProvider(cfg *config.Config, loc *time.Location, logger zerolog.Logger) (*usageProvider, error) {
	switch cfg.Provider.Type {
	case "redis":
		p, err := redisprovider.Open(cfg.Provider.Redis, cfg.Provider.DeviceID)
		if err != nil {
			return nil, err
		}
		p.SetLocation(loc)
		return &usageProvider{caps: p.Capabilities(), redis: p}, nil

	case "file":
		p := file.New(cfg.Provider.File.Path)
		p.SetLogger(logger)
		return &usageProvider{caps: p.Capabilities(), file: p}, nil

	case "none":
		return &usageProvider{}, nil

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider.Type)
	}
}

// engineConfig maps the usage settings onto the engine.
func engineConfig(cfg *config.Config, loc *time.Location) usage.Config {
	return usage.Config{
		DeviceID:     cfg.Provider.DeviceID,
		RecheckDelay: config.Duration(cfg.Usage.RecheckDelay),
		QueryTimeout: config.Duration(cfg.Usage.QueryTimeout),
		Location:     loc,
	}
}
