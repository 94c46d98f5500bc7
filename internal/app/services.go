package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dmoravec/glowd/internal/config"
	"github.com/dmoravec/glowd/internal/controller"
	"github.com/dmoravec/glowd/internal/db"
	"github.com/dmoravec/glowd/internal/eventbus"
	"github.com/dmoravec/glowd/internal/journal"
	"github.com/dmoravec/glowd/internal/knowndev"
	"github.com/dmoravec/glowd/internal/lua"
	"github.com/dmoravec/glowd/internal/mqtt"
	"github.com/dmoravec/glowd/internal/transport/btle"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Known   *knowndev.Store
	Journal *journal.Journal
	Bus     *eventbus.Bus

	// Transport and protocol engine
	Transport  *btle.Adapter
	Controller *controller.Controller

	// Optional surfaces
	Bridge *mqtt.Bridge
	Lua    *lua.Runtime
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize known-device store
	s.Known = knowndev.NewStore(database.DB)

	// Initialize event bus and attach the lifecycle journal
	s.Bus = eventbus.New()
	s.Journal = journal.New(database.DB)
	s.Journal.Attach(s.Bus)

	// Initialize BLE transport
	s.Transport, err = btle.New()
	if err != nil {
		s.Close()
		return nil, err
	}

	// Initialize controller
	s.Controller = controller.New(controller.Config{
		Debounce:          cfg.Controller.Debounce.Duration(),
		SettleDelay:       cfg.Controller.SettleDelay.Duration(),
		InitStagger:       cfg.Controller.InitStagger.Duration(),
		RestoreBrightness: float32(cfg.Controller.RestoreBrightness),
		DisableScan:       !cfg.Transport.ScanEnabled(),
	}, s.Transport, s.Known, s.Bus)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	if err := s.Controller.Start(ctx); err != nil {
		return err
	}

	go s.pruneJournal(ctx)

	// MQTT bridge attaches after the controller so intents always have a
	// running event loop behind them.
	if s.cfg.MQTT.Enabled {
		bridge, err := mqtt.NewBridge(s.cfg.MQTT, s.Controller, s.Bus)
		if err != nil {
			return err
		}
		s.Bridge = bridge
		log.Info().Str("broker", s.cfg.MQTT.Broker).Msg("MQTT bridge connected")
	}

	// The automation script runs once at startup.
	if s.cfg.Script != "" {
		s.Lua = lua.NewRuntime(s.Controller)
		if err := s.Lua.Run(s.cfg.Script); err != nil {
			return err
		}
		log.Info().Str("script", s.cfg.Script).Msg("Automation script loaded")
	}

	return nil
}

// pruneJournal applies the journal retention policy once at startup and then
// hourly until the app context is cancelled.
func (s *Services) pruneJournal(ctx context.Context) {
	retention := s.cfg.Journal.Retention.Duration()
	prune := func() {
		removed, err := s.Journal.Prune(retention)
		if err != nil {
			log.Warn().Err(err).Msg("Journal prune failed")
			return
		}
		if removed > 0 {
			log.Debug().Int64("removed", removed).Msg("Journal pruned")
		}
	}
	prune()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// ClearKnown wipes the persisted known-device list.
func (s *Services) ClearKnown() error {
	return s.Known.Clear()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.Controller != nil {
		s.Controller.Stop()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.Bridge != nil {
		s.Bridge.Close()
	}
	if s.Transport != nil {
		s.Transport.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
