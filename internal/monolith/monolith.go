// Package monolith provides the application container and module interface.
package monolith

import (
	"context"

	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/di"
	"github.com/jm31-art/ultraflashbot/internal/journal"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/notify"
	"github.com/jm31-art/ultraflashbot/internal/safety"
)

// Monolith is the main application container providing access to shared infrastructure.
// Node connections are owned by the chain module, not the container; modules
// that need a client resolve it through Services().
type Monolith interface {
	Config() *config.Config
	Logger() logger.LoggerInterface
	AssetRegistry() *asset.Registry
	Journal() *journal.Journal
	Notifier() notify.Notifier
	EmergencyStop() *safety.Switch
	Services() di.ServiceRegistry
}

// Module represents a bounded context module that can register services and start up.
type Module interface {
	RegisterServices(di.Container) error
	Startup(context.Context, Monolith) error
}

// app implements the Monolith interface.
type app struct {
	config        *config.Config
	logger        logger.LoggerInterface
	assetRegistry *asset.Registry
	journal       *journal.Journal
	notifier      notify.Notifier
	emergencyStop *safety.Switch
	container     di.Container
}

// New creates a new Monolith instance around the already-built shared
// infrastructure.
func New(cfg *config.Config, log logger.LoggerInterface, jnl *journal.Journal, notifier notify.Notifier) *app {
	assetRegistry := asset.DefaultRegistry()
	stop := safety.NewSwitch()

	container := di.NewContainer()

	// Register global services
	container.Register("config", cfg)
	container.Register("logger", log)
	container.Register("assetRegistry", assetRegistry)
	container.Register("journal", jnl)
	container.Register("notifier", notifier)
	container.Register("emergencyStop", stop)

	return &app{
		config:        cfg,
		logger:        log,
		assetRegistry: assetRegistry,
		journal:       jnl,
		notifier:      notifier,
		emergencyStop: stop,
		container:     container,
	}
}

func (a *app) Config() *config.Config {
	return a.config
}

func (a *app) Logger() logger.LoggerInterface {
	return a.logger
}

func (a *app) AssetRegistry() *asset.Registry {
	return a.assetRegistry
}

func (a *app) Journal() *journal.Journal {
	return a.journal
}

func (a *app) Notifier() notify.Notifier {
	return a.notifier
}

func (a *app) EmergencyStop() *safety.Switch {
	return a.emergencyStop
}

func (a *app) Services() di.ServiceRegistry {
	return a.container
}

// Container returns the DI container for module registration.
func (a *app) Container() di.Container {
	return a.container
}

// RegisterModules registers all provided modules.
func (a *app) RegisterModules(modules ...Module) error {
	for _, m := range modules {
		if err := m.RegisterServices(a.container); err != nil {
			return err
		}
	}
	return nil
}

// StartModules starts all provided modules in order. Order matters: chain
// before everything, execution before opportunity so the scan engine finds
// its dispatch port registered.
func (a *app) StartModules(ctx context.Context, modules ...Module) error {
	for _, m := range modules {
		if err := m.Startup(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Close closes container-owned resources.
func (a *app) Close() error {
	if a.journal != nil {
		return a.journal.Close()
	}
	return nil
}
