package cmd

import (
	"fmt"

	"github.com/Iron-Ham/corral/internal/config"
	"github.com/Iron-Ham/corral/internal/logging"
	"github.com/Iron-Ham/corral/internal/registry"
	"github.com/Iron-Ham/corral/internal/session"
)

// env wires together the pieces every command needs: the resolved
// configuration, the logger, the registry, and an initialized manager.
type env struct {
	cfg     *config.Config
	logger  *logging.Logger
	reg     *registry.Registry
	manager *session.Manager
}

// setup builds the command environment from the effective configuration.
// The returned env's logger must be closed by the caller.
func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logDir := ""
	if cfg.Logging.Enabled {
		logDir = cfg.Paths.ResolveStateDir()
	}
	logger, err := logging.NewLogger(logDir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	reg := registry.New(cfg.Paths.RegistryFile(),
		registry.WithLockOptions(registry.LockOptions{
			Retries:        cfg.Registry.LockRetries,
			InitialBackoff: cfg.Registry.LockInitialBackoff(),
			MaxBackoff:     cfg.Registry.LockMaxBackoff(),
			Staleness:      cfg.Registry.LockStaleness(),
		}),
		registry.WithLogger(logger.WithComponent("registry")))

	manager := session.NewManager(reg,
		session.WithManagerLogger(logger.WithComponent("manager")),
		session.WithSessionOptions(
			session.WithGracefulTimeout(cfg.Session.GracefulTimeout()),
			session.WithFinalMargin(cfg.Session.FinalMargin()),
			session.WithLogger(logger),
		))
	if err := manager.Init(); err != nil {
		logger.Close()
		return nil, fmt.Errorf("failed to initialize session manager: %w", err)
	}

	return &env{cfg: cfg, logger: logger, reg: reg, manager: manager}, nil
}

// close releases the environment's resources.
func (e *env) close() {
	if e.logger != nil {
		_ = e.logger.Close()
	}
}

// spawnTarget resolves the command a session should run: the arguments
// after "--" if given, otherwise the configured default.
func (e *env) spawnTarget(argv []string) session.SpawnTarget {
	if len(argv) > 0 {
		return session.SpawnTarget{Command: argv[0], Args: argv[1:]}
	}
	return session.SpawnTarget{Command: e.cfg.Session.Command, Args: e.cfg.Session.Args}
}
