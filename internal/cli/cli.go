// Package cli implements the mindmap command-line interface.
//
// This package provides commands for applying changes to a mind-map
// graph, recomputing and inspecting layouts, validating integrity, and
// browsing the change log. The CLI is built using cobra and supports
// verbose logging via the charmbracelet/log library.
//
// # Commands
//
// The main commands are:
//   - apply: Apply a change (add/remove nodes and edges, annotations) to a graph
//   - layout: Recompute the layout and report cache status
//   - validate: Run an integrity check with auto-repair
//   - changes: Show or interactively browse the change log
//   - cache: Inspect and clear the layout cache
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. Loggers
// are passed through context.Context to allow structured progress
// tracking.
//
// # Example
//
//	import "github.com/saptak/screenshotnotes-sub005/internal/cli"
//
//	func main() {
//	    if err := cli.Execute(); err != nil {
//	        os.Exit(1)
//	    }
//	}
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/saptak/screenshotnotes-sub005/internal/config"
	"github.com/saptak/screenshotnotes-sub005/pkg/changelog"
	"github.com/saptak/screenshotnotes-sub005/pkg/consistency"
	apperrors "github.com/saptak/screenshotnotes-sub005/pkg/errors"
	"github.com/saptak/screenshotnotes-sub005/pkg/layout"
	"github.com/saptak/screenshotnotes-sub005/pkg/layoutcache"
	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
	"github.com/saptak/screenshotnotes-sub005/pkg/store/mongo"
	"github.com/saptak/screenshotnotes-sub005/pkg/store/sqlite"
)

// appName is the application name used for config discovery and display.
const appName = "mindmap"

// =============================================================================
// Manager Factory
// =============================================================================

// session bundles the manager with the resources it borrows so commands
// can tear everything down in one call.
type session struct {
	manager *consistency.Manager
	graph   *mindmap.Graph
	path    string
}

func (s *session) Close() error { return s.manager.Close() }

// save writes the manager's current graph state back to the input file.
func (s *session) save() error {
	return mindmap.WriteGraphFile(s.manager.Snapshot(), s.path)
}

// openSession loads the graph file, builds the configured cache and
// change-log backends, and wires up a consistency manager.
func openSession(ctx context.Context, graphPath, configPath string, logger *log.Logger) (*session, error) {
	if err := apperrors.ValidateGraphPath(graphPath); err != nil {
		return nil, err
	}
	allowMissing := configPath == ""
	if configPath == "" {
		configPath = filepath.Join(filepath.Dir(graphPath), appName+".toml")
	}
	cfg, err := config.Load(configPath, allowMissing)
	if err != nil {
		return nil, err
	}
	applyLogConfig(logger, cfg.Log)

	g, err := mindmap.ReadGraphFile(graphPath)
	if err != nil {
		return nil, fmt.Errorf("load graph %s: %w", graphPath, err)
	}

	cache, appender, err := openBackend(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	tracker := changelog.NewTracker(appender, logger)
	if reader, ok := appender.(changelog.Reader); ok {
		recs, err := reader.ChangesSince(ctx, 0)
		if err != nil {
			logger.Warn("change log replay failed", "err", err)
		} else {
			tracker.Load(recs)
		}
	}
	engine := layout.New(layout.Options{
		MaxIterations:   cfg.Layout.MaxIterations,
		Convergence:     cfg.Layout.Convergence,
		Repulsion:       cfg.Layout.Repulsion,
		SpringLength:    cfg.Layout.SpringLength,
		Spring:          cfg.Layout.Spring,
		Damping:         cfg.Layout.Damping,
		MaxDisplacement: cfg.Layout.MaxDisplacement,
		Timeout:         cfg.Layout.Timeout.Std(),
	}, logger)

	mgr := consistency.NewManager(g, tracker, cache, engine, logger, consistency.Options{
		DeletionHops:          cfg.Consistency.DeletionHops,
		UpdateHops:            cfg.Consistency.UpdateHops,
		ConflictWindow:        cfg.Consistency.ConflictWindow.Std(),
		MaxRetries:            cfg.Consistency.MaxRetries,
		IntegrityFailureLimit: cfg.Consistency.IntegrityFailureLimit,
		FullRecomputeTimeout:  cfg.Consistency.FullRecomputeTimeout.Std(),
		Workers:               cfg.Consistency.Workers,
		QueueSize:             cfg.Consistency.QueueSize,
	})

	return &session{manager: mgr, graph: g, path: graphPath}, nil
}

// applyLogConfig applies the configured log level and format to the
// logger. A logger already at debug level keeps it: --verbose wins over
// the config file.
func applyLogConfig(logger *log.Logger, cfg config.LogConfig) {
	if cfg.Level != "" && logger.GetLevel() != log.DebugLevel {
		if level, err := log.ParseLevel(cfg.Level); err == nil {
			logger.SetLevel(level)
		}
	}
	if cfg.Format == "json" {
		logger.SetFormatter(log.JSONFormatter)
	}
}

// openBackend builds the layout cache for the configured backend. The
// sqlite and mongo backends double as durable change-log appenders.
func openBackend(ctx context.Context, cfg config.CacheConfig, logger *log.Logger) (layoutcache.Store, changelog.Appender, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return layoutcache.NewTieredStore(nil, logger), nil, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite cache %s: %w", cfg.SQLite.Path, err)
		}
		return layoutcache.NewTieredStore(db, logger), db, nil

	case config.BackendRedis:
		rs, err := layoutcache.NewRedisStore(ctx, layoutcache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL.Std(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return layoutcache.NewTieredStore(rs, logger), nil, nil

	case config.BackendMongo:
		ms, err := mongo.Connect(ctx, mongo.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout.Std(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		return layoutcache.NewTieredStore(ms, logger), ms, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
