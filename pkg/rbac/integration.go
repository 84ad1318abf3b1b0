package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/assessly/pkg/audit"
	"github.com/platinummonkey/assessly/pkg/observability"
)

// Ledger backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds RBAC configuration
type Config struct {
	// Backend selects the grant ledger: memory, sqlite, postgres or redis
	Backend string

	// DSN is the database connection string for the sqlite and postgres backends
	DSN string

	// Redis is used by the redis backend
	Redis RedisLedgerOptions

	// CacheEnabled wraps the ledger in an LRU read cache
	CacheEnabled bool
	Cache        CacheConfig

	// PolicyFile is an optional YAML file extending the built-in catalog and matrix
	PolicyFile string

	// PersistAudit stores audit events in the audit_events table of the SQL ledger
	// database and serves them under /audit. Requires the sqlite or postgres backend.
	PersistAudit bool

	// Location is the time zone for business_hours; nil uses the clock's zone
	Location *time.Location
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Cache:   DefaultCacheConfig(),
	}
}

// Manager manages all RBAC components
type Manager struct {
	engine     *EnhancedRBAC
	ledger     GrantLedger
	handlers   *Handlers
	middleware *PermissionMiddleware
	db         *sql.DB
	redis      *RedisLedger
	auditStore *audit.DBLogger
	config     Config
}

// NewManager opens the configured ledger, applies the policy file and builds the engine.
// Extra options are applied to the engine after the logger and metrics.
func NewManager(ctx context.Context, config Config, logger *observability.Logger, metrics *observability.Metrics, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	if config.PersistAudit && config.Backend != BackendSQLite && config.Backend != BackendPostgres {
		return nil, fmt.Errorf("persisting audit events requires the sqlite or postgres backend, got %q", config.Backend)
	}

	m := &Manager{config: config}

	catalog := DefaultCatalog()
	matrix := DefaultRoleMatrix()
	if config.PolicyFile != "" {
		policy, err := LoadPolicyFile(config.PolicyFile)
		if err != nil {
			return nil, err
		}
		if err := policy.Apply(catalog, matrix); err != nil {
			return nil, fmt.Errorf("failed to apply policy %s: %w", config.PolicyFile, err)
		}
		logger.WithFields(map[string]interface{}{
			"policy_file": config.PolicyFile,
			"permissions": len(policy.Permissions),
			"roles":       len(policy.Roles),
		}).Info("Policy file applied")
	}

	ledger, err := m.openLedger(ctx, logger)
	if err != nil {
		return nil, err
	}
	if config.CacheEnabled {
		ledger = NewCachedLedger(ledger, config.Cache, metrics)
	}
	m.ledger = ledger

	engineOpts := []Option{WithLogger(logger), WithMetrics(metrics)}
	if config.Location != nil {
		engineOpts = append(engineOpts, WithLocation(config.Location))
	}
	engineOpts = append(engineOpts, opts...)
	if config.PersistAudit {
		store, err := audit.NewDBLogger(m.db)
		if err != nil {
			m.db.Close()
			return nil, err
		}
		m.auditStore = store
		engineOpts = append(engineOpts, WithAuditLogger(store))
	}

	m.engine = NewEnhancedRBAC(catalog, matrix, ledger, engineOpts...)
	m.handlers = NewHandlers(m.engine)
	m.middleware = NewPermissionMiddleware(m.engine)

	logger.WithFields(map[string]interface{}{
		"backend":     config.Backend,
		"cache":       config.CacheEnabled,
		"audit_store": config.PersistAudit,
		"permissions": catalog.Len(),
	}).Info("RBAC initialized")

	return m, nil
}

func (m *Manager) openLedger(ctx context.Context, logger *observability.Logger) (GrantLedger, error) {
	switch m.config.Backend {
	case "", BackendMemory:
		return NewMemoryLedger(), nil

	case BackendSQLite, BackendPostgres:
		driver := "postgres"
		if m.config.Backend == BackendSQLite {
			driver = "sqlite3"
		}
		db, err := sql.Open(driver, m.config.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s ledger: %w", m.config.Backend, err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, errors.Join(ErrLedgerUnavailable, fmt.Errorf("failed to ping %s: %w", m.config.Backend, err))
		}
		if err := RunMigrations(ctx, db, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		m.db = db
		return NewSQLLedger(db), nil

	case BackendRedis:
		ledger, err := NewRedisLedger(m.config.Redis)
		if err != nil {
			return nil, err
		}
		m.redis = ledger
		return ledger, nil
	}

	return nil, fmt.Errorf("unknown ledger backend %q", m.config.Backend)
}

// RegisterRoutes registers RBAC routes with a router, plus the audit routes
// guarded by audit.view when audit events are persisted
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
	if m.auditStore != nil {
		audit.NewHandlers(m.auditStore).RegisterRoutes(router, m.middleware.RequirePermission("audit.view"))
	}
}

// Engine returns the permission engine
func (m *Manager) Engine() *EnhancedRBAC {
	return m.engine
}

// Ledger returns the grant ledger, including the cache when enabled
func (m *Manager) Ledger() GrantLedger {
	return m.ledger
}

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// AuditStore returns the persisted audit trail, or nil when PersistAudit is off
func (m *Manager) AuditStore() audit.Store {
	if m.auditStore == nil {
		return nil
	}
	return m.auditStore
}

// DB returns the SQL handle of the sqlite and postgres backends, or nil
func (m *Manager) DB() *sql.DB {
	return m.db
}

// RedisClient returns the client of the redis backend, or nil
func (m *Manager) RedisClient() *redis.Client {
	if m.redis == nil {
		return nil
	}
	return m.redis.Client()
}

// Close flushes pending audit events and releases the ledger connection
func (m *Manager) Close() error {
	var errs []error
	if err := m.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
