package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// ConnectionManager owns the primary pool (admin writes), optional read replicas,
// and the authz reader pool used by the authorization engine. The authz reader
// connects with its own credential that only has SELECT on the RBAC tables.
type ConnectionManager struct {
	primary     *sql.DB
	authzReader *sql.DB
	replicas    []*sql.DB
	current     uint32
	mu          sync.RWMutex
	config      ConnectionConfig
	replicaErrs []error
}

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	PrimaryURL string
	// AuthzReaderURL is a dedicated read-only credential for authorization checks
	AuthzReaderURL  string
	ReplicaURLs     []string
	MaxConns        int
	MinConns        int
	Timeout         time.Duration
	MaxLifetime     time.Duration
	MaxIdleTime     time.Duration
	HealthCheckFreq time.Duration
}

// opener opens and verifies one pool; swapped in tests
type opener func(ctx context.Context, dsn string, maxConns, minConns int, cfg ConnectionConfig) (*sql.DB, error)

// NewConnectionManager opens the primary, replicas and authz reader pools.
// Replica failures are tolerated; a configured authz reader that cannot be
// reached is fatal because silently falling back would widen its privileges.
func NewConnectionManager(ctx context.Context, config ConnectionConfig) (*ConnectionManager, error) {
	return newConnectionManager(ctx, config, openPostgres)
}

func newConnectionManager(ctx context.Context, config ConnectionConfig, open opener) (*ConnectionManager, error) {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	cm := &ConnectionManager{config: config}

	primary, err := open(ctx, config.PrimaryURL, config.MaxConns, config.MinConns, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}
	cm.primary = primary

	for i, replicaURL := range config.ReplicaURLs {
		replica, err := open(ctx, replicaURL, replicaPoolSize(config.MaxConns), config.MinConns, config)
		if err != nil {
			// Replicas are optional
			cm.replicaErrs = append(cm.replicaErrs, fmt.Errorf("replica %d: %w", i, err))
			continue
		}
		cm.replicas = append(cm.replicas, replica)
	}

	if config.AuthzReaderURL != "" {
		reader, err := open(ctx, config.AuthzReaderURL, replicaPoolSize(config.MaxConns), config.MinConns, config)
		if err != nil {
			cm.Close()
			return nil, fmt.Errorf("failed to open authz reader connection: %w", err)
		}
		cm.authzReader = reader
	}

	return cm, nil
}

func replicaPoolSize(maxConns int) int {
	n := maxConns / 2
	if n < 2 {
		n = 2
	}
	return n
}

func openPostgres(ctx context.Context, dsn string, maxConns, minConns int, cfg ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	return db, nil
}

// ReplicaErrors returns the errors for replicas that could not be opened at startup
func (cm *ConnectionManager) ReplicaErrors() []error {
	return cm.replicaErrs
}

// Primary returns the primary database connection (for writes)
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read replica using round-robin selection.
// Falls back to primary if no replicas are available.
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.replicas) == 0 {
		return cm.primary
	}

	index := atomic.AddUint32(&cm.current, 1)
	return cm.replicas[int(index%uint32(len(cm.replicas)))]
}

// AuthzReader returns the pool the authorization engine reads through:
// the dedicated reader if configured, else a replica, else the primary.
func (cm *ConnectionManager) AuthzReader() *sql.DB {
	if cm.authzReader != nil {
		return cm.authzReader
	}
	return cm.Replica()
}

// HasDedicatedAuthzReader reports whether a separate authz credential is in use
func (cm *ConnectionManager) HasDedicatedAuthzReader() bool {
	return cm.authzReader != nil
}

// Pools returns every open pool keyed by role, for health checks and metrics
func (cm *ConnectionManager) Pools() map[string]*sql.DB {
	pools := map[string]*sql.DB{"primary": cm.primary}
	if cm.authzReader != nil {
		pools["authz_reader"] = cm.authzReader
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for i, replica := range cm.replicas {
		pools[fmt.Sprintf("replica_%d", i)] = replica
	}
	return pools
}

// HealthCheck checks the primary, the authz reader and replicas
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}
	if cm.authzReader != nil {
		if err := cm.authzReader.PingContext(ctx); err != nil {
			return fmt.Errorf("authz reader unhealthy: %w", err)
		}
	}

	cm.mu.RLock()
	replicas := append([]*sql.DB(nil), cm.replicas...)
	cm.mu.RUnlock()

	var unhealthy []string
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			unhealthy = append(unhealthy, fmt.Sprintf("replica-%d", i))
		}
	}

	if len(unhealthy) > 0 && len(unhealthy) == len(replicas) {
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(unhealthy, ", "))
	}

	return nil
}

// RemoveUnhealthyReplicas drops replicas that fail a ping and returns how many were removed
func (cm *ConnectionManager) RemoveUnhealthyReplicas(ctx context.Context) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	healthy := make([]*sql.DB, 0, len(cm.replicas))
	removed := 0

	for _, replica := range cm.replicas {
		if err := replica.PingContext(ctx); err != nil {
			replica.Close()
			removed++
			continue
		}
		healthy = append(healthy, replica)
	}

	cm.replicas = healthy
	return removed
}

// StartHealthCheckRoutine periodically removes unhealthy replicas until ctx is done.
// onRemoved, if set, is called with the number of replicas dropped in a pass.
func (cm *ConnectionManager) StartHealthCheckRoutine(ctx context.Context, onRemoved func(int)) {
	interval := cm.config.HealthCheckFreq
	if interval == 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				removed := cm.RemoveUnhealthyReplicas(checkCtx)
				cancel()
				if removed > 0 && onRemoved != nil {
					onRemoved(removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close closes all database connections
func (cm *ConnectionManager) Close() error {
	var errs []error

	if cm.primary != nil {
		if err := cm.primary.Close(); err != nil {
			errs = append(errs, fmt.Errorf("primary close error: %w", err))
		}
	}
	if cm.authzReader != nil {
		if err := cm.authzReader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("authz reader close error: %w", err))
		}
	}

	cm.mu.Lock()
	replicas := cm.replicas
	cm.replicas = nil
	cm.mu.Unlock()

	for i, replica := range replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d close error: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// ParseReplicaURLs parses a comma-separated list of replica URLs
func ParseReplicaURLs(replicaURLsStr string) []string {
	if replicaURLsStr == "" {
		return nil
	}

	urls := strings.Split(replicaURLsStr, ",")
	result := make([]string, 0, len(urls))
	for _, url := range urls {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
