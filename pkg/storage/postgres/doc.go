// Package postgres opens the database and Redis connections the service runs on.
//
// # Pools
//
// ConnectionManager holds three kinds of pools:
//
//   - Primary: every write, including admin changes to role permission sets
//   - Replicas: optional read replicas, picked round-robin and dropped when unhealthy
//   - AuthzReader: the pool authorization decisions read through. It uses its
//     own credential with SELECT on the RBAC tables only; without one it falls
//     back to a replica, then to the primary.
//
// Example:
//
//	cm, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
//		PrimaryURL:     "postgres://tenantgate@db/tenantgate",
//		AuthzReaderURL: "postgres://tenantgate_authz@db-replica/tenantgate",
//		MaxConns:       20,
//	})
//	store := rbac.NewStore(cm.AuthzReader())
//
// # Redis
//
// NewRedisClient builds the client shared by the role permission cache and the
// distributed rate limiter.
package postgres
