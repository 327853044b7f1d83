// Package config loads tenantgate configuration from TENANTGATE_* environment
// variables and validates it.
//
// Required:
//
//	TENANTGATE_DATABASE_URL="postgres://admin@db/tenantgate?sslmode=disable"
//	TENANTGATE_OIDC_ISSUER_URL="https://accounts.example.com"
//	TENANTGATE_OIDC_CLIENT_ID="tenantgate"
//
// The authorization engine reads through a separate credential when
// TENANTGATE_AUTHZ_READER_URL is set; otherwise it uses the first healthy
// replica from TENANTGATE_DATABASE_REPLICA_URLS, then the primary.
//
// Optional Redis L2 cache for role permission sets:
//
//	TENANTGATE_REDIS_URL="redis://cache:6379/0"
//	TENANTGATE_CACHE_L1_TTL="30s"
//	TENANTGATE_CACHE_L2_TTL="5m"
package config
