// Package middleware provides the HTTP middleware stack in front of the
// authorization API.
//
// # Overview
//
// Requests pass through, outermost first:
//
//	RequestIDMiddleware     reuse or generate X-Request-ID
//	LoggingMiddleware       request logger on the context, one access log line
//	AuthMiddleware          verify the OIDC bearer token, provision the profile
//	RateLimitMiddleware     per-user or per-IP limits
//	TenantContextMiddleware load the tenant named by {tenant_id}
//
// Permission checks are not done here; routes wrap their handlers with
// rbac.PermissionMiddleware.
//
// # Rate Limiting
//
// Authenticated callers are keyed by user ID, anonymous callers by client IP.
//
//	Anonymous: 100 req/min, 10 burst
//	Per-User:  1000 req/min, 50 burst
//
// RateLimiter keeps token buckets in process. DistributedRateLimiter counts a
// fixed window in Redis so limits hold across instances:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.PerUserRateLimitConfig(), "")
//	router.Use(middleware.NewRateLimitMiddleware(limiter, anonymous).Handler)
//
// # Related Packages
//
//   - pkg/auth: Token verification
//   - pkg/tenants: Tenant lookup
//   - pkg/rbac: Permission checking
package middleware
