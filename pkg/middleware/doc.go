// Package middleware provides caller identity and rate limiting for the
// assessly HTTP API.
//
// # Identity
//
// IdentityMiddleware trusts the gateway headers X-User-ID, X-User-Role,
// X-Organization-ID, X-Department-ID and X-User-Email and stores an
// *rbac.User in the request context:
//
//	router.Use(middleware.IdentityMiddleware)
//	user, ok := rbac.UserFromContext(r.Context())
//
// # Rate Limiting
//
// Callers are throttled by user ID, or by client IP when anonymous.
// MemoryLimiter is a per-process token bucket; RedisLimiter is a fixed
// window shared across instances:
//
//	limiter := middleware.NewRedisLimiter(redisClient, middleware.DefaultRateLimitConfig(), "assessly:ratelimit")
//	router.Use(middleware.RateLimitMiddleware(limiter, logger))
//
// # Related Packages
//
//   - pkg/rbac: permission guards that read the identity set here
//   - pkg/httputil: request ID, logging and recovery middleware
package middleware
