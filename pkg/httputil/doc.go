// Package httputil provides the JSON response helpers, request parsing and
// generic middleware shared by the assessly HTTP handlers.
//
// # Responses
//
//	httputil.WriteSuccess(w, export)
//	httputil.WriteCreated(w, grant)
//	httputil.WriteForbidden(w, "Insufficient permissions")
//
// Error bodies have the shape {"error": "...", "request_id": "..."}.
//
// # Request Parsing
//
//	var req GrantRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// # Related Packages
//
//   - pkg/middleware: caller identity
//   - pkg/rbac: permission guards built on these helpers
package httputil
