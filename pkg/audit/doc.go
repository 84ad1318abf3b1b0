// Package audit records authorization events for compliance review.
//
// Grants, revocations, expiry sweeps and denied checks are emitted as
// AuditEvent values to a Logger. The engine dispatches events without
// waiting on them, so a failing audit sink never changes a decision.
//
// Sinks: LogrusLogger (JSON lines to any writer), FileLogger (size-rotated
// file), DBLogger (the audit_events table) and MultiLogger (fan-out).
// DBLogger also implements Store, which Handlers serves under /audit.
//
//	logger := audit.NewLogrusLogger(os.Stdout)
//	engine := rbac.NewEnhancedRBAC(catalog, matrix, ledger, rbac.WithAuditLogger(logger))
package audit
