// Package config loads assessly configuration from ASSESSLY_* environment
// variables, applies defaults and validates the result.
//
// # Server
//
//	ASSESSLY_HOST="0.0.0.0"
//	ASSESSLY_PORT="8080"
//	ASSESSLY_HEALTH_PORT="9090"       # /healthz, /readyz, /metrics
//	ASSESSLY_READ_TIMEOUT="15s"
//	ASSESSLY_WRITE_TIMEOUT="15s"
//	ASSESSLY_SHUTDOWN_TIMEOUT="30s"
//	ASSESSLY_MAX_BODY_BYTES="1048576"
//
// # Grant Ledger
//
//	ASSESSLY_LEDGER_BACKEND="postgres"   # memory, sqlite, postgres, redis
//	ASSESSLY_LEDGER_DSN="postgres://assessly@db/assessly?sslmode=disable"
//	ASSESSLY_REDIS_URL="redis://redis:6379/0"
//	ASSESSLY_CACHE_ENABLED="true"
//	ASSESSLY_CACHE_SIZE="10000"
//	ASSESSLY_CACHE_TTL="5m"
//
// # Policy and Sweeper
//
//	ASSESSLY_POLICY_FILE="/etc/assessly/policy.yaml"
//	ASSESSLY_BUSINESS_TIMEZONE="America/New_York"
//	ASSESSLY_SWEEPER_ENABLED="true"
//	ASSESSLY_SWEEPER_SCHEDULE="*/15 * * * *"
//
// # Rate Limiting and Audit
//
//	ASSESSLY_RATE_LIMIT_ENABLED="true"
//	ASSESSLY_RATE_LIMIT_REQUESTS="600"
//	ASSESSLY_RATE_LIMIT_WINDOW="1m"
//	ASSESSLY_AUDIT_ENABLED="true"
//	ASSESSLY_AUDIT_FILE="/var/log/assessly/audit.log"
//	ASSESSLY_AUDIT_FILE_MAX_SIZE="104857600"
//	ASSESSLY_AUDIT_FILE_MAX_FILES="10"
//	ASSESSLY_AUDIT_PERSIST="true"
//
// # Observability
//
//	ASSESSLY_LOG_LEVEL="info"
//	ASSESSLY_METRICS_ENABLED="true"
//	ASSESSLY_OTEL_ENABLED="true"
//	ASSESSLY_OTEL_ENDPOINT="otel-collector:4317"
//	ASSESSLY_OTEL_SAMPLE_RATIO="0.1"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	rbacCfg, err := cfg.RBACConfig()
package config
