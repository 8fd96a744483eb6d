// Package config loads gatekeep's settings from environment variables.
//
// Server settings:
//
//	GATEKEEP_HOST="0.0.0.0"
//	GATEKEEP_PORT="8080"
//	GATEKEEP_HEALTH_PORT="9090"
//	GATEKEEP_REQUIRE_USER="false"
//	GATEKEEP_AUDIT="true"          # audit trail, stored in gatekeep_audit_log with a database
//
// Schema settings:
//
//	GATEKEEP_SCHEMA_PATH="schema.yaml"
//	GATEKEEP_WATCH_SCHEMA="true"   # recompile plans when the file changes
//
// Database settings:
//
//	GATEKEEP_POSTGRES_URL="postgres://localhost/app"
//	GATEKEEP_POSTGRES_MAX_CONNS="20"
//	GATEKEEP_APPLY_POLICIES="true" # install row-level security at startup
//	GATEKEEP_POLICY_ROLE="app_user"
//
// Role registry settings:
//
//	GATEKEEP_REDIS_URL="redis://localhost:6379"
//	GATEKEEP_ROLE_REFRESH_SCHEDULE="@every 5m"
//	GATEKEEP_CAPABILITY_CACHE_SIZE="10000"
//	GATEKEEP_CAPABILITY_CACHE_TTL="5m"
//
// Observability settings:
//
//	GATEKEEP_LOG_LEVEL="info"      # debug, info, warn, error
//	GATEKEEP_METRICS_ENABLED="true"
//	GATEKEEP_OTEL_ENABLED="false"  # export traces and metrics over OTLP/gRPC
//	GATEKEEP_OTEL_ENDPOINT="localhost:4317"
//	GATEKEEP_OTEL_SAMPLE_RATIO="1.0"
package config
