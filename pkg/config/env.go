package config

import "time"

const (
	EnvPrefix = "BOLETOS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DefaultDiscountFloor = "10.00"

	minimumRetention = 24 * time.Hour
)

const (
	EnvAppEnv   = "BOLETOS_APP_ENV"
	EnvPort     = "BOLETOS_APP_PORT"
	EnvLogLevel = "BOLETOS_LOG_LEVEL"

	EnvDBDSN  = "BOLETOS_DB_DSN"
	EnvDBHost = "BOLETOS_DB_HOST"
	EnvDBUser = "BOLETOS_DB_USER"
	EnvDBName = "BOLETOS_DB_NAME"

	EnvUseSQLite = "BOLETOS_USE_SQLITE"

	EnvRedisURL = "BOLETOS_REDIS_URL"

	EnvJWTSecret  = "BOLETOS_JWT_SECRET"
	EnvJWTIssuer  = "BOLETOS_JWT_ISSUER"
	EnvJWTExpMins = "BOLETOS_JWT_EXPIRATION_MINUTES"

	EnvStorageTimeout       = "BOLETOS_RECONCILIATION_STORAGE_TIMEOUT"
	EnvRetention            = "BOLETOS_RECONCILIATION_RETENTION"
	EnvDiscountFloorDefault = "BOLETOS_DISCOUNT_FLOOR_DEFAULT"
	EnvBusinessTimezone     = "BOLETOS_BUSINESS_TIMEZONE"

	EnvCallbackSecretHash = "BOLETOS_CALLBACK_SECRET_HASH"

	EnvGCPProjectID         = "BOLETOS_GCP_PROJECT_ID"
	EnvPubSubAuditTopic     = "BOLETOS_PUBSUB_AUDIT_TOPIC"
	EnvPubSubAuditSub       = "BOLETOS_PUBSUB_AUDIT_SUBSCRIPTION"
	EnvBigQueryDataset      = "BOLETOS_BIGQUERY_DATASET"
	EnvBigQueryAuditTable   = "BOLETOS_BIGQUERY_AUDIT_TABLE"
	EnvAuditRelayBatchSize  = "BOLETOS_AUDIT_RELAY_BATCH_SIZE"
	EnvAuditRelayMaxAttempt = "BOLETOS_AUDIT_RELAY_MAX_ATTEMPTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
