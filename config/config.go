package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"lily-api"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"120"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`
	// Max multipart upload size for the bulk import endpoint
	ImportMaxUploadBytes int64 `env:"IMPORT_MAX_UPLOAD_BYTES" env-default:"10485760"`
	// Max data rows accepted in one import file, 0 means unlimited
	ImportMaxRows int `env:"IMPORT_MAX_ROWS" env-default:"20000"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"lily"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SQL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Auth Issuer URL
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	// Auth Client ID
	AuthClientID string `env:"AUTH_CLIENT_ID" env-default:""`
	// Auth Enabled - when false, the actor is read from the X-User-ID header
	AuthEnabled bool `env:"AUTH_ENABLED" env-default:"false"`
	// Realm role required on every admin request, empty allows any authenticated user
	AuthRequiredRole string `env:"AUTH_REQUIRED_ROLE" env-default:""`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated). Empty disables the kafka audit sink.
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for audit entries
	KafkaAuditTopic string `env:"KAFKA_AUDIT_TOPIC" env-default:"lily-audit"`
	// Audit recorder queue size; entries beyond it are dropped
	AuditQueueSize int `env:"AUDIT_QUEUE_SIZE" env-default:"1024"`
	// Redis stream holding deliveries a sink rejected
	AuditDeadLetterStream string `env:"AUDIT_DEAD_LETTER_STREAM" env-default:"lily:audit:dead-letters"`

	// Sync settings
	// SPARQL endpoint of the external knowledge graph
	SyncSourceEndpoint string `env:"SYNC_SOURCE_ENDPOINT" env-default:"https://query.wikidata.org/sparql"`
	// Hard timeout for one source page fetch
	SyncSourceTimeout time.Duration `env:"SYNC_SOURCE_TIMEOUT" env-default:"70s"`
	// Preferred diocese label language, English is the fallback
	SyncSourceLabelLanguage string `env:"SYNC_SOURCE_LABEL_LANGUAGE" env-default:"id"`
	// Source queries allowed per window across every replica, 0 disables the budget
	SyncSourceRateLimit  int           `env:"SYNC_SOURCE_RATE_LIMIT" env-default:"30"`
	SyncSourceRateWindow time.Duration `env:"SYNC_SOURCE_RATE_WINDOW" env-default:"1m"`
	// User agent sent to the source endpoint
	SyncUserAgent    string `env:"SYNC_USER_AGENT" env-default:"lily-directory-sync/1.0"`
	SyncLimitDefault int    `env:"SYNC_LIMIT_DEFAULT" env-default:"1000"`
	SyncLimitMin     int    `env:"SYNC_LIMIT_MIN" env-default:"500"`
	SyncLimitMax     int    `env:"SYNC_LIMIT_MAX" env-default:"5000"`
	// Page size used when loading the local directory
	SyncIndexPageSize int `env:"SYNC_INDEX_PAGE_SIZE" env-default:"1000"`
	// Rows per bulk insert statement
	SyncInsertChunkSize int `env:"SYNC_INSERT_CHUNK_SIZE" env-default:"200"`
	// first | unresolved
	SyncAmbiguousDiocesePolicy string `env:"SYNC_AMBIGUOUS_DIOCESE_POLICY" env-default:"first"`
	// Lease expiry, renewed on every page
	SyncLeaseTTL time.Duration `env:"SYNC_LEASE_TTL" env-default:"5m"`
	SyncLeaseKey string        `env:"SYNC_LEASE_KEY" env-default:"lily:sync:lease"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads the optional .env files into the environment and then the
// environment into a Config. Variables already set win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
