package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"zipverifier"`
	Password string `env:"PASSWORD" envDefault:"zipverifier"`
	Name     string `env:"NAME"     envDefault:"zipverifier"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
}

// CacheConfig contains status snapshot cache configuration.
type CacheConfig struct {
	// SnapshotTTL is the TTL for cached task status snapshots.
	SnapshotTTL time.Duration `env:"CACHE_SNAPSHOT_TTL" envDefault:"300s"`
}

// S3Config contains the S3-compatible artifact store configuration.
type S3Config struct {
	Endpoint       string `env:"ENDPOINT"         envDefault:"localhost:9000"`
	AccessKey      string `env:"ACCESS_KEY"       envDefault:""`
	SecretKey      string `env:"SECRET_KEY"       envDefault:""`
	Region         string `env:"REGION"           envDefault:"us-east-1"`
	Bucket         string `env:"BUCKET"           envDefault:"artifacts"`
	DisableTLS     bool   `env:"DISABLE_TLS"      envDefault:"true"`
	ForcePathStyle bool   `env:"FORCE_PATH_STYLE" envDefault:"true"`
}
