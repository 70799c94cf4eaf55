package domain

import "time"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Htsget   HtsgetConfig   `mapstructure:"htsget"`
	Indexing IndexingConfig `mapstructure:"indexing"`
	Auth     AuthConfig     `mapstructure:"auth"`
	S3       S3Config       `mapstructure:"s3"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DBConfig holds the catalog store connection URI.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// HtsgetConfig holds the slicing and URL-base parameters.
type HtsgetConfig struct {
	URL        string `mapstructure:"url"`
	ChunkSize  int64  `mapstructure:"chunk_size"`
	BucketSize int64  `mapstructure:"bucket_size"`
}

// IndexingConfig holds the touch-file queue location.
type IndexingConfig struct {
	Path string `mapstructure:"path"`
}

// OPAConfig holds the external policy-point endpoints.
type OPAConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	Secret       string        `mapstructure:"secret"`
	SiteAdminKey string        `mapstructure:"site_admin_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    int           `mapstructure:"rate_limit"`
}

// AuthConfig holds the authorization gate settings.
type AuthConfig struct {
	TestKey       string            `mapstructure:"test_key"`
	OPA           OPAConfig         `mapstructure:"opa"`
	ServiceTokens map[string]string `mapstructure:"service_tokens"`
}

// S3Config holds defaults for presigning against an S3-compatible store.
type S3Config struct {
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Region    string        `mapstructure:"region"`
	Expiry    time.Duration `mapstructure:"expiry"`
}

// CacheConfig holds the optional shared decision-cache settings.
type CacheConfig struct {
	RedisURL   string        `mapstructure:"redis_url"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	Size       int           `mapstructure:"size"`
}

// LoggingConfig holds log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
