package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Session   SessionConfig
	Keygen    KeygenConfig
	Storage   StorageConfig
	Splitter  SplitterConfig
	RateLimit RateLimitConfig
	Events    EventsConfig
	Upload    UploadConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	CORSOrigins string
}

// IsDevelopment reports whether the service runs in development mode
func (s ServerConfig) IsDevelopment() bool {
	return strings.EqualFold(s.Env, "development")
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SessionConfig struct {
	Secret      string
	ExpiryHours int
	CookieName  string
}

type KeygenConfig struct {
	AccountID string
	BaseURL   string
	Timeout   int // seconds
}

// StorageConfig describes the default object store. Provider is one of
// "s3", "minio" or "memory".
type StorageConfig struct {
	Provider   string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Secure     bool
	Region     string
	PresignTTL time.Duration
}

type SplitterConfig struct {
	ServiceURL string
	Timeout    int // seconds, gateway -> splitter requests

	Workers   int
	QueueSize int
	Retention time.Duration

	ScratchDir string
	DemucsBin  string
	FFmpegBin  string
	Model      string
	Device     string
	Shifts     int
	Overlap    float64

	DownloadTimeout    time.Duration
	SeparationTimeout  time.Duration
	PostProcessTimeout time.Duration
	UploadTimeout      time.Duration
}

type RateLimitConfig struct {
	UploadPerHour int
	SplitPerHour  int
}

type EventsConfig struct {
	RabbitMQURL string
	Exchange    string
}

type UploadConfig struct {
	MaxSize int64 // bytes
}

func Load() (*Config, error) {
	// .env is optional; real environment wins over it
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("SECRET_KEY")
	readSecret("KEYGEN_ACCOUNT_ID")
	readSecret("STORAGE_ACCESS_KEY")
	readSecret("STORAGE_SECRET_KEY")
	readSecret("RABBITMQ_URL")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.env", "ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.cors_origins", "CORS_ORIGINS")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("session.secret", "SECRET_KEY")
	_ = v.BindEnv("session.expiry_hours", "SESSION_EXPIRY_HOURS")
	_ = v.BindEnv("session.cookie_name", "SESSION_COOKIE_NAME")
	_ = v.BindEnv("keygen.account_id", "KEYGEN_ACCOUNT_ID")
	_ = v.BindEnv("keygen.base_url", "KEYGEN_BASE_URL")
	_ = v.BindEnv("keygen.timeout", "KEYGEN_TIMEOUT")
	_ = v.BindEnv("storage.provider", "STORAGE_PROVIDER")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	_ = v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = v.BindEnv("storage.secure", "STORAGE_SECURE")
	_ = v.BindEnv("storage.region", "STORAGE_REGION")
	_ = v.BindEnv("storage.presign_ttl", "STORAGE_PRESIGN_TTL")
	_ = v.BindEnv("splitter.service_url", "SPLITTER_URL")
	_ = v.BindEnv("splitter.timeout", "SPLITTER_TIMEOUT")
	_ = v.BindEnv("splitter.workers", "SPLITTER_WORKERS")
	_ = v.BindEnv("splitter.queue_size", "SPLITTER_QUEUE_SIZE")
	_ = v.BindEnv("splitter.retention", "SPLITTER_RETENTION")
	_ = v.BindEnv("splitter.scratch_dir", "TEMP_DIR")
	_ = v.BindEnv("splitter.demucs_bin", "DEMUCS_BIN")
	_ = v.BindEnv("splitter.ffmpeg_bin", "FFMPEG_BIN")
	_ = v.BindEnv("splitter.model", "DEMUCS_MODEL")
	_ = v.BindEnv("splitter.device", "DEMUCS_DEVICE")
	_ = v.BindEnv("splitter.shifts", "DEMUCS_SHIFTS")
	_ = v.BindEnv("splitter.overlap", "DEMUCS_OVERLAP")
	_ = v.BindEnv("splitter.download_timeout", "SPLITTER_DOWNLOAD_TIMEOUT")
	_ = v.BindEnv("splitter.separation_timeout", "SPLITTER_SEPARATION_TIMEOUT")
	_ = v.BindEnv("splitter.post_process_timeout", "SPLITTER_POST_PROCESS_TIMEOUT")
	_ = v.BindEnv("splitter.upload_timeout", "SPLITTER_UPLOAD_TIMEOUT")
	_ = v.BindEnv("ratelimit.upload_per_hour", "RATE_LIMIT_UPLOAD_PER_HOUR")
	_ = v.BindEnv("ratelimit.split_per_hour", "RATE_LIMIT_SPLIT_PER_HOUR")
	_ = v.BindEnv("events.rabbitmq_url", "RABBITMQ_URL")
	_ = v.BindEnv("events.exchange", "RABBITMQ_EXCHANGE")
	_ = v.BindEnv("upload.max_size", "UPLOAD_MAX_SIZE")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.cors_origins", "http://localhost:5173,http://localhost:8000")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("session.secret", "supersecretkey")
	v.SetDefault("session.expiry_hours", 24)
	v.SetDefault("session.cookie_name", "splitter_session")
	v.SetDefault("keygen.base_url", "https://api.keygen.sh/v1")
	v.SetDefault("keygen.timeout", 10)

	// Storage defaults match a local MinIO
	v.SetDefault("storage.provider", "minio")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minioadmin")
	v.SetDefault("storage.bucket", "stems")
	v.SetDefault("storage.secure", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.presign_ttl", "1h")

	// Splitter defaults
	v.SetDefault("splitter.service_url", "http://localhost:8001")
	v.SetDefault("splitter.timeout", 30)
	v.SetDefault("splitter.workers", 2)
	v.SetDefault("splitter.queue_size", 16)
	v.SetDefault("splitter.retention", "24h")
	v.SetDefault("splitter.scratch_dir", "/tmp/splitter_temp")
	v.SetDefault("splitter.demucs_bin", "demucs")
	v.SetDefault("splitter.ffmpeg_bin", "ffmpeg")
	v.SetDefault("splitter.model", "htdemucs")
	v.SetDefault("splitter.device", defaultDevice())
	v.SetDefault("splitter.shifts", 1)
	v.SetDefault("splitter.overlap", 0.25)
	v.SetDefault("splitter.download_timeout", "10m")
	v.SetDefault("splitter.separation_timeout", "60m")
	v.SetDefault("splitter.post_process_timeout", "10m")
	v.SetDefault("splitter.upload_timeout", "10m")

	v.SetDefault("ratelimit.upload_per_hour", 50)
	v.SetDefault("ratelimit.split_per_hour", 20)
	v.SetDefault("events.exchange", "splitter.jobs")
	v.SetDefault("upload.max_size", int64(500*1024*1024))

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    v.GetString("server.log_level"),
			CORSOrigins: v.GetString("server.cors_origins"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Session: SessionConfig{
			Secret:      v.GetString("session.secret"),
			ExpiryHours: v.GetInt("session.expiry_hours"),
			CookieName:  v.GetString("session.cookie_name"),
		},
		Keygen: KeygenConfig{
			AccountID: v.GetString("keygen.account_id"),
			BaseURL:   v.GetString("keygen.base_url"),
			Timeout:   v.GetInt("keygen.timeout"),
		},
		Storage: StorageConfig{
			Provider:   strings.ToLower(v.GetString("storage.provider")),
			Endpoint:   v.GetString("storage.endpoint"),
			AccessKey:  v.GetString("storage.access_key"),
			SecretKey:  v.GetString("storage.secret_key"),
			Bucket:     v.GetString("storage.bucket"),
			Secure:     v.GetBool("storage.secure"),
			Region:     v.GetString("storage.region"),
			PresignTTL: v.GetDuration("storage.presign_ttl"),
		},
		Splitter: SplitterConfig{
			ServiceURL:         v.GetString("splitter.service_url"),
			Timeout:            v.GetInt("splitter.timeout"),
			Workers:            v.GetInt("splitter.workers"),
			QueueSize:          v.GetInt("splitter.queue_size"),
			Retention:          v.GetDuration("splitter.retention"),
			ScratchDir:         v.GetString("splitter.scratch_dir"),
			DemucsBin:          v.GetString("splitter.demucs_bin"),
			FFmpegBin:          v.GetString("splitter.ffmpeg_bin"),
			Model:              v.GetString("splitter.model"),
			Device:             v.GetString("splitter.device"),
			Shifts:             v.GetInt("splitter.shifts"),
			Overlap:            v.GetFloat64("splitter.overlap"),
			DownloadTimeout:    v.GetDuration("splitter.download_timeout"),
			SeparationTimeout:  v.GetDuration("splitter.separation_timeout"),
			PostProcessTimeout: v.GetDuration("splitter.post_process_timeout"),
			UploadTimeout:      v.GetDuration("splitter.upload_timeout"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: v.GetInt("ratelimit.upload_per_hour"),
			SplitPerHour:  v.GetInt("ratelimit.split_per_hour"),
		},
		Events: EventsConfig{
			RabbitMQURL: v.GetString("events.rabbitmq_url"),
			Exchange:    v.GetString("events.exchange"),
		},
		Upload: UploadConfig{
			MaxSize: v.GetInt64("upload.max_size"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Splitter.Workers < 1 {
		return errors.Newf("splitter.workers must be at least 1, got %d", c.Splitter.Workers)
	}
	if c.Splitter.QueueSize < 0 {
		return errors.Newf("splitter.queue_size must not be negative, got %d", c.Splitter.QueueSize)
	}
	if c.Splitter.Retention <= 0 {
		return errors.New("splitter.retention must be positive")
	}
	if c.Session.ExpiryHours < 1 {
		return errors.Newf("session.expiry_hours must be at least 1, got %d", c.Session.ExpiryHours)
	}
	switch c.Storage.Provider {
	case "s3", "minio", "memory":
	default:
		return errors.Newf("unknown storage.provider %q", c.Storage.Provider)
	}
	return nil
}

// defaultDevice picks the inference device the same way the model runner
// does: a visible CUDA device means GPU.
func defaultDevice() string {
	if _, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok {
		return "cuda"
	}
	return "cpu"
}
