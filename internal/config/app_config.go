package config

import "time"

// BotConfig is the chat-platform connection and admission policy.
type BotConfig struct {
	Token         string
	AdminIDs      []int64
	Mode          string // "polling" or "webhook"
	WebhookURL    string
	WebhookSecret string
}

// ObjectStoreConfig is the C2 S3-compatible endpoint.
type ObjectStoreConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	PathStyle       bool
	VerifyTLS       bool
}

// AlbumConfig is the C4 aggregator window.
type AlbumConfig struct {
	WindowSeconds int
}

// IngestConfig is the C6 size gates and the optional thumbnail companion.
type IngestConfig struct {
	MaxFileGiB            int
	SmallPathLimitBytes   int64
	MultipartThresholdMiB int
	MultipartPartSizeMiB  int
	ThumbnailEnabled      bool
	ThumbnailMaxDimension int
}

// StoreConfig is the C1 dedup store.
type StoreConfig struct {
	Path        string
	DedupEnable bool
}

// DispatchConfig covers C10's concurrency and acquisition bound.
type DispatchConfig struct {
	Concurrency      int
	IOTimeoutSeconds int
}

// QuotaConfig is the C3 bucket-usage alerting policy.
type QuotaConfig struct {
	AlertThreshold float64
	AlertCooldown  time.Duration
	BucketQuota    int64
}

// ObservabilityConfig covers logging and the HTTP health surface.
type ObservabilityConfig struct {
	LogLevel       string
	RotateSizeMB   int
	RotateBackups  int
	HealthPort     int
	LocalhostOnly  bool
	StatusToken    string
}

// BrokerConfig is the C7 AMQP connection and topology naming.
type BrokerConfig struct {
	Host        string
	Port        int
	User        string
	Pass        string
	Vhost       string
	JobsQueue   string
	DLQQueue    string
	JobsExchange string
	DLXExchange string
}

// AltTransportConfig is the C8/C9 high-limit session.
type AltTransportConfig struct {
	APIID       int
	APIHash     string
	Phone       string
	SessionPath string
}

// WorkerConfig is the C8 consumer's tuning.
type WorkerConfig struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

// AppConfig is the fully assembled configuration for one teltubby process.
type AppConfig struct {
	Bot          BotConfig
	ObjectStore  ObjectStoreConfig
	Album        AlbumConfig
	Ingest       IngestConfig
	Store        StoreConfig
	Dispatch     DispatchConfig
	Quota        QuotaConfig
	Observability ObservabilityConfig
	Broker       BrokerConfig
	AltTransport AltTransportConfig
	Worker       WorkerConfig
}

// Load reads every recognized option from env (prefix TELTUBBY_), optionally
// layered over a YAML file, and returns the assembled AppConfig. Validate
// must be called separately so callers can decide whether to treat failures
// as fatal.
func Load(envPrefix, filePath string) AppConfig {
	file := LoadFile(filePath)
	ec := NewEnvConfig(envPrefix, file)

	return AppConfig{
		Bot: BotConfig{
			Token:         ec.GetString("BOT_TOKEN", ""),
			AdminIDs:      ec.GetInt64Slice("BOT_ADMIN_IDS", nil),
			Mode:          ec.GetString("BOT_MODE", "polling"),
			WebhookURL:    ec.GetString("BOT_WEBHOOK_URL", ""),
			WebhookSecret: ec.GetString("BOT_WEBHOOK_SECRET", ""),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        ec.GetString("S3_ENDPOINT", ""),
			AccessKeyID:     ec.GetString("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: ec.GetString("S3_SECRET_ACCESS_KEY", ""),
			Bucket:          ec.GetString("S3_BUCKET", "teltubby"),
			Region:          ec.GetString("S3_REGION", "us-east-1"),
			PathStyle:       ec.GetBool("S3_PATH_STYLE", true),
			VerifyTLS:       ec.GetBool("S3_VERIFY_TLS", true),
		},
		Album: AlbumConfig{
			WindowSeconds: ec.GetInt("ALBUM_WINDOW_SECONDS", 10),
		},
		Ingest: IngestConfig{
			MaxFileGiB:            ec.GetInt("MAX_FILE_GIB", 4),
			SmallPathLimitBytes:   ec.GetInt64("SMALL_PATH_LIMIT_BYTES", 50*1024*1024),
			MultipartThresholdMiB: ec.GetInt("MULTIPART_THRESHOLD_MIB", 64),
			MultipartPartSizeMiB:  ec.GetInt("MULTIPART_PART_SIZE_MIB", 16),
			ThumbnailEnabled:      ec.GetBool("THUMBNAIL_ENABLED", false),
			ThumbnailMaxDimension: ec.GetInt("THUMBNAIL_MAX_DIMENSION", 512),
		},
		Store: StoreConfig{
			Path:        ec.GetString("STORE_PATH", "/data/teltubby.db"),
			DedupEnable: ec.GetBool("DEDUP_ENABLE", true),
		},
		Dispatch: DispatchConfig{
			Concurrency:      ec.GetInt("CONCURRENCY", 4),
			IOTimeoutSeconds: ec.GetInt("IO_TIMEOUT_SECONDS", 600),
		},
		Quota: QuotaConfig{
			AlertThreshold: ec.GetFloat64("QUOTA_ALERT_THRESHOLD", 0.9),
			AlertCooldown:  ec.GetDuration("QUOTA_ALERT_COOLDOWN", time.Hour),
			BucketQuota:    ec.GetInt64("QUOTA_BUCKET_BYTES", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:      ec.GetString("LOG_LEVEL", "info"),
			RotateSizeMB:  ec.GetInt("LOG_ROTATE_SIZE_MB", 100),
			RotateBackups: ec.GetInt("LOG_ROTATE_BACKUPS", 5),
			HealthPort:    ec.GetInt("HEALTH_PORT", 8080),
			LocalhostOnly: ec.GetBool("HEALTH_LOCALHOST_ONLY", true),
			StatusToken:   ec.GetString("STATUS_TOKEN", ""),
		},
		Broker: BrokerConfig{
			Host:         ec.GetString("BROKER_HOST", "localhost"),
			Port:         ec.GetInt("BROKER_PORT", 5672),
			User:         ec.GetString("BROKER_USER", "guest"),
			Pass:         ec.GetString("BROKER_PASS", "guest"),
			Vhost:        ec.GetString("BROKER_VHOST", "/"),
			JobsQueue:    ec.GetString("BROKER_JOBS_QUEUE", "Q_jobs"),
			DLQQueue:     ec.GetString("BROKER_DLQ_QUEUE", "Q_dlq"),
			JobsExchange: ec.GetString("BROKER_JOBS_EXCHANGE", "E_jobs"),
			DLXExchange:  ec.GetString("BROKER_DLX_EXCHANGE", "E_dlx"),
		},
		AltTransport: AltTransportConfig{
			APIID:       ec.GetInt("MT_API_ID", 0),
			APIHash:     ec.GetString("MT_API_HASH", ""),
			Phone:       ec.GetString("MT_PHONE", ""),
			SessionPath: ec.GetString("MT_SESSION_PATH", "/data/mtproto.session"),
		},
		Worker: WorkerConfig{
			Concurrency: ec.GetInt("WORKER_CONCURRENCY", 1),
			MaxRetries:  ec.GetInt("WORKER_MAX_RETRIES", 3),
			RetryDelay:  ec.GetDuration("WORKER_RETRY_DELAY", 30*time.Second),
		},
	}
}

// Validate accumulates every configuration problem into one combined error.
func (c AppConfig) Validate() error {
	v := NewValidator()

	v.RequireString("bot.token", c.Bot.Token)
	v.RequireOneOf("bot.mode", c.Bot.Mode, []string{"polling", "webhook"})
	if c.Bot.Mode == "webhook" {
		v.RequireString("bot.webhook_url", c.Bot.WebhookURL)
	}

	v.RequireString("object_store.bucket", c.ObjectStore.Bucket)

	v.RequirePositiveInt("album.window_seconds", c.Album.WindowSeconds)
	v.RequirePositiveInt("ingest.max_file_gib", c.Ingest.MaxFileGiB)

	v.RequireString("store.path", c.Store.Path)

	v.RequireRange("dispatch.concurrency", c.Dispatch.Concurrency, 1, 32)

	v.RequireRange("worker.concurrency", c.Worker.Concurrency, 1, 32)
	if c.Worker.MaxRetries < 0 {
		v.errors = append(v.errors, "worker.max_retries must not be negative")
	}

	return v.Validate()
}
