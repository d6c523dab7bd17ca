package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "TICKETDESK"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv               = "TICKETDESK_APP_ENV"
	EnvPort                 = "TICKETDESK_APP_PORT"
	EnvDBDSN                = "TICKETDESK_DB_DSN"
	EnvDBHost               = "TICKETDESK_DB_HOST"
	EnvDBUser               = "TICKETDESK_DB_USER"
	EnvDBName               = "TICKETDESK_DB_NAME"
	EnvRedisURL             = "TICKETDESK_REDIS_URL"
	EnvHelloAssoClientID    = "TICKETDESK_HELLOASSO_CLIENT_ID"
	EnvHelloAssoSecret      = "TICKETDESK_HELLOASSO_CLIENT_SECRET"
	EnvHelloAssoOrg         = "TICKETDESK_HELLOASSO_ORGANIZATION"
	EnvDiscordBotToken      = "TICKETDESK_DISCORD_BOT_TOKEN"
	EnvDiscordPublicKey     = "TICKETDESK_DISCORD_PUBLIC_KEY"
	EnvDiscordGuildID       = "TICKETDESK_DISCORD_GUILD_ID"
	EnvDiscordOpsChannel    = "TICKETDESK_DISCORD_OPS_CHANNEL_ID"
	EnvGCPProjectID         = "TICKETDESK_GCP_PROJECT_ID"
	EnvGCSBucket            = "TICKETDESK_GCS_BUCKET_NAME"
	EnvPubSubTicketsSub     = "TICKETDESK_PUBSUB_TICKETS_SUBSCRIPTION"
	EnvOperatorJWTSecret    = "TICKETDESK_OPERATOR_JWT_SECRET"
	EnvFulfillmentFormSlug  = "TICKETDESK_FULFILLMENT_FORM_SLUG"
	EnvFulfillmentMaxItems  = "TICKETDESK_FULFILLMENT_MAX_ITEMS"
	EnvWebhookIdempotencyTT = "TICKETDESK_WEBHOOK_IDEMPOTENCY_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	HelloAsso    HelloAssoConfig
	Discord      DiscordConfig
	Fulfillment  FulfillmentConfig
	Webhooks     WebhooksConfig
	Operator     OperatorConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TICKETDESK_APP_ENV" required:"true"`
	Port         string `envconfig:"TICKETDESK_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TICKETDESK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TICKETDESK_LOG_WARN_STACK" default:"false"`
	Timezone     string `envconfig:"TICKETDESK_APP_TIMEZONE" default:"Europe/Paris"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// Location resolves the configured timezone, falling back to UTC.
func (a AppConfig) Location() *time.Location {
	if loc, err := time.LoadLocation(a.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

type DBConfig struct {
	DSN    string `envconfig:"TICKETDESK_DB_DSN"`
	Driver string `envconfig:"TICKETDESK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TICKETDESK_DB_HOST"`
	LegacyPort     int    `envconfig:"TICKETDESK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TICKETDESK_DB_USER"`
	LegacyPassword string `envconfig:"TICKETDESK_DB_PASSWORD"`
	LegacyName     string `envconfig:"TICKETDESK_DB_NAME"`
	LegacySSLMode  string `envconfig:"TICKETDESK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TICKETDESK_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"TICKETDESK_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"TICKETDESK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TICKETDESK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"TICKETDESK_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TICKETDESK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TICKETDESK_REDIS_ADDR"`
	Password     string        `envconfig:"TICKETDESK_REDIS_PASSWORD"`
	DB           int           `envconfig:"TICKETDESK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TICKETDESK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TICKETDESK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TICKETDESK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TICKETDESK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TICKETDESK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TICKETDESK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TICKETDESK_AUTO_MIGRATE" default:"false"`
}

type HelloAssoConfig struct {
	BaseURL      string        `envconfig:"TICKETDESK_HELLOASSO_BASE_URL" default:"https://api.helloasso.com"`
	ClientID     string        `envconfig:"TICKETDESK_HELLOASSO_CLIENT_ID" required:"true"`
	ClientSecret string        `envconfig:"TICKETDESK_HELLOASSO_CLIENT_SECRET" required:"true"`
	Organization string        `envconfig:"TICKETDESK_HELLOASSO_ORGANIZATION"`
	Timeout      time.Duration `envconfig:"TICKETDESK_HELLOASSO_TIMEOUT" default:"10s"`
	MaxRetries   uint64        `envconfig:"TICKETDESK_HELLOASSO_MAX_RETRIES" default:"2"`
}

type DiscordConfig struct {
	BotToken     string `envconfig:"TICKETDESK_DISCORD_BOT_TOKEN" required:"true"`
	PublicKey    string `envconfig:"TICKETDESK_DISCORD_PUBLIC_KEY" required:"true"`
	GuildID      string `envconfig:"TICKETDESK_DISCORD_GUILD_ID"`
	OpsChannelID string `envconfig:"TICKETDESK_DISCORD_OPS_CHANNEL_ID" required:"true"`
}

type FulfillmentConfig struct {
	FormSlug      string `envconfig:"TICKETDESK_FULFILLMENT_FORM_SLUG" default:"climb-up"`
	FormType      string `envconfig:"TICKETDESK_FULFILLMENT_FORM_TYPE" default:"Shop"`
	MaxItems      int    `envconfig:"TICKETDESK_FULFILLMENT_MAX_ITEMS" default:"10"`
	FetchParallel int    `envconfig:"TICKETDESK_FULFILLMENT_FETCH_PARALLELISM" default:"10"`

	// RecipientField is matched case-insensitively against custom field names
	// to find the one holding the recipient's chat id.
	RecipientField string `envconfig:"TICKETDESK_FULFILLMENT_RECIPIENT_FIELD" default:"discord"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"TICKETDESK_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type OperatorConfig struct {
	JWTSecret string        `envconfig:"TICKETDESK_OPERATOR_JWT_SECRET"`
	JWTIssuer string        `envconfig:"TICKETDESK_OPERATOR_JWT_ISSUER" default:"ticketdesk"`
	TokenTTL  time.Duration `envconfig:"TICKETDESK_OPERATOR_TOKEN_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TICKETDESK_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"TICKETDESK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TICKETDESK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string        `envconfig:"TICKETDESK_GCS_BUCKET_NAME" required:"true"`
	Timeout    time.Duration `envconfig:"TICKETDESK_GCS_TIMEOUT" default:"30s"`
	MaxRetries uint64        `envconfig:"TICKETDESK_GCS_MAX_RETRIES" default:"2"`
}

type PubSubConfig struct {
	TicketsSubscription string `envconfig:"TICKETDESK_PUBSUB_TICKETS_SUBSCRIPTION"`
	MaxOutstanding      int    `envconfig:"TICKETDESK_PUBSUB_MAX_OUTSTANDING" default:"10"`
	NumGoroutines       int    `envconfig:"TICKETDESK_PUBSUB_NUM_GOROUTINES" default:"1"`
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if db.DSN != "" {
		return nil
	}
	if sqlite {
		db.DSN = "file:ticketdesk.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
