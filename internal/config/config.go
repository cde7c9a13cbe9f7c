package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "LOCALSHIELD"
	defaultHTTPAddress     = "0.0.0.0:8000"
	defaultLogLevel        = "info"
	defaultIssuer          = "localshield-auth"
	defaultAudience        = "localshield-api"
	defaultTokenTTLMinutes = 60 * 24
	defaultStorageDriver   = StorageMemory
	defaultDatabasePath    = "localshield.db"
	defaultRadiusMeters    = 1000.0
	defaultDispatchWorkers = 8
	defaultDispatchTimeout = 5 * time.Second
	defaultExpoURL         = "https://exp.host/--/api/v2/push/send"
	defaultSNSRegion       = "us-east-1"
	defaultEmergencyRate   = "10-M"
	defaultPruneSchedule   = "@every 5m"
	defaultClientBaseURL   = "http://127.0.0.1:8000"
	defaultPollInterval    = 3 * time.Second
	defaultWatermarkPolicy = "last_event"
	minimumPollInterval    = 100 * time.Millisecond
	maximumDispatchWorkers = 1024
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// AppConfig captures runtime configuration for the server and the watch client.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string
	LogFile     string

	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	DevIssuer     bool

	StorageDriver string
	DatabasePath  string
	DatabaseDSN   string

	RadiusMeters    float64
	DispatchWorkers int
	DispatchTimeout time.Duration

	ExpoEnabled            bool
	ExpoURL                string
	ExpoAccessToken        string
	SNSRegion              string
	SNSPlatformApplication string

	EmergencyRate string

	LocationStaleAfter    time.Duration
	LocationPruneSchedule string

	ClientBaseURL         string
	ClientAccessToken     string
	ClientPollInterval    time.Duration
	ClientWatermarkPolicy string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.dev_issuer", false)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("proximity.radius_meters", defaultRadiusMeters)
	configViper.SetDefault("dispatch.workers", defaultDispatchWorkers)
	configViper.SetDefault("dispatch.timeout", defaultDispatchTimeout)
	configViper.SetDefault("push.expo.enabled", true)
	configViper.SetDefault("push.expo.url", defaultExpoURL)
	configViper.SetDefault("push.expo.access_token", "")
	configViper.SetDefault("push.sns.region", defaultSNSRegion)
	configViper.SetDefault("push.sns.platform_application_arn", "")
	configViper.SetDefault("ratelimit.emergency", defaultEmergencyRate)
	configViper.SetDefault("location.stale_after", time.Duration(0))
	configViper.SetDefault("location.prune_schedule", defaultPruneSchedule)
	configViper.SetDefault("client.base_url", defaultClientBaseURL)
	configViper.SetDefault("client.access_token", "")
	configViper.SetDefault("client.poll_interval", defaultPollInterval)
	configViper.SetDefault("client.watermark_policy", defaultWatermarkPolicy)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:            strings.TrimSpace(configViper.GetString("http.address")),
		LogLevel:               configViper.GetString("log.level"),
		LogFile:                strings.TrimSpace(configViper.GetString("log.file")),
		SigningSecret:          configViper.GetString("auth.signing_secret"),
		Issuer:                 strings.TrimSpace(configViper.GetString("auth.issuer")),
		Audience:               strings.TrimSpace(configViper.GetString("auth.audience")),
		TokenTTL:               time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		DevIssuer:              configViper.GetBool("auth.dev_issuer"),
		StorageDriver:          strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		DatabasePath:           strings.TrimSpace(configViper.GetString("database.path")),
		DatabaseDSN:            strings.TrimSpace(configViper.GetString("database.dsn")),
		RadiusMeters:           configViper.GetFloat64("proximity.radius_meters"),
		DispatchWorkers:        configViper.GetInt("dispatch.workers"),
		DispatchTimeout:        configViper.GetDuration("dispatch.timeout"),
		ExpoEnabled:            configViper.GetBool("push.expo.enabled"),
		ExpoURL:                strings.TrimSpace(configViper.GetString("push.expo.url")),
		ExpoAccessToken:        strings.TrimSpace(configViper.GetString("push.expo.access_token")),
		SNSRegion:              strings.TrimSpace(configViper.GetString("push.sns.region")),
		SNSPlatformApplication: strings.TrimSpace(configViper.GetString("push.sns.platform_application_arn")),
		EmergencyRate:          strings.TrimSpace(configViper.GetString("ratelimit.emergency")),
		LocationStaleAfter:     configViper.GetDuration("location.stale_after"),
		LocationPruneSchedule:  strings.TrimSpace(configViper.GetString("location.prune_schedule")),
		ClientBaseURL:          strings.TrimRight(strings.TrimSpace(configViper.GetString("client.base_url")), "/"),
		ClientAccessToken:      strings.TrimSpace(configViper.GetString("client.access_token")),
		ClientPollInterval:     configViper.GetDuration("client.poll_interval"),
		ClientWatermarkPolicy:  strings.ToLower(strings.TrimSpace(configViper.GetString("client.watermark_policy"))),
	}
	return cfg, nil
}

// ValidateServer checks the settings the API server needs.
func (c AppConfig) ValidateServer() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	switch c.StorageDriver {
	case StorageMemory:
	case StorageSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case StoragePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.StorageDriver)
	}
	if c.RadiusMeters <= 0 {
		return fmt.Errorf("proximity.radius_meters must be positive")
	}
	if c.DispatchWorkers <= 0 || c.DispatchWorkers > maximumDispatchWorkers {
		return fmt.Errorf("dispatch.workers must be between 1 and %d", maximumDispatchWorkers)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch.timeout must be positive")
	}
	if c.LocationStaleAfter < 0 {
		return fmt.Errorf("location.stale_after must not be negative")
	}
	return nil
}

// ValidateClient checks the settings the watch client needs.
func (c AppConfig) ValidateClient() error {
	if c.ClientBaseURL == "" {
		return fmt.Errorf("client.base_url is required")
	}
	if c.ClientPollInterval < minimumPollInterval {
		return fmt.Errorf("client.poll_interval must be at least %s", minimumPollInterval)
	}
	switch c.ClientWatermarkPolicy {
	case "last_event", "now":
	default:
		return fmt.Errorf("client.watermark_policy %q is not supported", c.ClientWatermarkPolicy)
	}
	return nil
}
