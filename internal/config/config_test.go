package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.StorageDriver != StorageMemory {
		t.Fatalf("expected memory storage by default, got %q", cfg.StorageDriver)
	}
	if cfg.RadiusMeters != 1000 {
		t.Fatalf("expected 1000 m radius, got %v", cfg.RadiusMeters)
	}
	if cfg.DispatchTimeout != 5*time.Second || cfg.DispatchWorkers != 8 {
		t.Fatalf("unexpected dispatch defaults %v %d", cfg.DispatchTimeout, cfg.DispatchWorkers)
	}
	if cfg.ClientPollInterval != 3*time.Second || cfg.ClientWatermarkPolicy != "last_event" {
		t.Fatalf("unexpected client defaults %v %q", cfg.ClientPollInterval, cfg.ClientWatermarkPolicy)
	}
	if cfg.LocationStaleAfter != 0 {
		t.Fatalf("pruning must be disabled by default")
	}
	if err := cfg.ValidateClient(); err != nil {
		t.Fatalf("client defaults must validate: %v", err)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("LOCALSHIELD_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("LOCALSHIELD_STORAGE_DRIVER", "SQLite")
	t.Setenv("LOCALSHIELD_DISPATCH_TIMEOUT", "750ms")
	t.Setenv("LOCALSHIELD_PROXIMITY_RADIUS_METERS", "250.5")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SigningSecret != "from-env" {
		t.Fatalf("expected secret from env, got %q", cfg.SigningSecret)
	}
	if cfg.StorageDriver != StorageSQLite {
		t.Fatalf("expected normalized sqlite driver, got %q", cfg.StorageDriver)
	}
	if cfg.DispatchTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected dispatch timeout %v", cfg.DispatchTimeout)
	}
	if cfg.RadiusMeters != 250.5 {
		t.Fatalf("unexpected radius %v", cfg.RadiusMeters)
	}
}

func TestValidateServerRejectsInvalidSettings(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*AppConfig)
		contains string
	}{
		{name: "missing secret", mutate: func(c *AppConfig) { c.SigningSecret = " " }, contains: "auth.signing_secret"},
		{name: "unknown driver", mutate: func(c *AppConfig) { c.StorageDriver = "redis" }, contains: "storage.driver"},
		{name: "postgres without dsn", mutate: func(c *AppConfig) { c.StorageDriver = StoragePostgres }, contains: "database.dsn"},
		{name: "zero radius", mutate: func(c *AppConfig) { c.RadiusMeters = 0 }, contains: "proximity.radius_meters"},
		{name: "zero workers", mutate: func(c *AppConfig) { c.DispatchWorkers = 0 }, contains: "dispatch.workers"},
		{name: "negative staleness", mutate: func(c *AppConfig) { c.LocationStaleAfter = -time.Second }, contains: "location.stale_after"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("auth.signing_secret", "secret")
			cfg, err := Load(configViper)
			if err != nil {
				t.Fatalf("unexpected load error: %v", err)
			}
			testCase.mutate(&cfg)
			err = cfg.ValidateServer()
			if err == nil || !strings.Contains(err.Error(), testCase.contains) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.contains, err)
			}
		})
	}
}

func TestValidateClientRejectsUnknownPolicy(t *testing.T) {
	configViper := NewViper()
	configViper.Set("client.watermark_policy", "sometimes")
	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if err := cfg.ValidateClient(); err == nil {
		t.Fatalf("expected unknown policy to be rejected")
	}
}
