package main

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/localshield/internal/channels"
	"github.com/MarcoPoloResearchLab/localshield/internal/config"
	"go.uber.org/zap"
)

func TestOpenStoresMemory(t *testing.T) {
	backing, err := openStores(config.AppConfig{StorageDriver: config.StorageMemory}, zap.NewNop())
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	if backing.locations == nil || backing.registry == nil || backing.eventLog == nil {
		t.Fatalf("expected all stores to be populated")
	}
	if err := backing.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenStoresSQLite(t *testing.T) {
	appConfig := config.AppConfig{
		StorageDriver: config.StorageSQLite,
		DatabasePath:  t.TempDir() + "/localshield.db",
	}
	backing, err := openStores(appConfig, zap.NewNop())
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	defer backing.close() //nolint:errcheck

	if _, err := backing.locations.UpdateLocation(context.Background(), "user-1", 40.7128, -74.0060); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
}

func TestBuildTransportsExpoOnly(t *testing.T) {
	transports, err := buildTransports(context.Background(), config.AppConfig{ExpoEnabled: true}, zap.NewNop())
	if err != nil {
		t.Fatalf("buildTransports: %v", err)
	}
	if _, ok := transports.Lookup(channels.KindCrossPlatformPushToken); !ok {
		t.Fatalf("expected an expo transport")
	}
	if _, ok := transports.Lookup(channels.KindNativeDeviceToken); ok {
		t.Fatalf("expected no native transport without a platform application")
	}
}

func TestBuildTransportsDisabled(t *testing.T) {
	transports, err := buildTransports(context.Background(), config.AppConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("buildTransports: %v", err)
	}
	if len(transports.Kinds()) != 0 {
		t.Fatalf("expected no transports, got %v", transports.Kinds())
	}
}
