package main

import (
	"context"
	"log/slog"
	"testing"

	"butik/backend/internal/config"
	"butik/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakSecretInProduction(t *testing.T) {
	err := validateSecurityConfig(config.Config{AppEnv: "production", AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak production secret to be rejected")
	}
}

func TestValidateSecurityConfigAllowsWeakSecretInDevelopment(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AppEnv: "development"}); err != nil {
		t.Fatalf("expected development config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AppEnv: "production", AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestOpenRepositoryDefaultsToSeededMemory(t *testing.T) {
	repo, err := openRepository(context.Background(), config.Config{LedgerBackend: config.BackendMemory, TxMaxAttempts: 3}, slog.Default())
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", repo)
	}
	if _, err := repo.GetOrder(context.Background(), "order-demo-1"); err != nil {
		t.Fatalf("expected seeded order, got %v", err)
	}
}
