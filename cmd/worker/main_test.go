package main

import (
	"context"
	"log/slog"
	"testing"

	"butik/backend/internal/config"
)

func TestOpenSharedRepositoryRefusesMemoryBackend(t *testing.T) {
	_, err := openSharedRepository(context.Background(), config.Config{LedgerBackend: config.BackendMemory}, slog.Default())
	if err == nil {
		t.Fatalf("expected memory backend to be refused")
	}
}

func TestRunRequiresRedis(t *testing.T) {
	err := run(context.Background(), config.Config{LedgerBackend: config.BackendPostgres}, slog.Default())
	if err == nil {
		t.Fatalf("expected missing REDIS_ADDR to fail")
	}
}
