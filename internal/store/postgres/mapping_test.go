package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"butik/backend/internal/store"
)

func TestMapErrorClassifiesPostgresCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"40001", store.ErrConflict},
		{"40P01", store.ErrConflict},
		{"23505", store.ErrInvalidInput},
		{"23514", store.ErrInvalidInput},
	}
	for _, tc := range cases {
		err := mapError(&pgconn.PgError{Code: tc.code, Message: "boom"})
		if !errors.Is(err, tc.want) {
			t.Fatalf("code %s: expected %v, got %v", tc.code, tc.want, err)
		}
	}

	plain := errors.New("plain")
	if got := mapError(plain); got != plain {
		t.Fatalf("expected non-postgres error to pass through, got %v", got)
	}
	if mapError(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
}

func TestLockClause(t *testing.T) {
	if lockClause(true) != " FOR UPDATE" || lockClause(false) != "" {
		t.Fatalf("unexpected lock clause")
	}
}
