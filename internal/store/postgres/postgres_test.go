package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/ppiankov/pactwatch/internal/store"
	"github.com/ppiankov/pactwatch/internal/store/storetest"
)

// Set PACTWATCH_TEST_DATABASE_URL to a disposable database to run these.
func TestConformance(t *testing.T) {
	dsn := os.Getenv("PACTWATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PACTWATCH_TEST_DATABASE_URL not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := Connect(ctx, dsn)
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if _, err := s.DB.Exec(ctx, `TRUNCATE pact_records`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

func TestConnectBadDSN(t *testing.T) {
	if _, err := Connect(context.Background(), "://not a dsn"); err == nil {
		t.Error("expected parse error")
	}
}
