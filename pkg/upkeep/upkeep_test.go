package upkeep

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stakecert/aggregator/pkg/config"
	"github.com/stakecert/aggregator/pkg/database"
	"github.com/stakecert/aggregator/pkg/epoch"
	"github.com/stakecert/aggregator/pkg/keystore"
	"github.com/stakecert/aggregator/pkg/stakestore"
)

// TestRunOnceAgainstRealDatabase exercises the full upkeep cycle
// against a live Postgres instance, following the teacher's pattern of
// gating database-backed tests behind an environment variable rather
// than mocking the driver.
func TestRunOnceAgainstRealDatabase(t *testing.T) {
	connStr := os.Getenv("STAKECERT_TEST_DB")
	if connStr == "" {
		t.Skip("STAKECERT_TEST_DB not set, skipping database-backed upkeep test")
	}

	client, err := database.NewClient(&config.Config{DatabaseURL: connStr})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	if err := client.MigrateUp(context.Background()); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	stake := stakestore.New(client)
	keys := keystore.New(client)

	svc := New(client, nil, time.Minute, stake, keys, fixedEpoch(10), 5)
	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
}

type fixedEpoch epoch.Epoch

func (f fixedEpoch) CurrentEpoch() epoch.Epoch { return epoch.Epoch(f) }
