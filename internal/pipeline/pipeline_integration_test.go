//go:build integration

package pipeline_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jfoltran/pgcdc/internal/batch"
	"github.com/jfoltran/pgcdc/internal/cellmodel"
	"github.com/jfoltran/pgcdc/internal/memsink"
	"github.com/jfoltran/pgcdc/internal/pgsource"
	"github.com/jfoltran/pgcdc/internal/pipeline"
	"github.com/jfoltran/pgcdc/internal/testutil"
)

func TestMain(m *testing.M) {
	rt := testutil.ContainerRuntime()
	if rt == "" {
		fmt.Fprintln(os.Stderr, "SKIP: no container runtime found (docker or podman)")
		os.Exit(0)
	}

	alreadyRunning := testutil.TryPing(testutil.SourceDSN())
	if !alreadyRunning {
		fmt.Fprintf(os.Stderr, "starting test containers with %s...\n", rt)
		if err := testutil.RunCompose("up", "-d", "--wait"); err != nil {
			if err2 := testutil.RunCompose("up", "-d"); err2 != nil {
				fmt.Fprintf(os.Stderr, "compose up failed: %v\n", err2)
				os.Exit(1)
			}
			if err := waitForSource(60 * time.Second); err != nil {
				fmt.Fprintf(os.Stderr, "source database not ready: %v\n", err)
				os.Exit(1)
			}
		}
	}

	code := m.Run()

	if !alreadyRunning {
		fmt.Fprintln(os.Stderr, "stopping test containers...")
		_ = testutil.RunCompose("down", "-v")
	}

	os.Exit(code)
}

func waitForSource(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if testutil.TryPing(testutil.SourceDSN()) {
			return nil
		}
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("timed out after %s", timeout)
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano()%1_000_000)
}

func TestRun_TableCopiesOnly_SingleTable(t *testing.T) {
	pool := testutil.MustConnectPool(t, testutil.SourceDSN())

	tableName := uniqueName("test_copy")
	slotName := uniqueName("slot_copy")
	pubName := uniqueName("pub_copy")

	testutil.CreateTestTable(t, pool, "public", tableName, 100)
	t.Cleanup(func() {
		testutil.DropTestTable(t, pool, "public", tableName)
		testutil.CleanupReplication(t, pool, slotName, pubName)
	})
	testutil.CreatePublication(t, pool, pubName)

	logger := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()

	src, err := pgsource.Connect(context.Background(), pgsource.Config{
		DSN:            testutil.SourceDSN(),
		ReplicationDSN: testutil.SourceDSN() + "&replication=database",
		SlotName:       slotName,
		Publication:    pubName,
	}, logger)
	if err != nil {
		t.Fatalf("connect source: %v", err)
	}

	sink := memsink.New(logger)

	p := pipeline.New(src, sink, pipeline.Config{
		Batch: batch.Config{MaxSize: 25, MaxFillDuration: time.Second},
	}, logger)
	defer p.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := p.Run(ctx, pipeline.TableCopiesOnly); err != nil {
		t.Fatalf("run: %v", err)
	}

	tableID := tableOID(t, pool, tableName)
	if got := len(sink.Rows(cellmodel.TableID(tableID))); got != 100 {
		t.Errorf("expected 100 rows copied, got %d", got)
	}

	status := p.Status()
	if status.Phase != "done" {
		t.Errorf("expected phase 'done', got %q", status.Phase)
	}
}

func tableOID(t *testing.T, pool *pgxpool.Pool, tableName string) uint32 {
	t.Helper()
	var oid uint32
	row := pool.QueryRow(context.Background(),
		"SELECT oid FROM pg_class WHERE relname = $1", tableName)
	if err := row.Scan(&oid); err != nil {
		t.Fatalf("look up oid for %s: %v", tableName, err)
	}
	return oid
}
