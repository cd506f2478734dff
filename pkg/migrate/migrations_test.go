package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/adtrail-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestOrdersMigrationContainsCompositeKey(t *testing.T) {
	content := readMigration(t, "create_orders")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"CONSTRAINT ux_orders_site_external_line UNIQUE (site_id, external_order_id, external_line_item_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_click_id",
		"settlement_status text NULL",
		"DROP TABLE IF EXISTS orders",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestClickEventsMigrationGuardsConversion(t *testing.T) {
	content := readMigration(t, "create_click_events")

	checks := []string{
		"CONSTRAINT ux_click_events_click_id UNIQUE (click_id)",
		"is_converted boolean NOT NULL DEFAULT false",
		"CHECK (is_converted = (converted_order_id IS NOT NULL))",
		"ON click_events (tracking_link_id, is_converted, created_at DESC)",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestConnectionsMigrationStatuses(t *testing.T) {
	content := readMigration(t, "create_external_connections")
	for _, status := range []string{"'connected'", "'pending_verification'", "'token_expired'", "'needs_reconnect'"} {
		if !strings.Contains(content, status) {
			t.Errorf("missing status %s in check constraint", status)
		}
	}
}

func TestEmbeddedMigrationsMatchDirectory(t *testing.T) {
	source, err := migrate.Source("")
	if err != nil {
		t.Fatalf("embedded source: %v", err)
	}
	embedded, err := fs.Glob(source, "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob disk: %v", err)
	}
	if len(embedded) == 0 || len(embedded) != len(onDisk) {
		t.Fatalf("expected every migration embedded, got %d of %d", len(embedded), len(onDisk))
	}
	if err := migrate.Validate(source); err != nil {
		t.Fatalf("expected embedded migrations to validate: %v", err)
	}
}

func TestSourceRejectsMissingDir(t *testing.T) {
	if _, err := migrate.Source(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"create_things.sql":               "-- +goose Up\n-- +goose Down\n",
		"20260301120000_a.sql":            "-- +goose Up\n-- +goose Down\n",
		"20260301120000_b.sql":            "-- +goose Up\n-- +goose Down\n",
		"20260301120100_missing_down.sql": "-- +goose Up\n",
		"README.md":                       "ignored",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	source, err := migrate.Source(dir)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	err = migrate.Validate(source)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if got := len(multierr.Errors(err)); got != 3 {
		t.Fatalf("expected 3 problems, got %d: %v", got, err)
	}
}

func TestCreateWritesValidMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	path, err := migrate.Create(dir, "Add Spend Column!", now)
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if filepath.Base(path) != "20260402093000_add_spend_column.sql" {
		t.Fatalf("unexpected file name %s", path)
	}
	if _, err := migrate.Create(dir, "add spend column", now); err == nil {
		t.Fatal("expected collision on same version and slug")
	}
	if _, err := migrate.Create(dir, "!!!", now); err == nil {
		t.Fatal("expected error for unusable name")
	}
	source, _ := migrate.Source(dir)
	if err := migrate.Validate(source); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := migrate.ParseVersion("20260301120500"); err != nil || v != 20260301120500 {
		t.Fatalf("unexpected parse result %d %v", v, err)
	}
	for _, bad := range []string{"", "2026", "20261301120500", "abcdefghijklmn"} {
		if _, err := migrate.ParseVersion(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
