package db

import (
	"context"
	"testing"

	"github.com/diewo77/go-partners/internal/config"
)

func TestMaskDSN(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"host=db user=u password=hunter2 dbname=x", "host=db user=u password=*** dbname=x"},
		{"postgres://u:hunter2@db:5432/x?sslmode=disable", "postgres://u:xxxxx@db:5432/x?sslmode=disable"},
		{"host=db dbname=x", "host=db dbname=x"},
	}
	for _, c := range cases {
		if got := MaskDSN(c.in); got != c.want {
			t.Errorf("MaskDSN(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestConnectRejectsUnconfigured(t *testing.T) {
	_, err := Connect(context.Background(), config.DatabaseConfig{Driver: "mysql"}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	_, err = Connect(context.Background(), config.DatabaseConfig{Driver: DriverSQLite}, nil)
	if err == nil {
		t.Fatal("expected error for empty sqlite path")
	}
}

func TestMigrateCreatesSchema(t *testing.T) {
	d := newTestDB(t)
	if err := CheckSchema(d); err != nil {
		t.Fatal(err)
	}
	if err := Ping(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	// AutoMigrate is re-runnable.
	if err := Migrate(d, config.DatabaseConfig{Driver: DriverSQLite}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected up and down migrations, got %d files", len(entries))
	}
}
