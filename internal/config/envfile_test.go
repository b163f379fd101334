package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv_SetsMissingVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nBOOKING_OPEN_TIME=09:00:00\nexport PAY_MARKER='http://pay.example'\nJWT_SECRET=\"s e c r e t\"\nbroken line\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	os.Unsetenv("BOOKING_OPEN_TIME")
	os.Unsetenv("PAY_MARKER")
	os.Unsetenv("JWT_SECRET")
	t.Cleanup(func() {
		os.Unsetenv("BOOKING_OPEN_TIME")
		os.Unsetenv("PAY_MARKER")
		os.Unsetenv("JWT_SECRET")
	})

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}

	if got := os.Getenv("BOOKING_OPEN_TIME"); got != "09:00:00" {
		t.Fatalf("BOOKING_OPEN_TIME = %q, want %q", got, "09:00:00")
	}
	if got := os.Getenv("PAY_MARKER"); got != "http://pay.example" {
		t.Fatalf("PAY_MARKER = %q, want %q", got, "http://pay.example")
	}
	if got := os.Getenv("JWT_SECRET"); got != "s e c r e t" {
		t.Fatalf("JWT_SECRET = %q, want %q", got, "s e c r e t")
	}
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("STORE_MODE=postgres\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("STORE_MODE", "memory")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
	if got := os.Getenv("STORE_MODE"); got != "memory" {
		t.Fatalf("STORE_MODE = %q, want %q", got, "memory")
	}
}

func TestLoadDotEnv_MissingFileIsFine(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("STORE_MODE")
	os.Unsetenv("BOOKING_OPEN_TIME")
	cfg := Load()
	if cfg.StoreMode != "sqlite" {
		t.Fatalf("StoreMode = %q, want sqlite", cfg.StoreMode)
	}
	if cfg.BookingOpenTime != "08:40:01" {
		t.Fatalf("BookingOpenTime = %q", cfg.BookingOpenTime)
	}
	if cfg.MaxRetries != 10 {
		t.Fatalf("MaxRetries = %d", cfg.MaxRetries)
	}
}
