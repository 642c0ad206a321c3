package testutil

import (
	"bytes"
	"os"
	"testing"
)

func TestTempDirReadWrite(t *testing.T) {
	td, err := NewTempDir()
	if err != nil {
		t.Fatalf("NewTempDir failed: %v", err)
	}
	defer td.Cleanup()

	data := []byte("hello world")
	if err := td.WriteFile("file.txt", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := td.ReadFile("file.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("data mismatch: got %q want %q", got, data)
	}
}

func TestTempDirCleanup(t *testing.T) {
	td, err := NewTempDir()
	if err != nil {
		t.Fatalf("NewTempDir failed: %v", err)
	}
	path := td.Path("temp")
	if err := td.WriteFile("temp", []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := td.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected directory to be removed")
	}
}

func TestReverseTempDirIntegration(t *testing.T) {
	td, err := NewTempDir()
	if err != nil {
		t.Fatalf("NewTempDir failed: %v", err)
	}
	defer td.Cleanup()

	original := "integration"
	reversed := Reverse(original)
	if err := td.WriteFile("data", []byte(reversed), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := td.ReadFile("data")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got := Reverse(string(data)); got != original {
		t.Fatalf("reverse integration mismatch: got %q want %q", got, original)
	}
}
