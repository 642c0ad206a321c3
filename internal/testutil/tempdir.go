package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
)

// TempDir provides an isolated temporary directory for tests.
type TempDir struct {
	Root string
}

// NewTempDir creates a new TempDir rooted at a temporary directory.
func NewTempDir() (*TempDir, error) {
	dir, err := os.MkdirTemp("", "icn_testutil")
	if err != nil {
		return nil, err
	}
	return &TempDir{Root: dir}, nil
}

// Path returns the absolute path for a file within the directory.
func (s *TempDir) Path(name string) string {
	return filepath.Join(s.Root, name)
}

// WriteFile writes data to the named file inside the directory using the
// provided permissions.
func (s *TempDir) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(s.Path(name), data, perm)
}

// ReadFile reads and returns data from the named file inside the directory.
func (s *TempDir) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(s.Path(name))
}

// Cleanup removes all files within the directory and deletes the root.
func (s *TempDir) Cleanup() error {
	return os.RemoveAll(s.Root)
}

// Reverse returns s with its runes in reverse order.
func Reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
