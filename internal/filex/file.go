// Package filex has the small file helpers the operator CLI needs to keep
// its access token between runs.
package filex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/scanrebate/internal/common"
)

// EnsureSubdir creates base/dirName with owner-only permissions and returns
// its path.
func EnsureSubdir(base, dirName string) (string, error) {
	dir := filepath.Join(base, dirName)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}

// WriteSecret replaces path with data, readable by the owner only. The
// content is written to a temporary file first and renamed into place.
func WriteSecret(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadSecret returns the trimmed content of path. A missing or empty file
// yields common.ErrorNotFound.
func ReadSecret(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", common.ErrorNotFound
	}
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", common.ErrorNotFound
	}
	return s, nil
}
