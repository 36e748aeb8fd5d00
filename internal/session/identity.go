// Package session manages the durable session identity: a UUID persisted on
// first run and reused for every subsequent submission, so the remote
// service can correlate conversations from the same installation.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreate returns the session ID stored at path. When the file is
// missing or holds something that is not a UUID, a fresh ID is generated and
// persisted before being returned.
func LoadOrCreate(path string) (string, error) {
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(b))
		if _, perr := uuid.Parse(id); perr == nil {
			return id, nil
		}
		// Corrupt identity file; fall through and regenerate.
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("session: read %q: %w", path, err)
	}

	id := uuid.NewString()
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("session: create %q: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("session: write %q: %w", path, err)
	}
	return id, nil
}
