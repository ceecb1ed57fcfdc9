// Package statusfile writes worker-local progress/status files atomically,
// so a concurrently reading process (a health probe, a recovery sweep) never
// observes a half-written file.
package statusfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the on-disk shape of a session's local progress marker.
type Status struct {
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Write serializes status to path atomically: it writes to a temp file in
// the same directory, then renames over path, so readers only ever see a
// complete file or the previous one.
func Write(path string, status Status) error {
	status.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("statusfile: marshal: %w", err)
	}

	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".statusfile-*.tmp")
	if err != nil {
		return fmt.Errorf("statusfile: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("statusfile: write temp: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("statusfile: sync temp: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("statusfile: close temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("statusfile: rename: %w", err)
	}

	return nil
}

// Read loads the status previously written by Write.
func Read(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, fmt.Errorf("statusfile: read: %w", err)
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, fmt.Errorf("statusfile: unmarshal: %w", err)
	}

	return status, nil
}
