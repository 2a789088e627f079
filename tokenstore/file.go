package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// fileContents is the on-disk layout of a FileTier. Several profiles (for
// example one per API environment) can share the same file.
type fileContents struct {
	Profiles map[string]map[string]string `json:"profiles"` // key = profile name
}

// FileTier stores values for one profile in a JSON file.
// Writes are serialized across processes with a lock file and land atomically
// through a temp file rename.
type FileTier struct {
	path    string
	profile string
}

// NewFileTier creates a FileTier for profile backed by path.
func NewFileTier(path, profile string) *FileTier {
	if profile == "" {
		profile = "default"
	}
	return &FileTier{path: path, profile: profile}
}

// Path returns the backing file path.
func (f *FileTier) Path() string {
	return f.path
}

func (f *FileTier) Get(_ context.Context, key string) (string, bool, error) {
	contents, err := f.read()
	if err != nil {
		return "", false, err
	}
	values, ok := contents.Profiles[f.profile]
	if !ok {
		return "", false, nil
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileTier) Set(_ context.Context, key, value string) error {
	return f.update(func(values map[string]string) {
		values[key] = value
	})
}

func (f *FileTier) Delete(_ context.Context, keys ...string) error {
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return f.update(func(values map[string]string) {
		for _, k := range keys {
			delete(values, k)
		}
	})
}

// read loads the file. A missing file is an empty store.
func (f *FileTier) read() (*fileContents, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return &fileContents{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &contents, nil
}

// update applies fn to this profile's values under the file lock and writes
// the result back, preserving other profiles.
func (f *FileTier) update(fn func(values map[string]string)) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	lock, err := acquireFileLock(f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", releaseErr)
		}
	}()

	// Re-read inside the lock so concurrent writers don't drop each other's keys
	var contents fileContents
	if existing, err := os.ReadFile(f.path); err == nil {
		if unmarshalErr := json.Unmarshal(existing, &contents); unmarshalErr != nil {
			contents.Profiles = nil
		}
	}
	if contents.Profiles == nil {
		contents.Profiles = make(map[string]map[string]string)
	}

	values := contents.Profiles[f.profile]
	if values == nil {
		values = make(map[string]string)
	}
	fn(values)
	if len(values) == 0 {
		delete(contents.Profiles, f.profile)
	} else {
		contents.Profiles[f.profile] = values
	}

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
