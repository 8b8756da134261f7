package linkpreview

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidStorePath is returned when the disk store base path is empty
var ErrInvalidStorePath = errors.New("disk store base path cannot be empty")

// entryFileSuffix marks finished entry files; temp files never carry it
const entryFileSuffix = ".json"

// DiskStore implements Store with one file per key under basePath.
// File name format: {basePath}/{key_safe}.json where key_safe has colons
// replaced with underscores.
type DiskStore struct {
	basePath string
}

// NewDiskStore creates the base directory if needed and returns a DiskStore
func NewDiskStore(basePath string) (*DiskStore, error) {
	if basePath == "" {
		return nil, ErrInvalidStorePath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{basePath: basePath}, nil
}

// makeKeySafe converts a cache key to a file name that cannot escape basePath
func makeKeySafe(key string) string {
	s := strings.ReplaceAll(key, ":", "_")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

func (d *DiskStore) entryPath(key string) (string, error) {
	safe := makeKeySafe(key)
	if safe == "" {
		return "", ErrInvalidKey
	}
	return filepath.Join(d.basePath, safe+entryFileSuffix), nil
}

func (d *DiskStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := d.entryPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return data, nil
}

// Set writes the value atomically through a uniquely named temp file, so
// concurrent writers of one key never share a partial file
func (d *DiskStore) Set(_ context.Context, key string, value []byte) error {
	path, err := d.entryPath(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.basePath, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (d *DiskStore) Delete(_ context.Context, key string) error {
	path, err := d.entryPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *DiskStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	safePrefix := makeKeySafe(prefix)
	removed := 0

	err := filepath.WalkDir(d.basePath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != d.basePath {
				return filepath.SkipDir
			}
			return nil
		}

		name := entry.Name()
		if !strings.HasSuffix(name, entryFileSuffix) || !strings.HasPrefix(name, safePrefix) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("[LINK-PREVIEW] failed to remove cache file",
					"path", path,
					"error", err,
				)
			}
			return nil
		}
		removed++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, err
	}

	return removed, nil
}
