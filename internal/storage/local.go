package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// LocalStorage implements Storage using the local filesystem. Each object is
// a file under the base directory, with a .meta sidecar carrying its
// metadata and checksum.
type LocalStorage struct {
	baseDir string
}

type localMeta struct {
	Metadata Metadata `json:"metadata"`
	Checksum string   `json:"checksum"`
}

// NewLocalStorage creates a local filesystem storage rooted at baseDir
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", baseDir, err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Put stores data with the given key and metadata
func (s *LocalStorage) Put(ctx context.Context, key string, data io.Reader, metadata Metadata) error {
	path, err := s.keyToPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	// Write through a temp file so a crash mid-write never leaves a
	// truncated object behind the final key.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", key, err)
	}

	meta := localMeta{
		Metadata: metadata,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for %s: %w", key, err)
	}
	if err := os.WriteFile(path+".meta", metaBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", key, err)
	}

	log.Debug().Str("key", key).Str("checksum", meta.Checksum).Msg("Stored object")
	return nil
}

// Get retrieves data for the given key
func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.keyToPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return f, nil
}

// GetInfo retrieves object information without fetching the payload
func (s *LocalStorage) GetInfo(ctx context.Context, key string) (*ObjectInfo, error) {
	path, err := s.keyToPath(key)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	info := &ObjectInfo{
		Key:          key,
		Size:         stat.Size(),
		LastModified: stat.ModTime().UTC(),
	}
	if metaBytes, err := os.ReadFile(path + ".meta"); err == nil {
		var meta localMeta
		if err := json.Unmarshal(metaBytes, &meta); err == nil {
			info.Metadata = meta.Metadata
			info.Checksum = meta.Checksum
		}
	}
	return info, nil
}

// Exists checks if a key exists
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.keyToPath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", key, err)
}

// Delete removes the object and its metadata sidecar
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	path, err := s.keyToPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if err := os.Remove(path + ".meta"); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("key", key).Msg("Failed to delete metadata sidecar")
	}
	return nil
}

// List returns object infos for keys matching the prefix
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	var infos []*ObjectInfo
	err := filepath.Walk(s.baseDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() || strings.HasSuffix(path, ".meta") {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.GetInfo(ctx, key)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
	}
	return infos, nil
}

// keyToPath maps a storage key to a filesystem path, rejecting traversal
func (s *LocalStorage) keyToPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// PutBytes is a convenience wrapper for storing an in-memory payload
func (s *LocalStorage) PutBytes(ctx context.Context, key string, data []byte, metadata Metadata) error {
	if metadata.CapturedAt.IsZero() {
		metadata.CapturedAt = time.Now().UTC()
	}
	return s.Put(ctx, key, bytes.NewReader(data), metadata)
}
