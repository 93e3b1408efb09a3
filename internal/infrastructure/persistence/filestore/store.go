// Package filestore 提供基于本地目录的键值存储
package filestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"pustakam-api/internal/domain/repository"
	"pustakam-api/pkg/metrics"
)

const fileExt = ".json"

// Store 每个键一个文件，写入通过临时文件加 rename 保证原子覆盖
type Store struct {
	dir string
	mu  sync.RWMutex
}

// New 创建文件存储，目录不存在时自动创建
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileExt)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, repository.ErrKeyNotFound
		}
		metrics.StorageOpsTotal.WithLabelValues("file", "get", "error").Inc()
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	metrics.StorageOpsTotal.WithLabelValues("file", "get", "success").Inc()
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeAtomic(s.path(key), value); err != nil {
		metrics.StorageOpsTotal.WithLabelValues("file", "set", "error").Inc()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	metrics.StorageOpsTotal.WithLabelValues("file", "set", "success").Inc()
	return nil
}

func (s *Store) writeAtomic(path string, value []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		metrics.StorageOpsTotal.WithLabelValues("file", "delete", "error").Inc()
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	metrics.StorageOpsTotal.WithLabelValues("file", "delete", "success").Inc()
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
