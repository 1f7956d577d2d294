package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// LocalStore keeps blobs under basePath; the router serves them under
// publicBaseURL.
type LocalStore struct {
	basePath      string
	publicBaseURL string
}

func NewLocalStore(basePath, publicBaseURL string, log *logrus.Logger) (*LocalStore, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}
	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory '%s': %w", absBasePath, err)
	}
	if log != nil {
		log.WithField("path", absBasePath).Info("local blob store initialized")
	}
	return &LocalStore{basePath: absBasePath, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// BasePath is the directory served as static media.
func (s *LocalStore) BasePath() string {
	return s.basePath
}

func (s *LocalStore) resolve(objectPath string) (string, error) {
	full := filepath.Join(s.basePath, filepath.FromSlash(objectPath))
	if full != s.basePath && !strings.HasPrefix(filepath.Clean(full), s.basePath+string(os.PathSeparator)) {
		return "", fmt.Errorf("path '%s' resolves outside the store", objectPath)
	}
	return full, nil
}

func (s *LocalStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", objectPath, err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write '%s': %w", objectPath, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize '%s': %w", objectPath, err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	full, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s': %w", objectPath, err)
	}
	return data, nil
}

func (s *LocalStore) Delete(ctx context.Context, objectPath string) error {
	full, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete '%s': %w", objectPath, err)
	}
	return nil
}

func (s *LocalStore) PublicURL(objectPath string) string {
	return s.publicBaseURL + "/" + strings.TrimLeft(objectPath, "/")
}
