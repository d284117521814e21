package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/bl4ck0w1/muninn/pkg/utils"
	"github.com/sirupsen/logrus"
)

const resultExt = ".json"

// FileStore keeps each scan as <dir>/<id>.json. Scans that have not reached a
// terminal status are also held in memory so readers observe live progress.
type FileStore struct {
	dir       string
	retention time.Duration
	logger    *logrus.Logger

	mu   sync.RWMutex
	live map[string]*models.ScanResult
}

func NewFileStore(dir string, retention time.Duration, logger *logrus.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{
		dir:       dir,
		retention: retention,
		logger:    logger,
		live:      make(map[string]*models.ScanResult),
	}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+resultExt)
}

func (s *FileStore) Create(ctx context.Context, scan *models.ScanResult) error {
	if !ValidID(scan.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, scan.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live[scan.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, scan.ID)
	}
	if _, err := os.Stat(s.path(scan.ID)); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, scan.ID)
	}
	if err := s.write(scan); err != nil {
		return err
	}
	if !scan.CurrentStatus().Terminal() {
		s.live[scan.ID] = scan
	}
	return nil
}

func (s *FileStore) Save(ctx context.Context, scan *models.ScanResult) error {
	if !ValidID(scan.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, scan.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(scan); err != nil {
		return err
	}
	if scan.CurrentStatus().Terminal() {
		delete(s.live, scan.ID)
	} else {
		s.live[scan.ID] = scan
	}
	s.logger.Debugf("Scan %s saved to %s", scan.ID, s.path(scan.ID))
	return nil
}

func (s *FileStore) write(scan *models.ScanResult) error {
	if err := utils.WriteFileJSONAtomic(s.path(scan.ID), scan); err != nil {
		return fmt.Errorf("failed to save scan %s: %w", scan.ID, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*models.ScanResult, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.RLock()
	scan, ok := s.live[id]
	s.mu.RUnlock()
	if ok {
		return scan, nil
	}
	return s.load(s.path(id))
}

func (s *FileStore) load(path string) (*models.ScanResult, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), resultExt))
	}
	if err != nil {
		return nil, fmt.Errorf("read scan file: %w", err)
	}
	var scan models.ScanResult
	if err := json.Unmarshal(data, &scan); err != nil {
		return nil, fmt.Errorf("unmarshal scan %s: %w", path, err)
	}
	return &scan, nil
}

func (s *FileStore) List(ctx context.Context, limit int) ([]*models.ScanResult, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read storage directory: %w", err)
	}

	scans := make([]*models.ScanResult, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok := scanIDFromEntry(e)
		if !ok {
			continue
		}
		scan, err := s.Get(ctx, id)
		if err != nil {
			s.logger.Warnf("Failed to load scan %s: %v", id, err)
			continue
		}
		scans = append(scans, scan)
	}

	sortByRecency(scans)
	return applyLimit(scans, limit), nil
}

func (s *FileStore) Delete(ctx context.Context, id string) (bool, error) {
	if !ValidID(id) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, wasLive := s.live[id]
	delete(s.live, id)

	err := os.Remove(s.path(id))
	switch {
	case err == nil:
		s.logger.Infof("Scan %s deleted", id)
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return wasLive, nil
	default:
		return false, fmt.Errorf("delete scan %s: %w", id, err)
	}
}

// Prune removes finished scans whose file has not been written for longer
// than maxAge. Live scans are never pruned.
func (s *FileStore) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read storage directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		id, ok := scanIDFromEntry(e)
		if !ok {
			continue
		}
		if _, live := s.live[id]; live {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warnf("Failed to prune scan %s: %v", id, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Infof("Pruned %d scan(s) older than %s", removed, maxAge)
	}
	return removed, nil
}

// RunRetention prunes on every tick until ctx is done. It is a no-op when no
// retention period is configured.
func (s *FileStore) RunRetention(ctx context.Context, every time.Duration) {
	if s.retention <= 0 {
		return
	}
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx, s.retention); err != nil && ctx.Err() == nil {
				s.logger.Warnf("Retention sweep failed: %v", err)
			}
		}
	}
}

func scanIDFromEntry(e fs.DirEntry) (string, bool) {
	if e.IsDir() || !strings.HasSuffix(e.Name(), resultExt) {
		return "", false
	}
	id := strings.TrimSuffix(e.Name(), resultExt)
	return id, ValidID(id)
}
