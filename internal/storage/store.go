package storage

import (
	"context"
	"errors"
	"regexp"
	"sort"

	"github.com/bl4ck0w1/muninn/pkg/models"
)

var (
	ErrNotFound  = errors.New("scan not found")
	ErrExists    = errors.New("scan already exists")
	ErrInvalidID = errors.New("invalid scan id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ScanStore persists one document per scan id. Implementations must be safe
// for concurrent use; callers keep single-writer discipline per id.
type ScanStore interface {
	Create(ctx context.Context, scan *models.ScanResult) error
	Save(ctx context.Context, scan *models.ScanResult) error
	Get(ctx context.Context, id string) (*models.ScanResult, error)
	// List returns at most limit scans, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*models.ScanResult, error)
	Delete(ctx context.Context, id string) (bool, error)
}

func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func sortByRecency(scans []*models.ScanResult) {
	sort.SliceStable(scans, func(i, j int) bool {
		if scans[i].StartTime.Equal(scans[j].StartTime) {
			return scans[i].ID < scans[j].ID
		}
		return scans[i].StartTime.After(scans[j].StartTime)
	})
}

func applyLimit(scans []*models.ScanResult, limit int) []*models.ScanResult {
	if limit > 0 && len(scans) > limit {
		return scans[:limit]
	}
	return scans
}
