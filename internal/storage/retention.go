package storage

import (
	"context"
	"sort"
	"time"

	"github.com/rowjay/supa-backup/internal/config"
)

// Prune deletes archives under prefix that fall outside the policy, oldest
// first, together with their manifests. It returns the deleted archives.
func Prune(ctx context.Context, s Storage, prefix string, policy config.Retention, now time.Time) ([]ObjectInfo, error) {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	archives := []ObjectInfo{}
	for _, obj := range objects {
		if !obj.IsManifest {
			archives = append(archives, obj)
		}
	}
	victims := Select(archives, policy, now)
	for _, obj := range victims {
		if err := s.Delete(ctx, obj.Key); err != nil {
			return nil, err
		}
		if err := s.Delete(ctx, ManifestKey(obj.Key)); err != nil {
			return nil, err
		}
	}
	return victims, nil
}

// Select picks the archives a policy would delete. A zero policy keeps all.
// KeepLast alone caps the count; combined with KeepDays or MaxBytes it only
// protects the newest archives from age and size pruning.
func Select(archives []ObjectInfo, policy config.Retention, now time.Time) []ObjectInfo {
	sorted := append([]ObjectInfo(nil), archives...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Modified.After(sorted[j].Modified) })

	var cutoff time.Time
	if policy.KeepDays > 0 {
		cutoff = now.AddDate(0, 0, -policy.KeepDays)
	}
	var victims []ObjectInfo
	var total int64
	for i, obj := range sorted {
		total += obj.Size
		if policy.KeepLast > 0 && i < policy.KeepLast {
			continue
		}
		expired := !cutoff.IsZero() && obj.Modified.Before(cutoff)
		oversize := policy.MaxBytes > 0 && total > policy.MaxBytes
		countOnly := policy.KeepLast > 0 && cutoff.IsZero() && policy.MaxBytes == 0
		if expired || oversize || countOnly {
			victims = append(victims, obj)
		}
	}
	// Oldest first.
	for i, j := 0, len(victims)-1; i < j; i, j = i+1, j-1 {
		victims[i], victims[j] = victims[j], victims[i]
	}
	return victims
}
