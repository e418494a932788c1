// Package storage defines the blob storage abstraction used to archive crawl
// artifacts, decoupling the crawler from a specific backend.
package storage

import (
	"context"
	"path"
	"time"
)

// Provider defines the common interface for a blob storage provider.
type Provider interface {
	// Save uploads data to a specified object path/key in the blob store.
	Save(ctx context.Context, objectName string, data []byte) error
}

// ArchiveObjectName builds the object key for a run's JSON artifact,
// partitioned by UTC day.
func ArchiveObjectName(prefix string, at time.Time, runID string) string {
	return path.Join(prefix, at.UTC().Format("2006-01-02"), runID+".json")
}
