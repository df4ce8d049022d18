package domain

import "time"

// StorageStatus tracks where a media artifact currently lives. The backup
// subsystem that advances it past original_only is external to this service.
type StorageStatus string

const (
	StorageOriginalOnly StorageStatus = "original_only"
	StorageBackingUp    StorageStatus = "backing_up"
	StorageBackedUp     StorageStatus = "backed_up"
	StorageBackupFailed StorageStatus = "backup_failed"
)

// MediaFile is one result artifact of a completed generation task. Rows are
// created exactly once, in the same commit that moves the task to completed.
type MediaFile struct {
	ID            string
	TaskID        string
	UserID        string
	MediaType     MediaType
	URL           string
	ThumbnailURL  string
	OriginalURL   string
	BackupURL     string
	ResultIndex   int
	Width         int
	Height        int
	Duration      int
	Format        string
	StorageStatus StorageStatus
	CreatedAt     time.Time
}
