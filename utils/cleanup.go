package utils

import (
	"os"
	"time"

	"github.com/avorontsov/lenta/config"
	"github.com/avorontsov/lenta/models"
)

// StartOrphanCleaner launches a background goroutine that periodically deletes
// image files detached from their post (replaced during an edit) once their
// grace period has passed. It is best-effort and logs failures.
func StartOrphanCleaner(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		for {
			// Sleep first to avoid racing immediately at startup
			time.Sleep(interval)
			db := config.DB()
			if db == nil {
				continue
			}
			var items []models.UploadedFile
			if err := db.Where("expire_at <= ?", time.Now()).Limit(100).Find(&items).Error; err != nil {
				if Sugar != nil {
					Sugar.Warnf("orphan cleaner query failed: %v", err)
				}
				continue
			}
			for _, it := range items {
				if it.FilePath != "" {
					_ = os.Remove(it.FilePath)
				}
				// Remove row regardless of file deletion outcome
				if err := db.Delete(&models.UploadedFile{}, it.ID).Error; err != nil {
					if Sugar != nil {
						Sugar.Warnf("orphan cleaner delete row failed: %v", err)
					}
				}
			}
		}
	}()
}
