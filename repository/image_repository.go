// Package repository persists the derived image cache: a per-folder SQLite
// database holding one queryable row per image. The cache is always
// rebuildable from the folder, so recovery from corruption or a schema bump
// is simply delete and recreate.
package repository

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quickcull/cullingbackend/models"
)

// CacheFileName is the cache database, stored hidden inside the watched folder.
const CacheFileName = ".culling_cache.db"

// SchemaVersion guards the cache layout. Bumping it invalidates every
// existing cache file, which is then deleted and recreated on open.
const SchemaVersion = 3

const (
	openRetries   = 5
	openRetryBase = 100 * time.Millisecond
	openRetryMax  = 2 * time.Second

	rebuildBatchSize = 100

	schemaVersionKey = "schema_version"
)

type schemaMeta struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (schemaMeta) TableName() string {
	return "cache_meta"
}

// ImageRepository wraps the per-folder cache database.
type ImageRepository struct {
	db         *gorm.DB
	folderPath string
}

// Open opens (or creates) the cache for a folder. A cache written by a
// different schema version, or one that cannot be opened at all, is deleted
// and recreated; transient failures are retried with doubling backoff.
func Open(folderPath string) (*ImageRepository, error) {
	dbPath := filepath.Join(folderPath, CacheFileName)

	db, err := openCurrent(dbPath)
	if err != nil {
		log.Printf("Cache at %s is unusable (%v), recreating", dbPath, err)
		db, err = recreate(dbPath)
		if err != nil {
			return nil, err
		}
	}
	return &ImageRepository{db: db, folderPath: folderPath}, nil
}

func openCurrent(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.AutoMigrate(&schemaMeta{}, &models.ImageRecord{}); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}

	want := strconv.Itoa(SchemaVersion)
	var meta schemaMeta
	res := db.Where("key = ?", schemaVersionKey).First(&meta)
	switch {
	case res.Error == nil:
		if meta.Value != want {
			closeDB(db)
			return nil, fmt.Errorf("cache schema version %s, want %s", meta.Value, want)
		}
	case errors.Is(res.Error, gorm.ErrRecordNotFound):
		if err := db.Create(&schemaMeta{Key: schemaVersionKey, Value: want}).Error; err != nil {
			closeDB(db)
			return nil, fmt.Errorf("failed to stamp cache schema version: %w", err)
		}
	default:
		closeDB(db)
		return nil, fmt.Errorf("failed to read cache schema version: %w", res.Error)
	}
	return db, nil
}

func recreate(dbPath string) (*gorm.DB, error) {
	var lastErr error
	delay := openRetryBase
	for attempt := 1; attempt <= openRetries; attempt++ {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			lastErr = err
		} else if db, err := openCurrent(dbPath); err == nil {
			return db, nil
		} else {
			lastErr = err
		}
		log.Printf("Cache recreate attempt %d/%d failed: %v", attempt, openRetries, lastErr)
		if attempt < openRetries {
			time.Sleep(delay)
			delay *= 2
			if delay > openRetryMax {
				delay = openRetryMax
			}
		}
	}
	return nil, fmt.Errorf("failed to recreate cache at %s: %w", dbPath, lastErr)
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (r *ImageRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FolderPath returns the folder this cache belongs to.
func (r *ImageRepository) FolderPath() string {
	return r.folderPath
}

// Get returns the row for a filename, or nil when the image is not cached.
func (r *ImageRepository) Get(filename string) (*models.ImageRecord, error) {
	var rec models.ImageRecord
	err := r.db.Where("filename = ?", filename).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached image %s: %w", filename, err)
	}
	return &rec, nil
}

// GetAll returns every cached row ordered by filename.
func (r *ImageRepository) GetAll() ([]models.ImageRecord, error) {
	var recs []models.ImageRecord
	if err := r.db.Order("filename").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list cached images: %w", err)
	}
	return recs, nil
}

// GetUnanalyzed returns every cached row that has no analysis data yet.
func (r *ImageRepository) GetUnanalyzed() ([]models.ImageRecord, error) {
	var recs []models.ImageRecord
	if err := r.db.Where("analyzed_at IS NULL").Order("filename").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list unanalyzed images: %w", err)
	}
	return recs, nil
}

// Count returns the number of cached rows.
func (r *ImageRepository) Count() (int64, error) {
	var n int64
	if err := r.db.Model(&models.ImageRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count cached images: %w", err)
	}
	return n, nil
}

// QueryFiltered returns the rows matching the filter, ordered by filename.
// Rating constraints apply to the effective rating: editorial first,
// predicted as fallback.
func (r *ImageRepository) QueryFiltered(filter models.ImageFilter) ([]models.ImageRecord, error) {
	qb := sq.Select("*").From("images")

	if filter.MinRating != nil {
		qb = qb.Where(sq.GtOrEq{"COALESCE(rating, predicted_rating, 0)": *filter.MinRating})
	}
	if filter.MaxRating != nil {
		qb = qb.Where(sq.LtOrEq{"COALESCE(rating, predicted_rating, 0)": *filter.MaxRating})
	}
	if filter.MinSharpness != nil {
		qb = qb.Where(sq.GtOrEq{"sharpness_overall": *filter.MinSharpness})
	}
	if filter.EyesOpenOnly {
		qb = qb.Where(sq.Eq{"eyes_open": true})
	}
	if filter.AnalyzedOnly {
		qb = qb.Where("analyzed_at IS NOT NULL")
	}
	if filter.RawOnly {
		qb = qb.Where(sq.Eq{"is_raw": true})
	}
	if filter.SidecarOnly {
		qb = qb.Where(sq.Eq{"has_sidecar": true})
	}
	if len(filter.IncludeFormats) > 0 {
		qb = qb.Where(sq.Eq{"format": filter.IncludeFormats})
	}
	if filter.SearchText != "" {
		qb = qb.Where(sq.Like{"filename": "%" + filter.SearchText + "%"})
	}
	qb = qb.OrderBy("filename")

	sqlStr, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build filter query: %w", err)
	}

	var recs []models.ImageRecord
	if err := r.db.Raw(sqlStr, args...).Scan(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to run filter query: %w", err)
	}
	return recs, nil
}

// Upsert replaces the row for one image with freshly derived state. The
// replace is delete-then-insert inside a transaction so a half-updated row
// can never be observed.
func (r *ImageRepository) Upsert(rec *models.ImageRecord) error {
	var existing models.ImageRecord
	if err := r.db.Where("filename = ?", rec.Filename).First(&existing).Error; err == nil {
		if existing.SidecarModifiedAt != nil && rec.SidecarModifiedAt != nil &&
			*rec.SidecarModifiedAt < *existing.SidecarModifiedAt {
			log.Printf("Warning: sidecar mtime for %s moved backwards, cache may be replacing newer state", rec.Filename)
		}
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("filename = ?", rec.Filename).Delete(&models.ImageRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return fmt.Errorf("failed to upsert cached image %s: %w", rec.Filename, err)
	}
	return nil
}

// Delete removes the row for a filename. Deleting an absent row is a no-op.
func (r *ImageRepository) Delete(filename string) error {
	if err := r.db.Where("filename = ?", filename).Delete(&models.ImageRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete cached image %s: %w", filename, err)
	}
	return nil
}

// ReplaceAll atomically replaces the whole cache with the given rows,
// inserting in batches and reporting progress with a running time estimate.
func (r *ImageRepository) ReplaceAll(recs []models.ImageRecord, progress models.ProgressFunc) error {
	start := time.Now()
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.ImageRecord{}).Error; err != nil {
			return err
		}
		for i := 0; i < len(recs); i += rebuildBatchSize {
			end := min(i+rebuildBatchSize, len(recs))
			batch := recs[i:end]
			if err := tx.Create(&batch).Error; err != nil {
				return err
			}
			if progress != nil {
				elapsed := time.Since(start)
				remaining := time.Duration(float64(elapsed) / float64(end) * float64(len(recs)-end))
				progress(models.Progress{
					Total:        len(recs),
					Processed:    end,
					CurrentImage: batch[len(batch)-1].Filename,
					Elapsed:      elapsed,
					Remaining:    remaining,
				})
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild cache: %w", err)
	}
	return nil
}
