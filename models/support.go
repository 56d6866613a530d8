package models

import "time"

// ImageFileInfo is the per-file result of a folder scan, resolved by the
// file-system collaborator before any cache row is derived from it.
type ImageFileInfo struct {
	FullPath   string     `json:"full_path"`
	Filename   string     `json:"filename"`
	FileSize   int64      `json:"file_size"`
	ModifiedAt time.Time  `json:"modified_at"`
	Format     string     `json:"format"`
	IsRaw      bool       `json:"is_raw"`
	FileHash   string     `json:"file_hash"`
	TakenAt    *time.Time `json:"taken_at,omitempty"`

	HasSidecar        bool       `json:"has_sidecar"`
	SidecarModifiedAt *time.Time `json:"sidecar_modified_at,omitempty"`
}

// ImageFilter describes a filtered cache query. Zero values mean "no
// constraint"; results are always ordered by filename for stable paging.
type ImageFilter struct {
	MinRating      *int     `json:"min_rating,omitempty"` // editorial falling back to predicted
	MaxRating      *int     `json:"max_rating,omitempty"`
	MinSharpness   *float64 `json:"min_sharpness,omitempty"`
	EyesOpenOnly   bool     `json:"eyes_open_only,omitempty"`
	AnalyzedOnly   bool     `json:"analyzed_only,omitempty"`
	RawOnly        bool     `json:"raw_only,omitempty"`
	SidecarOnly    bool     `json:"sidecar_only,omitempty"`
	IncludeFormats []string `json:"include_formats,omitempty"`
	SearchText     string   `json:"search_text,omitempty"` // substring match on filename
}

// Progress reports incremental status for long-running batch operations.
type Progress struct {
	Total        int           `json:"total"`
	Processed    int           `json:"processed"`
	CurrentImage string        `json:"current_image"`
	Elapsed      time.Duration `json:"elapsed"`
	Remaining    time.Duration `json:"remaining"`
}

// ProgressFunc receives Progress updates. Implementations must be fast; they
// are called inline from batch loops.
type ProgressFunc func(Progress)

// ChangeType classifies a sidecar change notification.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// ChangeEvent is emitted to observers whenever a sidecar changes, whether by
// this system or by an external tool.
type ChangeEvent struct {
	SidecarPath   string     `json:"sidecar_path"`
	ImagePath     string     `json:"image_path"`
	ImageFilename string     `json:"image_filename"`
	Type          ChangeType `json:"type"`
	Timestamp     time.Time  `json:"timestamp"`
}

// ValidationSummary aggregates a cache-wide consistency validation run.
type ValidationSummary struct {
	Total                 int      `json:"total"`
	Consistent            int      `json:"consistent"`
	Inconsistent          int      `json:"inconsistent"`
	Errors                int      `json:"errors"` // sidecar could not be parsed at all
	InconsistentFilenames []string `json:"inconsistent_filenames,omitempty"`
	ErrorFilenames        []string `json:"error_filenames,omitempty"`
}

// FolderStatistics summarizes the cached state of the loaded folder.
type FolderStatistics struct {
	FolderPath         string      `json:"folder_path"`
	TotalImages        int         `json:"total_images"`
	AnalyzedImages     int         `json:"analyzed_images"`
	UnanalyzedImages   int         `json:"unanalyzed_images"`
	ImagesWithSidecar  int         `json:"images_with_sidecar"`
	RawImages          int         `json:"raw_images"`
	RatingDistribution map[int]int `json:"rating_distribution"` // 1..5, editorial falling back to predicted
	AverageSharpness   float64     `json:"average_sharpness"`
	HighQualityImages  int         `json:"high_quality_images"` // rating >= 4 and sharpness >= 0.7
	TotalFileSize      int64       `json:"total_file_size"`
}
