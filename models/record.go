package models

// ImageRecord is the cached, queryable state of one image in the working folder
// using GORM. It corresponds to the 'images' table; one row per filename.
type ImageRecord struct {
	Filename string `gorm:"primaryKey" json:"filename"`
	FilePath string `gorm:"not null" json:"file_path"`

	Format         string `gorm:"" json:"format"`                   // ".jpg", ".nef", etc.
	IsRaw          bool   `gorm:"index" json:"is_raw"`
	FileSize       int64  `gorm:"not null" json:"file_size"`
	FileModifiedAt int64  `gorm:"not null" json:"file_modified_at"` // Unix timestamp
	FileHash       string `gorm:"" json:"file_hash"`                // partial-content fingerprint
	TakenAt        *int64 `gorm:"index" json:"taken_at,omitempty"`  // Nullable, from EXIF

	HasSidecar        bool   `gorm:"index" json:"has_sidecar"`
	SidecarModifiedAt *int64 `gorm:"" json:"sidecar_modified_at,omitempty"` // Nullable, Unix timestamp

	// editorial fields mirrored from the sidecar, owned by external tools
	Rating *int    `gorm:"index" json:"rating,omitempty"` // Nullable, 1-5
	Pick   *bool   `gorm:"" json:"pick,omitempty"`        // true=pick, false=reject, nil=unset
	Label  *string `gorm:"" json:"label,omitempty"`       // Nullable

	// analysis fields owned by this system, round-tripped through the sidecar
	AnalyzedAt                 *int64   `gorm:"index" json:"analyzed_at,omitempty"` // nil means never analyzed
	ModelVersion               *string  `gorm:"" json:"model_version,omitempty"`
	AnalysisVersion            *string  `gorm:"" json:"analysis_version,omitempty"`
	SharpnessOverall           *float64 `gorm:"index" json:"sharpness_overall,omitempty"`
	SharpnessSubject           *float64 `gorm:"" json:"sharpness_subject,omitempty"`
	SubjectCount               *int     `gorm:"" json:"subject_count,omitempty"`
	SubjectTypes               *string  `gorm:"" json:"subject_types,omitempty"` // JSON: ["face","person"]
	SubjectSharpnessPercentage *float64 `gorm:"" json:"subject_sharpness_percentage,omitempty"`
	EyesOpen                   *bool    `gorm:"" json:"eyes_open,omitempty"`
	EyeConfidence              *float64 `gorm:"" json:"eye_confidence,omitempty"`
	PredictedRating            *int     `gorm:"index" json:"predicted_rating,omitempty"`
	PredictionConfidence       *float64 `gorm:"" json:"prediction_confidence,omitempty"`

	// GroupUngrouped until an external grouper assigns a positive id
	GroupID int `gorm:"default:0" json:"group_id"`

	ExtendedJSON *string `gorm:"type:TEXT" json:"extended_json,omitempty"` // flattened key/value map
}

// GroupUngrouped is the GroupID sentinel for images no grouper has touched.
// External grouping collaborators assign ids starting from 1.
const GroupUngrouped = 0

// TableName explicitly sets the table name for GORM.
func (ImageRecord) TableName() string {
	return "images"
}

// EffectiveRating returns the editorial star rating, falling back to the
// predicted rating when no editorial rating is present.
func (r *ImageRecord) EffectiveRating() int {
	if r.Rating != nil {
		return *r.Rating
	}
	if r.PredictedRating != nil {
		return *r.PredictedRating
	}
	return 0
}

// IsAnalyzed reports whether the record carries valid analysis data.
func (r *ImageRecord) IsAnalyzed() bool {
	return r.AnalyzedAt != nil
}
