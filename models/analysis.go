package models

import "time"

// AnalysisResult holds the output of one analysis run for a single image,
// before it is persisted to the image's sidecar.
type AnalysisResult struct {
	Filename string `json:"filename"`
	FilePath string `json:"file_path"`

	AnalyzedAt      time.Time `json:"analyzed_at"`
	ModelVersion    string    `json:"model_version"`
	AnalysisVersion string    `json:"analysis_version"`

	SharpnessOverall           float64  `json:"sharpness_overall"` // 0-1
	SharpnessSubject           float64  `json:"sharpness_subject"` // 0-1
	SubjectCount               int      `json:"subject_count"`
	SubjectTypes               []string `json:"subject_types,omitempty"`
	SubjectSharpnessPercentage float64  `json:"subject_sharpness_percentage"`

	EyesOpen      bool    `json:"eyes_open"`
	EyeConfidence float64 `json:"eye_confidence"`

	PredictedRating      int     `json:"predicted_rating"` // 1-5
	PredictionConfidence float64 `json:"prediction_confidence"`

	GroupID int `json:"group_id"`

	// forward-compatible key/value data, flattened to one sidecar property per key
	ExtendedData map[string]string `json:"extended_data,omitempty"`
}

// Failed reports whether the run was marked as failed by a pipeline stage.
func (r *AnalysisResult) Failed() bool {
	return r.ExtendedData != nil && r.ExtendedData["failed"] == "true"
}

// SidecarData is everything this system reads from one sidecar file: the
// externally-owned editorial fields plus our own analysis namespace.
type SidecarData struct {
	LastModified time.Time `json:"last_modified"`

	Rating *int    `json:"rating,omitempty"` // 1-5 only; pick/reject encodings never land here
	Pick   *bool   `json:"pick,omitempty"`
	Label  *string `json:"label,omitempty"`

	Analysis *AnalysisResult `json:"analysis,omitempty"` // nil when never analyzed
}
