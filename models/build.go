package models

import (
	"encoding/json"
	"time"
)

// NewImageRecord derives a cache row from a scanned file and its parsed
// sidecar. Passing a nil sidecar yields a row for an image that has no
// sidecar data at all.
func NewImageRecord(fi *ImageFileInfo, sidecar *SidecarData) *ImageRecord {
	rec := &ImageRecord{
		Filename:       fi.Filename,
		FilePath:       fi.FullPath,
		Format:         fi.Format,
		IsRaw:          fi.IsRaw,
		FileSize:       fi.FileSize,
		FileModifiedAt: fi.ModifiedAt.Unix(),
		FileHash:       fi.FileHash,
		HasSidecar:     fi.HasSidecar,
		GroupID:        GroupUngrouped,
	}
	if fi.TakenAt != nil {
		t := fi.TakenAt.Unix()
		rec.TakenAt = &t
	}
	if fi.SidecarModifiedAt != nil {
		t := fi.SidecarModifiedAt.Unix()
		rec.SidecarModifiedAt = &t
	}

	if sidecar == nil {
		return rec
	}

	rec.Rating = sidecar.Rating
	rec.Pick = sidecar.Pick
	rec.Label = sidecar.Label
	if rec.SidecarModifiedAt == nil {
		t := sidecar.LastModified.Unix()
		rec.SidecarModifiedAt = &t
		rec.HasSidecar = true
	}
	if sidecar.Analysis != nil {
		rec.ApplyAnalysis(sidecar.Analysis)
	}
	return rec
}

// ApplyAnalysis copies an analysis result into the record's analysis columns.
func (r *ImageRecord) ApplyAnalysis(a *AnalysisResult) {
	at := a.AnalyzedAt.Unix()
	r.AnalyzedAt = &at
	if a.ModelVersion != "" {
		v := a.ModelVersion
		r.ModelVersion = &v
	}
	if a.AnalysisVersion != "" {
		v := a.AnalysisVersion
		r.AnalysisVersion = &v
	}
	sharpOverall := a.SharpnessOverall
	r.SharpnessOverall = &sharpOverall
	sharpSubject := a.SharpnessSubject
	r.SharpnessSubject = &sharpSubject
	count := a.SubjectCount
	r.SubjectCount = &count
	pct := a.SubjectSharpnessPercentage
	r.SubjectSharpnessPercentage = &pct
	eyes := a.EyesOpen
	r.EyesOpen = &eyes
	eyeConf := a.EyeConfidence
	r.EyeConfidence = &eyeConf
	predicted := a.PredictedRating
	r.PredictedRating = &predicted
	predConf := a.PredictionConfidence
	r.PredictionConfidence = &predConf
	r.GroupID = a.GroupID

	if len(a.SubjectTypes) > 0 {
		if data, err := json.Marshal(a.SubjectTypes); err == nil {
			s := string(data)
			r.SubjectTypes = &s
		}
	} else {
		r.SubjectTypes = nil
	}
	if len(a.ExtendedData) > 0 {
		if data, err := json.Marshal(a.ExtendedData); err == nil {
			s := string(data)
			r.ExtendedJSON = &s
		}
	} else {
		r.ExtendedJSON = nil
	}
}

// SubjectTypesList decodes the JSON-encoded subject type column.
func (r *ImageRecord) SubjectTypesList() []string {
	if r.SubjectTypes == nil {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(*r.SubjectTypes), &out); err != nil {
		return nil
	}
	return out
}

// ExtendedMap decodes the JSON-encoded extended data column.
func (r *ImageRecord) ExtendedMap() map[string]string {
	if r.ExtendedJSON == nil {
		return nil
	}
	out := make(map[string]string)
	if err := json.Unmarshal([]byte(*r.ExtendedJSON), &out); err != nil {
		return nil
	}
	return out
}

// AnalysisResult reconstructs the analysis view of this record, or nil when
// the image was never analyzed.
func (r *ImageRecord) Analysis() *AnalysisResult {
	if r.AnalyzedAt == nil {
		return nil
	}
	a := &AnalysisResult{
		Filename:     r.Filename,
		FilePath:     r.FilePath,
		AnalyzedAt:   time.Unix(*r.AnalyzedAt, 0),
		GroupID:      r.GroupID,
		SubjectTypes: r.SubjectTypesList(),
		ExtendedData: r.ExtendedMap(),
	}
	if r.ModelVersion != nil {
		a.ModelVersion = *r.ModelVersion
	}
	if r.AnalysisVersion != nil {
		a.AnalysisVersion = *r.AnalysisVersion
	}
	if r.SharpnessOverall != nil {
		a.SharpnessOverall = *r.SharpnessOverall
	}
	if r.SharpnessSubject != nil {
		a.SharpnessSubject = *r.SharpnessSubject
	}
	if r.SubjectCount != nil {
		a.SubjectCount = *r.SubjectCount
	}
	if r.SubjectSharpnessPercentage != nil {
		a.SubjectSharpnessPercentage = *r.SubjectSharpnessPercentage
	}
	if r.EyesOpen != nil {
		a.EyesOpen = *r.EyesOpen
	}
	if r.EyeConfidence != nil {
		a.EyeConfidence = *r.EyeConfidence
	}
	if r.PredictedRating != nil {
		a.PredictedRating = *r.PredictedRating
	}
	if r.PredictionConfidence != nil {
		a.PredictionConfidence = *r.PredictionConfidence
	}
	return a
}
