package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveRating(t *testing.T) {
	editorial := 5
	predicted := 3

	rec := ImageRecord{}
	assert.Equal(t, 0, rec.EffectiveRating())

	rec.PredictedRating = &predicted
	assert.Equal(t, 3, rec.EffectiveRating())

	rec.Rating = &editorial
	assert.Equal(t, 5, rec.EffectiveRating())
}

func TestNewImageRecordDerivesFromScanAndSidecar(t *testing.T) {
	taken := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	sidecarMod := time.Date(2026, 8, 2, 11, 0, 0, 0, time.UTC)
	fi := &ImageFileInfo{
		FullPath:          "/shoot/IMG_0001.nef",
		Filename:          "IMG_0001.nef",
		FileSize:          2048,
		ModifiedAt:        taken.Add(time.Hour),
		Format:            ".nef",
		IsRaw:             true,
		FileHash:          "abcd1234abcd1234",
		TakenAt:           &taken,
		HasSidecar:        true,
		SidecarModifiedAt: &sidecarMod,
	}

	rating := 4
	analyzedAt := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	sidecar := &SidecarData{
		LastModified: sidecarMod,
		Rating:       &rating,
		Analysis: &AnalysisResult{
			AnalyzedAt:       analyzedAt,
			SharpnessOverall: 0.75,
			PredictedRating:  4,
			GroupID:          2,
			SubjectTypes:     []string{"person"},
			ExtendedData:     map[string]string{"k": "v"},
		},
	}

	rec := NewImageRecord(fi, sidecar)
	assert.Equal(t, "IMG_0001.nef", rec.Filename)
	assert.True(t, rec.IsRaw)
	require.NotNil(t, rec.TakenAt)
	assert.Equal(t, taken.Unix(), *rec.TakenAt)
	require.NotNil(t, rec.Rating)
	assert.Equal(t, 4, *rec.Rating)
	assert.True(t, rec.IsAnalyzed())
	assert.Equal(t, 2, rec.GroupID)
	assert.Equal(t, []string{"person"}, rec.SubjectTypesList())
	assert.Equal(t, map[string]string{"k": "v"}, rec.ExtendedMap())

	// the analysis view reconstructs losslessly at second granularity
	a := rec.Analysis()
	require.NotNil(t, a)
	assert.Equal(t, analyzedAt.Unix(), a.AnalyzedAt.Unix())
	assert.InDelta(t, 0.75, a.SharpnessOverall, 0.0001)
	assert.Equal(t, 4, a.PredictedRating)
}

func TestNewImageRecordWithoutSidecar(t *testing.T) {
	fi := &ImageFileInfo{
		FullPath:   "/shoot/IMG_0002.jpg",
		Filename:   "IMG_0002.jpg",
		ModifiedAt: time.Now(),
		Format:     ".jpg",
	}
	rec := NewImageRecord(fi, nil)
	assert.False(t, rec.HasSidecar)
	assert.Nil(t, rec.Pick)
	assert.Nil(t, rec.Analysis())
	assert.Equal(t, GroupUngrouped, rec.GroupID)
}
