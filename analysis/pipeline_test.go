package analysis

import (
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickcull/cullingbackend/models"
)

type recordingAnalyzer struct {
	name string
	log  *[]string
	err  error
}

func (a *recordingAnalyzer) Name() string { return a.name }

func (a *recordingAnalyzer) Analyze(ctx context.Context, imagePath string, result *models.AnalysisResult) error {
	*a.log = append(*a.log, a.name)
	return a.err
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	var order []string
	p := NewPipeline(
		&recordingAnalyzer{name: "first", log: &order},
		&recordingAnalyzer{name: "second", log: &order},
	)

	result, err := p.Run(context.Background(), "/shoot/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "a.jpg", result.Filename)
	assert.Equal(t, Version, result.AnalysisVersion)
	assert.Equal(t, DefaultModelVersion, result.ModelVersion)
	assert.False(t, result.AnalyzedAt.IsZero())
	assert.False(t, result.Failed())
}

func TestPipelineCapturesStageFailure(t *testing.T) {
	var order []string
	p := NewPipeline(
		&recordingAnalyzer{name: "broken", log: &order, err: errors.New("boom")},
		&recordingAnalyzer{name: "after", log: &order},
	)

	result, err := p.Run(context.Background(), "/shoot/a.jpg")
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Equal(t, "broken", result.ExtendedData["failedStage"])
	assert.Contains(t, result.ExtendedData["error"], "boom")
	assert.Equal(t, []string{"broken"}, order, "later stages must not run after a failure")
}

func TestPipelineCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var order []string
	p := NewPipeline(&recordingAnalyzer{name: "never", log: &order})

	_, err := p.Run(ctx, "/shoot/a.jpg")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, order)
}

func saveTestImage(t *testing.T, sharp bool) string {
	t.Helper()
	img := imaging.New(64, 64, color.NRGBA{128, 128, 128, 255})
	if sharp {
		for y := 0; y < 64; y++ {
			for x := 0; x < 64; x++ {
				if (x+y)%2 == 0 {
					img.Set(x, y, color.NRGBA{255, 255, 255, 255})
				} else {
					img.Set(x, y, color.NRGBA{0, 0, 0, 255})
				}
			}
		}
	}
	path := filepath.Join(t.TempDir(), "img.jpg")
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestSharpnessSeparatesFlatFromEdgy(t *testing.T) {
	a := NewSharpnessAnalyzer()

	flat := &models.AnalysisResult{}
	require.NoError(t, a.Analyze(context.Background(), saveTestImage(t, false), flat))
	edgy := &models.AnalysisResult{}
	require.NoError(t, a.Analyze(context.Background(), saveTestImage(t, true), edgy))

	assert.Less(t, flat.SharpnessOverall, 0.2)
	// a checkerboard is maximal high-frequency detail; its signed Laplacian
	// responses alternate around zero, so the variance must be enormous
	assert.Greater(t, edgy.SharpnessOverall, 0.9)
	assert.Greater(t, edgy.SharpnessOverall, flat.SharpnessOverall)
}

func TestSharpnessRejectsUndecodableFile(t *testing.T) {
	a := NewSharpnessAnalyzer()
	err := a.Analyze(context.Background(), filepath.Join(t.TempDir(), "missing.nef"), &models.AnalysisResult{})
	assert.Error(t, err)
}

func TestRatingBands(t *testing.T) {
	p := NewRatingPredictor()
	for _, tt := range []struct {
		sharpness float64
		want      int
	}{
		{0.95, 5},
		{0.8, 5},
		{0.7, 4},
		{0.5, 3},
		{0.3, 2},
		{0.05, 1},
		{0, 1},
	} {
		result := &models.AnalysisResult{SharpnessOverall: tt.sharpness}
		require.NoError(t, p.Analyze(context.Background(), "x.jpg", result))
		assert.Equal(t, tt.want, result.PredictedRating, "sharpness %v", tt.sharpness)
		assert.GreaterOrEqual(t, result.PredictionConfidence, 0.5)
		assert.LessOrEqual(t, result.PredictionConfidence, 1.0)
	}
}
