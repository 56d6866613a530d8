package analysis

import (
	"context"
	"math"

	"github.com/quickcull/cullingbackend/models"
)

// ratingBands maps the overall sharpness score to a 1-5 star prediction.
var ratingBands = []struct {
	min    float64
	rating int
}{
	{0.8, 5},
	{0.6, 4},
	{0.4, 3},
	{0.2, 2},
	{0.0, 1},
}

// RatingPredictor derives a predicted star rating from the sharpness stage.
// It must run after SharpnessAnalyzer.
type RatingPredictor struct{}

func NewRatingPredictor() *RatingPredictor {
	return &RatingPredictor{}
}

func (p *RatingPredictor) Name() string {
	return "rating"
}

func (p *RatingPredictor) Analyze(ctx context.Context, imagePath string, result *models.AnalysisResult) error {
	score := result.SharpnessOverall

	for _, band := range ratingBands {
		if score >= band.min {
			result.PredictedRating = band.rating
			break
		}
	}

	// confidence peaks mid-band and bottoms out at 0.5 on a band edge
	minDist := 1.0
	for _, edge := range []float64{0.2, 0.4, 0.6, 0.8} {
		if d := math.Abs(score - edge); d < minDist {
			minDist = d
		}
	}
	result.PredictionConfidence = 0.5 + math.Min(minDist*5, 0.5)
	return nil
}
