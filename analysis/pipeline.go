// Package analysis runs images through an ordered pipeline of analyzers and
// produces one AnalysisResult per image. Analyzers are pluggable; the
// built-in set covers sharpness measurement and rating prediction.
package analysis

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/quickcull/cullingbackend/models"
)

// Version identifies the pipeline layout. It is stamped into every result
// and persisted to the sidecar, so downstream tools can tell which analyzer
// generation produced the numbers.
const Version = "1.0"

// DefaultModelVersion labels the built-in analyzers.
const DefaultModelVersion = "builtin-1.0"

// Analyzer is one stage of the pipeline. Stages run in registration order
// and accumulate their output on the shared result.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, imagePath string, result *models.AnalysisResult) error
}

// Pipeline runs analyzers in order.
type Pipeline struct {
	analyzers    []Analyzer
	modelVersion string
}

// NewPipeline builds a pipeline over the given analyzers.
func NewPipeline(analyzers ...Analyzer) *Pipeline {
	return &Pipeline{analyzers: analyzers, modelVersion: DefaultModelVersion}
}

// NewDefaultPipeline wires the built-in analyzer set in its canonical order:
// sharpness first, then the rating prediction that depends on it.
func NewDefaultPipeline() *Pipeline {
	return NewPipeline(NewSharpnessAnalyzer(), NewRatingPredictor())
}

// Run analyzes one image. A failing stage does not abort the whole run
// silently: the result is marked failed with the stage name and error so the
// failure round-trips through the sidecar like any other result. Only
// context cancellation returns an error.
func (p *Pipeline) Run(ctx context.Context, imagePath string) (*models.AnalysisResult, error) {
	result := &models.AnalysisResult{
		Filename:        filepath.Base(imagePath),
		FilePath:        imagePath,
		AnalyzedAt:      time.Now(),
		ModelVersion:    p.modelVersion,
		AnalysisVersion: Version,
		GroupID:         models.GroupUngrouped,
	}

	for _, a := range p.analyzers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := a.Analyze(ctx, imagePath, result); err != nil {
			log.Printf("Analyzer %s failed for %s: %v", a.Name(), imagePath, err)
			if result.ExtendedData == nil {
				result.ExtendedData = make(map[string]string)
			}
			result.ExtendedData["failed"] = "true"
			result.ExtendedData["failedStage"] = a.Name()
			result.ExtendedData["error"] = err.Error()
			break
		}
	}
	return result, nil
}
