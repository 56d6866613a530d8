package analysis

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/quickcull/cullingbackend/models"
)

const (
	// analysis resolution bound; convolving full-size images buys nothing
	sharpnessMaxDim = 1024

	// squash constant for mapping Laplacian variance to 0-1: a variance of
	// varianceKnee maps to 0.5, typical blurry images land well below it
	varianceKnee = 300.0
)

// SharpnessAnalyzer estimates focus quality from the variance of the
// Laplacian over a grayscale downscale of the image. RAW formats cannot be
// decoded directly and fail the stage, which marks the result accordingly.
type SharpnessAnalyzer struct {
	maxDim int
}

func NewSharpnessAnalyzer() *SharpnessAnalyzer {
	return &SharpnessAnalyzer{maxDim: sharpnessMaxDim}
}

func (a *SharpnessAnalyzer) Name() string {
	return "sharpness"
}

func (a *SharpnessAnalyzer) Analyze(ctx context.Context, imagePath string, result *models.AnalysisResult) error {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", imagePath, err)
	}

	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	if bounds.Dx() > a.maxDim || bounds.Dy() > a.maxDim {
		gray = imaging.Fit(gray, a.maxDim, a.maxDim, imaging.Lanczos)
	}

	variance := laplacianVariance(gray)
	score := variance / (variance + varianceKnee)

	result.SharpnessOverall = score
	// no subject detector configured: the whole frame is the subject
	result.SharpnessSubject = score
	result.SubjectSharpnessPercentage = score * 100
	return nil
}

// laplacianVariance computes the variance of the signed 4-neighbor Laplacian
// response over the interior pixels of a grayscale NRGBA image. The response
// must stay signed and unclipped: high-frequency detail alternates around
// zero, and clamping it to a byte range collapses exactly the sharpest
// inputs to a constant.
func laplacianVariance(img *image.NRGBA) float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	pix := img.Pix
	stride := img.Stride
	n := float64((w - 2) * (h - 2))

	var sum, sumSq float64
	for y := 1; y < h-1; y++ {
		row := y * stride
		for x := 1; x < w-1; x++ {
			i := row + x*4
			r := 4*float64(pix[i]) -
				float64(pix[i-4]) - float64(pix[i+4]) -
				float64(pix[i-stride]) - float64(pix[i+stride])
			sum += r
			sumSq += r * r
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}
