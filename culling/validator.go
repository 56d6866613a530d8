package culling

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/quickcull/cullingbackend/models"
)

// sharpnessEpsilon absorbs float round-tripping through sidecar text.
const sharpnessEpsilon = 0.001

// Inconsistency is one field where the cache disagrees with the sidecar.
type Inconsistency struct {
	Filename     string `json:"filename"`
	Field        string `json:"field"`
	CacheValue   string `json:"cache_value"`
	SidecarValue string `json:"sidecar_value"`
}

// ValidateImage compares one cache row against its sidecar on disk, field by
// field. The sidecar is read strictly: a malformed packet is returned as an
// error rather than treated as empty.
func (s *Service) ValidateImage(filename string) ([]Inconsistency, error) {
	rec, err := s.GetImage(filename)
	if err != nil {
		return nil, err
	}

	sidecar, err := s.sidecars.ReadAllStrict(rec.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar for %s: %w", filename, err)
	}

	var diffs []Inconsistency
	report := func(field, cacheVal, sidecarVal string) {
		diffs = append(diffs, Inconsistency{
			Filename:     filename,
			Field:        field,
			CacheValue:   cacheVal,
			SidecarValue: sidecarVal,
		})
	}

	if sidecar == nil {
		if rec.HasSidecar {
			report("hasSidecar", "true", "false")
		}
		if rec.Rating != nil {
			report("rating", formatIntPtr(rec.Rating), "<none>")
		}
		if rec.Pick != nil {
			report("pick", formatBoolPtr(rec.Pick), "<none>")
		}
		if rec.Label != nil {
			report("label", formatStringPtr(rec.Label), "<none>")
		}
		if rec.AnalyzedAt != nil {
			report("analyzedAt", formatInt64Ptr(rec.AnalyzedAt), "<none>")
		}
		return diffs, nil
	}

	if !rec.HasSidecar {
		report("hasSidecar", "false", "true")
	}
	if !equalIntPtr(rec.Rating, sidecar.Rating) {
		report("rating", formatIntPtr(rec.Rating), formatIntPtr(sidecar.Rating))
	}
	if !equalBoolPtr(rec.Pick, sidecar.Pick) {
		report("pick", formatBoolPtr(rec.Pick), formatBoolPtr(sidecar.Pick))
	}
	if !equalStringPtr(rec.Label, sidecar.Label) {
		report("label", formatStringPtr(rec.Label), formatStringPtr(sidecar.Label))
	}

	sidecarMod := sidecar.LastModified.Unix()
	if rec.SidecarModifiedAt == nil || *rec.SidecarModifiedAt != sidecarMod {
		report("sidecarModifiedAt", formatInt64Ptr(rec.SidecarModifiedAt), fmt.Sprintf("%d", sidecarMod))
	}

	a := sidecar.Analysis
	if a == nil {
		if rec.AnalyzedAt != nil {
			report("analyzedAt", formatInt64Ptr(rec.AnalyzedAt), "<none>")
		}
		return diffs, nil
	}

	// timestamps round-trip through the sidecar at second granularity
	analyzedAt := a.AnalyzedAt.Unix()
	if rec.AnalyzedAt == nil || *rec.AnalyzedAt != analyzedAt {
		report("analyzedAt", formatInt64Ptr(rec.AnalyzedAt), fmt.Sprintf("%d", analyzedAt))
	}
	if rec.PredictedRating == nil || *rec.PredictedRating != a.PredictedRating {
		report("predictedRating", formatIntPtr(rec.PredictedRating), fmt.Sprintf("%d", a.PredictedRating))
	}
	if rec.SharpnessOverall == nil || math.Abs(*rec.SharpnessOverall-a.SharpnessOverall) > sharpnessEpsilon {
		report("sharpnessOverall", formatFloatPtr(rec.SharpnessOverall), fmt.Sprintf("%g", a.SharpnessOverall))
	}
	if rec.GroupID != a.GroupID {
		report("groupID", fmt.Sprintf("%d", rec.GroupID), fmt.Sprintf("%d", a.GroupID))
	}
	return diffs, nil
}

// ValidateAll validates every cached row. Sidecars that cannot be parsed are
// counted separately from plain inconsistencies.
func (s *Service) ValidateAll(progress models.ProgressFunc) (*models.ValidationSummary, error) {
	recs, err := s.GetImages()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary := &models.ValidationSummary{Total: len(recs)}
	for i := range recs {
		filename := recs[i].Filename
		diffs, err := s.ValidateImage(filename)
		switch {
		case err != nil && !errors.Is(err, ErrImageNotFound):
			summary.Errors++
			summary.ErrorFilenames = append(summary.ErrorFilenames, filename)
		case len(diffs) > 0:
			summary.Inconsistent++
			summary.InconsistentFilenames = append(summary.InconsistentFilenames, filename)
		default:
			summary.Consistent++
		}
		reportProgress(progress, start, i+1, len(recs), filename)
	}
	return summary, nil
}

// RepairImage re-derives the cache row from disk; the sidecar is the source
// of truth for everything it carries.
func (s *Service) RepairImage(filename string) error {
	return s.RefreshImage(filename)
}

// RepairImages re-derives the cache rows for the given filenames. With an
// empty list, every currently inconsistent row is repaired instead. Returns
// how many rows were actually fixed.
func (s *Service) RepairImages(filenames []string, progress models.ProgressFunc) (int, error) {
	if len(filenames) == 0 {
		summary, err := s.ValidateAll(nil)
		if err != nil {
			return 0, err
		}
		filenames = summary.InconsistentFilenames
	}
	start := time.Now()
	fixed := 0
	for i, filename := range filenames {
		if err := s.RepairImage(filename); err != nil {
			log.Printf("Failed to repair cache row for %s: %v", filename, err)
		} else {
			fixed++
		}
		reportProgress(progress, start, i+1, len(filenames), filename)
	}
	return fixed, nil
}

// RepairAll validates the whole cache and re-derives every row found
// inconsistent. The returned summary describes the state before repair.
func (s *Service) RepairAll(progress models.ProgressFunc) (*models.ValidationSummary, error) {
	summary, err := s.ValidateAll(progress)
	if err != nil {
		return nil, err
	}
	for _, filename := range summary.InconsistentFilenames {
		if err := s.RepairImage(filename); err != nil {
			log.Printf("Failed to repair cache row for %s: %v", filename, err)
		}
	}
	return summary, nil
}

func reportProgress(progress models.ProgressFunc, start time.Time, done, total int, current string) {
	if progress == nil {
		return
	}
	elapsed := time.Since(start)
	progress(models.Progress{
		Total:        total,
		Processed:    done,
		CurrentImage: current,
		Elapsed:      elapsed,
		Remaining:    time.Duration(float64(elapsed) / float64(done) * float64(total-done)),
	})
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func formatIntPtr(p *int) string {
	if p == nil {
		return "<none>"
	}
	return fmt.Sprintf("%d", *p)
}

func formatInt64Ptr(p *int64) string {
	if p == nil {
		return "<none>"
	}
	return fmt.Sprintf("%d", *p)
}

func formatBoolPtr(p *bool) string {
	if p == nil {
		return "<none>"
	}
	return fmt.Sprintf("%t", *p)
}

func formatStringPtr(p *string) string {
	if p == nil {
		return "<none>"
	}
	return *p
}

func formatFloatPtr(p *float64) string {
	if p == nil {
		return "<none>"
	}
	return fmt.Sprintf("%g", *p)
}
