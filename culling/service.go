// Package culling orchestrates the whole engine: it owns the folder session,
// serializes every sidecar write through a single gate, keeps the cache
// derived from sidecar state, and folds external sidecar edits back in as
// they happen.
package culling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quickcull/cullingbackend/analysis"
	"github.com/quickcull/cullingbackend/config"
	"github.com/quickcull/cullingbackend/fsscan"
	"github.com/quickcull/cullingbackend/models"
	"github.com/quickcull/cullingbackend/realtime"
	"github.com/quickcull/cullingbackend/repository"
	"github.com/quickcull/cullingbackend/watcher"
	"github.com/quickcull/cullingbackend/workers"
	"github.com/quickcull/cullingbackend/xmp"
)

var (
	ErrNoFolderLoaded = errors.New("no folder loaded")
	ErrImageNotFound  = errors.New("image not found in cache")
)

// keeper selection thresholds
const (
	keeperMinRating    = 3
	keeperMinSharpness = 0.6
	keeperMaxResults   = 50
	highQualityRating  = 4
	highQualitySharp   = 0.7
)

// Service is the orchestrator. All sidecar writes flow through its gate, one
// at a time, bracketed by watcher suspension so the engine never reacts to
// its own writes.
type Service struct {
	cfg      config.Config
	scanner  *fsscan.Scanner
	sidecars *xmp.Service
	pipeline *analysis.Pipeline
	hub      *realtime.Hub

	gate chan struct{}

	mu          sync.RWMutex
	folderPath  string
	repo        *repository.ImageRepository
	watch       *watcher.Watcher
	thumbs      *workers.ThumbnailProcessor
	watcherDone chan struct{}
	watcherWg   sync.WaitGroup
}

// NewService wires the orchestrator.
func NewService(cfg config.Config, scanner *fsscan.Scanner, sidecars *xmp.Service,
	pipeline *analysis.Pipeline, hub *realtime.Hub) *Service {
	return &Service{
		cfg:      cfg,
		scanner:  scanner,
		sidecars: sidecars,
		pipeline: pipeline,
		hub:      hub,
		gate:     make(chan struct{}, 1),
	}
}

func (s *Service) acquireGate(ctx context.Context) error {
	select {
	case s.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) releaseGate() {
	<-s.gate
}

// session returns the current repo and watcher, or ErrNoFolderLoaded.
func (s *Service) session() (*repository.ImageRepository, *watcher.Watcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.repo == nil {
		return nil, nil, ErrNoFolderLoaded
	}
	return s.repo, s.watch, nil
}

// FolderPath returns the loaded folder, or the empty string.
func (s *Service) FolderPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.folderPath
}

// Loaded reports whether a folder session is active.
func (s *Service) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo != nil
}

// LoadFolder opens a folder session: scans the folder, opens its cache,
// rebuilds the cache from sidecar state, starts the external-change watcher
// and queues thumbnail generation. Any previous session is closed first.
func (s *Service) LoadFolder(ctx context.Context, folderPath string, progress models.ProgressFunc) error {
	folderPath = filepath.Clean(folderPath)

	if err := s.acquireGate(ctx); err != nil {
		return err
	}
	defer s.releaseGate()

	files, err := s.scanner.ScanFolder(folderPath)
	if err != nil {
		return fmt.Errorf("failed to scan folder: %w", err)
	}

	repo, err := repository.Open(folderPath)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}

	if err := s.rebuild(ctx, repo, files, progress); err != nil {
		repo.Close()
		return err
	}

	w := watcher.New(folderPath,
		time.Duration(s.cfg.DebounceMs)*time.Millisecond,
		time.Duration(s.cfg.EventCooldownMs)*time.Millisecond)
	if err := w.Start(); err != nil {
		// the engine still works without live change tracking
		log.Printf("Warning: sidecar watcher unavailable for %s: %v", folderPath, err)
		w = nil
	}

	s.closeSession()

	var thumbs *workers.ThumbnailProcessor
	if s.cfg.NumThumbnailWorkers > 0 {
		thumbs = workers.NewThumbnailProcessor(
			filepath.Join(folderPath, s.cfg.ThumbnailsSubDir),
			s.cfg.ThumbnailMaxSize, s.cfg.ThumbnailQueueSize, s.cfg.NumThumbnailWorkers)
	}

	s.mu.Lock()
	s.folderPath = folderPath
	s.repo = repo
	s.watch = w
	s.thumbs = thumbs
	s.watcherDone = make(chan struct{})
	s.mu.Unlock()

	if w != nil {
		s.watcherWg.Add(1)
		go s.consumeEvents(w, s.watcherDone)
	}

	s.queueThumbnails(files)

	log.Printf("Loaded folder %s with %d images", folderPath, len(files))
	s.hub.Publish(realtime.Event{Type: realtime.EventCacheRebuilt, Extra: map[string]interface{}{
		"folder": folderPath,
		"images": len(files),
	}})
	return nil
}

// Close ends the folder session after any in-flight mutation finishes.
func (s *Service) Close() error {
	if err := s.acquireGate(context.Background()); err != nil {
		return err
	}
	defer s.releaseGate()
	s.closeSession()
	return nil
}

func (s *Service) closeSession() {
	s.mu.Lock()
	repo, w, thumbs, done := s.repo, s.watch, s.thumbs, s.watcherDone
	s.repo, s.watch, s.thumbs, s.watcherDone = nil, nil, nil, nil
	s.folderPath = ""
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	s.watcherWg.Wait()
	if w != nil {
		w.Close()
	}
	if thumbs != nil {
		thumbs.Stop()
	}
	if repo != nil {
		if err := repo.Close(); err != nil {
			log.Printf("Warning: failed to close cache: %v", err)
		}
	}
}

// rebuild derives a fresh cache from the scanned files and their sidecars.
func (s *Service) rebuild(ctx context.Context, repo *repository.ImageRepository,
	files []models.ImageFileInfo, progress models.ProgressFunc) error {
	records := make([]models.ImageRecord, 0, len(files))
	for i := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		fi := &files[i]
		sidecar, err := s.sidecars.ReadAll(fi.FullPath)
		if err != nil {
			log.Printf("Warning: failed to read sidecar for %s: %v", fi.Filename, err)
		}
		records = append(records, *models.NewImageRecord(fi, sidecar))
	}
	return repo.ReplaceAll(records, progress)
}

func (s *Service) queueThumbnails(files []models.ImageFileInfo) {
	s.mu.RLock()
	thumbs := s.thumbs
	s.mu.RUnlock()
	if thumbs == nil {
		return
	}
	for i := range files {
		if files[i].IsRaw {
			continue
		}
		thumbs.QueueJob(workers.ThumbnailJob{ImagePath: files[i].FullPath, Filename: files[i].Filename})
	}
}

// GetImages returns every cached row ordered by filename.
func (s *Service) GetImages() ([]models.ImageRecord, error) {
	repo, _, err := s.session()
	if err != nil {
		return nil, err
	}
	return repo.GetAll()
}

// GetImage returns one cached row, or ErrImageNotFound.
func (s *Service) GetImage(filename string) (*models.ImageRecord, error) {
	repo, _, err := s.session()
	if err != nil {
		return nil, err
	}
	rec, err := repo.Get(filename)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, filename)
	}
	return rec, nil
}

// QueryImages returns cached rows matching the filter.
func (s *Service) QueryImages(filter models.ImageFilter) ([]models.ImageRecord, error) {
	repo, _, err := s.session()
	if err != nil {
		return nil, err
	}
	return repo.QueryFiltered(filter)
}

// AnalyzeImage runs the analysis pipeline on one image, persists the result
// to its sidecar and refreshes the cache row. An existing group assignment
// survives re-analysis.
func (s *Service) AnalyzeImage(ctx context.Context, filename string) (*models.AnalysisResult, error) {
	rec, err := s.GetImage(filename)
	if err != nil {
		return nil, err
	}

	result, err := s.pipeline.Run(ctx, rec.FilePath)
	if err != nil {
		return nil, err
	}
	if rec.GroupID != models.GroupUngrouped {
		result.GroupID = rec.GroupID
	}

	if err := s.persistAnalysis(ctx, rec.FilePath, filename, result); err != nil {
		return nil, err
	}
	s.hub.Publish(realtime.Event{Type: realtime.EventAnalysisCompleted, Filename: filename})
	return result, nil
}

// persistAnalysis is the serialized write path: gate, suspend the watcher,
// write the sidecar, resume, then refresh the cache row from disk.
func (s *Service) persistAnalysis(ctx context.Context, imagePath, filename string, result *models.AnalysisResult) error {
	repo, w, err := s.session()
	if err != nil {
		return err
	}
	if err := s.acquireGate(ctx); err != nil {
		return err
	}
	defer s.releaseGate()

	if w != nil {
		w.Suspend()
	}
	werr := s.sidecars.WriteAnalysis(imagePath, result)
	if w != nil {
		w.Resume()
	}
	if werr != nil {
		return fmt.Errorf("failed to write analysis for %s: %w", filename, werr)
	}
	return s.refreshRecord(repo, imagePath, filename)
}

// AnalyzeAll analyzes every unanalyzed image in filename order, or every
// image when force is set. Per-image failures are recorded in their sidecars
// and the batch continues; only cancellation stops it. Returns how many
// images were processed.
func (s *Service) AnalyzeAll(ctx context.Context, force bool, progress models.ProgressFunc) (int, error) {
	repo, _, err := s.session()
	if err != nil {
		return 0, err
	}
	var pending []models.ImageRecord
	if force {
		pending, err = repo.GetAll()
	} else {
		pending, err = repo.GetUnanalyzed()
	}
	if err != nil {
		return 0, err
	}

	start := time.Now()
	processed := 0
	for i := range pending {
		rec := &pending[i]
		result, err := s.pipeline.Run(ctx, rec.FilePath)
		if err != nil {
			return processed, err
		}
		if rec.GroupID != models.GroupUngrouped {
			result.GroupID = rec.GroupID
		}
		if err := s.persistAnalysis(ctx, rec.FilePath, rec.Filename, result); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return processed, err
			}
			log.Printf("Failed to persist analysis for %s: %v", rec.Filename, err)
			continue
		}
		processed++
		s.hub.Publish(realtime.Event{Type: realtime.EventAnalysisCompleted, Filename: rec.Filename})

		if progress != nil {
			elapsed := time.Since(start)
			done := i + 1
			progress(models.Progress{
				Total:        len(pending),
				Processed:    done,
				CurrentImage: rec.Filename,
				Elapsed:      elapsed,
				Remaining:    time.Duration(float64(elapsed) / float64(done) * float64(len(pending)-done)),
			})
		}
	}
	return processed, nil
}

// SetPickStatus writes the tri-state pick flag to the image's sidecar and
// refreshes its cache row.
func (s *Service) SetPickStatus(ctx context.Context, filename string, pick *bool) error {
	rec, err := s.GetImage(filename)
	if err != nil {
		return err
	}
	repo, w, err := s.session()
	if err != nil {
		return err
	}

	if err := s.acquireGate(ctx); err != nil {
		return err
	}
	defer s.releaseGate()

	if w != nil {
		w.Suspend()
	}
	werr := s.sidecars.WritePickStatus(rec.FilePath, pick)
	if w != nil {
		w.Resume()
	}
	if werr != nil {
		return fmt.Errorf("failed to write pick status for %s: %w", filename, werr)
	}
	if err := s.refreshRecord(repo, rec.FilePath, filename); err != nil {
		return err
	}
	s.hub.Publish(realtime.Event{Type: realtime.EventPickChanged, Filename: filename})
	return nil
}

// RefreshCache rescans the folder and rebuilds the whole cache from sidecar
// state. The rebuild holds the operation gate so it can never interleave
// with a sidecar write.
func (s *Service) RefreshCache(ctx context.Context, progress models.ProgressFunc) error {
	repo, _, err := s.session()
	if err != nil {
		return err
	}
	if err := s.acquireGate(ctx); err != nil {
		return err
	}
	defer s.releaseGate()
	files, err := s.scanner.ScanFolder(s.FolderPath())
	if err != nil {
		return fmt.Errorf("failed to scan folder: %w", err)
	}
	if err := s.rebuild(ctx, repo, files, progress); err != nil {
		return err
	}
	s.queueThumbnails(files)
	s.hub.Publish(realtime.Event{Type: realtime.EventCacheRebuilt, Extra: map[string]interface{}{
		"folder": s.FolderPath(),
		"images": len(files),
	}})
	return nil
}

// RefreshImage re-derives one cache row from disk.
func (s *Service) RefreshImage(filename string) error {
	repo, _, err := s.session()
	if err != nil {
		return err
	}
	rec, err := repo.Get(filename)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrImageNotFound, filename)
	}
	if err := s.acquireGate(context.Background()); err != nil {
		return err
	}
	defer s.releaseGate()
	return s.refreshRecord(repo, rec.FilePath, filename)
}

// refreshRecord re-derives one cache row from the file and sidecar on disk.
// A vanished image file removes the row instead.
func (s *Service) refreshRecord(repo *repository.ImageRepository, imagePath, filename string) error {
	fi, err := s.scanner.StatFile(imagePath)
	if err != nil {
		log.Printf("Image %s no longer on disk, removing from cache", filename)
		if derr := repo.Delete(filename); derr != nil {
			return derr
		}
		s.hub.Publish(realtime.Event{Type: realtime.EventImageRemoved, Filename: filename})
		return nil
	}
	sidecar, err := s.sidecars.ReadAll(imagePath)
	if err != nil {
		log.Printf("Warning: failed to read sidecar for %s: %v", filename, err)
	}
	return repo.Upsert(models.NewImageRecord(fi, sidecar))
}

// consumeEvents folds external sidecar changes into the cache. Each event is
// serialized through the gate so it can never interleave with a write. The
// derived context aborts a pending gate acquisition when the session closes,
// which is what lets closeSession wait for this goroutine while the caller
// holds the gate.
func (s *Service) consumeEvents(w *watcher.Watcher, done chan struct{}) {
	defer s.watcherWg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-done
		cancel()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.Events():
			s.handleExternalChange(ctx, ev)
		}
	}
}

func (s *Service) handleExternalChange(ctx context.Context, ev models.ChangeEvent) {
	repo, _, err := s.session()
	if err != nil {
		return
	}
	if err := s.acquireGate(ctx); err != nil {
		return
	}
	defer s.releaseGate()

	log.Printf("External sidecar change: %s %s", ev.Type, filepath.Base(ev.SidecarPath))

	switch {
	case ev.ImagePath != "":
		if err := s.refreshRecord(repo, ev.ImagePath, ev.ImageFilename); err != nil {
			log.Printf("Failed to apply external change for %s: %v", ev.ImageFilename, err)
			return
		}
	default:
		// the image itself is gone too; drop every row sharing the stem
		s.dropRowsByStem(repo, ev.SidecarPath)
	}

	s.hub.Publish(realtime.Event{
		Type:     realtime.EventSidecarChanged,
		Filename: ev.ImageFilename,
		Change:   ev.Type,
	})
}

func (s *Service) dropRowsByStem(repo *repository.ImageRepository, sidecarPath string) {
	stem := strings.TrimSuffix(filepath.Base(sidecarPath), filepath.Ext(sidecarPath))
	recs, err := repo.GetAll()
	if err != nil {
		log.Printf("Failed to list cache rows: %v", err)
		return
	}
	for i := range recs {
		name := recs[i].Filename
		if strings.EqualFold(strings.TrimSuffix(name, filepath.Ext(name)), stem) {
			if err := s.refreshRecord(repo, recs[i].FilePath, name); err != nil {
				log.Printf("Failed to refresh %s: %v", name, err)
			}
		}
	}
}

// Statistics aggregates the cached state of the loaded folder.
func (s *Service) Statistics() (*models.FolderStatistics, error) {
	recs, err := s.GetImages()
	if err != nil {
		return nil, err
	}

	stats := &models.FolderStatistics{
		FolderPath:         s.FolderPath(),
		TotalImages:        len(recs),
		RatingDistribution: make(map[int]int),
	}
	var sharpnessSum float64
	var sharpnessCount int
	for i := range recs {
		rec := &recs[i]
		stats.TotalFileSize += rec.FileSize
		if rec.IsRaw {
			stats.RawImages++
		}
		if rec.HasSidecar {
			stats.ImagesWithSidecar++
		}
		// editorial ratings count even on images never analyzed
		if rating := rec.EffectiveRating(); rating >= 1 && rating <= 5 {
			stats.RatingDistribution[rating]++
		}
		if !rec.IsAnalyzed() {
			continue
		}
		stats.AnalyzedImages++
		if rec.SharpnessOverall != nil {
			sharpnessSum += *rec.SharpnessOverall
			sharpnessCount++
			if rec.EffectiveRating() >= highQualityRating && *rec.SharpnessOverall >= highQualitySharp {
				stats.HighQualityImages++
			}
		}
	}
	stats.UnanalyzedImages = stats.TotalImages - stats.AnalyzedImages
	if sharpnessCount > 0 {
		stats.AverageSharpness = sharpnessSum / float64(sharpnessCount)
	}
	return stats, nil
}

// RecommendedKeepers returns the analyzed images worth keeping: effective
// rating of at least 3 stars and acceptable sharpness, best first, capped at
// keeperMaxResults.
func (s *Service) RecommendedKeepers() ([]models.ImageRecord, error) {
	recs, err := s.GetImages()
	if err != nil {
		return nil, err
	}

	var keepers []models.ImageRecord
	for i := range recs {
		rec := &recs[i]
		if !rec.IsAnalyzed() {
			continue
		}
		if rec.EffectiveRating() < keeperMinRating {
			continue
		}
		if rec.SharpnessOverall == nil || *rec.SharpnessOverall < keeperMinSharpness {
			continue
		}
		keepers = append(keepers, *rec)
	}

	sort.SliceStable(keepers, func(i, j int) bool {
		a, b := &keepers[i], &keepers[j]
		if ra, rb := a.EffectiveRating(), b.EffectiveRating(); ra != rb {
			return ra > rb
		}
		if sa, sb := *a.SharpnessOverall, *b.SharpnessOverall; sa != sb {
			return sa > sb
		}
		if ea, eb := boolVal(a.EyesOpen), boolVal(b.EyesOpen); ea != eb {
			return ea
		}
		return intVal(a.SubjectCount) > intVal(b.SubjectCount)
	})
	if len(keepers) > keeperMaxResults {
		keepers = keepers[:keeperMaxResults]
	}
	return keepers, nil
}

func boolVal(p *bool) bool {
	return p != nil && *p
}

func intVal(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
