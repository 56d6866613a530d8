// Package workers runs background jobs that must not block the orchestrator,
// currently thumbnail generation for freshly loaded folders.
package workers

import (
	"log"
	"sync"

	"github.com/quickcull/cullingbackend/media"
)

type ThumbnailJob struct {
	ImagePath string
	Filename  string
}

// ThumbnailProcessor is a fixed pool of workers generating thumbnails.
// Queued filenames are deduplicated until their job completes.
type ThumbnailProcessor struct {
	JobQueue     chan ThumbnailJob
	ThumbnailDir string
	MaxSize      int
	Wg           sync.WaitGroup
	StopChan     chan struct{}
	Pending      map[string]bool
	Mutex        sync.Mutex
}

func NewThumbnailProcessor(thumbnailDir string, maxSize, queueSize, numWorkers int) *ThumbnailProcessor {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	proc := &ThumbnailProcessor{
		JobQueue:     make(chan ThumbnailJob, queueSize),
		ThumbnailDir: thumbnailDir,
		MaxSize:      maxSize,
		StopChan:     make(chan struct{}),
		Pending:      make(map[string]bool),
	}
	proc.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go proc.worker(i)
	}
	log.Printf("Started %d thumbnail worker(s) with queue size %d", numWorkers, queueSize)
	return proc
}

func (tp *ThumbnailProcessor) worker(id int) {
	defer tp.Wg.Done()
	for {
		select {
		case job, ok := <-tp.JobQueue:
			if !ok {
				log.Printf("Thumbnail worker %d stopping: job queue closed", id)
				return
			}
			tp.process(id, job)
			tp.Mutex.Lock()
			delete(tp.Pending, job.Filename)
			tp.Mutex.Unlock()
		case <-tp.StopChan:
			log.Printf("Thumbnail worker %d stopping: stop signal received", id)
			return
		}
	}
}

func (tp *ThumbnailProcessor) process(id int, job ThumbnailJob) {
	if media.ThumbnailExists(job.ImagePath, tp.ThumbnailDir) {
		return
	}
	if _, err := media.GenerateThumbnail(job.ImagePath, tp.ThumbnailDir, tp.MaxSize); err != nil {
		// RAW files land here routinely; nothing actionable
		log.Printf("Worker %d: thumbnail generation skipped for %s: %v", id, job.Filename, err)
		return
	}
	log.Printf("Worker %d: generated thumbnail for %s", id, job.Filename)
}

// QueueJob enqueues a thumbnail job unless one is already pending for the
// same filename. Returns false when deduplicated or when the queue is full.
func (tp *ThumbnailProcessor) QueueJob(job ThumbnailJob) bool {
	tp.Mutex.Lock()
	if tp.Pending[job.Filename] {
		tp.Mutex.Unlock()
		return false
	}
	tp.Pending[job.Filename] = true
	tp.Mutex.Unlock()

	select {
	case tp.JobQueue <- job:
		return true
	default:
		log.Printf("WARNING: thumbnail job queue full, dropping job for %s", job.Filename)
		tp.Mutex.Lock()
		delete(tp.Pending, job.Filename)
		tp.Mutex.Unlock()
		return false
	}
}

func (tp *ThumbnailProcessor) Stop() {
	log.Println("Stopping thumbnail workers...")
	close(tp.StopChan)
	tp.Wg.Wait()
	log.Println("All thumbnail workers stopped")
}
