// Package worker implements the bounded worker pool: a cooperative
// start/stop lifecycle around a fixed set of goroutines that each poll the
// queue, dispatch a job to the encoder driver or the BWF pipeline
// depending on its configuration kind, and report progress to the bus.
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/transcoder/internal/bus"
	"github.com/gwlsn/transcoder/internal/config"
	"github.com/gwlsn/transcoder/internal/encoder"
	"github.com/gwlsn/transcoder/internal/job"
	"github.com/gwlsn/transcoder/internal/logger"
	"github.com/gwlsn/transcoder/internal/queue"
	"github.com/gwlsn/transcoder/internal/taxonomy"
)

// bwfExtractionKind is the config.kind discriminator selecting the BWF
// pipeline instead of the video transcode pipeline (§4.2 step 6).
const bwfExtractionKind = "bwf_extraction"

// Extractor runs the BWF creation pipeline. Satisfied by *bwf.Extractor;
// declared as an interface here so the worker package does not need to
// import bwf's external-helper plumbing directly.
type Extractor interface {
	ExtractBWF(ctx context.Context, inputPath, outputPath string, sampleRate int) error
}

// HistoryRecorder observes terminal job snapshots. Satisfied by
// *history.Store; nil disables recording.
type HistoryRecorder interface {
	Record(j *job.Job)
}

// Pool is the bounded worker pool described in §4.2.
type Pool struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	eg      *errgroup.Group
	active  int32

	workers []*worker

	queue         *queue.Queue
	bus           *bus.Bus
	transcoder    *encoder.Transcoder
	extractor     Extractor
	history       HistoryRecorder
	bwfSampleRate int
}

// New constructs a Pool with workerCount workers (floored at 1). history
// may be nil to disable job-history recording.
func New(q *queue.Queue, b *bus.Bus, transcoder *encoder.Transcoder, extractor Extractor, history HistoryRecorder, bwfSampleRate, workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}

	p := &Pool{
		queue:         q,
		bus:           b,
		transcoder:    transcoder,
		extractor:     extractor,
		history:       history,
		bwfSampleRate: bwfSampleRate,
	}

	for i := 0; i < workerCount; i++ {
		p.workers = append(p.workers, &worker{id: i, pool: p})
	}

	return p
}

// Start transitions Idle->Running, spawning one goroutine per worker.
// Rejects with WorkerPoolError if already Running.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return taxonomy.New(taxonomy.WorkerPoolError, "worker pool already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg := &errgroup.Group{}
	for _, w := range p.workers {
		w := w
		eg.Go(func() error {
			w.run(ctx)
			return nil
		})
	}

	p.cancel = cancel
	p.eg = eg
	p.running = true

	logger.Info("worker pool started", "workers", len(p.workers))
	return nil
}

// Stop signals shutdown and waits for every worker to exit its current
// loop iteration. A worker mid-external-process finishes (or fails) that
// invocation before observing shutdown (§4.2: cooperative, never killed).
// Idempotent after the first call.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	eg := p.eg
	p.running = false
	p.mu.Unlock()

	cancel()
	err := eg.Wait()
	logger.Info("worker pool stopped")
	return err
}

// ActiveWorkerCount returns the number of workers currently inside job
// execution (not those polling).
func (p *Pool) ActiveWorkerCount() int {
	return int(atomic.LoadInt32(&p.active))
}

// IsRunning reports Running vs Idle/Stopped.
func (p *Pool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// WorkerCount returns the configured number of workers.
func (p *Pool) WorkerCount() int {
	return len(p.workers)
}

// CancelJob marks jobID Cancelled in the queue and, if a worker is
// currently executing it, cancels that worker's job-scoped context. Per
// the hard-cancellation design chosen in §9, context cancellation
// propagates into exec.CommandContext and kills the external process
// rather than only gating a later status write.
func (p *Pool) CancelJob(jobID uuid.UUID) error {
	if err := p.queue.CancelJob(jobID); err != nil {
		return err
	}

	p.mu.Lock()
	workers := make([]*worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	for _, w := range workers {
		w.currentJobMu.Lock()
		match := w.currentJobID != nil && *w.currentJobID == jobID
		cancel := w.jobCancel
		w.currentJobMu.Unlock()

		if match && cancel != nil {
			cancel()
		}
	}

	return nil
}

// worker is a single loop within the pool.
type worker struct {
	id   int
	pool *Pool

	currentJobMu sync.Mutex
	currentJobID *uuid.UUID
	jobCancel    context.CancelFunc
}

// run is the worker loop from §4.2: poll, dispatch, report, repeat until
// ctx is cancelled.
func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, ok := w.pool.queue.GetNextJob()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		atomic.AddInt32(&w.pool.active, 1)
		w.processJob(jobID)
		atomic.AddInt32(&w.pool.active, -1)

		stats := w.pool.queue.GetStats()
		w.pool.bus.Report(bus.Event{
			Kind:           bus.QueueUpdated,
			PendingCount:   stats.Pending,
			RunningCount:   stats.Running,
			CompletedCount: stats.Completed,
		})
	}
}

// processJob runs steps 4-8 of §4.2 for a single job. It never takes the
// pool's shutdown context as an ancestor: jobCtx is its own root so that
// Pool.Stop (cooperative) cannot cascade into the external process, only
// Pool.CancelJob (hard) can.
func (w *worker) processJob(jobID uuid.UUID) {
	// Detached from ctx (the pool's shutdown context) on purpose: Stop is
	// cooperative and must never kill an in-flight external process, only
	// the explicit CancelJob path below may cancel jobCtx.
	//
	// jobCtx/currentJobID are registered *before* TryStartJob below, not
	// after, so that Pool.CancelJob's single pass over workers can never
	// miss this job: if CancelJob's scan lands between registration and a
	// successful TryStartJob, it cancels jobCtx immediately (a no-op, since
	// nothing reads it yet) and TryStartJob then observes the job already
	// Cancelled and aborts. Registering afterward would leave a window where
	// a cancel arriving between the Pending->Running write and registration
	// is silently lost: the job runs to completion untouched and
	// finishCompleted overwrites its Cancelled status back to Completed.
	jobCtx, cancel := context.WithCancel(context.Background())
	w.currentJobMu.Lock()
	id := jobID
	w.currentJobID = &id
	w.jobCancel = cancel
	w.currentJobMu.Unlock()

	cleanup := func() {
		w.currentJobMu.Lock()
		w.currentJobID = nil
		w.jobCancel = nil
		w.currentJobMu.Unlock()
		cancel()
	}

	// TryStartJob is the single atomic check-and-set for the Pending->Running
	// transition: it closes the window between GetNextJob's pop and this
	// worker's first write where a concurrent CancelJob could otherwise be
	// silently overwritten by an unconditional Start+UpdateJob pair.
	j, ok := w.pool.queue.TryStartJob(jobID)
	if !ok {
		cleanup()
		return
	}
	defer cleanup()

	w.pool.bus.Report(bus.Event{
		Kind:       bus.JobStarted,
		JobID:      j.ID,
		InputPath:  j.InputPath,
		OutputPath: j.OutputPath,
	})

	var cfg config.TranscodeConfig
	if err := json.Unmarshal(j.Config, &cfg); err != nil {
		w.finishFailed(j, taxonomy.Wrap(taxonomy.Serialization, err, "failed to decode job configuration"))
		return
	}

	start := time.Now()
	var runErr error

	if cfg.Kind == bwfExtractionKind {
		sampleRate := cfg.BWFSampleRate
		if sampleRate <= 0 {
			sampleRate = w.pool.bwfSampleRate
		}
		runErr = w.pool.extractor.ExtractBWF(jobCtx, j.InputPath, j.OutputPath, sampleRate)
	} else {
		runErr = w.pool.transcoder.Transcode(jobCtx, j.InputPath, j.OutputPath, cfg, func(percent float64, fps *float64) {
			w.reportProgress(j, start, percent, fps)
		})
	}

	if runErr != nil {
		if taxonomy.KindOf(runErr) == taxonomy.Cancelled {
			w.finishCancelled(j)
			return
		}
		w.finishFailed(j, runErr)
		return
	}

	w.finishCompleted(j)
}

func (w *worker) reportProgress(j *job.Job, start time.Time, percent float64, fps *float64) {
	j.UpdateProgress(percent)
	if err := w.pool.queue.UpdateJob(j); err != nil {
		logger.Error("worker: failed to update job progress", "job", j.ID, "error", err)
	}

	var etaSeconds *uint64
	if percent > 0 && percent < 100 {
		elapsed := time.Since(start).Seconds()
		total := elapsed / (percent / 100)
		if remaining := total - elapsed; remaining > 0 {
			v := uint64(remaining)
			etaSeconds = &v
		}
	}

	w.pool.bus.Report(bus.Event{
		Kind:       bus.JobProgress,
		JobID:      j.ID,
		Progress:   j.Progress,
		FPS:        fps,
		ETASeconds: etaSeconds,
	})
}

func (w *worker) finishCompleted(j *job.Job) {
	j.Complete()
	if err := w.pool.queue.UpdateJob(j); err != nil {
		logger.Error("worker: failed to mark job complete", "job", j.ID, "error", err)
	}

	durationSeconds, _ := j.DurationSeconds()
	w.pool.bus.Report(bus.Event{
		Kind:            bus.JobCompleted,
		JobID:           j.ID,
		DurationSeconds: uint64(durationSeconds),
	})

	w.recordHistory(j)
}

func (w *worker) finishFailed(j *job.Job, err error) {
	j.Fail(err.Error())
	if uerr := w.pool.queue.UpdateJob(j); uerr != nil {
		logger.Error("worker: failed to mark job failed", "job", j.ID, "error", uerr)
	}

	w.pool.bus.Report(bus.Event{Kind: bus.JobFailed, JobID: j.ID, Error: j.Error})
	logger.Error("worker: job failed", "job", j.ID, "error", err)

	w.recordHistory(j)
}

func (w *worker) finishCancelled(j *job.Job) {
	j.Cancel()
	if err := w.pool.queue.UpdateJob(j); err != nil {
		logger.Error("worker: failed to mark job cancelled", "job", j.ID, "error", err)
	}

	w.pool.bus.Report(bus.Event{Kind: bus.JobCancelled, JobID: j.ID})
	w.recordHistory(j)
}

func (w *worker) recordHistory(j *job.Job) {
	if w.pool.history != nil {
		w.pool.history.Record(j)
	}
}
