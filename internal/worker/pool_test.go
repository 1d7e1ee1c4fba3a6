package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/transcoder/internal/bus"
	"github.com/gwlsn/transcoder/internal/config"
	"github.com/gwlsn/transcoder/internal/encoder"
	"github.com/gwlsn/transcoder/internal/job"
	"github.com/gwlsn/transcoder/internal/queue"
)

// fakeExtractor satisfies Extractor without shelling out, so BWF-kind jobs
// can be exercised without ffmpeg or the external BEXT helper present.
type fakeExtractor struct {
	fail bool
}

func (f *fakeExtractor) ExtractBWF(ctx context.Context, inputPath, outputPath string, sampleRate int) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	return os.WriteFile(outputPath, []byte("fake bwf"), 0644)
}

// recordingHistory satisfies HistoryRecorder and captures every job it sees.
type recordingHistory struct {
	ch chan *job.Job
}

func newRecordingHistory() *recordingHistory {
	return &recordingHistory{ch: make(chan *job.Job, 16)}
}

func (r *recordingHistory) Record(j *job.Job) {
	r.ch <- j
}

func fakeFfmpegScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg.sh")
	script := `#!/bin/sh
out=""
for arg in "$@"; do
  out="$arg"
done
echo "frame=1 fps=24.0 time=00:00:01.00 bitrate=1000kbits/s" >&2
echo "fake encoded data" > "$out"
`
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeSlowFfmpegScript sleeps briefly before writing its output, giving a
// test time to call Stop() while the job is still in flight.
func fakeSlowFfmpegScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-slow-ffmpeg.sh")
	script := `#!/bin/sh
out=""
for arg in "$@"; do
  out="$arg"
done
sleep 1
echo "frame=1 fps=24.0 time=00:00:01.00 bitrate=1000kbits/s" >&2
echo "fake encoded data" > "$out"
`
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func fakeFfprobeScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffprobe.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho 1.0\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func tempInputFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mov")
	if err := os.WriteFile(path, []byte("fake media"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitForEvent(t *testing.T, sub *bus.Subscription, jobID uuid.UUID, kind bus.Kind) bus.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events:
			if ev.JobID == jobID && ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %v on job %v", kind, jobID)
		}
	}
}

func TestPoolTranscodesAJobEndToEnd(t *testing.T) {
	q := queue.New()
	b := bus.New(16)
	prober := encoder.NewProber(fakeFfprobeScript(t))
	transcoder := encoder.NewTranscoder(fakeFfmpegScript(t), prober)

	pool := New(q, b, transcoder, &fakeExtractor{}, nil, 48000, 1)

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	cfgJSON, _ := json.Marshal(config.DefaultTranscodeConfig())
	output := filepath.Join(t.TempDir(), "output.mov")
	j := job.New(tempInputFile(t), output, cfgJSON, job.Normal)
	if err := q.AddJob(j); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	waitForEvent(t, sub, j.ID, bus.JobStarted)
	waitForEvent(t, sub, j.ID, bus.JobCompleted)

	final, ok := q.GetJob(j.ID)
	if !ok {
		t.Fatal("job should still exist in the queue")
	}
	if final.Status != job.Completed {
		t.Errorf("final status = %v, want Completed", final.Status)
	}
	if final.Progress != 100 {
		t.Errorf("final progress = %v, want 100", final.Progress)
	}
}

// TestStopIsCooperativeAndDoesNotKillAnInFlightJob asserts that calling
// Stop() while a worker is mid-external-process lets that job run to
// completion rather than cancelling its context out from under it.
func TestStopIsCooperativeAndDoesNotKillAnInFlightJob(t *testing.T) {
	q := queue.New()
	b := bus.New(16)
	prober := encoder.NewProber(fakeFfprobeScript(t))
	transcoder := encoder.NewTranscoder(fakeSlowFfmpegScript(t), prober)

	pool := New(q, b, transcoder, &fakeExtractor{}, nil, 48000, 1)

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	cfgJSON, _ := json.Marshal(config.DefaultTranscodeConfig())
	output := filepath.Join(t.TempDir(), "output.mov")
	j := job.New(tempInputFile(t), output, cfgJSON, job.Normal)
	if err := q.AddJob(j); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForEvent(t, sub, j.ID, bus.JobStarted)

	stopDone := make(chan error, 1)
	go func() { stopDone <- pool.Stop() }()

	select {
	case err := <-stopDone:
		if err != nil {
			t.Fatalf("Stop returned an error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return")
	}

	final, ok := q.GetJob(j.ID)
	if !ok {
		t.Fatal("job should still exist in the queue")
	}
	if final.Status != job.Completed {
		t.Errorf("final status = %v, want Completed (Stop must not kill an in-flight job)", final.Status)
	}
}

// TestCancelJobBeforeDispatchPreventsItFromRunning cancels a Pending job
// before the pool starts: GetNextJob then discards its stale token, so no
// worker ever picks it up, its Cancelled status sticks, and it never
// produces output.
func TestCancelJobBeforeDispatchPreventsItFromRunning(t *testing.T) {
	q := queue.New()
	b := bus.New(16)
	prober := encoder.NewProber(fakeFfprobeScript(t))
	transcoder := encoder.NewTranscoder(fakeSlowFfmpegScript(t), prober)

	pool := New(q, b, transcoder, &fakeExtractor{}, nil, 48000, 1)

	cfgJSON, _ := json.Marshal(config.DefaultTranscodeConfig())
	output := filepath.Join(t.TempDir(), "output.mov")
	j := job.New(tempInputFile(t), output, cfgJSON, job.Normal)
	if err := q.AddJob(j); err != nil {
		t.Fatal(err)
	}

	if err := pool.CancelJob(j.ID); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	time.Sleep(200 * time.Millisecond)

	final, ok := q.GetJob(j.ID)
	if !ok {
		t.Fatal("job should still exist in the queue")
	}
	if final.Status != job.Cancelled {
		t.Errorf("status = %v, want Cancelled (a cancel requested before dispatch must stick)", final.Status)
	}
	if _, err := os.Stat(output); err == nil {
		t.Error("a cancelled-before-dispatch job should never produce output")
	}
}

func TestPoolDispatchesBWFExtractionKind(t *testing.T) {
	q := queue.New()
	b := bus.New(16)
	prober := encoder.NewProber(fakeFfprobeScript(t))
	transcoder := encoder.NewTranscoder(fakeFfmpegScript(t), prober)
	history := newRecordingHistory()

	pool := New(q, b, transcoder, &fakeExtractor{}, history, 48000, 1)

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	cfg := config.TranscodeConfig{Kind: "bwf_extraction", BWFSampleRate: 48000}
	cfgJSON, _ := json.Marshal(cfg)
	output := filepath.Join(t.TempDir(), "output.wav")
	j := job.New(tempInputFile(t), output, cfgJSON, job.Normal)
	if err := q.AddJob(j); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	waitForEvent(t, sub, j.ID, bus.JobCompleted)

	select {
	case recorded := <-history.ch:
		if recorded.ID != j.ID {
			t.Errorf("recorded job ID = %v, want %v", recorded.ID, j.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the history recorder to observe the completed job")
	}
}

func TestPoolReportsFailureForInvalidConfig(t *testing.T) {
	q := queue.New()
	b := bus.New(16)
	prober := encoder.NewProber(fakeFfprobeScript(t))
	transcoder := encoder.NewTranscoder(fakeFfmpegScript(t), prober)

	pool := New(q, b, transcoder, &fakeExtractor{}, nil, 48000, 1)

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	output := filepath.Join(t.TempDir(), "output.mov")
	j := job.New(tempInputFile(t), output, json.RawMessage("not json"), job.Normal)
	if err := q.AddJob(j); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	ev := waitForEvent(t, sub, j.ID, bus.JobFailed)
	if ev.Error == "" {
		t.Error("expected a non-empty error message on JobFailed")
	}
}

func TestStartRejectsDoubleStart(t *testing.T) {
	q := queue.New()
	b := bus.New(16)
	prober := encoder.NewProber(fakeFfprobeScript(t))
	transcoder := encoder.NewTranscoder(fakeFfmpegScript(t), prober)

	pool := New(q, b, transcoder, &fakeExtractor{}, nil, 48000, 1)
	if err := pool.Start(); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer pool.Stop()

	if err := pool.Start(); err == nil {
		t.Error("expected the second Start to fail while already running")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	q := queue.New()
	b := bus.New(16)
	prober := encoder.NewProber(fakeFfprobeScript(t))
	transcoder := encoder.NewTranscoder(fakeFfmpegScript(t), prober)

	pool := New(q, b, transcoder, &fakeExtractor{}, nil, 48000, 1)
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	if err := pool.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := pool.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
}

func TestNewFloorsWorkerCountAtOne(t *testing.T) {
	q := queue.New()
	b := bus.New(16)
	prober := encoder.NewProber(fakeFfprobeScript(t))
	transcoder := encoder.NewTranscoder(fakeFfmpegScript(t), prober)

	pool := New(q, b, transcoder, &fakeExtractor{}, nil, 48000, 0)
	if pool.WorkerCount() != 1 {
		t.Errorf("WorkerCount() = %d, want 1", pool.WorkerCount())
	}
}
