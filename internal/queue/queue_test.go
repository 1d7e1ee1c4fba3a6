package queue

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/transcoder/internal/job"
	"github.com/gwlsn/transcoder/internal/taxonomy"
)

func tempInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mov")
	if err := os.WriteFile(path, []byte("fake media"), 0644); err != nil {
		t.Fatalf("failed to create fake input: %v", err)
	}
	return path
}

func TestAddJobRejectsMissingInput(t *testing.T) {
	q := New()
	j := job.New("/no/such/file.mov", "/out.mov", nil, job.Normal)

	err := q.AddJob(j)
	if taxonomy.KindOf(err) != taxonomy.InvalidInput {
		t.Fatalf("KindOf(err) = %v, want InvalidInput", taxonomy.KindOf(err))
	}
}

func TestAddJobRejectsDuplicateID(t *testing.T) {
	q := New()
	input := tempInput(t)
	j := job.New(input, "/out.mov", nil, job.Normal)

	if err := q.AddJob(j); err != nil {
		t.Fatalf("first AddJob failed: %v", err)
	}
	if err := q.AddJob(j); taxonomy.KindOf(err) != taxonomy.JobAlreadyExists {
		t.Fatalf("KindOf(err) = %v, want JobAlreadyExists", taxonomy.KindOf(err))
	}
}

func TestAddJobRejectsOutputDirectoryThatDoesNotExist(t *testing.T) {
	q := New()
	input := tempInput(t)
	j := job.New(input, "/no/such/output/dir/out.mov", nil, job.Normal)

	err := q.AddJob(j)
	if taxonomy.KindOf(err) != taxonomy.InvalidOutput {
		t.Fatalf("KindOf(err) = %v, want InvalidOutput", taxonomy.KindOf(err))
	}
}

func TestAddJobAcceptsOutputDirectoryThatExists(t *testing.T) {
	q := New()
	input := tempInput(t)
	output := filepath.Join(t.TempDir(), "out.mov")
	j := job.New(input, output, nil, job.Normal)

	if err := q.AddJob(j); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
}

func TestGetNextJobOrdersByPriorityThenAge(t *testing.T) {
	q := New()
	input := tempInput(t)

	low := job.New(input, "/out1.mov", nil, job.Low)
	high := job.New(input, "/out2.mov", nil, job.High)
	low.CreatedAt = time.Now().Add(-time.Minute)

	if err := q.AddJob(low); err != nil {
		t.Fatal(err)
	}
	if err := q.AddJob(high); err != nil {
		t.Fatal(err)
	}

	id, ok := q.GetNextJob()
	if !ok || id != high.ID {
		t.Errorf("expected the High priority job first, got %v (ok=%v)", id, ok)
	}

	id, ok = q.GetNextJob()
	if !ok || id != low.ID {
		t.Errorf("expected the Low priority job second, got %v (ok=%v)", id, ok)
	}

	if _, ok := q.GetNextJob(); ok {
		t.Error("expected no more pending jobs")
	}
}

func TestGetNextJobDiscardsStaleTokens(t *testing.T) {
	q := New()
	input := tempInput(t)

	cancelled := job.New(input, "/out1.mov", nil, job.Urgent)
	pending := job.New(input, "/out2.mov", nil, job.Low)

	if err := q.AddJob(cancelled); err != nil {
		t.Fatal(err)
	}
	if err := q.AddJob(pending); err != nil {
		t.Fatal(err)
	}
	if err := q.CancelJob(cancelled.ID); err != nil {
		t.Fatal(err)
	}

	id, ok := q.GetNextJob()
	if !ok || id != pending.ID {
		t.Errorf("expected the cancelled job's stale token to be skipped, got %v (ok=%v)", id, ok)
	}
}

func TestGetNextJobIsExclusiveUnderConcurrency(t *testing.T) {
	q := New()
	input := tempInput(t)

	const n = 50
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		j := job.New(input, filepath.Join(t.TempDir(), "out.mov"), nil, job.Normal)
		if err := q.AddJob(j); err != nil {
			t.Fatal(err)
		}
		ids[i] = j.ID
	}

	seen := make(chan uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, ok := q.GetNextJob()
				if !ok {
					return
				}
				seen <- id
			}
		}()
	}
	wg.Wait()
	close(seen)

	count := 0
	dedup := make(map[uuid.UUID]bool)
	for id := range seen {
		if dedup[id] {
			t.Fatalf("job %v was dispatched more than once", id)
		}
		dedup[id] = true
		count++
	}
	if count != n {
		t.Errorf("dispatched %d jobs, want %d", count, n)
	}
}

func TestTryStartJobTransitionsPendingToRunning(t *testing.T) {
	q := New()
	j := job.New(tempInput(t), "/out.mov", nil, job.Normal)
	if err := q.AddJob(j); err != nil {
		t.Fatal(err)
	}

	started, ok := q.TryStartJob(j.ID)
	if !ok {
		t.Fatal("TryStartJob should succeed on a Pending job")
	}
	if started.Status != job.Running {
		t.Errorf("status = %v, want Running", started.Status)
	}

	stored, _ := q.GetJob(j.ID)
	if stored.Status != job.Running {
		t.Errorf("stored status = %v, want Running", stored.Status)
	}
}

func TestTryStartJobRejectsAJobCancelledBeforeDispatch(t *testing.T) {
	q := New()
	j := job.New(tempInput(t), "/out.mov", nil, job.Normal)
	if err := q.AddJob(j); err != nil {
		t.Fatal(err)
	}

	// Stands in for the window after GetNextJob has popped j's token: a
	// concurrent CancelJob lands before the worker reaches TryStartJob.
	if err := q.CancelJob(j.ID); err != nil {
		t.Fatal(err)
	}

	if _, ok := q.TryStartJob(j.ID); ok {
		t.Fatal("TryStartJob should refuse to start a job cancelled out from under it")
	}

	final, _ := q.GetJob(j.ID)
	if final.Status != job.Cancelled {
		t.Errorf("status = %v, want Cancelled to survive the race", final.Status)
	}
}

func TestTryStartJobRejectsUnknownID(t *testing.T) {
	q := New()
	if _, ok := q.TryStartJob(uuid.New()); ok {
		t.Fatal("TryStartJob should fail for an unknown id")
	}
}

func TestUpdateJobRequiresExistingID(t *testing.T) {
	q := New()
	j := job.New(tempInput(t), "/out.mov", nil, job.Normal)
	if err := q.UpdateJob(j); taxonomy.KindOf(err) != taxonomy.JobNotFound {
		t.Fatalf("KindOf(err) = %v, want JobNotFound", taxonomy.KindOf(err))
	}
}

func TestCancelJobIsNoOpOnTerminalJob(t *testing.T) {
	q := New()
	j := job.New(tempInput(t), "/out.mov", nil, job.Normal)
	if err := q.AddJob(j); err != nil {
		t.Fatal(err)
	}

	got, _ := q.GetJob(j.ID)
	got.Complete()
	if err := q.UpdateJob(got); err != nil {
		t.Fatal(err)
	}

	if err := q.CancelJob(j.ID); err != nil {
		t.Fatalf("CancelJob on a terminal job should be a no-op, got error: %v", err)
	}

	final, _ := q.GetJob(j.ID)
	if final.Status != job.Completed {
		t.Errorf("status = %v, want Completed to remain unchanged", final.Status)
	}
}

func TestClearCompletedOnlyRemovesTerminalJobs(t *testing.T) {
	q := New()
	input := tempInput(t)

	pending := job.New(input, "/out1.mov", nil, job.Normal)
	done := job.New(input, "/out2.mov", nil, job.Normal)

	if err := q.AddJob(pending); err != nil {
		t.Fatal(err)
	}
	if err := q.AddJob(done); err != nil {
		t.Fatal(err)
	}

	snap, _ := q.GetJob(done.ID)
	snap.Complete()
	if err := q.UpdateJob(snap); err != nil {
		t.Fatal(err)
	}

	removed := q.ClearCompleted()
	if removed != 1 {
		t.Errorf("ClearCompleted removed %d, want 1", removed)
	}
	if _, ok := q.GetJob(pending.ID); !ok {
		t.Error("pending job should survive ClearCompleted")
	}
	if _, ok := q.GetJob(done.ID); ok {
		t.Error("completed job should have been removed")
	}
}

func TestGetStats(t *testing.T) {
	q := New()
	input := tempInput(t)

	a := job.New(input, "/out1.mov", nil, job.Normal)
	b := job.New(input, "/out2.mov", nil, job.Normal)
	if err := q.AddJob(a); err != nil {
		t.Fatal(err)
	}
	if err := q.AddJob(b); err != nil {
		t.Fatal(err)
	}
	if err := q.CancelJob(b.ID); err != nil {
		t.Fatal(err)
	}

	stats := q.GetStats()
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.Pending != 1 {
		t.Errorf("Pending = %d, want 1", stats.Pending)
	}
	if stats.Cancelled != 1 {
		t.Errorf("Cancelled = %d, want 1", stats.Cancelled)
	}
}
