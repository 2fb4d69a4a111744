package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry() (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New().WithClock(clock.Now), clock
}

func TestCreateAndGet(t *testing.T) {
	r, _ := newTestRegistry()

	job, err := r.Create("job-1", "track.wav", model.StoreConfig{Endpoint: "minio:9000"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Status != model.JobStatusQueued || job.Progress != 0 {
		t.Errorf("expected queued at 0, got %s at %d", job.Status, job.Progress)
	}
	if job.UpdatedAt.Before(job.CreatedAt) {
		t.Error("updated_at must not precede created_at")
	}

	got, err := r.Get("job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SourceReference != "track.wav" || got.StoreConfig.Endpoint != "minio:9000" {
		t.Errorf("unexpected job %+v", got)
	}

	if _, err := r.Create("job-1", "other.wav", model.StoreConfig{}); err == nil {
		t.Error("duplicate ids must be rejected")
	}
}

func TestGetUnknown(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.Get("nope")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r, _ := newTestRegistry()
	r.Create("job-1", "track.wav", model.StoreConfig{})
	r.Update("job-1", func(j *model.Job) error {
		j.ResultArtifacts = []model.Artifact{{Name: "drums"}}
		return nil
	})

	snap, _ := r.Get("job-1")
	snap.Status = model.JobStatusFailed
	snap.ResultArtifacts[0].Name = "changed"

	again, _ := r.Get("job-1")
	if again.Status != model.JobStatusQueued || again.ResultArtifacts[0].Name != "drums" {
		t.Errorf("registry state leaked through a snapshot: %+v", again)
	}
}

func TestUpdateRefreshesTimestamp(t *testing.T) {
	r, clock := newTestRegistry()
	created, _ := r.Create("job-1", "track.wav", model.StoreConfig{})

	clock.Advance(time.Second)
	updated, err := r.Update("job-1", func(j *model.Job) error {
		j.Status = model.JobStatusProcessing
		j.Progress = 5
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.UpdatedAt.Equal(created.UpdatedAt.Add(time.Second)) {
		t.Errorf("expected updated_at to advance, got %v", updated.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Error("created_at must not change")
	}
}

func TestUpdateErrorLeavesJobUntouched(t *testing.T) {
	r, _ := newTestRegistry()
	r.Create("job-1", "track.wav", model.StoreConfig{})

	_, err := r.Update("job-1", func(j *model.Job) error {
		j.Progress = 50
		return errors.New("nope")
	})
	if err == nil {
		t.Fatal("expected the closure error")
	}

	job, _ := r.Get("job-1")
	if job.Progress != 0 {
		t.Errorf("partial update leaked: progress %d", job.Progress)
	}
}

func TestUpdateRefusesTerminalJobs(t *testing.T) {
	r, _ := newTestRegistry()
	r.Create("job-1", "track.wav", model.StoreConfig{})
	r.Update("job-1", func(j *model.Job) error {
		j.Status = model.JobStatusFailed
		j.Error = "download failed"
		return nil
	})

	_, err := r.Update("job-1", func(j *model.Job) error {
		j.Status = model.JobStatusCompleted
		return nil
	})
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}

	job, _ := r.Get("job-1")
	if job.Status != model.JobStatusFailed {
		t.Errorf("terminal job changed to %s", job.Status)
	}
}

func TestUpdateUnknown(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Update("ghost", func(j *model.Job) error { return nil })
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepBoundary(t *testing.T) {
	r, clock := newTestRegistry()
	start := clock.Now()
	r.Create("old", "a.wav", model.StoreConfig{})
	clock.Advance(time.Microsecond)
	r.Create("young", "b.wav", model.StoreConfig{})

	retention := 24 * time.Hour

	removed := r.Sweep(start.Add(retention), retention)
	if len(removed) != 0 {
		t.Fatalf("a job exactly at the retention age must survive, removed %v", removed)
	}

	removed = r.Sweep(start.Add(retention+time.Microsecond), retention)
	if len(removed) != 1 || removed[0] != "old" {
		t.Fatalf("expected only the old job swept, got %v", removed)
	}
	if _, err := r.Get("old"); !errors.Is(err, model.ErrNotFound) {
		t.Error("swept job should be gone")
	}
	if r.Len() != 1 {
		t.Errorf("expected one job left, got %d", r.Len())
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	r, clock := newTestRegistry()
	r.Create("a", "a.wav", model.StoreConfig{})
	r.Create("b", "b.wav", model.StoreConfig{})

	later := clock.Now().Add(48 * time.Hour)
	first := r.Sweep(later, 24*time.Hour)
	second := r.Sweep(later, 24*time.Hour)

	if len(first) != 2 || len(second) != 0 {
		t.Errorf("expected [a b] then nothing, got %v then %v", first, second)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	r, _ := newTestRegistry()
	r.Create("job-1", "track.wav", model.StoreConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Update("job-1", func(j *model.Job) error {
				j.Progress++
				return nil
			})
			r.Get("job-1")
		}()
	}
	wg.Wait()

	job, _ := r.Get("job-1")
	if job.Progress != 50 {
		t.Errorf("expected 50 increments, got %d", job.Progress)
	}
}
