// Package runner drives one SendJob through idle -> running -> paused ->
// running -> completed. A paused job keeps the index of the next unsent
// contact and resumes from there.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

var (
	ErrNilRunFunc = errors.New("run func must not be nil")
	ErrStarted    = errors.New("job already started")
	ErrNotRunning = errors.New("job is not running")
	ErrNotPaused  = errors.New("job is not paused")
)

// RunFunc processes contacts[start:] in place and reports the first index it
// did not process. It must return promptly with ctx's error once ctx ends.
type RunFunc func(ctx context.Context, contacts []model.Contact, start int, onProgress func(model.Contact)) (next int, err error)

type Hooks struct {
	// OnProgress runs on the job goroutine, in transition order.
	OnProgress func(jobID string, c model.Contact)
	// OnStatus runs after every job status change.
	OnStatus func(job model.SendJob)
}

type Job struct {
	id    string
	msg   model.Message
	run   RunFunc
	hooks Hooks
	now   func() time.Time

	mu       sync.Mutex
	status   model.JobStatus
	contacts []model.Contact
	index    map[int64]int
	cursor   int
	started  *time.Time
	ended    *time.Time
	err      error
	cancel   context.CancelFunc
	done     chan struct{}
	finished chan struct{}
}

// New snapshots contacts and msg; later changes by the caller are not seen.
func New(contacts []model.Contact, msg model.Message, run RunFunc, hooks Hooks) (*Job, error) {
	if run == nil {
		return nil, ErrNilRunFunc
	}

	snap := model.CloneContacts(contacts)
	index := make(map[int64]int, len(snap))
	for i, c := range snap {
		index[c.ID] = i
	}

	return &Job{
		id:       uuid.NewString(),
		msg:      msg.Clone(),
		run:      run,
		hooks:    hooks,
		now:      time.Now,
		status:   model.JobIdle,
		contacts: snap,
		index:    index,
		finished: make(chan struct{}),
	}, nil
}

func (j *Job) ID() string { return j.id }

func (j *Job) Status() model.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Start begins dispatch. The job keeps running until it completes or is
// paused, independent of any request that triggered it.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.status != model.JobIdle {
		j.mu.Unlock()
		return ErrStarted
	}
	now := j.now()
	j.started = &now
	spawn := j.launchLocked(ctx)
	snap := j.snapshotLocked()
	j.mu.Unlock()

	j.notify(snap)
	spawn()
	return nil
}

// Pause stops dispatch before the next contact and waits until the loop has
// stopped. An attempt already in flight finishes first. If the job reaches
// its last contact meanwhile it ends up completed rather than paused.
func (j *Job) Pause() error {
	j.mu.Lock()
	if j.status != model.JobRunning {
		j.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := j.cancel, j.done
	j.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Resume continues dispatch at the first contact not yet processed.
func (j *Job) Resume(ctx context.Context) error {
	j.mu.Lock()
	if j.status != model.JobPaused {
		j.mu.Unlock()
		return ErrNotPaused
	}
	spawn := j.launchLocked(ctx)
	snap := j.snapshotLocked()
	j.mu.Unlock()

	j.notify(snap)
	spawn()
	return nil
}

// Done is closed once the job has completed and its final status has been
// delivered to OnStatus.
func (j *Job) Done() <-chan struct{} {
	return j.finished
}

// Wait blocks until the job completes or ctx ends.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) Snapshot() model.SendJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

// launchLocked marks the job running and returns the func that starts the
// loop. Callers spawn it after publishing the running status so that status
// notifications stay ordered.
func (j *Job) launchLocked(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	j.cancel = cancel
	j.done = done
	j.status = model.JobRunning

	work := model.CloneContacts(j.contacts)
	start := j.cursor

	return func() { go j.loop(ctx, cancel, done, work, start) }
}

func (j *Job) loop(ctx context.Context, cancel context.CancelFunc, done chan struct{}, work []model.Contact, start int) {
	defer close(done)
	defer cancel()

	begin := time.Now()
	next, err := j.safeRun(ctx, work, start)

	j.mu.Lock()
	if next > j.cursor {
		j.cursor = next
	}
	paused := err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) && j.cursor < len(j.contacts)
	if paused {
		j.status = model.JobPaused
	} else {
		end := j.now()
		j.ended = &end
		j.status = model.JobCompleted
		j.err = err
	}
	snap := j.snapshotLocked()
	j.mu.Unlock()

	if err != nil && !paused {
		slog.Error("send job ended with error", "job_id", j.id, "err", err)
	}
	slog.Info("send job run stopped",
		"job_id", j.id,
		"status", string(snap.Status),
		"cursor", snap.Cursor,
		"duration_ms", time.Since(begin).Milliseconds(),
	)
	j.notify(snap)

	// Waiters see the final status event before they return.
	if !paused {
		close(j.finished)
	}
}

func (j *Job) safeRun(ctx context.Context, work []model.Contact, start int) (next int, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("send job panic recovered", "job_id", j.id, "panic", r)
			next = -1
			err = fmt.Errorf("send job panic: %v", r)
		}
	}()
	return j.run(ctx, work, start, j.progress)
}

func (j *Job) progress(c model.Contact) {
	j.mu.Lock()
	if i, ok := j.index[c.ID]; ok {
		j.contacts[i] = c.Clone()
	}
	j.mu.Unlock()

	if j.hooks.OnProgress != nil {
		j.hooks.OnProgress(j.id, c)
	}
}

func (j *Job) notify(snap model.SendJob) {
	if j.hooks.OnStatus != nil {
		j.hooks.OnStatus(snap)
	}
}

func (j *Job) snapshotLocked() model.SendJob {
	out := model.SendJob{
		ID:       j.id,
		Contacts: model.CloneContacts(j.contacts),
		Message:  j.msg.Clone(),
		Status:   j.status,
		Cursor:   j.cursor,
	}
	if j.started != nil {
		t := *j.started
		out.StartTime = &t
	}
	if j.ended != nil {
		t := *j.ended
		out.EndTime = &t
	}
	if j.err != nil {
		out.Error = j.err.Error()
	}
	return out
}
