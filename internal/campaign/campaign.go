// Package campaign is the controller behind the dashboard: it owns the
// contact registry, the provider credentials, the last composed message and
// the current send job, and fans progress out to subscribers.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/LeventeLantos/whatsapp-blast/internal/cache"
	"github.com/LeventeLantos/whatsapp-blast/internal/client"
	"github.com/LeventeLantos/whatsapp-blast/internal/contacts"
	"github.com/LeventeLantos/whatsapp-blast/internal/export"
	"github.com/LeventeLantos/whatsapp-blast/internal/model"
	"github.com/LeventeLantos/whatsapp-blast/internal/repo"
	"github.com/LeventeLantos/whatsapp-blast/internal/runner"
	"github.com/LeventeLantos/whatsapp-blast/internal/service"
	"github.com/LeventeLantos/whatsapp-blast/internal/templates"
)

var (
	ErrInvalidCredentials = errors.New("configure and validate API credentials first")
	ErrNoContacts         = errors.New("import contacts before sending")
	ErrJobActive          = errors.New("a send job is already in progress")
	ErrNoJob              = errors.New("no send job")
	ErrNoFailed           = errors.New("no failed messages to retry")
)

const sideEffectTimeout = 5 * time.Second

type Deps struct {
	Sender     *service.Sender
	Catalog    *templates.Catalog
	Results    repo.ResultRepository // optional
	Cache      cache.StatusCache     // optional
	ContentMax int
}

type Campaign struct {
	sender     *service.Sender
	catalog    *templates.Catalog
	results    repo.ResultRepository
	cache      cache.StatusCache
	contentMax int
	now        func() time.Time

	registry *contacts.Registry
	events   *broker

	mu      sync.Mutex
	base    context.Context
	creds   model.Credentials
	message model.Message
	job     *runner.Job
}

// New builds a campaign. Jobs it starts run under ctx; cancelling ctx
// pauses them.
func New(ctx context.Context, deps Deps) (*Campaign, error) {
	if deps.Sender == nil {
		return nil, errors.New("sender must not be nil")
	}
	if deps.Catalog == nil {
		deps.Catalog = templates.Default()
	}
	return &Campaign{
		sender:     deps.Sender,
		catalog:    deps.Catalog,
		results:    deps.Results,
		cache:      deps.Cache,
		contentMax: deps.ContentMax,
		now:        time.Now,
		registry:   contacts.NewRegistry(nil),
		events:     newBroker(),
		base:       ctx,
	}, nil
}

func (c *Campaign) Catalog() *templates.Catalog { return c.catalog }

// SetCredentials validates and stores the bundle. It is stored even when
// invalid, with Valid=false, and the validation error is returned.
func (c *Campaign) SetCredentials(creds model.Credentials) error {
	err := client.ValidateCredentials(creds)
	creds.Valid = err == nil

	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()

	return err
}

func (c *Campaign) Credentials() model.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

func (c *Campaign) ImportText(text string) (int, error) {
	list, err := contacts.ParseText(text)
	if err != nil {
		return 0, err
	}
	return len(list), c.replaceContacts(list)
}

func (c *Campaign) ImportCSV(r io.Reader) (int, error) {
	list, err := contacts.ParseCSV(r)
	if err != nil {
		return 0, err
	}
	return len(list), c.replaceContacts(list)
}

func (c *Campaign) ClearContacts() error {
	return c.replaceContacts(nil)
}

func (c *Campaign) replaceContacts(list []model.Contact) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeLocked() {
		return ErrJobActive
	}
	c.registry.Set(list)
	return nil
}

func (c *Campaign) Contacts(status model.Status) iter.Seq[model.Contact] {
	return c.registry.FilterByStatus(status)
}

// Contact returns one registry entry by id.
func (c *Campaign) Contact(id int64) (model.Contact, error) {
	ct, ok := c.registry.Get(id)
	if !ok {
		return model.Contact{}, contacts.ErrNotFound
	}
	return ct, nil
}

// JobContact returns the state of one contact within a job. The current job
// answers from memory; earlier jobs are looked up in the status cache.
func (c *Campaign) JobContact(ctx context.Context, jobID string, contactID int64) (model.Contact, error) {
	if job := c.currentJob(); job != nil && job.ID() == jobID {
		for _, ct := range job.Snapshot().Contacts {
			if ct.ID == contactID {
				return ct, nil
			}
		}
		return model.Contact{}, contacts.ErrNotFound
	}
	if c.cache == nil {
		return model.Contact{}, ErrNoJob
	}

	ct, err := c.cache.LoadStatus(ctx, jobID, contactID)
	if errors.Is(err, cache.ErrMiss) {
		return model.Contact{}, contacts.ErrNotFound
	}
	return ct, err
}

func (c *Campaign) Counts() map[model.Status]int {
	return c.registry.CountsByStatus()
}

func (c *Campaign) Len() int {
	return c.registry.Len()
}

// Export writes the current registry as CSV and returns the suggested filename.
func (c *Campaign) Export(w io.Writer) (string, error) {
	if err := export.WriteCSV(w, c.registry.All()); err != nil {
		return "", err
	}
	return export.Filename(c.now()), nil
}

// ComposeMessage resolves a template id, or wraps free text, into a message.
func (c *Campaign) ComposeMessage(templateID, content string) (model.Message, error) {
	if templateID != "" {
		return c.catalog.Compose(templateID)
	}
	return templates.NewMessage(content), nil
}

// SendAll resets every contact to pending and starts a job over all of them.
func (c *Campaign) SendAll(msg model.Message) (model.SendJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.creds.Valid {
		return model.SendJob{}, ErrInvalidCredentials
	}
	msg, err := c.resolveLocked(msg)
	if err != nil {
		return model.SendJob{}, err
	}
	if c.registry.Len() == 0 {
		return model.SendJob{}, ErrNoContacts
	}
	if c.activeLocked() {
		return model.SendJob{}, ErrJobActive
	}

	reset := c.registry.ResetAll()
	c.message = msg
	job, err := c.newJobLocked(reset, msg)
	if err != nil {
		return model.SendJob{}, err
	}
	return c.startLocked(job)
}

// RetryFailed resets only the failed contacts and starts a new job over
// that subset with the last message. Contacts in any other state are not
// part of the new job.
func (c *Campaign) RetryFailed() (model.SendJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.creds.Valid {
		return model.SendJob{}, ErrInvalidCredentials
	}
	if c.activeLocked() {
		return model.SendJob{}, ErrJobActive
	}
	if c.message.Empty() {
		return model.SendJob{}, service.ErrEmptyMessage
	}
	if c.registry.CountsByStatus()[model.Failed] == 0 {
		return model.SendJob{}, ErrNoFailed
	}

	reset := c.registry.ResetFailed()
	job, err := c.newJobLocked(reset, c.message)
	if err != nil {
		return model.SendJob{}, err
	}
	for _, r := range reset {
		c.events.publish(model.Event{
			Type:    model.EventContactUpdated,
			JobID:   job.ID(),
			Contact: ptr(r),
			At:      c.now(),
		})
	}
	slog.Info("retrying failed contacts", "job_id", job.ID(), "count", len(reset))
	return c.startLocked(job)
}

func (c *Campaign) Pause() error {
	job := c.currentJob()
	if job == nil {
		return ErrNoJob
	}
	return job.Pause()
}

func (c *Campaign) Resume() error {
	job := c.currentJob()
	if job == nil {
		return ErrNoJob
	}
	return job.Resume(c.base)
}

// CurrentJob returns the most recent job, if any.
func (c *Campaign) CurrentJob() (model.SendJob, bool) {
	job := c.currentJob()
	if job == nil {
		return model.SendJob{}, false
	}
	return job.Snapshot(), true
}

// Wait blocks until the current job completes.
func (c *Campaign) Wait(ctx context.Context) error {
	job := c.currentJob()
	if job == nil {
		return ErrNoJob
	}
	return job.Wait(ctx)
}

// Subscribe returns a stream of events and a func to stop it. Events for
// one job arrive in the order they happened.
func (c *Campaign) Subscribe(buffer int) (<-chan model.Event, func()) {
	return c.events.subscribe(buffer)
}

func (c *Campaign) currentJob() *runner.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

// activeLocked reports whether the current job still owns the registry. A
// completed job stays active until its final status event is published.
func (c *Campaign) activeLocked() bool {
	if c.job == nil {
		return false
	}
	select {
	case <-c.job.Done():
		return false
	default:
		return c.job.Status() != model.JobIdle
	}
}

func (c *Campaign) resolveLocked(msg model.Message) (model.Message, error) {
	if msg.Content == "" && msg.TemplateID != "" {
		composed, err := c.catalog.Compose(msg.TemplateID)
		if err != nil {
			return model.Message{}, err
		}
		msg = composed
	}
	if err := service.ValidateMessage(msg, c.contentMax); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func (c *Campaign) newJobLocked(list []model.Contact, msg model.Message) (*runner.Job, error) {
	creds := c.creds
	run := func(ctx context.Context, work []model.Contact, start int, onProgress func(model.Contact)) (int, error) {
		return c.sender.SendFrom(ctx, work, start, msg, creds, onProgress)
	}
	return runner.New(list, msg, run, runner.Hooks{
		OnProgress: c.onProgress,
		OnStatus:   c.onStatus,
	})
}

func (c *Campaign) startLocked(job *runner.Job) (model.SendJob, error) {
	c.job = job
	if err := job.Start(c.base); err != nil {
		return model.SendJob{}, fmt.Errorf("start job: %w", err)
	}
	snap := job.Snapshot()
	slog.Info("send job started", "job_id", job.ID(), "contacts", len(snap.Contacts), "template_id", snap.Message.TemplateID)
	return snap, nil
}

// onProgress runs on the job goroutine for every contact transition.
func (c *Campaign) onProgress(jobID string, contact model.Contact) {
	if err := c.registry.Replace(contact.ID, contact); err != nil {
		// The registry was cleared or re-imported under a finished job.
		slog.Warn("progress for unknown contact", "job_id", jobID, "contact_id", contact.ID, "err", err)
	}

	c.events.publish(model.Event{
		Type:    model.EventContactUpdated,
		JobID:   jobID,
		Contact: ptr(contact),
		At:      c.now(),
	})

	c.persist(jobID, contact)
}

func (c *Campaign) persist(jobID string, contact model.Contact) {
	if c.results == nil && c.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.base), sideEffectTimeout)
	defer cancel()

	if c.cache != nil {
		if err := c.cache.StoreStatus(ctx, jobID, contact); err != nil {
			slog.Warn("cache store failed", "job_id", jobID, "contact_id", contact.ID, "err", err)
		}
	}
	if c.results != nil && contact.Status.Terminal() {
		if err := c.results.RecordResult(ctx, jobID, contact); err != nil {
			slog.Warn("result store failed", "job_id", jobID, "contact_id", contact.ID, "err", err)
		}
	}
}

func (c *Campaign) onStatus(job model.SendJob) {
	ev := model.Event{
		Type:   model.EventJobStatus,
		JobID:  job.ID,
		Status: job.Status,
		At:     c.now(),
	}
	if job.Status == model.JobCompleted {
		ev.Type = model.EventJobCompleted
		ev.Error = job.Error
		if job.Error != "" {
			slog.Error("bulk messaging completed with errors", "job_id", job.ID, "err", job.Error)
		} else {
			slog.Info("bulk messaging completed", "job_id", job.ID)
		}
	}
	c.events.publish(ev)
}

func ptr[T any](v T) *T { return &v }
