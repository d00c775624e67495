package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/LeventeLantos/whatsapp-blast/internal/client"
	"github.com/LeventeLantos/whatsapp-blast/internal/model"
	"github.com/LeventeLantos/whatsapp-blast/internal/templates"
)

var (
	ErrEmptyMessage    = errors.New("message has neither content nor a template")
	ErrContentTooLong  = errors.New("message content too long")
	ErrNilSendClient   = errors.New("send client must not be nil")
	ErrNegativePacing  = errors.New("pacing must be >= 0")
	ErrInvalidStartIdx = errors.New("start index out of range")
)

// SendClient performs exactly one delivery attempt. Implementations must
// not hold on to or mutate anything they are given.
type SendClient interface {
	Send(ctx context.Context, phoneNumber, message string, creds model.Credentials) (remoteMessageID string, err error)
}

// ProgressFunc receives a copy of the contact after every transition.
type ProgressFunc func(model.Contact)

type Options struct {
	// Pacing is the pause between two contacts.
	Pacing time.Duration
	// AttemptTimeout bounds one delivery attempt; zero means no bound.
	AttemptTimeout time.Duration
	// Now is the clock used for contact timestamps.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Pacing:         200 * time.Millisecond,
		AttemptTimeout: 30 * time.Second,
	}
}

// Sender runs the per-contact state machine pending -> sending -> sent|failed
// over a list of contacts, one at a time, in list order.
type Sender struct {
	client SendClient
	opts   Options
}

func NewSender(c SendClient, opts Options) (*Sender, error) {
	if c == nil {
		return nil, ErrNilSendClient
	}
	if opts.Pacing < 0 {
		return nil, ErrNegativePacing
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sender{client: c, opts: opts}, nil
}

// ValidateMessage checks the preconditions a message must meet before a job
// may start. contentMax <= 0 disables the length check.
func ValidateMessage(msg model.Message, contentMax int) error {
	if msg.Empty() {
		return ErrEmptyMessage
	}
	if contentMax > 0 && utf8.RuneCountInString(msg.Content) > contentMax {
		return fmt.Errorf("%w: exceeds %d chars", ErrContentTooLong, contentMax)
	}
	return nil
}

// SendBulk processes every contact. It returns once each of them has
// reached sent or failed, or early with ctx's error if ctx ends between two
// contacts.
func (s *Sender) SendBulk(ctx context.Context, contacts []model.Contact, msg model.Message, creds model.Credentials, onProgress ProgressFunc) error {
	_, err := s.SendFrom(ctx, contacts, 0, msg, creds, onProgress)
	return err
}

// SendFrom processes contacts[start:] and mutates them in place. It returns
// the index of the first contact it did not touch. Cancellation is only
// observed before a contact is picked up and while pacing; an attempt in
// flight always runs to completion (bounded by AttemptTimeout).
func (s *Sender) SendFrom(ctx context.Context, contacts []model.Contact, start int, msg model.Message, creds model.Credentials, onProgress ProgressFunc) (next int, err error) {
	if start < 0 || start > len(contacts) {
		return start, ErrInvalidStartIdx
	}

	emit := func(c *model.Contact) {
		if onProgress != nil {
			onProgress(c.Clone())
		}
	}

	for i := start; i < len(contacts); i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		c := &contacts[i]
		c.MarkSending(s.opts.Now())
		emit(c)

		remoteID, err := s.attempt(ctx, *c, msg, creds)
		if err != nil {
			c.MarkFailed(s.opts.Now(), client.ReasonOf(err))
			slog.Warn("delivery failed", "contact_id", c.ID, "reason", c.Error, "err", err)
		} else {
			c.MarkSent(s.opts.Now(), remoteID)
		}
		s.settle(c, onProgress)

		if i < len(contacts)-1 {
			if err := s.pace(ctx); err != nil {
				return i + 1, err
			}
		}
	}
	return len(contacts), nil
}

// settle reports the terminal state. If the callback panics the contact is
// recorded as an unexpected failure and reported once more; the batch goes on.
func (s *Sender) settle(c *model.Contact, onProgress ProgressFunc) {
	if onProgress == nil {
		return
	}
	p := safeProgress(onProgress, c.Clone())
	if p == nil {
		return
	}
	slog.Error("progress callback panic recovered", "contact_id", c.ID, "status", string(c.Status), "panic", p)

	c.MarkFailed(s.opts.Now(), string(client.ReasonUnexpected))
	if p := safeProgress(onProgress, c.Clone()); p != nil {
		slog.Error("progress callback panic recovered", "contact_id", c.ID, "status", string(c.Status), "panic", p)
	}
}

func safeProgress(onProgress ProgressFunc, c model.Contact) (recovered any) {
	defer func() { recovered = recover() }()
	onProgress(c)
	return nil
}

func (s *Sender) attempt(ctx context.Context, c model.Contact, msg model.Message, creds model.Credentials) (remoteID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("send client panic recovered", "contact_id", c.ID, "panic", r)
			err = fmt.Errorf("send client panic: %v", r)
		}
	}()

	actx := context.WithoutCancel(ctx)
	if s.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, s.opts.AttemptTimeout)
		defer cancel()
	}

	text := templates.Render(msg.Content, c.Variables)
	return s.client.Send(actx, c.PhoneNumber, text, creds)
}

func (s *Sender) pace(ctx context.Context) error {
	if s.opts.Pacing <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.opts.Pacing)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
