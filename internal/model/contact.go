package model

import "time"

type Status string

const (
	Pending Status = "pending"
	Sending Status = "sending"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

// StatusAll selects every contact when filtering.
const StatusAll Status = "all"

func (s Status) Valid() bool {
	switch s {
	case Pending, Sending, Sent, Failed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition follows s.
func (s Status) Terminal() bool {
	return s == Sent || s == Failed
}

type Contact struct {
	ID          int64             `json:"id"`
	PhoneNumber string            `json:"phoneNumber"`
	Variables   map[string]string `json:"variables"`
	Status      Status            `json:"status"`
	Error       string            `json:"error,omitempty"`
	Timestamp   *time.Time        `json:"timestamp,omitempty"`
	MessageID   string            `json:"messageId,omitempty"`
}

// Clone returns a deep copy so callers can hold a contact without
// sharing its variables map or timestamp.
func (c Contact) Clone() Contact {
	out := c
	if c.Variables != nil {
		out.Variables = make(map[string]string, len(c.Variables))
		for k, v := range c.Variables {
			out.Variables[k] = v
		}
	}
	if c.Timestamp != nil {
		ts := *c.Timestamp
		out.Timestamp = &ts
	}
	return out
}

// Reset puts the contact back to pending with no error and no timestamp.
func (c *Contact) Reset() {
	c.Status = Pending
	c.Error = ""
	c.Timestamp = nil
	c.MessageID = ""
}

func (c *Contact) MarkSending(at time.Time) {
	c.Status = Sending
	c.Error = ""
	c.MessageID = ""
	c.Timestamp = &at
}

func (c *Contact) MarkSent(at time.Time, messageID string) {
	c.Status = Sent
	c.Error = ""
	c.MessageID = messageID
	c.Timestamp = &at
}

func (c *Contact) MarkFailed(at time.Time, reason string) {
	c.Status = Failed
	c.Error = reason
	c.MessageID = ""
	c.Timestamp = &at
}

func CloneContacts(in []Contact) []Contact {
	if in == nil {
		return nil
	}
	out := make([]Contact, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}
