package model

import "time"

type JobStatus string

const (
	JobIdle      JobStatus = "idle"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
)

// SendJob is a point-in-time view of one bulk send.
type SendJob struct {
	ID        string     `json:"id"`
	Contacts  []Contact  `json:"contacts"`
	Message   Message    `json:"message"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Status    JobStatus  `json:"status"`
	Cursor    int        `json:"cursor"`
	Error     string     `json:"error,omitempty"`
}

type EventType string

const (
	EventContactUpdated EventType = "contact.updated"
	EventJobStatus      EventType = "job.status"
	EventJobCompleted   EventType = "job.completed"
)

type Event struct {
	Type    EventType `json:"type"`
	JobID   string    `json:"jobId"`
	Contact *Contact  `json:"contact,omitempty"`
	Status  JobStatus `json:"status,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}
