package jobx

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names a queue event on the updates channel.
type EventType string

const (
	EventJobAdded      EventType = "job_added"
	EventStatusUpdated EventType = "status_updated"
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
	EventJobCancelled  EventType = "job_cancelled"
)

// Event is the envelope published for every queue transition:
// {event, job_id, timestamp, data}. Data always carries job_id and status.
type Event struct {
	Type      EventType      `json:"event"`
	JobID     string         `json:"job_id"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent builds an event stamped with now. extra may be nil.
func NewEvent(t EventType, jobID string, status Status, now time.Time, extra map[string]any) Event {
	data := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		data[k] = v
	}
	data["job_id"] = jobID
	data["status"] = string(status)
	return Event{
		Type:      t,
		JobID:     jobID,
		Timestamp: now.Unix(),
		Data:      data,
	}
}

// Status returns the status carried in the event data, if any.
func (e Event) Status() Status {
	if s, ok := e.Data["status"].(string); ok {
		return Status(s)
	}
	return ""
}

// Encode serializes the envelope for publishing.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses an envelope received from the updates channel.
func DecodeEvent(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, WrapError(ErrInvalidEvent, err)
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return e, nil
}

// Subscription is a live stream of decoded events.
type Subscription interface {
	// Events is closed when the subscription ends.
	Events() <-chan Event
	Close() error
}

// EventSource is the queue's publish side, as seen by consumers.
type EventSource interface {
	Subscribe(ctx context.Context) (Subscription, error)
}
