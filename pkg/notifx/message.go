package notifx

import "github.com/Abraxas-365/jobrelay/pkg/jobx"

// MessageTypeJobUpdate is the type of every relayed queue event.
const MessageTypeJobUpdate = "job_update"

// JobUpdate is the frame clients receive: {type, job_id, status, data}.
type JobUpdate struct {
	Type   string         `json:"type"`
	JobID  string         `json:"job_id,omitempty"`
	Status string         `json:"status,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// NewJobUpdate repackages a queue event. Data is the event data plus the
// event name and timestamp.
func NewJobUpdate(e jobx.Event) JobUpdate {
	data := make(map[string]any, len(e.Data)+2)
	for k, v := range e.Data {
		data[k] = v
	}
	data["event"] = string(e.Type)
	data["timestamp"] = e.Timestamp
	return JobUpdate{
		Type:   MessageTypeJobUpdate,
		JobID:  e.JobID,
		Status: string(e.Status()),
		Data:   data,
	}
}
