// Package jobxarchive copies completed job results out of the queue's TTL
// window into durable file storage.
package jobxarchive

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/asyncx"
	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/fsx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
)

// Record is the archived document, stored as <prefix>/<job_id>.json.
type Record struct {
	Job        *jobx.Job       `json:"job,omitempty"`
	Result     json.RawMessage `json:"result"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// Archiver listens for job_completed and writes a Record per job.
type Archiver struct {
	source jobx.EventSource
	jobs   jobx.JobStatusReader
	fs     fsx.FileSystem
	prefix string
	log    *logx.Logger
	now    func() time.Time
}

// New creates an archiver writing under prefix (may be empty).
func New(source jobx.EventSource, jobs jobx.JobStatusReader, fs fsx.FileSystem, prefix string, log *logx.Logger) *Archiver {
	if log == nil {
		log = logx.Nop()
	}
	return &Archiver{
		source: source,
		jobs:   jobs,
		fs:     fs,
		prefix: prefix,
		log:    log.Named("archive"),
		now:    time.Now,
	}
}

// Run consumes events until ctx is done or the subscription ends.
func (a *Archiver) Run(ctx context.Context) error {
	sub, err := a.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	a.log.WithField("prefix", a.prefix).Info("archiver started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if e.Type != jobx.EventJobCompleted {
				continue
			}
			if _, err := a.Archive(ctx, e.JobID); err != nil {
				a.log.WithError(err).WithField("job_id", e.JobID).Error("archive failed")
			}
		}
	}
}

// Archive writes the record for jobID. It reports false without error when
// the job has no result to archive.
func (a *Archiver) Archive(ctx context.Context, jobID string) (bool, error) {
	result, err := a.jobs.GetResult(ctx, jobID)
	if err != nil {
		if errx.IsCode(err, jobx.ErrResultNotFound) {
			a.log.WithField("job_id", jobID).Debug("no result to archive")
			return false, nil
		}
		return false, err
	}

	rec := Record{Result: result, ArchivedAt: a.now().UTC()}
	if job, err := a.jobs.GetJob(ctx, jobID); err == nil {
		rec.Job = job
	} else if !errx.IsCode(err, jobx.ErrJobNotFound) {
		return false, err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	path := a.Path(jobID)
	err = asyncx.Retry(ctx, 3, 200*time.Millisecond, func(ctx context.Context) error {
		return a.fs.WriteFile(ctx, path, data)
	})
	if err != nil {
		return false, err
	}

	a.log.WithFields(logx.Fields{"job_id": jobID, "path": path}).Info("result archived")
	return true, nil
}

// Load reads an archived record back.
func (a *Archiver) Load(ctx context.Context, jobID string) (*Record, error) {
	data, err := a.fs.ReadFile(ctx, a.Path(jobID))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Path is where jobID's record lives.
func (a *Archiver) Path(jobID string) string {
	name := url.PathEscape(jobID) + ".json"
	if a.prefix == "" {
		return name
	}
	return a.fs.Join(a.prefix, name)
}
