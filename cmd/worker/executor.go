package main

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/asyncx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
)

const (
	defaultSteps     = 10
	defaultStepDelay = 100 * time.Millisecond
)

// demoPayload describes simulated work. StepDelay is a Go duration string.
type demoPayload struct {
	Steps     int     `json:"steps"`
	FailRate  float64 `json:"fail_rate"`
	StepDelay string  `json:"step_delay"`
}

// demoResult is saved as the job result.
type demoResult struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
	DurationMS  int64   `json:"duration_ms"`
}

// demoExecutor runs Steps steps, each failing with probability FailRate.
// A job whose every step fails is reported as failed so it is retried.
type demoExecutor struct {
	log  *logx.Logger
	roll func() float64
}

func newDemoExecutor(log *logx.Logger) *demoExecutor {
	return &demoExecutor{log: log.Named("executor"), roll: rand.Float64}
}

func (e *demoExecutor) Execute(ctx context.Context, job *jobx.Job) (any, error) {
	p := demoPayload{Steps: defaultSteps}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, jobx.WrapError(jobx.ErrInvalidJob, err).WithDetail("job_id", job.ID)
		}
	}
	if p.Steps <= 0 {
		p.Steps = defaultSteps
	}
	delay := defaultStepDelay
	if p.StepDelay != "" {
		d, err := time.ParseDuration(p.StepDelay)
		if err != nil {
			return nil, jobx.WrapError(jobx.ErrInvalidJob, err).WithDetail("step_delay", p.StepDelay)
		}
		delay = d
	}

	started := time.Now()
	job.Total = p.Steps
	for range p.Steps {
		if !asyncx.Sleep(ctx, delay) {
			return nil, ctx.Err()
		}
		job.RecordProgress(e.roll() >= p.FailRate)
	}

	e.log.WithFields(logx.Fields{
		"job_id":     job.ID,
		"successful": job.Successful,
		"failed":     job.FailedCount,
	}).Debug("steps finished")

	if job.Successful == 0 {
		return nil, jobx.NewError(jobx.ErrExecutionFailed).
			WithDetail("job_id", job.ID).
			WithDetail("failed_steps", job.FailedCount)
	}
	return demoResult{
		Total:       job.Total,
		Successful:  job.Successful,
		Failed:      job.FailedCount,
		SuccessRate: job.SuccessRate(),
		DurationMS:  time.Since(started).Milliseconds(),
	}, nil
}
