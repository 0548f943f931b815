package model

import (
	"math"
	"time"
)

const (
	// DefaultStepCount is used when a step request omits step_count
	DefaultStepCount = 10
	// DefaultBatchSize is the push-mode batch size
	DefaultBatchSize = 10000
	// DefaultPushTotal is used when a push request omits total
	DefaultPushTotal = 1000000
)

// Progress is one bulk-load progress report, streamed in push mode or
// returned directly in step mode.
type Progress struct {
	JobID   string `json:"job_id,omitempty"`
	Step    int    `json:"step,omitempty"`
	Message string `json:"message"`
	Written int    `json:"written"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

// Percent returns round(written/total*100) with halves rounded up
func Percent(written, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Floor(float64(written)/float64(total)*100 + 0.5))
}

// StepSize returns ceil(total/stepCount)
func StepSize(total, stepCount int) int {
	if stepCount <= 0 {
		return 0
	}
	return (total + stepCount - 1) / stepCount
}

// StepBounds returns the half-open record range [start, end) covered by a 1-based step
func StepBounds(total, stepCount, step int) (start, end int) {
	size := StepSize(total, stepCount)
	start = (step - 1) * size
	if start > total {
		start = total
	}
	end = start + size
	if end > total {
		end = total
	}
	return start, end
}

// BulkJob is a server-tracked step-mode load. NextStep is the cursor of the
// next unclaimed step; Written never exceeds Total.
type BulkJob struct {
	ID        string    `json:"job_id"`
	Total     int       `json:"total"`
	StepCount int       `json:"step_count"`
	StepSize  int       `json:"step_size"`
	NextStep  int       `json:"next_step"`
	Written   int       `json:"written"`
	Mirror    bool      `json:"mirror"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done reports whether every record of the job has been written
func (j *BulkJob) Done() bool {
	return j.Written >= j.Total
}

// Exhausted reports whether every step has been claimed
func (j *BulkJob) Exhausted() bool {
	return j.NextStep > j.StepCount
}
