package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/metrics"
	"github.com/devrev/replicawatch/internal/model"
	"github.com/devrev/replicawatch/internal/node"
	"github.com/devrev/replicawatch/internal/progress"
	"github.com/devrev/replicawatch/internal/store"
	"github.com/devrev/replicawatch/internal/util/workerpool"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Push-mode behaviour once the stream consumer goes away
const (
	// OnDisconnectComplete keeps loading until the total is written
	OnDisconnectComplete = "complete"
	// OnDisconnectAbandon stops before the next batch
	OnDisconnectAbandon = "abandon"
)

var errAbandoned = errors.New("bulk load abandoned: consumer disconnected")

// BulkLoadConfig holds bulk load tuning
type BulkLoadConfig struct {
	BatchSize    int
	StepCount    int
	OnDisconnect string
}

// PushRequest starts a push-mode load
type PushRequest struct {
	Total  int
	Mirror bool
}

// StepRequest runs one stateless step
type StepRequest struct {
	Total     int
	Step      int
	StepCount int
	Mirror    bool
}

// BulkLoadService drives synthetic write load against the primary
type BulkLoadService struct {
	connector *node.Connector
	registry  *node.Registry
	mirror    *store.MirrorStore
	jobs      store.JobStore
	pool      *workerpool.Pool
	generator *RecordGenerator
	metrics   *metrics.Metrics
	cfg       BulkLoadConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewBulkLoadService creates a new bulk load service. pool runs detached
// push loads and may be nil when OnDisconnect is abandon.
func NewBulkLoadService(
	connector *node.Connector,
	registry *node.Registry,
	mirror *store.MirrorStore,
	jobs store.JobStore,
	pool *workerpool.Pool,
	m *metrics.Metrics,
	cfg BulkLoadConfig,
	logger *zap.Logger,
) *BulkLoadService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = model.DefaultBatchSize
	}
	if cfg.StepCount <= 0 {
		cfg.StepCount = model.DefaultStepCount
	}
	if cfg.OnDisconnect == "" {
		cfg.OnDisconnect = OnDisconnectComplete
	}
	return &BulkLoadService{
		connector: connector,
		registry:  registry,
		mirror:    mirror,
		jobs:      jobs,
		pool:      pool,
		generator: NewRecordGenerator(originHost()),
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// StartPush validates req and starts a push-mode load whose progress is
// published on the returned channel. With OnDisconnectComplete the load runs
// on the worker pool, detached from ctx; with OnDisconnectAbandon it stops
// once ctx ends or the consumer detaches.
func (s *BulkLoadService) StartPush(ctx context.Context, req PushRequest) (*progress.Channel, error) {
	if req.Total <= 0 {
		return nil, apierrors.ClientInput("total must be a positive integer")
	}

	ch := progress.NewChannel(progress.DefaultBuffer)

	if s.cfg.OnDisconnect == OnDisconnectAbandon || s.pool == nil {
		go s.RunPush(ctx, req, ch)
		return ch, nil
	}

	task := workerpool.Task{
		ID: "push-" + uuid.NewString(),
		Fn: func(poolCtx context.Context) error {
			s.RunPush(poolCtx, req, ch)
			return nil
		},
	}
	if err := s.pool.Submit(task); err != nil {
		return nil, &apierrors.AppError{
			Code:    apierrors.ErrorCodeRateLimited,
			Message: fmt.Sprintf("cannot start bulk load: %v", err),
		}
	}
	return ch, nil
}

// RunPush writes req.Total records in sequential batches over one primary
// connection, sending a progress event per batch and a terminal event at the
// end. It closes ch when done. Failed batches are not retried and earlier
// batches are not rolled back.
func (s *BulkLoadService) RunPush(ctx context.Context, req PushRequest, ch *progress.Channel) {
	defer ch.Close()

	s.metrics.IncBulkLoads()
	defer s.metrics.DecBulkLoads()

	abandon := s.cfg.OnDisconnect == OnDisconnectAbandon
	primary := s.registry.Primary()
	written := 0

	err := s.connector.WithNode(ctx, primary, "bulk_insert", func(ctx context.Context, conn store.Connection) error {
		for written < req.Total {
			if abandon && (ch.IsDetached() || ctx.Err() != nil) {
				return errAbandoned
			}
			n := min(s.cfg.BatchSize, req.Total-written)
			if err := s.writeBatch(ctx, conn, n, req.Mirror, "push"); err != nil {
				return err
			}
			written += n
			ch.Send(model.Progress{
				Message: fmt.Sprintf("Inserted %d / %d", written, req.Total),
				Written: written,
				Total:   req.Total,
				Percent: model.Percent(written, req.Total),
			})
		}
		return nil
	})

	// a consumer leaving mid-batch cancels the in-flight write
	abandoned := errors.Is(err, errAbandoned) ||
		(err != nil && abandon && (ctx.Err() != nil || ch.IsDetached()))

	switch {
	case abandoned:
		s.logger.Info("Bulk load abandoned",
			zap.Int("written", written),
			zap.Int("total", req.Total))
	case err != nil:
		s.logger.Error("Bulk load failed",
			zap.String("node", primary),
			zap.Int("written", written),
			zap.Int("total", req.Total),
			zap.Error(err))
		ch.Send(errorProgress(written, req.Total, err))
	default:
		s.logger.Info("Bulk load completed",
			zap.Int("total", req.Total),
			zap.Bool("mirror", req.Mirror))
		ch.Send(model.Progress{
			Message: fmt.Sprintf("Completed bulk insert of %d records", req.Total),
			Written: req.Total,
			Total:   req.Total,
			Percent: 100,
			Done:    true,
		})
	}
}

// Step runs one stateless step. Replaying a step inserts its records again.
// On a write failure the returned progress is terminal and carries the error.
func (s *BulkLoadService) Step(ctx context.Context, req StepRequest) (*model.Progress, error) {
	if req.StepCount == 0 {
		req.StepCount = s.cfg.StepCount
	}
	if err := validateStep(req.Total, req.StepCount, req.Step); err != nil {
		return nil, err
	}

	start, end := model.StepBounds(req.Total, req.StepCount, req.Step)
	inserted, err := s.writeStep(ctx, req.Total, req.StepCount, req.Step, req.Mirror, "step")
	if err != nil {
		p := errorProgress(start+inserted, req.Total, err)
		p.Step = req.Step
		return &p, err
	}
	return &model.Progress{
		Step:    req.Step,
		Message: fmt.Sprintf("Inserted %d / %d", end, req.Total),
		Written: end,
		Total:   req.Total,
		Percent: model.Percent(end, req.Total),
		Done:    end >= req.Total,
	}, nil
}

// CreateJob registers a server-tracked step-mode load
func (s *BulkLoadService) CreateJob(ctx context.Context, total, stepCount int, mirror bool) (*model.BulkJob, error) {
	if stepCount == 0 {
		stepCount = s.cfg.StepCount
	}
	if err := validateStep(total, stepCount, 1); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &model.BulkJob{
		ID:        uuid.NewString(),
		Total:     total,
		StepCount: stepCount,
		StepSize:  model.StepSize(total, stepCount),
		NextStep:  1,
		Mirror:    mirror,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create bulk load job: %w", err)
	}

	s.logger.Info("Bulk load job created",
		zap.String("job_id", job.ID),
		zap.Int("total", total),
		zap.Int("step_count", stepCount))
	return job, nil
}

// GetJob returns the cursor of a job
func (s *BulkLoadService) GetJob(ctx context.Context, jobID string) (*model.BulkJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, jobError(jobID, err)
	}
	return job, nil
}

// NextStep claims and runs the next step of a job. Each step is claimed
// exactly once, so repeating the call never re-inserts a step. Once every
// step is claimed it only reports the job's progress.
//
// The returned progress always reflects the job cursor. A failed step is
// consumed but the job is not done: its records fall short of the total.
func (s *BulkLoadService) NextStep(ctx context.Context, jobID string) (*model.Progress, error) {
	step, job, err := s.jobs.ClaimStep(ctx, jobID)
	if err != nil {
		return nil, jobError(jobID, err)
	}

	if step == 0 {
		p := jobProgress(job, 0)
		p.Message = "No steps remaining"
		return p, nil
	}

	inserted, werr := s.writeStep(ctx, job.Total, job.StepCount, step, job.Mirror, "job")

	if inserted > 0 {
		updated, err := s.jobs.AddWritten(ctx, jobID, inserted)
		switch {
		case err == nil:
			job = updated
		case werr == nil:
			return nil, jobError(jobID, err)
		default:
			s.logger.Warn("Failed to record partial bulk load step",
				zap.String("job_id", jobID),
				zap.Int("step", step),
				zap.Int("inserted", inserted),
				zap.Error(err))
		}
	}

	p := jobProgress(job, step)
	if werr != nil {
		msg := errorMessage(werr)
		p.Message = "Error: " + msg
		p.Error = msg
		return p, werr
	}
	p.Message = fmt.Sprintf("Inserted %d / %d", job.Written, job.Total)
	return p, nil
}

// writeStep writes the records of one step on a single primary connection
// and returns how many were inserted before any failure.
func (s *BulkLoadService) writeStep(ctx context.Context, total, stepCount, step int, mirror bool, mode string) (int, error) {
	start, end := model.StepBounds(total, stepCount, step)
	if end <= start {
		return 0, nil
	}

	inserted := 0
	primary := s.registry.Primary()
	err := s.connector.WithNode(ctx, primary, "bulk_insert", func(ctx context.Context, conn store.Connection) error {
		for start+inserted < end {
			n := min(s.cfg.BatchSize, end-start-inserted)
			if err := s.writeBatch(ctx, conn, n, mirror, mode); err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Bulk load step failed",
			zap.String("node", primary),
			zap.String("mode", mode),
			zap.Int("step", step),
			zap.Int("inserted", inserted),
			zap.Error(err))
	}
	return inserted, err
}

func jobProgress(job *model.BulkJob, step int) *model.Progress {
	return &model.Progress{
		JobID:   job.ID,
		Step:    step,
		Written: job.Written,
		Total:   job.Total,
		Percent: model.Percent(job.Written, job.Total),
		Done:    job.Done(),
	}
}

func (s *BulkLoadService) writeBatch(ctx context.Context, conn store.Connection, n int, mirror bool, mode string) error {
	batch := s.generator.Generate(n)
	if err := conn.InsertMany(ctx, batch); err != nil {
		return err
	}
	s.metrics.AddRecordsWritten(mode, n)
	if mirror {
		s.mirror.Append(batch...)
		s.metrics.SetMirrorRecords(s.mirror.Len())
	}
	return nil
}

func validateStep(total, stepCount, step int) error {
	if total <= 0 {
		return apierrors.ClientInput("total must be a positive integer")
	}
	if stepCount <= 0 {
		return apierrors.ClientInput("step_count must be a positive integer")
	}
	if step < 1 || step > stepCount {
		return apierrors.ClientInput("step must be between 1 and %d", stepCount)
	}
	return nil
}

func errorMessage(err error) string {
	var ne *apierrors.NodeError
	if errors.As(err, &ne) {
		return ne.Message()
	}
	return err.Error()
}

func errorProgress(written, total int, err error) model.Progress {
	msg := errorMessage(err)
	return model.Progress{
		Message: "Error: " + msg,
		Written: written,
		Total:   total,
		Percent: 100,
		Done:    true,
		Error:   msg,
	}
}

func jobError(jobID string, err error) error {
	if errors.Is(err, apierrors.ErrJobNotFound) {
		return apierrors.JobNotFound(jobID)
	}
	return err
}
