package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisJobKeyPrefix = "replicawatch:job:"

// claimStepScript reserves the next step of a job. Returns -1 for an unknown
// job and 0 once every step has been claimed.
var claimStepScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local nextStep = tonumber(redis.call('HGET', KEYS[1], 'next_step'))
local stepCount = tonumber(redis.call('HGET', KEYS[1], 'step_count'))
if nextStep > stepCount then return 0 end
redis.call('HSET', KEYS[1], 'next_step', nextStep + 1, 'updated_at', ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return nextStep
`)

// addWrittenScript adds to the written counter without passing total
var addWrittenScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local written = tonumber(redis.call('HGET', KEYS[1], 'written')) + tonumber(ARGV[1])
local total = tonumber(redis.call('HGET', KEYS[1], 'total'))
if written > total then written = total end
redis.call('HSET', KEYS[1], 'written', written, 'updated_at', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return written
`)

// RedisJobStore implements JobStore on Redis hashes so that several
// replicawatch instances behind a load balancer share job cursors.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisJobStore creates a new Redis job store
func NewRedisJobStore(host string, port int, password string, db int, ttl time.Duration, logger *zap.Logger) (JobStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &RedisJobStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

func redisJobKey(jobID string) string {
	return redisJobKeyPrefix + jobID
}

// Create stores a new job
func (s *RedisJobStore) Create(ctx context.Context, job *model.BulkJob) error {
	key := redisJobKey(job.ID)
	created, err := s.client.HSetNX(ctx, key, "total", job.Total).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("bulk load job already exists: %s", job.ID)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, encodeJob(job))
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a job
func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*model.BulkJob, error) {
	fields, err := s.client.HGetAll(ctx, redisJobKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, apierrors.ErrJobNotFound
	}
	return decodeJob(jobID, fields)
}

// ClaimStep implements JobStore
func (s *RedisJobStore) ClaimStep(ctx context.Context, jobID string) (int, *model.BulkJob, error) {
	step, err := claimStepScript.Run(ctx, s.client,
		[]string{redisJobKey(jobID)},
		time.Now().UTC().Format(time.RFC3339Nano), int(s.ttl.Seconds()),
	).Int()
	if err != nil {
		return 0, nil, err
	}
	if step < 0 {
		return 0, nil, apierrors.ErrJobNotFound
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return 0, nil, err
	}
	return step, job, nil
}

// AddWritten implements JobStore
func (s *RedisJobStore) AddWritten(ctx context.Context, jobID string, n int) (*model.BulkJob, error) {
	res, err := addWrittenScript.Run(ctx, s.client,
		[]string{redisJobKey(jobID)},
		n, time.Now().UTC().Format(time.RFC3339Nano), int(s.ttl.Seconds()),
	).Int()
	if err != nil {
		return nil, err
	}
	if res < 0 {
		return nil, apierrors.ErrJobNotFound
	}
	return s.Get(ctx, jobID)
}

// Ping checks the Redis connection
func (s *RedisJobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisJobStore) Close() error {
	return s.client.Close()
}

func encodeJob(job *model.BulkJob) map[string]interface{} {
	return map[string]interface{}{
		"total":      job.Total,
		"step_count": job.StepCount,
		"step_size":  job.StepSize,
		"next_step":  job.NextStep,
		"written":    job.Written,
		"mirror":     strconv.FormatBool(job.Mirror),
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeJob(jobID string, fields map[string]string) (*model.BulkJob, error) {
	job := &model.BulkJob{ID: jobID}

	ints := map[string]*int{
		"total":      &job.Total,
		"step_count": &job.StepCount,
		"step_size":  &job.StepSize,
		"next_step":  &job.NextStep,
		"written":    &job.Written,
	}
	for name, dst := range ints {
		v, err := strconv.Atoi(fields[name])
		if err != nil {
			return nil, fmt.Errorf("corrupt job %s field %s: %w", jobID, name, err)
		}
		*dst = v
	}

	var err error
	if job.Mirror, err = strconv.ParseBool(fields["mirror"]); err != nil {
		return nil, fmt.Errorf("corrupt job %s field mirror: %w", jobID, err)
	}
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("corrupt job %s field created_at: %w", jobID, err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("corrupt job %s field updated_at: %w", jobID, err)
	}
	return job, nil
}
