package importer

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"stockplane/pkg/config"
	"stockplane/pkg/rediskey"
	"stockplane/pkg/task"
)

// ErrJobNotFound signals that no queue job exists for the batch id.
var ErrJobNotFound = errors.New("import job not found")

type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDelayed   JobState = "delayed"
)

// JobStatus is the queue-side view of one import job.
type JobStatus struct {
	State       JobState   `json:"state"`
	Attempts    int        `json:"attempts"`
	MaxRetry    int        `json:"max_retry"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// QueueMetrics counts jobs per lifecycle state.
type QueueMetrics struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Total     int `json:"total"`
}

// jobInspector is the slice of asynq.Inspector the queue adapter needs.
type jobInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	CancelProcessing(id string) error
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListCompletedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// Queue wraps the job backend behind the import pipeline's contract:
// idempotent enqueue keyed by batch id, status lookup, cancellation,
// per-state metrics, and retention pruning.
type Queue struct {
	enqueuer  task.Enqueuer
	inspector jobInspector
	config    *config.Config
	cache     *redis.Client
}

type QueueParams struct {
	fx.In
	Enqueuer  task.Enqueuer
	Inspector *asynq.Inspector
	Config    *config.Config
	Cache     *redis.Client `optional:"true"`
}

func NewQueue(p QueueParams) *Queue {
	return &Queue{
		enqueuer:  p.Enqueuer,
		inspector: p.Inspector,
		config:    p.Config,
		cache:     p.Cache,
	}
}

func (q *Queue) queueName() string {
	return q.config.Import.Queue
}

// Enqueue creates the durable job for a batch. The batch id is the task id,
// so re-enqueueing the same batch collides on the id and is reported as
// success without creating a duplicate job.
func (q *Queue) Enqueue(ctx context.Context, p ImportPayload) error {
	opts := []asynq.Option{
		asynq.TaskID(p.BatchID.String()),
		asynq.Queue(q.queueName()),
		asynq.MaxRetry(q.config.Import.MaxRetry),
		asynq.Timeout(q.config.Import.TaskTimeout),
		asynq.Retention(q.config.Import.CompletedMaxAge),
	}

	info, err := q.enqueuer.Enqueue(ctx, NewImportTask(p), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			zap.L().Info("import job already enqueued",
				zap.String("batch_id", p.BatchID.String()))
			return nil
		}
		return err
	}

	zap.L().Info("import job enqueued",
		zap.String("batch_id", p.BatchID.String()),
		zap.String("queue", info.Queue))
	return nil
}

func mapTaskState(s asynq.TaskState) JobState {
	switch s {
	case asynq.TaskStateActive:
		return JobActive
	case asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return JobDelayed
	case asynq.TaskStateArchived:
		return JobFailed
	case asynq.TaskStateCompleted:
		return JobCompleted
	default:
		return JobWaiting
	}
}

// Status reports the job's lifecycle state, attempt count, and last failure
// reason, or ErrJobNotFound.
func (q *Queue) Status(ctx context.Context, batchID snowflake.ID) (*JobStatus, error) {
	info, err := q.inspector.GetTaskInfo(q.queueName(), batchID.String())
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	status := &JobStatus{
		State:     mapTaskState(info.State),
		Attempts:  info.Retried,
		MaxRetry:  info.MaxRetry,
		LastError: info.LastErr,
	}
	if status.State == JobDelayed && !info.NextProcessAt.IsZero() {
		next := info.NextProcessAt
		status.NextRetryAt = &next
	}
	return status, nil
}

// Cancel removes a job that has not started and cooperatively interrupts one
// that has. Waiting and delayed jobs are deleted outright. An active job
// cannot be preempted, so its context is cancelled and the caller records
// the batch as failed; the worker observes the cancellation at its next
// checkpoint. Terminal and missing jobs return false.
func (q *Queue) Cancel(ctx context.Context, batchID snowflake.ID) (bool, JobState, error) {
	info, err := q.inspector.GetTaskInfo(q.queueName(), batchID.String())
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return false, "", ErrJobNotFound
		}
		return false, "", err
	}

	state := mapTaskState(info.State)
	switch state {
	case JobWaiting, JobDelayed:
		if err := q.inspector.DeleteTask(q.queueName(), batchID.String()); err != nil {
			return false, state, err
		}
		zap.L().Info("import job removed",
			zap.String("batch_id", batchID.String()),
			zap.String("state", string(state)))
		return true, state, nil
	case JobActive:
		if err := q.inspector.CancelProcessing(batchID.String()); err != nil {
			return false, state, err
		}
		zap.L().Info("import job cancellation requested",
			zap.String("batch_id", batchID.String()))
		return true, state, nil
	default:
		return false, state, nil
	}
}

// metricsCacheTTL keeps dashboard polling from hammering the inspector.
const metricsCacheTTL = 5 * time.Second

// Metrics counts jobs per lifecycle state plus a total. Results are cached
// briefly so dashboard polling stays cheap.
func (q *Queue) Metrics(ctx context.Context) (*QueueMetrics, error) {
	cacheKey := rediskey.BuildQueueMetricsKey(q.queueName())
	if q.cache != nil {
		if data, err := q.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var m QueueMetrics
			if err := json.Unmarshal(data, &m); err == nil {
				return &m, nil
			}
		}
	}

	info, err := q.inspector.GetQueueInfo(q.queueName())
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return &QueueMetrics{}, nil
		}
		return nil, err
	}

	m := &QueueMetrics{
		Waiting:   info.Pending,
		Active:    info.Active,
		Completed: info.Completed,
		Failed:    info.Archived,
		Delayed:   info.Scheduled + info.Retry,
	}
	m.Total = m.Waiting + m.Active + m.Completed + m.Failed + m.Delayed

	if q.cache != nil {
		if data, err := json.Marshal(m); err == nil {
			if err := q.cache.Set(ctx, cacheKey, data, metricsCacheTTL).Err(); err != nil {
				zap.L().Warn("failed to cache queue metrics", zap.Error(err))
			}
		}
	}
	return m, nil
}

// Cleanup prunes the completed and failed sets independently, each bounded
// by its configured age and count. Returns how many jobs were removed.
func (q *Queue) Cleanup(ctx context.Context) (int, error) {
	cfg := q.config.Import

	completed, err := q.cleanupSet(q.inspector.ListCompletedTasks, cfg.CompletedMaxAge, cfg.CompletedMaxCount)
	if err != nil {
		return completed, err
	}

	failed, err := q.cleanupSet(q.inspector.ListArchivedTasks, cfg.FailedMaxAge, cfg.FailedMaxCount)
	if err != nil {
		return completed + failed, err
	}

	removed := completed + failed
	if removed > 0 {
		zap.L().Info("queue retention cleanup",
			zap.Int("completed_removed", completed),
			zap.Int("failed_removed", failed))
	}
	return removed, nil
}

func (q *Queue) cleanupSet(list func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error), maxAge time.Duration, maxCount int) (int, error) {
	var tasks []*asynq.TaskInfo
	for page := 1; ; page++ {
		batch, err := list(q.queueName(), asynq.Page(page), asynq.PageSize(100))
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				return 0, nil
			}
			return 0, err
		}
		tasks = append(tasks, batch...)
		if len(batch) < 100 {
			break
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		return taskFinishedAt(tasks[i]).Before(taskFinishedAt(tasks[j]))
	})

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for i, t := range tasks {
		overAge := maxAge > 0 && taskFinishedAt(t).Before(cutoff)
		overCount := maxCount > 0 && len(tasks)-i > maxCount
		if !overAge && !overCount {
			break
		}
		if err := q.inspector.DeleteTask(q.queueName(), t.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// taskFinishedAt picks the timestamp a terminal task aged from.
func taskFinishedAt(t *asynq.TaskInfo) time.Time {
	if !t.CompletedAt.IsZero() {
		return t.CompletedAt
	}
	if !t.LastFailedAt.IsZero() {
		return t.LastFailedAt
	}
	return t.NextProcessAt
}
