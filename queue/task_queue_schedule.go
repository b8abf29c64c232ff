package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/hibiken/asynq"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/types"
	"github.com/robfig/cron/v3"
)

// TaskEnqueuer is satisfied by *asynq.Client
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// retries and processing timeout per task type; failed runs back off through the server's retry delay
var taskLimits = map[string]struct {
	maxRetry int
	timeout  time.Duration
}{
	types.QueueTypeRotateSecrets:    {maxRetry: 2, timeout: 15 * time.Minute},
	types.QueueTypeInitSecrets:      {maxRetry: 0, timeout: 5 * time.Minute}, // never overwrite a key ring twice
	types.QueueTypeAutoRevocation:   {maxRetry: 3, timeout: 10 * time.Minute},
	types.QueueTypeRuleGroupRebuild: {maxRetry: 3, timeout: 2 * time.Minute},
}

// TaskOptions returns the enqueue options for taskType.
func TaskOptions(taskType string) []asynq.Option {
	limits, ok := taskLimits[taskType]
	if !ok {
		return []asynq.Option{asynq.MaxRetry(0), asynq.Timeout(10 * time.Minute)}
	}
	return []asynq.Option{asynq.MaxRetry(limits.maxRetry), asynq.Timeout(limits.timeout)}
}

// SlotTaskID names the run of taskType due in the slot holding now. Every instance derives the
// same id for the same slot.
func SlotTaskID(source, taskType string, now time.Time, slot time.Duration) string {
	return fmt.Sprintf("%s:%s:%d", source, taskType, now.Truncate(slot).Unix())
}

// IsQueued reports whether err means the task was already queued for this slot.
func IsQueued(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

// EnqueueOnce queues taskType at most once per slot across every instance sharing the queue.
// The task id is retained for the slot so a late instance still conflicts after the run finished.
func EnqueueOnce(client TaskEnqueuer, source, taskType, requestedBy string, now time.Time, slot time.Duration) (*asynq.TaskInfo, error) {
	task, err := types.NewTask(taskType, &types.Task{
		RequestedBy: requestedBy,
		Created:     now.UTC().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	opts := append(TaskOptions(taskType),
		asynq.TaskID(SlotTaskID(source, taskType, now, slot)),
		asynq.Retention(slot))
	return client.Enqueue(task, opts...)
}

// CronEnqueue returns a cron job that queues taskType once per slot instead of running it locally.
func CronEnqueue(client TaskEnqueuer, taskType string, slot time.Duration) func() {
	return func() {
		info, err := EnqueueOnce(client, "cron", taskType, "cron", time.Now(), slot)
		if err != nil {
			if IsQueued(err) {
				level.Debug(global.Logger).Log("msg", "scheduled task already queued by another instance", "type", taskType)
				return
			}
			level.Error(global.Logger).Log("msg", "failed to queue scheduled task", "type", taskType, "error", err)
			return
		}
		level.Info(global.Logger).Log("msg", "scheduled task queued", "type", taskType, "id", info.ID)
	}
}

// ScheduleSlot is the gap between the next two activations of a standard cron spec.
func ScheduleSlot(spec string, now time.Time) (time.Duration, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, err
	}
	next := schedule.Next(now)
	slot := schedule.Next(next).Sub(next)
	if slot <= 0 {
		return 0, fmt.Errorf("schedule %q has no repeating slot", spec)
	}
	return slot, nil
}
