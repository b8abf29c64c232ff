package queue

import (
	"context"
	"time"
)

// CronRebuildRuleGroup refreshes this instance's block-list. Every instance enforces its own copy,
// so this one runs locally rather than through the queue.
func (tq *TaskQueue) CronRebuildRuleGroup() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	tq.RebuildRuleGroup(ctx)
}
