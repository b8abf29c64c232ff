package types

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

var (
	QueueTypeRotateSecrets    = "secrets:rotate"
	QueueTypeInitSecrets      = "secrets:initialize"
	QueueTypeAutoRevocation   = "sessions:auto-revoke"
	QueueTypeRuleGroupRebuild = "rulegroup:rebuild"
)

// Task is an operator triggered job
type Task struct {
	RequestedBy string `json:"requestedBy,omitempty"`
	Created     int64  `json:"created"`
}

func NewTask(taskType string, task *Task) (*asynq.Task, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, payload), nil
}
