package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/hibiken/asynq"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/metrics"
	"github.com/mediashield/go-secure-media-server/services"
	"github.com/mediashield/go-secure-media-server/types"
)

// TaskQueue runs the secret and session jobs, both from the asynq server and from cron.
type TaskQueue struct {
	rotation   *services.RotationService
	risk       *services.RiskService
	ruleBudget *services.RuleBudgetService
}

func NewTaskQueue(rotation *services.RotationService, risk *services.RiskService, ruleBudget *services.RuleBudgetService) *TaskQueue {
	return &TaskQueue{
		rotation:   rotation,
		risk:       risk,
		ruleBudget: ruleBudget,
	}
}

// Processing of secret rotation tasks
func (tq *TaskQueue) ProcessSecretsTask(ctx context.Context, t *asynq.Task) error {
	task, err := decodeTask(t)
	if err != nil {
		return err
	}
	switch t.Type() {
	case types.QueueTypeRotateSecrets:
		level.Info(global.Logger).Log("msg", "rotation requested", "by", task.RequestedBy)
		_, err = tq.RotateSecrets(ctx)
	case types.QueueTypeInitSecrets:
		level.Info(global.Logger).Log("msg", "secret initialization requested", "by", task.RequestedBy)
		_, err = tq.InitializeSecrets(ctx)
	default:
		return fmt.Errorf("unexpected task type: %s, %w", t.Type(), asynq.SkipRetry)
	}
	if errors.Is(err, types.ErrRotationState) {
		// another run holds the rotation
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Processing of session revocation and block-list tasks
func (tq *TaskQueue) ProcessSessionsTask(ctx context.Context, t *asynq.Task) error {
	if _, err := decodeTask(t); err != nil {
		return err
	}
	switch t.Type() {
	case types.QueueTypeAutoRevocation:
		_, err := tq.RunAutoRevocation(ctx)
		return err
	case types.QueueTypeRuleGroupRebuild:
		_, err := tq.RebuildRuleGroup(ctx)
		return err
	}
	return fmt.Errorf("unexpected task type: %s, %w", t.Type(), asynq.SkipRetry)
}

func decodeTask(t *asynq.Task) (*types.Task, error) {
	var task types.Task
	if len(t.Payload()) == 0 {
		return &task, nil
	}
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return nil, fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return &task, nil
}

// RotateSecrets runs one rotation and records its outcome.
func (tq *TaskQueue) RotateSecrets(ctx context.Context) (*types.Secret, error) {
	primary, err := tq.rotation.Rotate(ctx)
	switch {
	case err == nil:
		metrics.SecretRotationsTotal.WithLabelValues("success").Inc()
		level.Info(global.Logger).Log("msg", "secrets rotated", "primary", primary.ID)
	case errors.Is(err, types.ErrRotationTimeout):
		metrics.SecretRotationsTotal.WithLabelValues("timeout").Inc()
		level.Error(global.Logger).Log("msg", "secret rotation timed out", "error", err)
	default:
		metrics.SecretRotationsTotal.WithLabelValues("error").Inc()
		level.Error(global.Logger).Log("msg", "secret rotation failed", "error", err)
	}
	return primary, err
}

// InitializeSecrets writes a fresh key ring and edge key set.
func (tq *TaskQueue) InitializeSecrets(ctx context.Context) (*types.Secret, error) {
	primary, err := tq.rotation.Initialize(ctx)
	if err != nil {
		level.Error(global.Logger).Log("msg", "secret initialization failed", "error", err)
		return nil, err
	}
	level.Info(global.Logger).Log("msg", "secrets initialized", "primary", primary.ID)
	return primary, nil
}

// RunAutoRevocation scores recent sessions and rebuilds the block-list when any were revoked.
func (tq *TaskQueue) RunAutoRevocation(ctx context.Context) (*types.SaveSummary, error) {
	summary, err := tq.risk.RunAutoRevocation(ctx)
	if err != nil {
		return nil, err
	}
	if summary.Saved > 0 && tq.ruleBudget != nil {
		if _, rErr := tq.RebuildRuleGroup(ctx); rErr != nil {
			level.Warn(global.Logger).Log("msg", "block-list rebuild after auto revocation failed", "error", rErr)
		}
	}
	return summary, nil
}

func (tq *TaskQueue) RebuildRuleGroup(ctx context.Context) ([]*types.BlockRule, error) {
	return tq.ruleBudget.Rebuild(ctx)
}
