package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/wafv2"
	waftypes "github.com/aws/aws-sdk-go-v2/service/wafv2/types"
	"github.com/go-kit/log/level"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/types"
)

const wafLockRetries = 3

// WafAPI is the subset of the WAFv2 client used to manage the block-list rule group
type WafAPI interface {
	GetRuleGroup(ctx context.Context, params *wafv2.GetRuleGroupInput, optFns ...func(*wafv2.Options)) (*wafv2.GetRuleGroupOutput, error)
	UpdateRuleGroup(ctx context.Context, params *wafv2.UpdateRuleGroupInput, optFns ...func(*wafv2.Options)) (*wafv2.UpdateRuleGroupOutput, error)
}

// implements BlockListWriter by rewriting all rules of a WAFv2 rule group
type WafBlockListWriter struct {
	client WafAPI
	name   string
	id     string
	scope  waftypes.Scope
}

func NewWafBlockListWriter(client WafAPI, name, id, scope string) *WafBlockListWriter {
	return &WafBlockListWriter{client: client, name: name, id: id, scope: waftypes.Scope(scope)}
}

// ReplaceBlockList swaps the rule group contents in a single UpdateRuleGroup call.
// A lost optimistic lock is retried with a fresh lock token.
func (w *WafBlockListWriter) ReplaceBlockList(ctx context.Context, rules []*types.BlockRule) error {
	wafRules := make([]waftypes.Rule, 0, len(rules))
	for _, r := range rules {
		wafRules = append(wafRules, w.toWafRule(r))
	}
	var lastErr error
	for attempt := 0; attempt < wafLockRetries; attempt++ {
		current, err := w.client.GetRuleGroup(ctx, &wafv2.GetRuleGroupInput{
			Name:  aws.String(w.name),
			Id:    aws.String(w.id),
			Scope: w.scope,
		})
		if err != nil {
			return handleAwsError("GetRuleGroup", err)
		}
		input := &wafv2.UpdateRuleGroupInput{
			Name:      aws.String(w.name),
			Id:        aws.String(w.id),
			Scope:     w.scope,
			LockToken: current.LockToken,
			Rules:     wafRules,
		}
		if current.RuleGroup != nil {
			input.VisibilityConfig = current.RuleGroup.VisibilityConfig
			input.Description = current.RuleGroup.Description
		}
		_, err = w.client.UpdateRuleGroup(ctx, input)
		if err == nil {
			return nil
		}
		lastErr = handleAwsError("UpdateRuleGroup", err)
		if !errors.Is(lastErr, types.ErrConflict) {
			return lastErr
		}
		level.Warn(global.Logger).Log("msg", "rule group lock token stale, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("rule group %s not updated after %d attempts: %w", w.name, wafLockRetries, lastErr)
}

func (w *WafBlockListWriter) toWafRule(r *types.BlockRule) waftypes.Rule {
	return waftypes.Rule{
		Name:     aws.String(r.Name),
		Priority: int32(r.Priority),
		Action: &waftypes.RuleAction{
			Block: &waftypes.BlockAction{},
		},
		Statement: &waftypes.Statement{
			ByteMatchStatement: &waftypes.ByteMatchStatement{
				FieldToMatch:         &waftypes.FieldToMatch{UriPath: &waftypes.UriPath{}},
				PositionalConstraint: waftypes.PositionalConstraintStartsWith,
				SearchString:         []byte(r.SearchString()),
				TextTransformations: []waftypes.TextTransformation{
					{Priority: 0, Type: waftypes.TextTransformationTypeNone},
				},
			},
		},
		VisibilityConfig: &waftypes.VisibilityConfig{
			CloudWatchMetricsEnabled: false,
			MetricName:               aws.String(r.Name),
			SampledRequestsEnabled:   false,
		},
	}
}
