package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/go-kit/log/level"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/types"
)

// AthenaAPI is the subset of the Athena client used to run risk queries
type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	athena.GetQueryResultsAPIClient
}

// implements QueryRunner with Athena
type AthenaQueryRunner struct {
	client         AthenaAPI
	database       string
	workGroup      string
	outputLocation string
	maxPolls       int
	pollInterval   time.Duration
}

func NewAthenaQueryRunner(client AthenaAPI, database, workGroup, outputLocation string) *AthenaQueryRunner {
	return &AthenaQueryRunner{
		client:         client,
		database:       database,
		workGroup:      workGroup,
		outputLocation: outputLocation,
		maxPolls:       60,
		pollInterval:   2 * time.Second,
	}
}

// RunQuery starts the query, waits for it to finish and reads every result page.
func (a *AthenaQueryRunner) RunQuery(ctx context.Context, query string) ([]*types.RiskResult, error) {
	input := &athena.StartQueryExecutionInput{
		QueryString:           aws.String(query),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{Database: aws.String(a.database)},
	}
	if a.workGroup != "" {
		input.WorkGroup = aws.String(a.workGroup)
	}
	if a.outputLocation != "" {
		input.ResultConfiguration = &athenatypes.ResultConfiguration{OutputLocation: aws.String(a.outputLocation)}
	}
	started, err := a.client.StartQueryExecution(ctx, input)
	if err != nil {
		return nil, handleAwsError("StartQueryExecution", err)
	}
	if err := a.waitForQuery(ctx, started.QueryExecutionId); err != nil {
		return nil, err
	}
	return a.readResults(ctx, started.QueryExecutionId)
}

func (a *AthenaQueryRunner) waitForQuery(ctx context.Context, executionID *string) error {
	for i := 0; i < a.maxPolls; i++ {
		out, err := a.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: executionID})
		if err != nil {
			return handleAwsError("GetQueryExecution", err)
		}
		if out.QueryExecution != nil && out.QueryExecution.Status != nil {
			status := out.QueryExecution.Status
			switch status.State {
			case athenatypes.QueryExecutionStateSucceeded:
				return nil
			case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
				reason := aws.ToString(status.StateChangeReason)
				level.Error(global.Logger).Log("msg", "athena query did not succeed", "id", aws.ToString(executionID), "state", status.State, "reason", reason)
				return fmt.Errorf("%w: %s %s", types.ErrQueryFailed, status.State, reason)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
	return fmt.Errorf("%w: query %s still running after %d polls", types.ErrQueryFailed, aws.ToString(executionID), a.maxPolls)
}

func (a *AthenaQueryRunner) readResults(ctx context.Context, executionID *string) ([]*types.RiskResult, error) {
	paginator := athena.NewGetQueryResultsPaginator(a.client, &athena.GetQueryResultsInput{QueryExecutionId: executionID})
	results := []*types.RiskResult{}
	var columns map[string]int
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, handleAwsError("GetQueryResults", err)
		}
		if page.ResultSet == nil {
			continue
		}
		for _, row := range page.ResultSet.Rows {
			values := make([]string, len(row.Data))
			for i, d := range row.Data {
				values[i] = aws.ToString(d.VarCharValue)
			}
			// first row of the first page carries the column names
			if columns == nil {
				columns = make(map[string]int, len(values))
				for i, name := range values {
					columns[name] = i
				}
				continue
			}
			result, err := riskResultFromRow(columns, values)
			if err != nil {
				return nil, err
			}
			results = append(results, result)
		}
	}
	return results, nil
}

func riskResultFromRow(columns map[string]int, values []string) (*types.RiskResult, error) {
	get := func(name string) string {
		if i, ok := columns[name]; ok && i < len(values) {
			return values[i]
		}
		return ""
	}
	float := func(name string) (float64, error) {
		v := get(name)
		if v == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: column %s: %v", types.ErrQueryFailed, name, err)
		}
		return f, nil
	}
	r := &types.RiskResult{SessionID: get("session_id")}
	if r.SessionID == "" {
		return nil, fmt.Errorf("%w: row without session_id", types.ErrQueryFailed)
	}
	var err error
	if r.Score, err = float("score"); err != nil {
		return nil, err
	}
	if r.IpRate, err = float("ip_rate"); err != nil {
		return nil, err
	}
	if r.IpPenalty, err = float("ip_penalty"); err != nil {
		return nil, err
	}
	if r.RefererPenalty, err = float("referer_penalty"); err != nil {
		return nil, err
	}
	if r.UaPenalty, err = float("ua_penalty"); err != nil {
		return nil, err
	}
	lastSeen, err := float("time_point")
	if err != nil {
		return nil, err
	}
	r.LastSeen = int64(lastSeen)
	return r, nil
}
