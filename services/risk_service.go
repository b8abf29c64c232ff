package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/metrics"
	"github.com/mediashield/go-secure-media-server/repository"
	"github.com/mediashield/go-secure-media-server/types"
)

// RiskService scores viewing sessions from access logs and revokes the ones above threshold.
type RiskService struct {
	conf        global.RiskConfig
	runner      repository.QueryRunner
	logs        repository.AccessLogSource
	revocations *RevocationService
	now         func() time.Time
}

// NewRiskService wires either engine: runner for athena, logs for local. The other may be nil.
func NewRiskService(conf global.RiskConfig, runner repository.QueryRunner, logs repository.AccessLogSource, revocations *RevocationService) *RiskService {
	return &RiskService{
		conf:        conf,
		runner:      runner,
		logs:        logs,
		revocations: revocations,
		now:         time.Now,
	}
}

// Query returns the athena query a run would execute now.
func (rs *RiskService) Query() string {
	return BuildRiskQuery(rs.conf, rs.now())
}

// Score returns the sessions above the score threshold.
func (rs *RiskService) Score(ctx context.Context) ([]*types.RiskResult, error) {
	switch rs.conf.Engine {
	case "local":
		if rs.logs == nil {
			return nil, fmt.Errorf("%w: no access log source", types.ErrQueryFailed)
		}
		since := rs.now().Add(-time.Duration(rs.conf.LookbackPeriod) * time.Minute)
		entries, err := rs.logs.ReadAccessLogs(ctx, since)
		if err != nil {
			return nil, err
		}
		return ScoreAccessLogs(rs.conf, entries, rs.now()), nil
	default:
		if rs.runner == nil {
			return nil, fmt.Errorf("%w: no query runner", types.ErrQueryFailed)
		}
		return rs.runner.RunQuery(ctx, rs.Query())
	}
}

// RunAutoRevocation scores sessions and stores every flagged one as an automatic revocation.
func (rs *RiskService) RunAutoRevocation(ctx context.Context) (*types.SaveSummary, error) {
	results, err := rs.Score(ctx)
	if err != nil {
		level.Error(global.Logger).Log("msg", "risk scoring failed", "engine", rs.conf.Engine, "error", err)
		return nil, err
	}
	metrics.RiskSessionsFlaggedTotal.Add(float64(len(results)))
	return rs.revocations.SaveAutoSessions(ctx, results), nil
}

type sessionStats struct {
	requests  map[string]struct{}
	referers  map[string]struct{}
	ips       map[string]struct{}
	agents    map[string]struct{}
	first     int64
	last      int64
	timeRange int64
}

// ScoreAccessLogs applies the scoring query semantics to log entries in process.
func ScoreAccessLogs(conf global.RiskConfig, entries []*types.AccessLogEntry, now time.Time) []*types.RiskResult {
	since := now.Add(-time.Duration(conf.LookbackPeriod) * time.Minute).Unix()
	sessions := map[string]*sessionStats{}
	for _, e := range entries {
		if e.Status != 200 && e.Status != 206 {
			continue
		}
		if e.Bytes <= 1024 || e.Timestamp < since {
			continue
		}
		sessionID, ok := sessionFromURI(e.URI)
		if !ok {
			continue
		}
		s, found := sessions[sessionID]
		if !found {
			s = &sessionStats{
				requests: map[string]struct{}{},
				referers: map[string]struct{}{},
				ips:      map[string]struct{}{},
				agents:   map[string]struct{}{},
				first:    e.Timestamp,
				last:     e.Timestamp,
			}
			sessions[sessionID] = s
		}
		s.requests[e.ViewerIP+" "+e.URI] = struct{}{}
		s.referers[e.Referer] = struct{}{}
		s.ips[e.ViewerIP] = struct{}{}
		s.agents[e.UserAgent] = struct{}{}
		if e.Timestamp < s.first {
			s.first = e.Timestamp
		}
		if e.Timestamp > s.last {
			s.last = e.Timestamp
		}
	}

	results := []*types.RiskResult{}
	if len(sessions) == 0 || len(sessions) < conf.MinSessionsNumber {
		return results
	}

	rates := []float64{}
	for _, s := range sessions {
		s.timeRange = s.last - s.first
		if s.timeRange > 0 {
			rates = append(rates, float64(len(s.requests))/float64(s.timeRange))
		}
	}
	median := medianOf(rates)

	penalty := func(enabled bool, count int, v float64) float64 {
		if enabled && count > 1 {
			return v
		}
		return 0
	}
	for id, s := range sessions {
		if s.timeRange < int64(conf.MinSessionDuration) || s.timeRange == 0 {
			continue
		}
		r := &types.RiskResult{
			SessionID:      id,
			IpPenalty:      penalty(conf.IpPenaltyEnabled, len(s.ips), conf.IpPenalty),
			RefererPenalty: penalty(conf.RefererPenaltyEnabled, len(s.referers), conf.RefererPenalty),
			UaPenalty:      penalty(conf.UaPenaltyEnabled, len(s.agents), conf.UaPenalty),
			LastSeen:       s.last,
		}
		if median > 0 {
			r.IpRate = conf.IpRate * (float64(len(s.requests)) / float64(s.timeRange)) / median
		}
		r.Score = r.IpRate + r.IpPenalty + r.RefererPenalty + r.UaPenalty
		if r.Score > conf.ScoreThreshold {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].SessionID < results[j].SessionID
		}
		return results[i].Score > results[j].Score
	})
	return results
}

// sessionFromURI returns the session id prefixed to the token segment, e.g. "/abc.h.p.s/x.ts" -> "abc".
func sessionFromURI(uri string) (string, bool) {
	segments := strings.SplitN(uri, "/", 3)
	if len(segments) < 2 {
		return "", false
	}
	parts := strings.Split(segments[1], ".")
	if len(parts) != 4 || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
