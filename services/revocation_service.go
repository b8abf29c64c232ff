package services

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-kit/log/level"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/metrics"
	"github.com/mediashield/go-secure-media-server/repository"
	"github.com/mediashield/go-secure-media-server/types"
)

var revocableSessionRegex = regexp.MustCompile(`^\w+$`)

const maxSessionIDLength = 200

// RevocationService writes revoked sessions, either on request or from risk scoring results.
type RevocationService struct {
	store     repository.RevocationStore
	manualTTL time.Duration
	autoTTL   time.Duration
	now       func() time.Time
}

// NewRevocationService takes record lifetimes in days.
func NewRevocationService(store repository.RevocationStore, manualTTLDays, autoTTLDays int) *RevocationService {
	return &RevocationService{
		store:     store,
		manualTTL: time.Duration(manualTTLDays) * 24 * time.Hour,
		autoTTL:   time.Duration(autoTTLDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// ValidSessionID reports whether id can be revoked: word characters only, at most 200.
func ValidSessionID(id string) bool {
	return len(id) <= maxSessionIDLength && revocableSessionRegex.MatchString(id)
}

// RevokeManual blocks a session on operator or client request.
func (rs *RevocationService) RevokeManual(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: invalid session id", types.ErrBadRequest)
	}
	now := rs.now()
	record := &types.SessionRecord{
		SessionID:   sessionID,
		Origin:      types.SessionOriginManual,
		Reason:      types.RevocationReasonCompromised,
		LastUpdated: now.Unix(),
		Ttl:         now.Add(rs.manualTTL).Unix(),
	}
	if err := rs.store.Put(ctx, record); err != nil {
		level.Error(global.Logger).Log("msg", "manual revoke failed", "sessionId", sessionID, "error", err)
		return nil, err
	}
	metrics.SessionsRevokedTotal.WithLabelValues(string(types.SessionOriginManual)).Inc()
	return record, nil
}

// SaveAutoSessions stores every flagged session. A failed write is counted and the batch continues.
// Ids that are not valid session ids are skipped, they would end up in block rules otherwise.
func (rs *RevocationService) SaveAutoSessions(ctx context.Context, results []*types.RiskResult) *types.SaveSummary {
	summary := &types.SaveSummary{Flagged: len(results)}
	now := rs.now()
	for _, r := range results {
		if err := ctx.Err(); err != nil {
			summary.Failed += len(results) - summary.Saved - summary.Failed - summary.Skipped
			break
		}
		if !ValidSessionID(r.SessionID) {
			level.Warn(global.Logger).Log("msg", "skipping flagged session with invalid id", "sessionId", r.SessionID)
			summary.Skipped++
			continue
		}
		record := &types.SessionRecord{
			SessionID:      r.SessionID,
			Origin:         types.SessionOriginAuto,
			Reason:         types.RevocationReasonCompromised,
			Score:          r.Score,
			IpRate:         r.IpRate,
			IpPenalty:      r.IpPenalty,
			RefererPenalty: r.RefererPenalty,
			UaPenalty:      r.UaPenalty,
			LastUpdated:    now.Unix(),
			Ttl:            now.Add(rs.autoTTL).Unix(),
		}
		if err := rs.store.Put(ctx, record); err != nil {
			level.Error(global.Logger).Log("msg", "failed to save flagged session", "sessionId", r.SessionID, "error", err)
			summary.Failed++
			continue
		}
		summary.Saved++
		metrics.SessionsRevokedTotal.WithLabelValues(string(types.SessionOriginAuto)).Inc()
	}
	level.Info(global.Logger).Log("msg", "flagged sessions saved", "flagged", summary.Flagged, "saved", summary.Saved, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary
}
