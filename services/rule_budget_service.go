package services

import (
	"context"
	"sort"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/metrics"
	"github.com/mediashield/go-secure-media-server/repository"
	"github.com/mediashield/go-secure-media-server/types"
)

// BlockListArchive keeps a copy of every rebuilt block-list.
type BlockListArchive interface {
	ArchiveBlockList(ctx context.Context, rules []*types.BlockRule) (string, error)
}

// RuleBudgetService turns the revocation store into a capacity bounded block-list.
type RuleBudgetService struct {
	store     repository.RevocationStore
	writer    repository.BlockListWriter
	archive   BlockListArchive
	capacity  int
	retention time.Duration
	now       func() time.Time
}

// NewRuleBudgetService takes the store retention window in minutes. archive may be nil.
func NewRuleBudgetService(store repository.RevocationStore, writer repository.BlockListWriter, archive BlockListArchive, capacity, retentionMinutes int) *RuleBudgetService {
	return &RuleBudgetService{
		store:     store,
		writer:    writer,
		archive:   archive,
		capacity:  capacity,
		retention: time.Duration(retentionMinutes) * time.Minute,
		now:       time.Now,
	}
}

// AllocateBlockRules picks up to capacity/2 manual records in store order and up to capacity/2
// automatic records by descending score. Unused manual budget is not handed to automatic records.
func AllocateBlockRules(records []*types.SessionRecord, capacity int) []*types.BlockRule {
	half := capacity / 2
	manual := []*types.SessionRecord{}
	auto := []*types.SessionRecord{}
	for _, r := range records {
		if !ValidSessionID(r.SessionID) {
			level.Warn(global.Logger).Log("msg", "ignoring revocation record with invalid session id", "sessionId", r.SessionID)
			continue
		}
		switch r.Origin {
		case types.SessionOriginManual:
			manual = append(manual, r)
		case types.SessionOriginAuto:
			auto = append(auto, r)
		}
	}
	sort.SliceStable(auto, func(i, j int) bool {
		return auto[i].Score > auto[j].Score
	})
	if len(manual) > half {
		manual = manual[:half]
	}
	if len(auto) > half {
		auto = auto[:half]
	}

	rules := make([]*types.BlockRule, 0, len(manual)+len(auto))
	for _, r := range append(manual, auto...) {
		rules = append(rules, &types.BlockRule{
			Name:      uuid.NewString(),
			SessionID: r.SessionID,
			Priority:  len(rules) + 1,
			Origin:    r.Origin,
		})
	}
	return rules
}

// Rebuild reads every active record and replaces the block-list in one write, even when empty.
func (s *RuleBudgetService) Rebuild(ctx context.Context) ([]*types.BlockRule, error) {
	records, err := s.store.ListActive(ctx, s.now().Add(-s.retention))
	if err != nil {
		return nil, err
	}
	rules := AllocateBlockRules(records, s.capacity)
	if err := s.writer.ReplaceBlockList(ctx, rules); err != nil {
		level.Error(global.Logger).Log("msg", "failed to replace block-list", "error", err)
		return nil, err
	}
	metrics.BlockListRules.Set(float64(len(rules)))
	level.Info(global.Logger).Log("msg", "block-list rebuilt", "records", len(records), "rules", len(rules), "capacity", s.capacity)

	if s.archive != nil {
		location, err := s.archive.ArchiveBlockList(ctx, rules)
		if err != nil {
			level.Warn(global.Logger).Log("msg", "failed to archive block-list", "error", err)
		} else {
			level.Debug(global.Logger).Log("msg", "block-list archived", "location", location)
		}
	}
	return rules, nil
}
