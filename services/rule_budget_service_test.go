package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mediashield/go-secure-media-server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(origin types.SessionOrigin, n int, prefix string) []*types.SessionRecord {
	out := []*types.SessionRecord{}
	for i := 0; i < n; i++ {
		out = append(out, &types.SessionRecord{
			SessionID:   fmt.Sprintf("%s%d", prefix, i),
			Origin:      origin,
			Score:       float64(i),
			LastUpdated: time.Now().Unix(),
			Ttl:         time.Now().Add(time.Hour).Unix(),
		})
	}
	return out
}

func TestAllocateBlockRulesBudget(t *testing.T) {
	all := append(records(types.SessionOriginManual, 8, "m"), records(types.SessionOriginAuto, 8, "a")...)
	rules := AllocateBlockRules(all, 10)
	require.Len(t, rules, 10)

	manual := 0
	for i, r := range rules {
		assert.Equal(t, i+1, r.Priority)
		assert.NotEmpty(t, r.Name)
		if r.Origin == types.SessionOriginManual {
			manual++
		}
	}
	assert.Equal(t, 5, manual)
	// manual in store order, auto by descending score
	assert.Equal(t, "m0", rules[0].SessionID)
	assert.Equal(t, "m4", rules[4].SessionID)
	assert.Equal(t, "a7", rules[5].SessionID)
	assert.Equal(t, "a3", rules[9].SessionID)
}

func TestAllocateBlockRulesNoRollover(t *testing.T) {
	all := append(records(types.SessionOriginManual, 1, "m"), records(types.SessionOriginAuto, 20, "a")...)
	rules := AllocateBlockRules(all, 10)
	assert.Len(t, rules, 6)

	assert.Empty(t, AllocateBlockRules(all, 1))
	assert.Empty(t, AllocateBlockRules(nil, 10))
}

func TestAllocateBlockRulesUniqueNames(t *testing.T) {
	rules := AllocateBlockRules(records(types.SessionOriginAuto, 4, "a"), 8)
	names := map[string]bool{}
	for _, r := range rules {
		names[r.Name] = true
		assert.Equal(t, "/"+r.SessionID, r.SearchString())
	}
	assert.Len(t, names, 4)
}

type failingArchive struct {
	calls int
}

func (f *failingArchive) ArchiveBlockList(ctx context.Context, rules []*types.BlockRule) (string, error) {
	f.calls++
	return "", errors.New("access denied")
}

func TestRebuildReplacesEvenWhenEmpty(t *testing.T) {
	store := newMemRevocationStore()
	writer := &recordingWriter{}
	archive := &failingArchive{}
	svc := NewRuleBudgetService(store, writer, archive, 100, 60)

	rules, err := svc.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
	require.Len(t, writer.calls, 1)
	assert.Empty(t, writer.calls[0])
	assert.Equal(t, 1, archive.calls)
}

func TestRebuildFromRevocations(t *testing.T) {
	store := newMemRevocationStore()
	revocations := NewRevocationService(store, 1, 1)
	_, err := revocations.RevokeManual(context.Background(), "leaked_session")
	require.NoError(t, err)
	revocations.SaveAutoSessions(context.Background(), []*types.RiskResult{
		{SessionID: "low", Score: 3},
		{SessionID: "high", Score: 9},
		{SessionID: "mid", Score: 5},
	})
	// outside the retention window
	require.NoError(t, store.Put(context.Background(), &types.SessionRecord{
		SessionID:   "old",
		Origin:      types.SessionOriginManual,
		LastUpdated: time.Now().Add(-2 * time.Hour).Unix(),
	}))

	blockList := NewBlockList()
	svc := NewRuleBudgetService(store, blockList, nil, 4, 60)
	rules, err := svc.Rebuild(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, []string{"leaked_session", "high", "mid"}, []string{rules[0].SessionID, rules[1].SessionID, rules[2].SessionID})

	assert.True(t, blockList.Blocked("leaked_session"))
	assert.True(t, blockList.Blocked("high"))
	assert.False(t, blockList.Blocked("low"))
	assert.False(t, blockList.Blocked("old"))
	assert.Equal(t, 3, blockList.Len())
}

func TestAllocateBlockRulesIgnoresInvalidIDs(t *testing.T) {
	all := records(types.SessionOriginAuto, 2, "a")
	all = append(all,
		&types.SessionRecord{SessionID: "bad id", Origin: types.SessionOriginAuto, Score: 100},
		&types.SessionRecord{SessionID: "x\"}]", Origin: types.SessionOriginManual},
	)
	rules := AllocateBlockRules(all, 10)
	require.Len(t, rules, 2)
	assert.Equal(t, "a1", rules[0].SessionID)
	assert.Equal(t, "a0", rules[1].SessionID)
}
