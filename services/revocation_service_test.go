package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mediashield/go-secure-media-server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidSessionID(t *testing.T) {
	assert.True(t, ValidSessionID("abc_DEF_123"))
	assert.True(t, ValidSessionID(strings.Repeat("a", 200)))
	assert.False(t, ValidSessionID(strings.Repeat("a", 201)))
	assert.False(t, ValidSessionID(""))
	assert.False(t, ValidSessionID("abc-def"))
	assert.False(t, ValidSessionID("abc def"))
	assert.False(t, ValidSessionID("abc.def"))
}

func TestRevokeManual(t *testing.T) {
	store := newMemRevocationStore()
	rs := NewRevocationService(store, 2, 1)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	rs.now = func() time.Time { return now }

	record, err := rs.RevokeManual(context.Background(), "session_1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionOriginManual, record.Origin)
	assert.Equal(t, types.RevocationReasonCompromised, record.Reason)
	assert.Equal(t, now.Unix(), record.LastUpdated)
	assert.Equal(t, now.Add(48*time.Hour).Unix(), record.Ttl)
	assert.Same(t, record, store.records["session_1"])

	_, err = rs.RevokeManual(context.Background(), "bad/id")
	assert.ErrorIs(t, err, types.ErrBadRequest)
	assert.Len(t, store.records, 1)
}

func TestRevokeManualOverwrites(t *testing.T) {
	store := newMemRevocationStore()
	rs := NewRevocationService(store, 1, 1)
	rs.SaveAutoSessions(context.Background(), []*types.RiskResult{{SessionID: "s1", Score: 7}})
	_, err := rs.RevokeManual(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionOriginManual, store.records["s1"].Origin)
	assert.Equal(t, []string{"s1"}, store.order)
}

func TestSaveAutoSessions(t *testing.T) {
	store := newMemRevocationStore()
	store.failIDs["s2"] = true
	rs := NewRevocationService(store, 1, 3)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	rs.now = func() time.Time { return now }

	summary := rs.SaveAutoSessions(context.Background(), []*types.RiskResult{
		{SessionID: "s1", Score: 4.2, IpRate: 3.2, IpPenalty: 1},
		{SessionID: "s2", Score: 3},
		{SessionID: "s3", Score: 2.1, RefererPenalty: 0.5},
	})
	assert.Equal(t, &types.SaveSummary{Flagged: 3, Saved: 2, Failed: 1}, summary)

	s1 := store.records["s1"]
	require.NotNil(t, s1)
	assert.Equal(t, types.SessionOriginAuto, s1.Origin)
	assert.Equal(t, 4.2, s1.Score)
	assert.Equal(t, 3.2, s1.IpRate)
	assert.Equal(t, 1.0, s1.IpPenalty)
	assert.Equal(t, now.Add(72*time.Hour).Unix(), s1.Ttl)
	assert.Equal(t, 0.5, store.records["s3"].RefererPenalty)
}

func TestSaveAutoSessionsCancelled(t *testing.T) {
	store := newMemRevocationStore()
	rs := NewRevocationService(store, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := rs.SaveAutoSessions(ctx, []*types.RiskResult{{SessionID: "s1"}, {SessionID: "s2"}})
	assert.Equal(t, &types.SaveSummary{Flagged: 2, Failed: 2}, summary)
	assert.Empty(t, store.records)
}

func TestSaveAutoSessionsSkipsInvalidIDs(t *testing.T) {
	store := newMemRevocationStore()
	rs := NewRevocationService(store, 1, 1)

	summary := rs.SaveAutoSessions(context.Background(), []*types.RiskResult{
		{SessionID: "good_1", Score: 5},
		{SessionID: "/live/../x", Score: 9},
		{SessionID: "", Score: 8},
		{SessionID: strings.Repeat("a", 201), Score: 7},
	})
	assert.Equal(t, &types.SaveSummary{Flagged: 4, Saved: 1, Skipped: 3}, summary)
	assert.Equal(t, []string{"good_1"}, store.order)
}
