package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/types"
)

type memSecretStore struct {
	mu     sync.Mutex
	values map[string]string
	gets   int
	failOn map[string]error
}

func newMemSecretStore() *memSecretStore {
	return &memSecretStore{values: map[string]string{}, failOn: map[string]error{}}
}

func (m *memSecretStore) GetSecretValue(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if err, ok := m.failOn[name]; ok {
		return "", err
	}
	v, ok := m.values[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, types.ErrNotFound)
	}
	return v, nil
}

func (m *memSecretStore) PutSecretValue(ctx context.Context, name string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}

type memRevocationStore struct {
	mu      sync.Mutex
	records map[string]*types.SessionRecord
	order   []string
	failIDs map[string]bool
}

func newMemRevocationStore() *memRevocationStore {
	return &memRevocationStore{records: map[string]*types.SessionRecord{}, failIDs: map[string]bool{}}
}

func (m *memRevocationStore) Put(ctx context.Context, record *types.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[record.SessionID] {
		return errors.New("write throttled")
	}
	if _, ok := m.records[record.SessionID]; !ok {
		m.order = append(m.order, record.SessionID)
	}
	m.records[record.SessionID] = record
	return nil
}

func (m *memRevocationStore) ListActive(ctx context.Context, since time.Time) ([]*types.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*types.SessionRecord{}
	for _, id := range m.order {
		r := m.records[id]
		if r.LastUpdated >= since.Unix() && !r.Expired(time.Now()) {
			out = append(out, r)
		}
	}
	return out, nil
}

type recordingWriter struct {
	calls [][]*types.BlockRule
}

func (w *recordingWriter) ReplaceBlockList(ctx context.Context, rules []*types.BlockRule) error {
	w.calls = append(w.calls, rules)
	return nil
}

func testEdgeConfig() global.EdgeConfig {
	return global.EdgeConfig{
		MinTokenLength: 60,
		CountryHeader:  "cloudfront-viewer-country",
		RegionHeader:   "cloudfront-viewer-country-region",
		CityHeader:     "cloudfront-viewer-city",
	}
}

// newTestKeyRing returns a key ring seeded with a primary and a secondary secret
func newTestKeyRing() (*KeyRingService, *memSecretStore) {
	store := newMemSecretStore()
	store.values[SecretName("test", types.SecretRolePrimary)] = `{"20240101_primary":"0a1b2c3d4e5f"}`
	store.values[SecretName("test", types.SecretRoleSecondary)] = `{"20231201_secondary":"f5e4d3c2b1a0"}`
	store.values[SecretName("test", types.SecretRoleTemporary)] = `{"INITIALIZED_KEY":"INITIALIZED_VALUE"}`
	return NewKeyRingService(store, "test", time.Minute), store
}
