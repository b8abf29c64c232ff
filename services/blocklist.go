package services

import (
	"context"
	"sync/atomic"

	"github.com/mediashield/go-secure-media-server/types"
)

// BlockList is the in-process edge block-list. Reads never block; a rebuild swaps the whole set.
type BlockList struct {
	rules atomic.Pointer[blockSet]
}

type blockSet struct {
	bySession map[string]*types.BlockRule
	ordered   []*types.BlockRule
}

func NewBlockList() *BlockList {
	b := &BlockList{}
	b.rules.Store(&blockSet{bySession: map[string]*types.BlockRule{}})
	return b
}

// ReplaceBlockList swaps in a new rule set.
func (b *BlockList) ReplaceBlockList(ctx context.Context, rules []*types.BlockRule) error {
	set := &blockSet{
		bySession: make(map[string]*types.BlockRule, len(rules)),
		ordered:   append([]*types.BlockRule{}, rules...),
	}
	for _, r := range rules {
		set.bySession[r.SessionID] = r
	}
	b.rules.Store(set)
	return nil
}

// Blocked reports whether the session id is on the list.
func (b *BlockList) Blocked(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	_, ok := b.rules.Load().bySession[sessionID]
	return ok
}

func (b *BlockList) Rules() []*types.BlockRule {
	return b.rules.Load().ordered
}

func (b *BlockList) Len() int {
	return len(b.rules.Load().ordered)
}
