package repository

import (
	"context"

	"github.com/mediashield/go-secure-media-server/types"
)

// BlockListWriters writes the same block-list to each writer in order and stops at the first failure.
type BlockListWriters []BlockListWriter

func (ws BlockListWriters) ReplaceBlockList(ctx context.Context, rules []*types.BlockRule) error {
	for _, w := range ws {
		if err := w.ReplaceBlockList(ctx, rules); err != nil {
			return err
		}
	}
	return nil
}
