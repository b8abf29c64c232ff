package repository

import (
	"context"
	"time"

	"github.com/mediashield/go-secure-media-server/types"
)

// SecretStore is a key-value secret store addressed by well-known names.
type SecretStore interface {
	GetSecretValue(ctx context.Context, name string) (string, error)
	PutSecretValue(ctx context.Context, name string, value string) error
}

// RevocationStore keeps revoked sessions until their ttl passes.
type RevocationStore interface {
	Put(ctx context.Context, record *types.SessionRecord) error
	// ListActive returns unexpired records updated at or after since
	ListActive(ctx context.Context, since time.Time) ([]*types.SessionRecord, error)
}

// AssetCatalog maps asset ids to playback locations and token policies.
type AssetCatalog interface {
	GetAsset(ctx context.Context, id string) (*types.Asset, error)
	UpdatePolicyBindings(ctx context.Context, id string, ip bool, headers []string) error
}

// BlockListWriter replaces the whole edge block-list in one write.
type BlockListWriter interface {
	ReplaceBlockList(ctx context.Context, rules []*types.BlockRule) error
}

// QueryRunner executes a risk query and returns the flagged sessions.
type QueryRunner interface {
	RunQuery(ctx context.Context, query string) ([]*types.RiskResult, error)
}

// AccessLogSource returns edge access log entries recorded at or after since.
type AccessLogSource interface {
	ReadAccessLogs(ctx context.Context, since time.Time) ([]*types.AccessLogEntry, error)
}
