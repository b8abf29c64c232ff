package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mediashield/go-secure-media-server/repository"
	"github.com/mediashield/go-secure-media-server/types"
	"github.com/mediashield/go-secure-media-server/util"
)

// KeyRingService reads and writes the three rotation secrets of one deployment.
type KeyRingService struct {
	store     repository.SecretStore
	stackName string
	caches    map[types.SecretRole]*secretCache[*types.Secret]
}

// SecretName returns the secret store name for a role, e.g. "media_PrimarySecret".
func SecretName(stackName string, role types.SecretRole) string {
	switch role {
	case types.SecretRolePrimary:
		return stackName + "_PrimarySecret"
	case types.SecretRoleSecondary:
		return stackName + "_SecondarySecret"
	}
	return stackName + "_TemporarySecret"
}

func NewKeyRingService(store repository.SecretStore, stackName string, ttl time.Duration) *KeyRingService {
	k := &KeyRingService{
		store:     store,
		stackName: stackName,
		caches:    make(map[types.SecretRole]*secretCache[*types.Secret], 3),
	}
	for _, role := range []types.SecretRole{types.SecretRolePrimary, types.SecretRoleSecondary, types.SecretRoleTemporary} {
		role := role
		k.caches[role] = newSecretCache(SecretName(stackName, role), ttl, func(ctx context.Context) (*types.Secret, error) {
			return k.load(ctx, role)
		})
	}
	return k
}

func (k *KeyRingService) load(ctx context.Context, role types.SecretRole) (*types.Secret, error) {
	raw, err := k.store.GetSecretValue(ctx, SecretName(k.stackName, role))
	if err != nil {
		return nil, err
	}
	return types.DecodeSecret(role, raw)
}

// Get returns the cached secret for role.
func (k *KeyRingService) Get(ctx context.Context, role types.SecretRole) (*types.Secret, error) {
	c, ok := k.caches[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownAlias, role)
	}
	return c.Get(ctx)
}

// GetFresh bypasses the cache. Rotation reads through here.
func (k *KeyRingService) GetFresh(ctx context.Context, role types.SecretRole) (*types.Secret, error) {
	return k.load(ctx, role)
}

// KeySet returns the primary secret and, when present, the secondary.
func (k *KeyRingService) KeySet(ctx context.Context) (*types.KeySet, error) {
	primary, err := k.Get(ctx, types.SecretRolePrimary)
	if err != nil {
		return nil, err
	}
	ks := &types.KeySet{Primary: primary}
	secondary, err := k.Get(ctx, types.SecretRoleSecondary)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		return ks, nil
	}
	if !secondary.IsPlaceholder() {
		ks.Secondary = secondary
	}
	return ks, nil
}

// Put overwrites the secret stored for role.
func (k *KeyRingService) Put(ctx context.Context, role types.SecretRole, secret *types.Secret) error {
	encoded, err := secret.Encode()
	if err != nil {
		return err
	}
	if err := k.store.PutSecretValue(ctx, SecretName(k.stackName, role), encoded); err != nil {
		return fmt.Errorf("failed to store %s secret: %w", role, err)
	}
	k.caches[role].Invalidate()
	return nil
}

// NewSecret mints a fresh secret with a dated id.
func NewSecret(role types.SecretRole, now time.Time) (*types.Secret, error) {
	id, err := util.GenerateSecretID(now)
	if err != nil {
		return nil, err
	}
	value, err := util.GenerateSecretValue()
	if err != nil {
		return nil, err
	}
	return &types.Secret{ID: id, Value: value, Role: role}, nil
}
