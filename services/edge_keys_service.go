package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/repository"
	"github.com/mediashield/go-secure-media-server/types"
)

// EdgeKeyService owns the verification key set read by edge validators. Edge nodes cache the
// set for the cache ttl, so a published set counts as deployed once the propagation delay passed.
type EdgeKeyService struct {
	store            repository.SecretStore
	name             string
	propagationDelay time.Duration
	cache            *secretCache[*types.EdgeKeySet]
	now              func() time.Time
}

func EdgeKeySetName(stackName string) string {
	return stackName + "_EdgeKeySet"
}

func NewEdgeKeyService(store repository.SecretStore, stackName string, cacheTTL, propagationDelay time.Duration) *EdgeKeyService {
	if propagationDelay < cacheTTL {
		propagationDelay = cacheTTL
	}
	e := &EdgeKeyService{
		store:            store,
		name:             EdgeKeySetName(stackName),
		propagationDelay: propagationDelay,
		now:              time.Now,
	}
	e.cache = newSecretCache(e.name, cacheTTL, e.load)
	return e
}

func (e *EdgeKeyService) load(ctx context.Context) (*types.EdgeKeySet, error) {
	raw, err := e.store.GetSecretValue(ctx, e.name)
	if err != nil {
		return nil, err
	}
	var ks types.EdgeKeySet
	if err := json.Unmarshal([]byte(raw), &ks); err != nil {
		return nil, fmt.Errorf("%w: edge key set: %v", types.ErrInvalidSecret, err)
	}
	if len(ks.Keys) == 0 {
		return nil, fmt.Errorf("%w: edge key set is empty", types.ErrInvalidSecret)
	}
	return &ks, nil
}

// Publish replaces the edge key set with the given secrets. Placeholders are skipped.
func (e *EdgeKeyService) Publish(ctx context.Context, secrets ...*types.Secret) error {
	ks := types.NewEdgeKeySet(secrets...)
	if len(ks.Keys) == 0 {
		return fmt.Errorf("%w: nothing to publish", types.ErrInvalidSecret)
	}
	ks.Published = e.now().Unix()
	payload, err := json.Marshal(ks)
	if err != nil {
		return err
	}
	if err := e.store.PutSecretValue(ctx, e.name, string(payload)); err != nil {
		return fmt.Errorf("failed to publish edge key set: %w", err)
	}
	level.Info(global.Logger).Log("msg", "edge key set published", "keys", len(ks.Keys), "published", ks.Published)
	return nil
}

// Status reports IN_PROGRESS until every edge cache can have picked up the last published set.
// It fails with ErrRotationState when that set does not hold kid, which means the set was
// republished by someone else since kid was published.
func (e *EdgeKeyService) Status(ctx context.Context, kid string) (types.DeploymentStatus, error) {
	ks, err := e.load(ctx)
	if err != nil {
		return "", err
	}
	if _, ok := ks.Keys[kid]; !ok {
		return "", fmt.Errorf("%w: edge key set does not hold %s", types.ErrRotationState, kid)
	}
	live := time.Unix(ks.Published, 0).Add(e.propagationDelay)
	if e.now().Before(live) {
		return types.DeploymentInProgress, nil
	}
	return types.DeploymentDeployed, nil
}

// VerificationKey returns the secret value registered for kid in the cached edge key set.
func (e *EdgeKeyService) VerificationKey(ctx context.Context, kid string) (string, error) {
	ks, err := e.cache.Get(ctx)
	if err != nil {
		return "", err
	}
	value, ok := ks.Keys[kid]
	if !ok {
		return "", fmt.Errorf("%w: %s", types.ErrUnknownKeyID, kid)
	}
	return value, nil
}

// KeySetVerifier serves verification keys straight from the KeyRing (primary and secondary),
// for deployments where the edge shares the api's secret store access.
type KeySetVerifier struct {
	keys KeySetProvider
}

func NewKeySetVerifier(keys KeySetProvider) *KeySetVerifier {
	return &KeySetVerifier{keys: keys}
}

func (v *KeySetVerifier) VerificationKey(ctx context.Context, kid string) (string, error) {
	ks, err := v.keys.KeySet(ctx)
	if err != nil {
		return "", err
	}
	secret, ok := ks.ByID(kid)
	if !ok {
		return "", fmt.Errorf("%w: %s", types.ErrUnknownKeyID, kid)
	}
	return secret.Value, nil
}
